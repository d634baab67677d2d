package tpm

import (
	"context"
	"sync"

	"github.com/google/go-tpm/tpm2/transport"

	"cryptfs-tpm2/internal/tpmerr"
)

// Context is the process-wide system-API session (C2): it owns the single
// TCTI-backed transport every other component submits commands through.
// go-tpm's transport.TPM already plays the role TSS2-ESAPI's allocate/
// initialize ritual plays in the original C library — there is no separate
// context-size query here, since the Go transport has no fixed-size struct
// to size in advance. What the struct still owns is the transport's
// lifetime: it is constructed by an explicit Open (or OpenDefault/
// OpenSimulator) and torn down by an explicit Close. The CLI opens one per
// process; nothing here prevents a second Context from being opened.
type Context struct {
	mu        sync.Mutex
	transport transport.TPMCloser
	backend   Backend
}

// Open initializes the system-API session bound to the given TCTI backend.
// It does not read the environment itself; OpenDefault (or a caller using
// ResolveBackend) takes the backend from TSS2_TCTI.
func Open(ctx context.Context, backend Backend, sock SocketConfig) (*Context, error) {
	t, err := OpenTCTI(ctx, backend, sock)
	if err != nil {
		return nil, err
	}
	return &Context{transport: t, backend: backend}, nil
}

// OpenDefault opens a Context using the backend named by TSS2_TCTI (or
// BackendTabrmd if unset) and the default simulator socket addresses.
func OpenDefault(ctx context.Context) (*Context, error) {
	return Open(ctx, ResolveBackend(), DefaultSocketConfig())
}

// OpenSimulator opens a Context bound to the in-process pure-Go simulator,
// independent of TSS2_TCTI.
func OpenSimulator() (*Context, error) {
	t, err := OpenTCTI(context.Background(), BackendSocket, SocketConfig{})
	if err != nil {
		return nil, err
	}
	return &Context{transport: t, backend: BackendSocket}, nil
}

// Transport exposes the underlying transport for the rest of internal/tpm
// to submit commands against. Every TPM command is a synchronous blocking
// round-trip (spec.md §5); there is no asynchronous variant.
func (c *Context) Transport() transport.TPMCloser {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

// Backend reports which TCTI backend this context was opened against.
func (c *Context) Backend() Backend { return c.backend }

// Close finalizes the transport and releases the TCTI. Safe to call more
// than once.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport == nil {
		return nil
	}
	err := c.transport.Close()
	c.transport = nil
	if err != nil {
		return &tpmerr.IoError{Op: "tcti close", Err: err}
	}
	return nil
}
