//go:build !linux

// cryptfs-tpm2 binds a Linux full-disk-encryption passphrase to a TPM; the
// device and resource-manager backends are Linux-specific by construction.
// Non-Linux builds keep the package compiling (so the rest of internal/tpm
// remains testable against the pure-Go simulator) but can only ever use the
// socket/simulator backend.

package tpm

import (
	"context"
	"fmt"
	"time"

	"github.com/google/go-tpm/tpm2/transport"
	"github.com/google/go-tpm/tpm2/transport/simulator"
	"github.com/google/go-tpm/tpmutil/mssim"

	"cryptfs-tpm2/internal/tpmerr"
)

type Backend string

const (
	BackendTabrmd Backend = "tabrmd"
	BackendDevice Backend = "device"
	BackendSocket Backend = "socket"
)

const DefaultBackend = BackendSocket

type SocketConfig struct {
	CommandAddress  string
	PlatformAddress string
}

func DefaultSocketConfig() SocketConfig {
	return SocketConfig{CommandAddress: "127.0.0.1:2321", PlatformAddress: "127.0.0.1:2322"}
}

func ResolveBackend() Backend { return BackendSocket }

func OpenTCTI(ctx context.Context, backend Backend, sock SocketConfig) (transport.TPMCloser, error) {
	if backend != BackendSocket {
		return nil, fmt.Errorf("%w: backend %q requires Linux", tpmerr.ErrBackendUnavailable, backend)
	}
	if sock.CommandAddress == "" && sock.PlatformAddress == "" {
		tpm, err := simulator.OpenSimulator()
		if err != nil {
			return nil, fmt.Errorf("%w: starting in-process simulator: %v", tpmerr.ErrBackendUnavailable, err)
		}
		return tpm, nil
	}
	rwc, err := mssim.Open(mssim.Config{CommandAddress: sock.CommandAddress, PlatformAddress: sock.PlatformAddress})
	if err != nil {
		return nil, fmt.Errorf("%w: dialing simulator at %s: %v", tpmerr.ErrBackendUnavailable, sock.CommandAddress, err)
	}
	return transport.FromReadWriteCloser(rwc), nil
}

func WaitForTabrmd(ctx context.Context, timeout time.Duration) error {
	return fmt.Errorf("%w: tabrmd backend requires Linux", tpmerr.ErrBackendUnavailable)
}
