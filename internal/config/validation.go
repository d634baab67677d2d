package config

import (
	"fmt"
	"strconv"

	"github.com/google/go-tpm/tpm2"

	"cryptfs-tpm2/internal/tpm"
)

// parseHandle parses a "0x81000001"-style persistent handle override and
// checks it falls within the NV persistent handle range.
func parseHandle(s string) (tpm2.TPMHandle, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("config: invalid handle %q: %w", s, err)
	}
	h := tpm2.TPMHandle(v)
	if h < tpm.PersistentHandleMin || h > tpm.PersistentHandleMax {
		return 0, fmt.Errorf("config: handle 0x%08x outside persistent range 0x%08x-0x%08x", uint32(h), uint32(tpm.PersistentHandleMin), uint32(tpm.PersistentHandleMax))
	}
	return h, nil
}
