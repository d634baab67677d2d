package tpm

import (
	"fmt"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"

	"cryptfs-tpm2/internal/tpmerr"
)

// Persist runs TPM2_EvictControl under the owner hierarchy to make a
// transient object (handle/name) durable at target. go-tpm's EvictControl
// distinguishes "make persistent" from "remove persistence" purely by
// whether ObjectHandle already names a persistent or a transient object;
// Persist always supplies a transient handle, so this always writes, never
// removes. Target is checked first by enumerating the persistent handles;
// if it is already occupied, Persist returns
// tpmerr.ErrObjectAlreadyPersistent without submitting EvictControl, per
// spec.md §4.8.
func Persist(t transport.TPM, ownerAuth []byte, handle tpm2.TPMHandle, name tpm2.TPM2BName, target tpm2.TPMHandle) error {
	occupied, err := persistentHandlePresent(t, target)
	if err != nil {
		return err
	}
	if occupied {
		return fmt.Errorf("%w: handle 0x%08x", tpmerr.ErrObjectAlreadyPersistent, uint32(target))
	}

	cmd := tpm2.EvictControl{
		Auth: tpm2.AuthHandle{
			Handle: tpm2.TPMRHOwner,
			Auth:   tpm2.PasswordAuth(ownerAuth),
		},
		ObjectHandle: tpm2.NamedHandle{
			Handle: handle,
			Name:   name,
		},
		PersistentHandle: target,
	}
	if _, err := cmd.Execute(t); err != nil {
		return wrapTPMError("TPM2_EvictControl", err)
	}
	return nil
}

// Evict removes persistence from handle (which must itself be a persistent
// handle). It reads the object's current name first since EvictControl's
// ObjectHandle must name the object being removed, then runs EvictControl
// with ObjectHandle == PersistentHandle == handle, which the TPM interprets
// as a delete. tpmerr.ErrNotFound is returned if handle is not currently
// persistent.
func Evict(t transport.TPM, ownerAuth []byte, handle tpm2.TPMHandle) error {
	present, err := persistentHandlePresent(t, handle)
	if err != nil {
		return err
	}
	if !present {
		return tpmerr.ErrNotFound
	}

	nameCmd := tpm2.ReadPublic{ObjectHandle: handle}
	nameRsp, err := nameCmd.Execute(t)
	if err != nil {
		return wrapTPMError("TPM2_ReadPublic", err)
	}

	cmd := tpm2.EvictControl{
		Auth: tpm2.AuthHandle{
			Handle: tpm2.TPMRHOwner,
			Auth:   tpm2.PasswordAuth(ownerAuth),
		},
		ObjectHandle: tpm2.NamedHandle{
			Handle: handle,
			Name:   nameRsp.Name,
		},
		PersistentHandle: handle,
	}
	if _, err := cmd.Execute(t); err != nil {
		return wrapTPMError("TPM2_EvictControl", err)
	}
	return nil
}
