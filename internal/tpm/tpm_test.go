package tpm

import (
	"testing"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
	"github.com/google/go-tpm/tpm2/transport/simulator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptfs-tpm2/internal/tpmerr"
)

// newSimulator opens the pure-Go simulator transport every test in this
// file uses, and starts it cleanly via TPM2_Startup/Clear so each test gets
// a fresh, un-owned TPM state.
func newSimulator(t *testing.T) transport.TPMCloser {
	t.Helper()
	sim, err := simulator.OpenSimulator()
	require.NoError(t, err)
	t.Cleanup(func() { sim.Close() })
	return sim
}

func testDeps(t *testing.T) Deps {
	t.Helper()
	return Deps{}
}

func TestCreatePrimaryKeyOp_PersistsAtFixedHandle(t *testing.T) {
	sim := newSimulator(t)
	d := testDeps(t)

	err := CreatePrimaryKeyOp(sim, d, nil, false)
	require.NoError(t, err)

	present, err := persistentHandlePresent(sim, PrimaryKeyHandle)
	require.NoError(t, err)
	assert.True(t, present)
}

func TestCreatePrimaryKeyOp_CollidesOnSecondCall(t *testing.T) {
	sim := newSimulator(t)
	d := testDeps(t)

	require.NoError(t, CreatePrimaryKeyOp(sim, d, nil, false))
	err := CreatePrimaryKeyOp(sim, d, nil, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, tpmerr.ErrObjectAlreadyPersistent)
}

func TestSealUnsealRoundTrip_PasswordOnly(t *testing.T) {
	sim := newSimulator(t)
	d := testDeps(t)

	require.NoError(t, CreatePrimaryKeyOp(sim, d, nil, false))

	passphrase := []byte("correct horse battery staple")
	require.NoError(t, CreatePassphraseOp(sim, d, nil, []byte("passauth"), passphrase, AlgNull, false))

	out, err := UnsealPassphraseOp(sim, d, []byte("passauth"), AlgNull)
	require.NoError(t, err)
	assert.Equal(t, passphrase, out)
}

func TestSealUnsealRoundTrip_RandomPayload(t *testing.T) {
	sim := newSimulator(t)
	d := testDeps(t)

	require.NoError(t, CreatePrimaryKeyOp(sim, d, nil, false))
	require.NoError(t, CreatePassphraseOp(sim, d, nil, nil, nil, AlgNull, false))

	out, err := UnsealPassphraseOp(sim, d, nil, AlgNull)
	require.NoError(t, err)
	assert.Len(t, out, SealedPayloadSize)
}

func TestSealUnsealRoundTrip_PCRBoundSucceedsWhenUnchanged(t *testing.T) {
	sim := newSimulator(t)
	d := testDeps(t)

	require.NoError(t, CreatePrimaryKeyOp(sim, d, nil, false))

	passphrase := []byte("pcr bound secret")
	require.NoError(t, CreatePassphraseOp(sim, d, nil, []byte("passauth"), passphrase, AlgSHA256, false))

	out, err := UnsealPassphraseOp(sim, d, []byte("passauth"), AlgSHA256)
	require.NoError(t, err)
	assert.Equal(t, passphrase, out)
}

func TestSealUnsealRoundTrip_EveryPCRBank(t *testing.T) {
	for _, alg := range []Alg{AlgSHA1, AlgSHA256, AlgSHA384, AlgSHA512, AlgSM3_256} {
		t.Run(alg.String(), func(t *testing.T) {
			sim := newSimulator(t)
			d := testDeps(t)

			require.NoError(t, CreatePrimaryKeyOp(sim, d, nil, false))

			passphrase := []byte("pcr bound secret")
			require.NoError(t, CreatePassphraseOp(sim, d, nil, []byte("passauth"), passphrase, alg, false))

			out, err := UnsealPassphraseOp(sim, d, []byte("passauth"), alg)
			require.NoError(t, err)
			assert.Equal(t, passphrase, out)
		})
	}
}

func TestSealUnsealRoundTrip_PCRBoundFailsAfterExtend(t *testing.T) {
	sim := newSimulator(t)
	d := testDeps(t)

	require.NoError(t, CreatePrimaryKeyOp(sim, d, nil, false))
	passphrase := []byte("pcr bound secret")
	require.NoError(t, CreatePassphraseOp(sim, d, nil, nil, passphrase, AlgSHA256, false))

	extendCmd := tpm2.PCRExtend{
		PCRHandle: tpm2.AuthHandle{Handle: tpm2.TPMHandle(PCRIndex), Auth: tpm2.PasswordAuth(nil)},
		Digests: tpm2.TPMLDigestValues{
			Digests: []tpm2.TPMTHA{
				{
					HashAlg: tpm2.TPMAlgSHA256,
					Digest:  tpm2.NewTPMUHA(tpm2.TPMAlgSHA256, make([]byte, 32)),
				},
			},
		},
	}
	_, err := extendCmd.Execute(sim)
	require.NoError(t, err)

	_, err = UnsealPassphraseOp(sim, d, nil, AlgSHA256)
	require.Error(t, err)
}

func TestCreatePassphraseOp_RetriesOnBadParentAuth(t *testing.T) {
	sim := newSimulator(t)
	d := testDeps(t)

	require.NoError(t, CreatePrimaryKeyOp(sim, d, []byte("correct-primary-auth"), false))

	prompted := false
	d.PromptAuth = func(slot string) ([]byte, error) {
		require.Equal(t, "primary-key", slot)
		prompted = true
		return []byte("correct-primary-auth"), nil
	}

	passphrase := []byte("recovered after bad auth")
	err := CreatePassphraseOp(sim, d, []byte("wrong-primary-auth"), []byte("passauth"), passphrase, AlgNull, false)
	require.NoError(t, err)
	assert.True(t, prompted)

	out, err := UnsealPassphraseOp(sim, d, []byte("passauth"), AlgNull)
	require.NoError(t, err)
	assert.Equal(t, passphrase, out)
}

func TestCreatePassphraseOp_BadParentAuthFatalWithoutPrompt(t *testing.T) {
	sim := newSimulator(t)
	d := testDeps(t)

	require.NoError(t, CreatePrimaryKeyOp(sim, d, []byte("correct-primary-auth"), false))

	err := CreatePassphraseOp(sim, d, []byte("wrong-primary-auth"), []byte("passauth"), []byte("x"), AlgNull, false)
	assert.Error(t, err)
}

func TestEvictPassphraseOp_RemovesHandle(t *testing.T) {
	sim := newSimulator(t)
	d := testDeps(t)

	require.NoError(t, CreatePrimaryKeyOp(sim, d, nil, false))
	require.NoError(t, CreatePassphraseOp(sim, d, nil, nil, []byte("s"), AlgNull, false))

	require.NoError(t, EvictPassphraseOp(sim, d))

	present, err := persistentHandlePresent(sim, PassphraseHandle)
	require.NoError(t, err)
	assert.False(t, present)

	err = EvictPassphraseOp(sim, d)
	assert.ErrorIs(t, err, tpmerr.ErrNotFound)
}

func TestUnsealPassphraseOp_NotFoundWithoutSeal(t *testing.T) {
	sim := newSimulator(t)
	d := testDeps(t)

	_, err := UnsealPassphraseOp(sim, d, nil, AlgNull)
	require.Error(t, err)
	assert.ErrorIs(t, err, tpmerr.ErrNotFound)
}

func TestParseAlg(t *testing.T) {
	cases := map[string]Alg{
		"sha1":    AlgSHA1,
		"sha256":  AlgSHA256,
		"sha384":  AlgSHA384,
		"sha512":  AlgSHA512,
		"sm3_256": AlgSM3_256,
		"auto":    AlgAuto,
		"":        AlgNull,
	}
	for name, want := range cases {
		got, err := ParseAlg(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseAlg("bogus")
	assert.Error(t, err)
}

func TestDigestSize(t *testing.T) {
	size, err := DigestSize(AlgSHA256)
	require.NoError(t, err)
	assert.Equal(t, 32, size)

	_, err = DigestSize(AlgNull)
	assert.Error(t, err)
}

func TestQueryLockoutState_FreshSimulatorNotInLockout(t *testing.T) {
	sim := newSimulator(t)
	st, err := QueryLockoutState(sim)
	require.NoError(t, err)
	assert.False(t, st.InLockout)
}

func TestCheckAndResetLockout_NoOpWhenNotLockedOut(t *testing.T) {
	sim := newSimulator(t)
	err := CheckAndResetLockout(sim, nil, false, false, nil, nil)
	assert.NoError(t, err)
}
