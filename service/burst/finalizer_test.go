package burst

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sol "github.com/brojonat/slotburst/service/solana"
)

// stubSigner wraps a real keypair so signatures are verifiable, with an
// optional injected failure.
type stubSigner struct {
	key     solana.PrivateKey
	signErr error
}

func newStubSigner(t *testing.T) *stubSigner {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return &stubSigner{key: key}
}

func (s *stubSigner) PublicKey() solana.PublicKey {
	return s.key.PublicKey()
}

func (s *stubSigner) Sign(msg []byte) (solana.Signature, error) {
	if s.signErr != nil {
		return solana.Signature{}, s.signErr
	}
	return s.key.Sign(msg)
}

func newTemplate(t *testing.T, signer Signer) Template {
	t.Helper()
	pub := signer.PublicKey()
	ix := system.NewTransferInstruction(1, pub, pub).Build()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		solana.Hash{},
		solana.TransactionPayer(pub),
	)
	require.NoError(t, err)
	return Template{Signer: signer, Tx: tx}
}

func testBlockhash() *sol.Blockhash {
	var hash solana.Hash
	hash[0] = 0xAB
	return &sol.Blockhash{Hash: hash, LastValidBlockHeight: 5000, Slot: 1000}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFinalize_AttachesBlockhashAndSignature(t *testing.T) {
	signer := newStubSigner(t)
	tpl := newTemplate(t, signer)
	hash := testBlockhash()

	ftx, err := NewFinalizer(testLogger()).Finalize(tpl, hash)
	require.NoError(t, err)

	assert.Equal(t, signer.PublicKey(), ftx.Signer)
	assert.Equal(t, hash.Hash, ftx.Tx.Message.RecentBlockhash)
	require.Len(t, ftx.Tx.Signatures, 1)

	// Ed25519 is deterministic, so re-signing the message must reproduce the
	// attached signature.
	msg, err := ftx.Tx.Message.MarshalBinary()
	require.NoError(t, err)
	expected, err := signer.Sign(msg)
	require.NoError(t, err)
	assert.Equal(t, expected, ftx.Tx.Signatures[0])
}

func TestFinalize_DoesNotMutateTemplate(t *testing.T) {
	signer := newStubSigner(t)
	tpl := newTemplate(t, signer)

	_, err := NewFinalizer(testLogger()).Finalize(tpl, testBlockhash())
	require.NoError(t, err)

	assert.True(t, tpl.Tx.Message.RecentBlockhash.IsZero(), "template blockhash was mutated")
	assert.Empty(t, tpl.Tx.Signatures, "template signatures were mutated")
}

func TestFinalize_SigningError(t *testing.T) {
	signer := newStubSigner(t)
	signer.signErr = errors.New("hsm offline")
	tpl := newTemplate(t, signer)

	_, err := NewFinalizer(testLogger()).Finalize(tpl, testBlockhash())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSigning)
}

func TestFinalizeAll_IndexAligned(t *testing.T) {
	f := NewFinalizer(testLogger())

	const n = 50
	templates := make([]Template, n)
	signers := make([]*stubSigner, n)
	for i := range templates {
		signers[i] = newStubSigner(t)
		templates[i] = newTemplate(t, signers[i])
	}
	// One bad apple in the middle must not affect its siblings.
	signers[17].signErr = errors.New("hsm offline")

	results := f.FinalizeAll(context.Background(), templates, testBlockhash())
	require.Len(t, results, n)

	for i, res := range results {
		assert.Equal(t, signers[i].PublicKey(), res.Signer, "index %d", i)
		if i == 17 {
			require.Error(t, res.Err)
			assert.ErrorIs(t, res.Err, ErrSigning)
			assert.Nil(t, res.Tx)
			continue
		}
		require.NoError(t, res.Err, "index %d", i)
		require.NotNil(t, res.Tx, "index %d", i)
		assert.Equal(t, signers[i].PublicKey(), res.Tx.Signer)
	}
}

func TestFinalizeAll_SharedBlockhash(t *testing.T) {
	f := NewFinalizer(testLogger())
	hash := testBlockhash()

	templates := []Template{
		newTemplate(t, newStubSigner(t)),
		newTemplate(t, newStubSigner(t)),
		newTemplate(t, newStubSigner(t)),
	}

	results := f.FinalizeAll(context.Background(), templates, hash)
	for i, res := range results {
		require.NoError(t, res.Err, "index %d", i)
		assert.Equal(t, hash.Hash, res.Tx.Tx.Message.RecentBlockhash, "index %d", i)
	}
}
