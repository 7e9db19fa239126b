package wallet

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/slotburst/service/burst"
)

// writeKeygenFile writes key in the solana-keygen JSON byte-array format.
func writeKeygenFile(t *testing.T, dir, name string, key solana.PrivateKey) {
	t.Helper()
	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0600))
}

func TestLoadSigners_SortedByFilename(t *testing.T) {
	dir := t.TempDir()

	keyB, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	keyA, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	// Written out of order; loading must sort by name.
	writeKeygenFile(t, dir, "b.json", keyB)
	writeKeygenFile(t, dir, "a.json", keyA)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0600))

	signers, err := LoadSigners(dir)
	require.NoError(t, err)
	require.Len(t, signers, 2)
	assert.Equal(t, keyA.PublicKey(), signers[0].PublicKey())
	assert.Equal(t, keyB.PublicKey(), signers[1].PublicKey())
}

func TestLoadSigners_EmptyDir(t *testing.T) {
	_, err := LoadSigners(t.TempDir())
	assert.Error(t, err)
}

func TestLoadSigners_MissingDir(t *testing.T) {
	_, err := LoadSigners(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestBuildTemplates(t *testing.T) {
	var signers []burst.Signer
	for i := 0; i < 3; i++ {
		kp, err := GenerateKeypair()
		require.NoError(t, err)
		signers = append(signers, kp)
	}

	templates, err := BuildTemplates(signers, 1)
	require.NoError(t, err)
	require.Len(t, templates, 3)

	for i, tpl := range templates {
		// Each template is payer == recipient with a zero blockhash; the
		// freshness token is attached later at the boundary.
		assert.Equal(t, signers[i].PublicKey(), tpl.Signer.PublicKey())
		assert.True(t, tpl.Tx.Message.RecentBlockhash.IsZero())
		require.NotEmpty(t, tpl.Tx.Message.AccountKeys)
		assert.Equal(t, signers[i].PublicKey(), tpl.Tx.Message.AccountKeys[0])
	}
}

func TestBuildTemplates_DistinctSignatureMessages(t *testing.T) {
	kp1, err := GenerateKeypair()
	require.NoError(t, err)
	kp2, err := GenerateKeypair()
	require.NoError(t, err)

	templates, err := BuildTemplates([]burst.Signer{kp1, kp2}, 1)
	require.NoError(t, err)

	msg1, err := templates[0].Tx.Message.MarshalBinary()
	require.NoError(t, err)
	msg2, err := templates[1].Tx.Message.MarshalBinary()
	require.NoError(t, err)
	assert.NotEqual(t, msg1, msg2)
}
