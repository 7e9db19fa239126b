// Package wallet loads ready signer identities from Solana keygen files and
// builds one transaction template per signer. The engine treats both as
// opaque collaborator inputs.
package wallet

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"github.com/brojonat/slotburst/service/burst"
)

// Keypair wraps a Solana private key as a burst.Signer.
type Keypair struct {
	key solana.PrivateKey
}

// NewKeypair wraps an existing private key.
func NewKeypair(key solana.PrivateKey) *Keypair {
	return &Keypair{key: key}
}

// GenerateKeypair creates a fresh random keypair. Used by tests and dry runs.
func GenerateKeypair() (*Keypair, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Keypair{key: key}, nil
}

// PublicKey implements burst.Signer.
func (k *Keypair) PublicKey() solana.PublicKey {
	return k.key.PublicKey()
}

// Sign implements burst.Signer.
func (k *Keypair) Sign(msg []byte) (solana.Signature, error) {
	return k.key.Sign(msg)
}

// LoadSigners reads every *.json keygen file in dir, sorted by filename so
// the ready set is stable across runs.
func LoadSigners(dir string) ([]burst.Signer, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read wallet dir %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	signers := make([]burst.Signer, 0, len(names))
	for _, name := range names {
		key, err := solana.PrivateKeyFromSolanaKeygenFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("load keypair %s: %w", name, err)
		}
		signers = append(signers, &Keypair{key: key})
	}

	if len(signers) == 0 {
		return nil, fmt.Errorf("no keypair files found in %s", dir)
	}
	return signers, nil
}

// BuildTemplates builds one self-transfer template per signer. The recent
// blockhash is left zero; the finalizer replaces it at the slot boundary.
// Self-transfers are the cheapest distinct transaction each signer can emit,
// which keeps the burst about timing rather than program execution.
func BuildTemplates(signers []burst.Signer, lamports uint64) ([]burst.Template, error) {
	templates := make([]burst.Template, 0, len(signers))
	for _, signer := range signers {
		pub := signer.PublicKey()
		ix := system.NewTransferInstruction(lamports, pub, pub).Build()

		tx, err := solana.NewTransaction(
			[]solana.Instruction{ix},
			solana.Hash{},
			solana.TransactionPayer(pub),
		)
		if err != nil {
			return nil, fmt.Errorf("build template for %s: %w", pub, err)
		}
		templates = append(templates, burst.Template{Signer: signer, Tx: tx})
	}
	return templates, nil
}
