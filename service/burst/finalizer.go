package burst

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	sol "github.com/brojonat/slotburst/service/solana"
	"github.com/gagliardetto/solana-go"
)

// Finalizer attaches a fresh blockhash to transaction templates and re-signs
// them. Finalize is a pure function of its inputs, so finalization across
// templates is embarrassingly parallel; FinalizeAll exploits that to keep the
// gap between blockhash fetch and broadcast as small as possible.
type Finalizer struct {
	logger *slog.Logger
}

// NewFinalizer creates a Finalizer.
func NewFinalizer(logger *slog.Logger) *Finalizer {
	return &Finalizer{logger: logger}
}

// Finalize produces a sendable transaction from a template and a fresh
// blockhash. The template is not mutated: the message is copied, the
// blockhash replaced, and the message re-signed by the template's signer.
// Returns ErrSigning (wrapped) if the identity cannot sign.
func (f *Finalizer) Finalize(tpl Template, hash *sol.Blockhash) (*FinalizedTransaction, error) {
	// Shallow copy is enough: Message is a value field, and the account key
	// slices it shares with the template are read-only from here on.
	tx := *tpl.Tx
	tx.Message.RecentBlockhash = hash.Hash

	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: marshal message for %s: %v", ErrSigning, tpl.Signer.PublicKey(), err)
	}

	sig, err := tpl.Signer.Sign(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: sign for %s: %v", ErrSigning, tpl.Signer.PublicKey(), err)
	}
	tx.Signatures = []solana.Signature{sig}

	return &FinalizedTransaction{
		Signer: tpl.Signer.PublicKey(),
		Tx:     &tx,
	}, nil
}

// FinalizeResult pairs a finalized transaction with the signing error that
// prevented it, aligned by template index. Exactly one of Tx and Err is set.
type FinalizeResult struct {
	Signer solana.PublicKey
	Tx     *FinalizedTransaction
	Err    error
}

// FinalizeAll finalizes every template concurrently against the same shared
// blockhash. Signing failures are captured per template and never interrupt
// the siblings. The result slice is index-aligned with templates.
func (f *Finalizer) FinalizeAll(ctx context.Context, templates []Template, hash *sol.Blockhash) []FinalizeResult {
	results := make([]FinalizeResult, len(templates))

	var wg sync.WaitGroup
	for i, tpl := range templates {
		wg.Add(1)
		go func(i int, tpl Template) {
			defer wg.Done()
			results[i].Signer = tpl.Signer.PublicKey()
			ftx, err := f.Finalize(tpl, hash)
			if err != nil {
				results[i].Err = err
				f.logger.WarnContext(ctx, "finalize failed",
					"signer", tpl.Signer.PublicKey().String(),
					"error", err,
				)
				return
			}
			results[i].Tx = ftx
		}(i, tpl)
	}
	wg.Wait()

	return results
}
