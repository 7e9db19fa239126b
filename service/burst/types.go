package burst

import (
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
)

// ErrSigning indicates an identity could not produce a signature. It isolates
// the one transaction it occurred on and never aborts the batch.
var ErrSigning = errors.New("signing failed")

// ErrSubmission indicates an endpoint rejected a transaction. Like ErrSigning
// it is terminal for that transaction only.
var ErrSubmission = errors.New("submission failed")

// Signer is the capability the engine borrows from the wallet collaborator:
// a public address plus the ability to sign arbitrary bytes.
type Signer interface {
	PublicKey() solana.PublicKey
	Sign(msg []byte) (solana.Signature, error)
}

// Template is an unsigned or stale-signed transaction body associated with
// exactly one signer. Templates are built before the cycle starts and are
// never mutated; finalization works on a copy.
type Template struct {
	Signer Signer
	Tx     *solana.Transaction
}

// FinalizedTransaction is a template with a fresh blockhash and signature,
// ready for submission. Produced one-to-one per template.
type FinalizedTransaction struct {
	Signer solana.PublicKey
	Tx     *solana.Transaction
}

// Outcome records the immediate accept/reject result of one submission.
// Exactly one Outcome exists per template, whether or not the send happened.
type Outcome struct {
	Signer    solana.PublicKey
	Signature solana.Signature // zero when the transaction was never accepted
	Sent      bool
	Err       error
	Latency   time.Duration // elapsed from burst start to send completion
}
