package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/slotburst/service/burst"
	"github.com/brojonat/slotburst/service/pool"
	sol "github.com/brojonat/slotburst/service/solana"
	"github.com/brojonat/slotburst/service/tracker"
	"github.com/brojonat/slotburst/service/verify"
	"github.com/brojonat/slotburst/service/wallet"
)

// mockRPC implements sol.RPCClient with enough behavior for a full cycle:
// sends are accepted and auto-confirmed at landSlot on the next status poll.
type mockRPC struct {
	mu             sync.Mutex
	seedSlot       uint64
	landSlot       uint64
	blockhash      solana.Hash
	blockhashErr   error
	blockhashCalls int
	sent           []*solana.Transaction
	statuses       map[solana.Signature]*rpc.SignatureStatusesResult
}

func newMockRPC(seedSlot, landSlot uint64) *mockRPC {
	var hash solana.Hash
	hash[0] = 0xAB
	return &mockRPC{
		seedSlot:  seedSlot,
		landSlot:  landSlot,
		blockhash: hash,
		statuses:  make(map[solana.Signature]*rpc.SignatureStatusesResult),
	}
}

func (m *mockRPC) GetSlot(ctx context.Context, commitment rpc.CommitmentType) (uint64, error) {
	return m.seedSlot, nil
}

func (m *mockRPC) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blockhashCalls++
	if m.blockhashErr != nil {
		return nil, m.blockhashErr
	}
	out := &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{
			Blockhash:            m.blockhash,
			LastValidBlockHeight: 5000,
		},
	}
	out.Context.Slot = m.seedSlot
	return out, nil
}

func (m *mockRPC) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sig := tx.Signatures[0]
	m.sent = append(m.sent, tx)
	m.statuses[sig] = &rpc.SignatureStatusesResult{
		Slot:               m.landSlot,
		ConfirmationStatus: rpc.ConfirmationStatusConfirmed,
	}
	return sig, nil
}

func (m *mockRPC) GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := &rpc.GetSignatureStatusesResult{}
	for _, sig := range sigs {
		out.Value = append(out.Value, m.statuses[sig])
	}
	return out, nil
}

func (m *mockRPC) GetHealth(ctx context.Context) (string, error) {
	return rpc.HealthOk, nil
}

func (m *mockRPC) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// mockSub feeds scripted slot notifications.
type mockSub struct {
	ch   chan *ws.SlotResult
	done chan struct{}
	once sync.Once
}

func newMockSub() *mockSub {
	return &mockSub{
		ch:   make(chan *ws.SlotResult, 16),
		done: make(chan struct{}),
	}
}

func (s *mockSub) push(slot uint64) {
	s.ch <- &ws.SlotResult{Slot: slot}
}

func (s *mockSub) Recv(ctx context.Context) (*ws.SlotResult, error) {
	select {
	case res := <-s.ch:
		return res, nil
	case <-s.done:
		return nil, errors.New("unsubscribed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *mockSub) Unsubscribe() {
	s.once.Do(func() { close(s.done) })
}

type mockWS struct {
	sub *mockSub
}

func (m *mockWS) SlotSubscribe() (sol.SlotSubscription, error) { return m.sub, nil }
func (m *mockWS) Close()                                       {}

// badSigner fails every signature request.
type badSigner struct {
	pub solana.PublicKey
}

func (s *badSigner) PublicKey() solana.PublicKey { return s.pub }

func (s *badSigner) Sign(msg []byte) (solana.Signature, error) {
	return solana.Signature{}, errors.New("hsm offline")
}

type harness struct {
	engine  *Engine
	tracker *tracker.Tracker
	sub     *mockSub
	rpc     *mockRPC
}

func newHarness(t *testing.T, m *mockRPC, cfg Config) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	channels := []*sol.Client{
		sol.NewClient(m, "a", nil, logger),
		sol.NewClient(m, "b", nil, logger),
	}
	p, err := pool.NewFromClients(channels, logger)
	require.NoError(t, err)

	sub := newMockSub()
	tr := tracker.New(channels[0], &mockWS{sub: sub}, 0, nil, logger)
	require.NoError(t, tr.Start(context.Background()))
	t.Cleanup(tr.Stop)

	v := verify.NewVerifier(p, tr, verify.Policy{
		SettleWindow:       time.Millisecond,
		PollInterval:       time.Millisecond,
		PollTimeout:        100 * time.Millisecond,
		NearMaxUniqueSlots: 3,
		NearMaxSpread:      2,
	}, nil, logger)

	eng := New(
		tr, p,
		burst.NewFinalizer(logger),
		burst.NewDispatcher(p, nil, logger),
		v, cfg, nil, logger,
	)
	return &harness{engine: eng, tracker: tr, sub: sub, rpc: m}
}

func makeTemplates(t *testing.T, n int) []burst.Template {
	t.Helper()
	signers := make([]burst.Signer, n)
	for i := range signers {
		kp, err := wallet.GenerateKeypair()
		require.NoError(t, err)
		signers[i] = kp
	}
	templates, err := wallet.BuildTemplates(signers, 1)
	require.NoError(t, err)
	return templates
}

func TestRun_FullCycleAllSameSlot(t *testing.T) {
	m := newMockRPC(100, 103)
	h := newHarness(t, m, Config{SlotOffset: 2, BoundaryTimeout: 2 * time.Second})
	templates := makeTemplates(t, 3)

	go func() {
		time.Sleep(20 * time.Millisecond)
		h.sub.push(101)
		h.sub.push(102)
	}()

	report, err := h.engine.Run(context.Background(), templates)
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, uint64(102), report.TargetSlot)
	assert.Equal(t, 3, report.Dispatched)
	assert.Equal(t, 3, report.Confirmed)
	assert.True(t, report.AllSameSlot)
	assert.Equal(t, "same_slot", report.Verdict())
	assert.Equal(t, uint64(103), report.ChosenSlot)
	assert.Equal(t, float64(100), report.SuccessRate)
	assert.Equal(t, StateDone, h.engine.State())

	// Every sent transaction carries the boundary blockhash and a signature.
	require.Equal(t, 3, m.sentCount())
	for _, tx := range m.sent {
		assert.Equal(t, m.blockhash, tx.Message.RecentBlockhash)
		require.Len(t, tx.Signatures, 1)
		assert.False(t, tx.Signatures[0].IsZero())
	}
}

// A boundary timeout aborts the cycle before anything is signed or sent.
func TestRun_BoundaryTimeoutAborts(t *testing.T) {
	m := newMockRPC(100, 103)
	h := newHarness(t, m, Config{SlotOffset: 2, BoundaryTimeout: 30 * time.Millisecond})
	templates := makeTemplates(t, 2)

	// The slot feed stalls: the tracker never reaches 102.
	report, err := h.engine.Run(context.Background(), templates)
	require.ErrorIs(t, err, tracker.ErrBoundaryTimeout)
	assert.Nil(t, report)
	assert.Equal(t, StateFailed, h.engine.State())
	assert.Equal(t, 0, m.sentCount())
	assert.Equal(t, 0, m.blockhashCalls)
}

// One failing signer never blocks the rest of the burst.
func TestRun_SigningFailureIsolated(t *testing.T) {
	m := newMockRPC(100, 103)
	h := newHarness(t, m, Config{SlotOffset: 2, BoundaryTimeout: 2 * time.Second})

	templates := makeTemplates(t, 2)
	kp, err := wallet.GenerateKeypair()
	require.NoError(t, err)
	badTemplates, err := wallet.BuildTemplates([]burst.Signer{&badSigner{pub: kp.PublicKey()}}, 1)
	require.NoError(t, err)
	templates = append(templates, badTemplates...)

	go func() {
		time.Sleep(20 * time.Millisecond)
		h.sub.push(102)
	}()

	report, err := h.engine.Run(context.Background(), templates)
	require.NoError(t, err)

	// Exactly one record per template, with the bad signer's marked failed.
	require.Len(t, report.Records, 3)
	assert.Equal(t, 2, report.SentCount)
	assert.Equal(t, 2, report.Confirmed)
	assert.Equal(t, 2, m.sentCount())

	var failed int
	for _, rec := range report.Records {
		if !rec.Sent {
			failed++
			assert.Contains(t, rec.Error, "hsm offline")
			assert.Equal(t, kp.PublicKey().String(), rec.Signer)
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, StateDone, h.engine.State())
}

func TestRun_BlockhashFetchFailureAborts(t *testing.T) {
	m := newMockRPC(100, 103)
	m.blockhashErr = errors.New("node behind")
	h := newHarness(t, m, Config{SlotOffset: 2, BoundaryTimeout: 2 * time.Second})
	templates := makeTemplates(t, 2)

	go func() {
		time.Sleep(20 * time.Millisecond)
		h.sub.push(102)
	}()

	report, err := h.engine.Run(context.Background(), templates)
	require.Error(t, err)
	assert.Nil(t, report)
	assert.Equal(t, StateFailed, h.engine.State())
	assert.Equal(t, 0, m.sentCount())
}

func TestRun_NoTemplates(t *testing.T) {
	m := newMockRPC(100, 103)
	h := newHarness(t, m, Config{SlotOffset: 2, BoundaryTimeout: time.Second})

	report, err := h.engine.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Nil(t, report)
}

// The signer set in the report is exactly the signer set supplied.
func TestRun_SignerSetPreserved(t *testing.T) {
	m := newMockRPC(100, 103)
	h := newHarness(t, m, Config{SlotOffset: 2, BoundaryTimeout: 2 * time.Second})
	templates := makeTemplates(t, 4)

	go func() {
		time.Sleep(20 * time.Millisecond)
		h.sub.push(102)
	}()

	report, err := h.engine.Run(context.Background(), templates)
	require.NoError(t, err)

	want := make(map[string]bool, len(templates))
	for _, tpl := range templates {
		want[tpl.Signer.PublicKey().String()] = true
	}
	got := make(map[string]bool, len(report.Records))
	for _, rec := range report.Records {
		got[rec.Signer] = true
	}
	assert.Equal(t, want, got)
}
