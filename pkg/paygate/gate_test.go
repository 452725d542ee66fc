package paygate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siddimore/bsv-paygate/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testGate builds a gate charging 100 satoshis to the "merchant" address.
func testGate(t *testing.T, mutate func(*Config)) (*Gate, []byte) {
	t.Helper()
	addr, script := testutil.Address("merchant")
	config := Config{
		RecipientAddress: addr,
		Pricing:          FixedPrice(100),
		Logger:           quietLogger(),
	}
	if mutate != nil {
		mutate(&config)
	}
	g, err := New(config)
	require.NoError(t, err)
	return g, script
}

func proofHeader(t *testing.T, prefix, tx string) string {
	t.Helper()
	h, err := (&Proof{DerivationPrefix: prefix, Transaction: tx}).Encode()
	require.NoError(t, err)
	return h
}

func paid(t *testing.T, g *Gate, prefix, tx string) *Outcome {
	t.Helper()
	return g.Process(context.Background(), Request{
		Method: "GET",
		Path:   "/api/data",
		Price:  100,
		Proof:  proofHeader(t, prefix, tx),
	})
}

func TestGate_NoProofIssuesChallenge(t *testing.T) {
	g, _ := testGate(t, nil)

	out := g.Process(context.Background(), Request{Path: "/api/data", Price: 100})
	require.Equal(t, StateChallenged, out.State)
	require.NotNil(t, out.Challenge)
	assert.Equal(t, uint64(100), out.Challenge.RequiredSatoshis)
	assert.Equal(t, ProtocolVersion, out.Challenge.Version)
	assert.NotEmpty(t, out.Challenge.DerivationPrefix)

	again := g.Process(context.Background(), Request{Path: "/api/data", Price: 100})
	assert.NotEqual(t, out.Challenge.DerivationPrefix, again.Challenge.DerivationPrefix)
}

func TestGate_FreeRequest(t *testing.T) {
	g, _ := testGate(t, nil)

	out := g.Process(context.Background(), Request{Path: "/free", Price: 0, Proof: "garbage"})
	require.Equal(t, StateFree, out.State)
	assert.True(t, out.Verification.Accepted)
	assert.Zero(t, out.Verification.SatoshisPaid)
}

// countingGuard counts calls into the wrapped guard.
type countingGuard struct {
	ReplayGuard
	seen, recorded int32
}

func (g *countingGuard) Seen(ctx context.Context, prefix string) (bool, error) {
	atomic.AddInt32(&g.seen, 1)
	return g.ReplayGuard.Seen(ctx, prefix)
}

func (g *countingGuard) Record(ctx context.Context, prefix string) (bool, error) {
	atomic.AddInt32(&g.recorded, 1)
	return g.ReplayGuard.Record(ctx, prefix)
}

func TestGate_FreeRequestSkipsReplayGuard(t *testing.T) {
	guard := &countingGuard{ReplayGuard: NewMemoryReplayGuard(0, 0)}
	g, _ := testGate(t, func(c *Config) { c.Replay = guard })

	proof := proofHeader(t, "free-prefix", "00")
	out := g.Process(context.Background(), Request{Path: "/free", Price: 0, Proof: proof})
	require.Equal(t, StateFree, out.State)
	assert.Zero(t, atomic.LoadInt32(&guard.seen))
	assert.Zero(t, atomic.LoadInt32(&guard.recorded))

	// the prefix stays usable for a paid request
	seen, err := guard.Seen(context.Background(), "free-prefix")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestGate_ExactPaymentAccepted(t *testing.T) {
	g, script := testGate(t, nil)
	tx := testutil.NewTx("funding", testutil.Pay(100, script))

	out := paid(t, g, "prefix-1", testutil.Hex(tx))
	require.Equal(t, StateAccepted, out.State, "rejection: %v", out.Err)
	assert.Equal(t, uint64(100), out.Verification.SatoshisPaid)
	assert.Equal(t, tx.TxHash().String(), out.Verification.TxID)
	assert.Equal(t, "prefix-1", out.Verification.DerivationPrefix)
	assert.False(t, out.Verification.Internalized)
}

func TestGate_SplitOutputsAreSummed(t *testing.T) {
	g, script := testGate(t, nil)
	tx := testutil.NewTx("funding",
		testutil.Pay(60, script),
		testutil.Pay(500, []byte{0x51}),
		testutil.Pay(70, script),
	)

	out := paid(t, g, "prefix-split", testutil.Base64(tx))
	require.Equal(t, StateAccepted, out.State)
	assert.Equal(t, uint64(130), out.Verification.SatoshisPaid)
	assert.Equal(t, 0, out.Verification.OutputIndex)
}

func TestGate_InsufficientPayment(t *testing.T) {
	g, script := testGate(t, nil)
	tx := testutil.NewTx("funding", testutil.Pay(99, script), testutil.Pay(1000, []byte{0x51}))

	out := paid(t, g, "prefix-short", testutil.Hex(tx))
	require.Equal(t, StateRejected, out.State)
	assert.Equal(t, ErrCodeInsufficientPayment, out.Err.Code)
	assert.Equal(t, 400, out.Err.Status)
	assert.True(t, errors.Is(out.Err, ErrInsufficientPayment))
	assert.Equal(t, uint64(99), out.Err.Details["satoshisPaid"])
	assert.Equal(t, uint64(100), out.Err.Details["satoshisRequired"])
	assert.Contains(t, out.Err.Message, "99")
	assert.Contains(t, out.Err.Message, "100")
}

func TestGate_RejectionDoesNotConsumePrefix(t *testing.T) {
	g, script := testGate(t, nil)
	short := testutil.NewTx("a", testutil.Pay(10, script))
	full := testutil.NewTx("b", testutil.Pay(100, script))

	out := paid(t, g, "prefix-retry", testutil.Hex(short))
	require.Equal(t, StateRejected, out.State)

	out = paid(t, g, "prefix-retry", testutil.Hex(full))
	assert.Equal(t, StateAccepted, out.State)
}

func TestGate_ReplayRejected(t *testing.T) {
	g, script := testGate(t, nil)
	tx := testutil.Hex(testutil.NewTx("funding", testutil.Pay(100, script)))

	first := paid(t, g, "prefix-once", tx)
	require.Equal(t, StateAccepted, first.State)

	second := paid(t, g, "prefix-once", tx)
	require.Equal(t, StateRejected, second.State)
	assert.Equal(t, ErrCodeReplayDetected, second.Err.Code)
	assert.True(t, errors.Is(second.Err, ErrReplayDetected))

	// a different transaction does not help
	other := testutil.Hex(testutil.NewTx("other", testutil.Pay(500, script)))
	third := paid(t, g, "prefix-once", other)
	assert.Equal(t, ErrCodeReplayDetected, third.Err.Code)
}

func TestGate_InvalidTransaction(t *testing.T) {
	g, _ := testGate(t, nil)

	for _, tx := range []string{"not a transaction!", "abcd", "AQID"} {
		out := paid(t, g, "prefix-bad", tx)
		require.Equal(t, StateRejected, out.State, tx)
		assert.Equal(t, ErrCodeInvalidTransaction, out.Err.Code, tx)
		assert.True(t, errors.Is(out.Err, ErrInvalidTransactionFormat), tx)
	}
}

func TestGate_MalformedProof(t *testing.T) {
	g, _ := testGate(t, nil)

	out := g.Process(context.Background(), Request{Price: 100, Proof: "{not json"})
	require.Equal(t, StateRejected, out.State)
	assert.Equal(t, ErrCodeMalformedPayment, out.Err.Code)

	out = g.Process(context.Background(), Request{Price: 100, Proof: `{"transaction":"00"}`})
	assert.Equal(t, ErrCodeMalformedPayment, out.Err.Code)
}

func TestGate_EnvelopeFormats(t *testing.T) {
	g, script := testGate(t, nil)
	parent := testutil.NewTx("parent", testutil.Pay(1000, []byte{0x51}))
	payment := testutil.NewTx("payment", testutil.Pay(100, script))

	tests := []struct {
		name string
		tx   string
	}{
		{"beef", testutil.B64(testutil.EnvelopeV1([]testutil.Bump{{Height: 1}}, parent, payment))},
		{"atomic", testutil.B64(testutil.AtomicEnvelope(payment, payment, parent))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := paid(t, g, "prefix-"+tt.name, tt.tx)
			require.Equal(t, StateAccepted, out.State, "rejection: %v", out.Err)
			assert.Equal(t, payment.TxHash().String(), out.Verification.TxID)
		})
	}
}

func TestGate_ConcurrentReplayAcceptsOnce(t *testing.T) {
	g, script := testGate(t, nil)
	tx := testutil.Hex(testutil.NewTx("funding", testutil.Pay(100, script)))
	header := proofHeader(t, "prefix-race", tx)

	const n = 64
	var accepted, replayed int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			out := g.Process(context.Background(), Request{Price: 100, Proof: header})
			switch {
			case out.State == StateAccepted:
				atomic.AddInt32(&accepted, 1)
			case out.Err != nil && out.Err.Code == ErrCodeReplayDetected:
				atomic.AddInt32(&replayed, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), accepted)
	assert.Equal(t, int32(n-1), replayed)
}

func TestGate_FeeAddressPolicy(t *testing.T) {
	feeAddr, feeScript := testutil.Address("fee-collector")
	g, script := testGate(t, func(c *Config) {
		c.Fee = &ProtocolFee{Satoshis: 10, Policy: FeePolicyAddress, Address: feeAddr}
	})

	without := testutil.NewTx("a", testutil.Pay(100, script), testutil.Pay(10, []byte{0x51}))
	out := paid(t, g, "fee-1", testutil.Hex(without))
	require.Equal(t, StateRejected, out.State)
	assert.Equal(t, ErrCodeMissingFee, out.Err.Code)
	assert.Equal(t, 402, out.Err.Status)

	with := testutil.NewTx("b", testutil.Pay(100, script), testutil.Pay(10, feeScript))
	out = paid(t, g, "fee-1", testutil.Hex(with))
	assert.Equal(t, StateAccepted, out.State)
}

func TestGate_FeeStructuralPolicy(t *testing.T) {
	g, script := testGate(t, func(c *Config) {
		c.Fee = &ProtocolFee{Satoshis: 10, Policy: FeePolicyStructural, IdentityKey: "02abc"}
	})

	// fee output before the primary payment does not count
	before := testutil.NewTx("a", testutil.Pay(10, []byte{0x51}), testutil.Pay(100, script))
	out := paid(t, g, "sfee-1", testutil.Hex(before))
	require.Equal(t, StateRejected, out.State)
	assert.Equal(t, ErrCodeMissingFee, out.Err.Code)

	after := testutil.NewTx("b", testutil.Pay(100, script), testutil.Pay(10, []byte{0x51}))
	out = paid(t, g, "sfee-1", testutil.Hex(after))
	assert.Equal(t, StateAccepted, out.State)
}

func TestGate_ChallengeCarriesFee(t *testing.T) {
	g, _ := testGate(t, func(c *Config) {
		c.Fee = &ProtocolFee{Satoshis: 5, Policy: FeePolicyStructural, IdentityKey: "02abc", KeyID: "kid"}
	})

	out := g.Process(context.Background(), Request{Price: 100})
	require.NotNil(t, out.Challenge.Fee)
	assert.Equal(t, uint64(5), out.Challenge.Fee.Satoshis)
}

func TestGate_DelegatedAccepted(t *testing.T) {
	var got *InternalizeRequest
	wallet := WalletFunc(func(_ context.Context, req *InternalizeRequest) (*InternalizeResult, error) {
		got = req
		return &InternalizeResult{Accepted: true, Satoshis: 150}, nil
	})
	g, _ := testGate(t, func(c *Config) { c.Wallet = wallet })

	// derived output script cannot be matched statically
	tx := testutil.NewTx("funding", testutil.Pay(150, []byte{0x76, 0xa9}))
	out := g.Process(context.Background(), Request{
		Method:      "POST",
		Path:        "/api/data",
		Price:       100,
		Proof:       proofHeader(t, "prefix-delegated", testutil.Hex(tx)),
		IdentityKey: "03sender",
	})
	require.Equal(t, StateAccepted, out.State, "rejection: %v", out.Err)
	assert.True(t, out.Verification.Internalized)
	assert.Equal(t, uint64(150), out.Verification.SatoshisPaid)

	require.NotNil(t, got)
	require.Len(t, got.Outputs, 1)
	assert.Equal(t, uint32(0), got.Outputs[0].OutputIndex)
	assert.Equal(t, "prefix-delegated", got.Outputs[0].DerivationPrefix)
	assert.Equal(t, DefaultDerivationSuffix, got.Outputs[0].DerivationSuffix)
	assert.Equal(t, "03sender", got.Outputs[0].SenderIdentityKey)
	assert.Equal(t, testutil.Raw(tx), got.Tx)
	assert.Equal(t, tx.TxHash().String(), got.TxID)
	assert.Equal(t, "Payment for POST /api/data", got.Description)
}

func TestGate_DelegatedRejected(t *testing.T) {
	wallet := WalletFunc(func(context.Context, *InternalizeRequest) (*InternalizeResult, error) {
		return &InternalizeResult{Accepted: false, Message: "unknown derivation"}, nil
	})
	g, _ := testGate(t, func(c *Config) { c.Wallet = wallet })
	tx := testutil.Hex(testutil.NewTx("funding", testutil.Pay(100, []byte{0x51})))

	out := paid(t, g, "prefix-d", tx)
	require.Equal(t, StateRejected, out.State)
	assert.Equal(t, ErrCodePaymentFailed, out.Err.Code)
	assert.Contains(t, out.Err.Message, "unknown derivation")
	assert.True(t, errors.Is(out.Err, ErrDelegateVerification))
}

func TestGate_DelegatedAmountFallsBackToOutput(t *testing.T) {
	wallet := WalletFunc(func(context.Context, *InternalizeRequest) (*InternalizeResult, error) {
		return &InternalizeResult{Accepted: true}, nil
	})
	g, _ := testGate(t, func(c *Config) { c.Wallet = wallet })

	short := testutil.Hex(testutil.NewTx("a", testutil.Pay(40, []byte{0x51})))
	out := paid(t, g, "prefix-fb", short)
	require.Equal(t, StateRejected, out.State)
	assert.Equal(t, ErrCodeInsufficientPayment, out.Err.Code)

	enough := testutil.Hex(testutil.NewTx("b", testutil.Pay(100, []byte{0x51})))
	out = paid(t, g, "prefix-fb", enough)
	require.Equal(t, StateAccepted, out.State)
	assert.Equal(t, uint64(100), out.Verification.SatoshisPaid)
}

func TestGate_DelegateTimeoutLeavesGuardUntouched(t *testing.T) {
	wallet := WalletFunc(func(ctx context.Context, _ *InternalizeRequest) (*InternalizeResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	replay := NewMemoryReplayGuard(0, 0)
	g, _ := testGate(t, func(c *Config) {
		c.Wallet = wallet
		c.DelegateTimeout = 20 * time.Millisecond
		c.Replay = replay
	})
	tx := testutil.Hex(testutil.NewTx("funding", testutil.Pay(100, []byte{0x51})))

	out := paid(t, g, "prefix-slow", tx)
	require.Equal(t, StateRejected, out.State)
	assert.Equal(t, ErrCodePaymentFailed, out.Err.Code)
	assert.True(t, errors.Is(out.Err, context.DeadlineExceeded))

	seen, err := replay.Seen(context.Background(), "prefix-slow")
	require.NoError(t, err)
	assert.False(t, seen)
	assert.Zero(t, replay.Len())
}

type failingGuard struct{}

func (failingGuard) Seen(context.Context, string) (bool, error) {
	return false, fmt.Errorf("store unavailable")
}

func (failingGuard) Record(context.Context, string) (bool, error) {
	return false, fmt.Errorf("store unavailable")
}

func TestGate_ReplayStoreErrorIsInternal(t *testing.T) {
	g, script := testGate(t, func(c *Config) { c.Replay = failingGuard{} })
	tx := testutil.Hex(testutil.NewTx("funding", testutil.Pay(100, script)))

	out := paid(t, g, "prefix-x", tx)
	require.Equal(t, StateRejected, out.State)
	assert.Equal(t, ErrCodePaymentInternal, out.Err.Code)
	assert.Equal(t, 500, out.Err.Status)
	assert.True(t, errors.Is(out.Err, ErrInternal))
}

func TestGate_RecordsReceipt(t *testing.T) {
	store := NewInMemoryReceiptStore(10)
	g, script := testGate(t, func(c *Config) { c.Receipts = store })
	tx := testutil.NewTx("funding", testutil.Pay(120, script))

	out := paid(t, g, "prefix-r", testutil.Hex(tx))
	require.Equal(t, StateAccepted, out.State)

	report, err := store.Report(ReceiptFilter{})
	require.NoError(t, err)
	require.Len(t, report.Receipts, 1)
	rc := report.Receipts[0]
	assert.Equal(t, tx.TxHash().String(), rc.TxID)
	assert.Equal(t, uint64(120), rc.SatoshisPaid)
	assert.Equal(t, uint64(100), rc.SatoshisRequired)
	assert.Equal(t, "/api/data", rc.Path)
	assert.Equal(t, uint64(20), report.Overpaid)
}

func TestNew_InvalidConfig(t *testing.T) {
	addr, _ := testutil.Address("merchant")

	_, err := New(Config{RecipientAddress: addr})
	assert.Error(t, err, "missing pricing")

	_, err = New(Config{Pricing: FixedPrice(1)})
	assert.Error(t, err, "missing recipient")

	_, err = New(Config{RecipientAddress: "not-an-address", Pricing: FixedPrice(1)})
	assert.Error(t, err)

	_, err = New(Config{RecipientAddress: addr, Pricing: FixedPrice(1), Fee: &ProtocolFee{Satoshis: 1}})
	assert.Error(t, err, "fee without policy")
}

func TestGate_OutcomesAreTerminal(t *testing.T) {
	g, script := testGate(t, nil)
	ctx := context.Background()
	good := testutil.Hex(testutil.NewTx("terminal", testutil.Pay(100, script)))

	outcomes := []*Outcome{
		g.Process(ctx, Request{Path: "/free"}),
		g.Process(ctx, Request{Path: "/x", Price: 100}),
		g.Process(ctx, Request{Path: "/x", Price: 100, Proof: "{"}),
		g.Process(ctx, Request{Path: "/x", Price: 100, Proof: proofHeader(t, "t", good)}),
		g.Process(ctx, Request{Path: "/x", Price: 100, Proof: proofHeader(t, "t", good)}),
	}
	want := []State{StateFree, StateChallenged, StateRejected, StateAccepted, StateRejected}
	for i, out := range outcomes {
		assert.Equal(t, want[i], out.State, "outcome %d", i)
		assert.True(t, out.State.Terminal(), out.State.String())
	}
	assert.False(t, StateAwaitingDecision.Terminal())
	assert.False(t, StateVerifying.Terminal())
}

func TestDescribe_TruncatesOnRuneBoundary(t *testing.T) {
	// "Payment for GET " is 16 bytes; "é" is 2 bytes, so byte 50 falls
	// inside the 18th rune of the path.
	path := "/" + strings.Repeat("é", 30)
	d := describe(Request{Method: "GET", Path: path})
	assert.True(t, utf8.ValidString(d), d)
	assert.LessOrEqual(t, len(d), maxDescription)
	assert.True(t, strings.HasPrefix(path, strings.TrimPrefix(d, "Payment for GET ")))

	short := describe(Request{Method: "GET", Path: "/a"})
	assert.Equal(t, "Payment for GET /a", short)
}
