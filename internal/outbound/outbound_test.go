package outbound_test

import (
	"DeepReplay/internal/orderbook"
	"DeepReplay/internal/outbound"
	"DeepReplay/internal/session"
	"DeepReplay/internal/testutil"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

type published struct {
	subject string
	data    []byte
}

type fakeStream struct {
	mu   sync.Mutex
	msgs []published
	err  error
	sent chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{sent: make(chan struct{}, 16)}
}

func (f *fakeStream) Publish(_ context.Context, subject string, payload []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	defer func() { f.sent <- struct{}{} }()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.msgs = append(f.msgs, published{subject: subject, data: payload})
	return &jetstream.PubAck{Stream: outbound.SwapStream}, nil
}

func (f *fakeStream) messages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.msgs...)
}

func waitSent(t *testing.T, f *fakeStream, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.sent:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for publish %d", i+1)
		}
	}
}

// ===== Test: swap subjects =====

func TestSwapSubject(t *testing.T) {
	tests := []struct {
		venue string
		want  string
	}{
		{"sui_usdc", "replay.swaps.sui_usdc"},
		{"a.b", "replay.swaps.a_b"},
		{"", "replay.swaps.unknown"},
		{"x>y", "replay.swaps.x_y"},
	}
	for _, tt := range tests {
		if got := outbound.SwapSubject(tt.venue); got != tt.want {
			t.Errorf("SwapSubject(%q) = %q, want %q", tt.venue, got, tt.want)
		}
	}
}

// ===== Test: publisher =====

func TestSwapPublisher_PublishesJSON(t *testing.T) {
	js := newFakeStream()
	p := outbound.NewSwapPublisher(js, 4, zerolog.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	p.Enqueue(session.SwapRecord{ID: "swap-1", SessionID: "s-1", Route: []string{"sui_usdc"}, Output: 6_000_000})
	waitSent(t, js, 1)

	msgs := js.messages()
	if len(msgs) != 1 {
		t.Fatalf("published = %d, want 1", len(msgs))
	}
	if msgs[0].subject != "replay.swaps.sui_usdc" {
		t.Errorf("subject = %q", msgs[0].subject)
	}
	var evt outbound.SwapEvent
	if err := json.Unmarshal(msgs[0].data, &evt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.ID != "swap-1" || evt.SessionID != "s-1" || evt.Output != 6_000_000 {
		t.Errorf("event = %+v", evt)
	}
	if evt.TraceID == "" {
		t.Error("missing trace id")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run err = %v, want context.Canceled", err)
	}
}

func TestSwapPublisher_ErrorIsNonFatal(t *testing.T) {
	js := newFakeStream()
	js.err = errors.New("no responders")
	p := outbound.NewSwapPublisher(js, 4, zerolog.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	p.Enqueue(session.SwapRecord{ID: "a", Route: []string{"sui_usdc"}})
	p.Enqueue(session.SwapRecord{ID: "b", Route: []string{"sui_usdc"}})
	waitSent(t, js, 2)

	select {
	case err := <-done:
		t.Fatalf("Run returned early: %v", err)
	default:
	}
}

func TestSwapPublisher_DropsWhenFull(t *testing.T) {
	js := newFakeStream()
	p := outbound.NewSwapPublisher(js, 1, zerolog.Nop(), nil)

	// Not running: the second enqueue finds the buffer full.
	p.Enqueue(session.SwapRecord{ID: "kept", Route: []string{"sui_usdc"}})
	p.Enqueue(session.SwapRecord{ID: "dropped", Route: []string{"sui_usdc"}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)
	waitSent(t, js, 1)

	select {
	case <-js.sent:
		t.Fatal("dropped swap was published")
	case <-time.After(50 * time.Millisecond):
	}
	msgs := js.messages()
	var evt outbound.SwapEvent
	if err := json.Unmarshal(msgs[0].data, &evt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.ID != "kept" {
		t.Errorf("published %q, want kept", evt.ID)
	}
}

// ===== Test: book cache (integration) =====

func TestBookCache_PutGet(t *testing.T) {
	testutil.RequireIntegration(t)

	cache, err := outbound.NewBookCache(testutil.TestRedisURL(), "", time.Minute, zerolog.Nop())
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	defer cache.Close()

	book := &orderbook.Book{
		Venue:         "it_sui_usdc",
		Bids:          []orderbook.PriceLevel{{Price: 3_000_000, TotalQuantity: 5_000_000_000, OrderCount: 2}},
		Asks:          []orderbook.PriceLevel{{Price: 3_100_000, TotalQuantity: 1_000_000_000, OrderCount: 1}},
		Checkpoint:    42,
		BaseDecimals:  9,
		QuoteDecimals: 6,
	}
	ctx := context.Background()
	if err := cache.PutAll(ctx, map[string]*orderbook.Book{book.Venue: book}); err != nil {
		t.Fatalf("PutAll: %v", err)
	}

	got, err := cache.Get(ctx, book.Venue)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("snapshot missing")
	}
	if got.Checkpoint != 42 || len(got.Bids) != 1 || got.BidLevels != 1 {
		t.Errorf("snapshot = %+v", got)
	}

	miss, err := cache.Get(ctx, "it_absent")
	if err != nil || miss != nil {
		t.Errorf("miss = %v, %v, want nil, nil", miss, err)
	}
}

// ===== Test: JetStream round trip =====

func TestSwapPublisher_JetStream(t *testing.T) {
	testutil.RequireIntegration(t)

	nc, js, err := outbound.ConnectNATS(testutil.TestNATSURL())
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := outbound.EnsureSwapStream(ctx, js); err != nil {
		t.Fatalf("EnsureSwapStream: %v", err)
	}

	venue := "it_sui_usdc_" + strconv.FormatInt(time.Now().UnixNano(), 36)
	cons, err := js.OrderedConsumer(ctx, outbound.SwapStream, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{outbound.SwapSubject(venue)},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		t.Fatalf("OrderedConsumer: %v", err)
	}

	p := outbound.NewSwapPublisher(js, 4, zerolog.Nop(), nil)
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go p.Run(runCtx)

	p.Enqueue(session.SwapRecord{ID: "it-swap-1", SessionID: "it-s-1", Route: []string{venue}, Output: 6_000_000})

	msg, err := cons.Next(jetstream.FetchMaxWait(5 * time.Second))
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if msg.Subject() != outbound.SwapSubject(venue) {
		t.Errorf("subject = %q, want %q", msg.Subject(), outbound.SwapSubject(venue))
	}
	var evt outbound.SwapEvent
	if err := json.Unmarshal(msg.Data(), &evt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.ID != "it-swap-1" || evt.Output != 6_000_000 {
		t.Errorf("event = %+v", evt)
	}
}
