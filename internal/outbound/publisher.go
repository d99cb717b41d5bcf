// Package outbound ships results out of the process: executed swaps to
// NATS JetStream and materialized books to Redis.
package outbound

import (
	"DeepReplay/internal/observability"
	"DeepReplay/internal/session"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	SwapStream        = "REPLAY_SWAPS"
	swapSubjectPrefix = "replay.swaps."
)

// StreamPublisher is the part of jetstream.JetStream the publisher uses.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// SwapEvent is the published form of one executed session swap.
type SwapEvent struct {
	TraceID string `json:"trace_id"`
	session.SwapRecord
	PublishedAt time.Time `json:"published_at"`
}

// SwapPublisher publishes executed swaps to replay.swaps.{venue}. Enqueue
// never blocks the session; a full buffer drops the event.
type SwapPublisher struct {
	js      StreamPublisher
	events  chan session.SwapRecord
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewSwapPublisher(js StreamPublisher, buffer int, logger zerolog.Logger, metrics *observability.Metrics) *SwapPublisher {
	if buffer <= 0 {
		buffer = 1
	}
	return &SwapPublisher{
		js:      js,
		events:  make(chan session.SwapRecord, buffer),
		logger:  logger,
		metrics: metrics,
	}
}

// Enqueue is a session.SwapHook.
func (p *SwapPublisher) Enqueue(rec session.SwapRecord) {
	select {
	case p.events <- rec:
	default:
		p.metrics.RecordPublishDrop()
		p.logger.Warn().Str("swap", rec.ID).Msg("publish buffer full, swap dropped")
	}
}

// Run publishes queued swaps until ctx is cancelled. A failed publish is
// logged and skipped.
func (p *SwapPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case rec := <-p.events:
			if err := p.publish(ctx, rec); err != nil {
				p.metrics.RecordPublishError()
				p.logger.Warn().Err(err).Str("swap", rec.ID).Msg("outbound publish failed")
			}
		}
	}
}

func (p *SwapPublisher) publish(ctx context.Context, rec session.SwapRecord) error {
	data, err := json.Marshal(SwapEvent{
		TraceID:     uuid.NewString(),
		SwapRecord:  rec,
		PublishedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal swap: %w", err)
	}
	_, err = p.js.Publish(ctx, SwapSubject(rec.Venue()), data)
	return err
}

// SwapSubject is replay.swaps.{venue}. Dots and wildcards in the venue id
// are replaced so the venue stays a single token.
func SwapSubject(venue string) string {
	if venue == "" {
		venue = "unknown"
	}
	return swapSubjectPrefix + strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(venue)
}

// EnsureSwapStream creates the outbound swaps stream.
func EnsureSwapStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      SwapStream,
		Subjects:  []string{swapSubjectPrefix + ">"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create swap stream: %w", err)
	}
	return nil
}

// ConnectNATS connects with unlimited reconnects and returns a JetStream
// context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("deepreplay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
