package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"comment-refiner/internal/domain/ports/adapter"
	"comment-refiner/internal/infra/metrics"
)

// SubjectOpinionCompleted carries finished opinions for downstream consumers (moderation, indexing).
const SubjectOpinionCompleted = "events.opinion.completed"

var _ adapter.EventPublisher = (*Publisher)(nil)

// streamPublisher is the slice of jetstream.JetStream the publisher needs.
type streamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Publisher sends domain events to a JetStream stream.
type Publisher struct {
	nc *nats.Conn
	js streamPublisher
}

// NewPublisher connects to NATS and makes sure the stream covering "events.>" exists.
func NewPublisher(ctx context.Context, url, stream string, log *zerolog.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := js.CreateOrUpdateStream(sctx, jetstream.StreamConfig{
		Name:      stream,
		Subjects:  []string{"events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    30 * 24 * time.Hour,
	}); err != nil && log != nil {
		// the stream may be managed elsewhere; publishing still works if it exists
		log.Warn().Err(err).Str("stream", stream).Msg("ensure stream failed")
	}

	return &Publisher{nc: nc, js: js}, nil
}

func (p *Publisher) PublishOpinionCompleted(ctx context.Context, ev adapter.OpinionCompleted) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal opinion.completed: %w", err)
	}
	// one completion per session; the msg id lets JetStream drop retries
	_, err = p.js.Publish(ctx, SubjectOpinionCompleted, data, jetstream.WithMsgID("opinion-completed-"+ev.SessionID))
	metrics.IncEventPublished(SubjectOpinionCompleted, err == nil)
	if err != nil {
		return fmt.Errorf("publish %s: %w", SubjectOpinionCompleted, err)
	}
	return nil
}

func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
