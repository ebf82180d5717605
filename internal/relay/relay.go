package relay

import (
	"context"
	"errors"
	"time"

	"github.com/richardliu001/video-service/internal/model"
	"github.com/richardliu001/video-service/internal/repo"
	"go.uber.org/zap"
)

// Outbox is the storage side of the relay.
type Outbox interface {
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxPublished(ctx context.Context, id string) error
}

// Relay moves unpublished outbox events to the publisher. Delivery is
// at-least-once: an event whose flag flip fails is published again later.
type Relay struct {
	outbox    Outbox
	pub       Publisher
	interval  time.Duration
	batchSize int
	log       *zap.SugaredLogger
}

// Stats summarises one Tick.
type Stats struct {
	Polled    int
	Published int
	Failed    int
}

func New(outbox Outbox, pub Publisher, interval time.Duration, batchSize int, logger *zap.SugaredLogger) *Relay {
	return &Relay{outbox: outbox, pub: pub, interval: interval, batchSize: batchSize, log: logger}
}

// Run ticks until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Infow("outbox relay started", "interval", r.interval.String(), "batch", r.batchSize)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.log.Errorf("poll outbox: %v", err)
			}
		}
	}
}

// Tick relays one batch, oldest first. A publish failure stops the batch so
// later events are not delivered ahead of it.
func (r *Relay) Tick(ctx context.Context) (Stats, error) {
	var st Stats
	events, err := r.outbox.PollOutbox(ctx, r.batchSize)
	if err != nil {
		return st, err
	}
	st.Polled = len(events)
	for _, evt := range events {
		if err := r.pub.Publish(ctx, evt); err != nil {
			r.log.Errorw("publish event", "event_id", evt.ID, "event_type", evt.EventType, "err", err)
			st.Failed++
			return st, nil
		}
		if err := r.outbox.MarkOutboxPublished(ctx, evt.ID); err != nil {
			if errors.Is(err, repo.ErrAlreadyPublished) {
				r.log.Warnw("event already marked", "event_id", evt.ID)
			} else {
				r.log.Errorw("mark published", "event_id", evt.ID, "err", err)
				st.Failed++
				continue
			}
		}
		st.Published++
		r.log.Infow("event sent", "event_id", evt.ID, "event_type", evt.EventType)
	}
	return st, nil
}
