package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"onboardbot/internal/domain"
)

// Handler turns one inbound event into zero or more replies.
type Handler interface {
	Handle(ctx context.Context, ev domain.InboundEvent) ([]domain.Reply, error)
}

// Loop drives the conversation: poll events from the cursor, hand each
// to the handler, deliver replies, persist the advanced cursor. The
// cursor only moves forward, so a crash replays at most one batch.
type Loop struct {
	source     domain.EventSource
	handler    Handler
	notifier   domain.Notifier
	store      domain.RecordStore
	logger     *slog.Logger
	batchLimit int
	idleSleep  time.Duration
	retrySleep time.Duration

	sleep func(time.Duration)
}

type Config struct {
	Source     domain.EventSource
	Handler    Handler
	Notifier   domain.Notifier
	Store      domain.RecordStore
	Logger     *slog.Logger
	BatchLimit int
	IdleSleep  time.Duration
	RetrySleep time.Duration
}

func NewLoop(cfg Config) *Loop {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 10
	}
	return &Loop{
		source:     cfg.Source,
		handler:    cfg.Handler,
		notifier:   cfg.Notifier,
		store:      cfg.Store,
		logger:     cfg.Logger,
		batchLimit: cfg.BatchLimit,
		idleSleep:  cfg.IdleSleep,
		retrySleep: cfg.RetrySleep,
		sleep:      time.Sleep,
	}
}

// Run polls until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	cursor, err := l.store.Cursor(ctx)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	l.logger.Info("bot loop started", "cursor", cursor)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		events, err := l.source.Events(ctx, cursor, l.batchLimit)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Warn("poll failed, backing off", "err", err)
			l.sleep(l.retrySleep)
			continue
		}

		if len(events) == 0 {
			l.sleep(l.idleSleep)
			continue
		}

		cursor = l.processBatch(ctx, events, cursor)
		if err := l.store.SetCursor(ctx, cursor); err != nil {
			l.logger.Error("cursor persist failed", "cursor", cursor, "err", err)
		}
	}
}

// processBatch handles each event in order and returns the cursor one
// past the last event. A handler failure on one event is logged and
// skipped so a poison message cannot wedge the loop.
func (l *Loop) processBatch(ctx context.Context, events []domain.InboundEvent, cursor int64) int64 {
	for _, ev := range events {
		cursor = ev.ID + 1

		if ev.ChatID == 0 {
			// Cursor placeholder for an update with no message payload.
			continue
		}

		replies, err := l.handler.Handle(ctx, ev)
		if err != nil {
			l.logger.Error("event handling failed, skipping",
				"event_id", ev.ID, "chat_id", ev.ChatID, "err", err)
			continue
		}

		for _, reply := range replies {
			if err := l.notifier.Send(ctx, ev.ChatID, reply); err != nil {
				l.logger.Error("reply delivery failed",
					"event_id", ev.ID, "chat_id", ev.ChatID, "err", err)
			}
		}
	}
	return cursor
}
