// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package events

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/tomtom215/timecapsule/internal/logging"
)

// AuditLogger writes every lifecycle event to the structured log.
type AuditLogger struct {
	bus    *Bus
	topics []string
}

// NewAuditLogger subscribes to topics, or to AllTopics when none are given.
func NewAuditLogger(bus *Bus, topics ...string) *AuditLogger {
	if len(topics) == 0 {
		topics = AllTopics
	}
	return &AuditLogger{bus: bus, topics: topics}
}

// Serve consumes events until ctx is cancelled. It satisfies suture.Service.
func (a *AuditLogger) Serve(ctx context.Context) error {
	log := logging.Component("audit")

	var wg sync.WaitGroup
	for _, topic := range a.topics {
		ch, err := a.bus.Subscribe(ctx, topic)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func(ch <-chan *message.Message) {
			defer wg.Done()
			for msg := range ch {
				logEvent(log, msg)
			}
		}(ch)
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

func logEvent(log zerolog.Logger, msg *message.Message) {
	defer msg.Ack()

	e, err := Decode(msg)
	if err != nil {
		log.Warn().Err(err).Msg("Dropping undecodable event")
		return
	}
	log.Info().
		Str("event", e.Type).
		Str("id", e.ID).
		Time("at", e.At).
		Interface("detail", e.Detail).
		Msg("Lifecycle event")
}

// String implements fmt.Stringer for supervisor logs.
func (a *AuditLogger) String() string {
	return "event-audit-logger"
}
