// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

/*
bus.go - In-Process Lifecycle Event Bus

Backup, restore, snapshot and recovery operations publish lifecycle events
to an in-process Watermill GoChannel. Subscribers (the audit logger, tests)
consume them asynchronously.

Publishing is fire-and-forget from the caller's point of view: a publish
failure is logged and never fails the operation that produced the event.

Topics:
  - backup.created, backup.deleted
  - restore.completed, restore.failed
  - plan.completed, plan.failed
  - snapshot.created
*/
//nolint:staticcheck // File documentation, not package doc
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/tomtom215/timecapsule/internal/logging"
)

// Event topics.
const (
	TopicBackupCreated    = "backup.created"
	TopicBackupDeleted    = "backup.deleted"
	TopicRestoreCompleted = "restore.completed"
	TopicRestoreFailed    = "restore.failed"
	TopicPlanCompleted    = "plan.completed"
	TopicPlanFailed       = "plan.failed"
	TopicSnapshotCreated  = "snapshot.created"
)

// AllTopics lists every topic the core publishes.
var AllTopics = []string{
	TopicBackupCreated, TopicBackupDeleted,
	TopicRestoreCompleted, TopicRestoreFailed,
	TopicPlanCompleted, TopicPlanFailed,
	TopicSnapshotCreated,
}

// Event is the JSON payload of every lifecycle message.
type Event struct {
	Type   string            `json:"type"`
	ID     string            `json:"id"`
	At     time.Time         `json:"at"`
	Detail map[string]string `json:"detail,omitempty"`
}

// New builds an event stamped with the current UTC time.
func New(topic, id string, detail map[string]string) Event {
	return Event{Type: topic, ID: id, At: time.Now().UTC(), Detail: detail}
}

// Publisher is the narrow interface producers depend on.
type Publisher interface {
	Publish(e Event)
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(Event) {}

// Bus is a Watermill GoChannel pub/sub for lifecycle events.
type Bus struct {
	pubsub *gochannel.GoChannel

	mu     sync.RWMutex
	closed bool
}

// NewBus creates an in-process event bus.
func NewBus() *Bus {
	logger := watermill.NewSlogLogger(logging.NewSlogLogger().With("component", "events"))
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, logger),
	}
}

// Publish implements Publisher. Errors are logged, never returned.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	payload, err := json.Marshal(e)
	if err != nil {
		logging.Warn().Err(err).Str("topic", e.Type).Msg("Failed to encode event")
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("event_type", e.Type)
	msg.Metadata.Set("subject_id", e.ID)

	if err := b.pubsub.Publish(e.Type, msg); err != nil {
		logging.Warn().Err(err).Str("topic", e.Type).Str("id", e.ID).Msg("Failed to publish event")
	}
}

// Subscribe returns a channel of messages for topic. The channel closes when
// ctx is cancelled or the bus is closed. Consumers must Ack each message.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	return ch, nil
}

// Close shuts down the bus. Further publishes are dropped.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.pubsub.Close()
}

// Decode parses a message payload back into an Event.
func Decode(msg *message.Message) (Event, error) {
	var e Event
	if err := json.Unmarshal(msg.Payload, &e); err != nil {
		return Event{}, fmt.Errorf("failed to decode event %s: %w", msg.UUID, err)
	}
	return e, nil
}
