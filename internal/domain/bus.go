package domain

import "context"

// EventBus carries run lifecycle and progress events between the
// pipeline worker and anything watching a run (the CLI, a future UI).
// ChannelBus backs the Standalone tier with in-process Go channels;
// NATSBus backs the Cluster tier so several validator processes can
// share one event stream.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic and returns a
	// Subscription that can later be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a single reply. No component
	// in this module answers requests; the pipeline reports progress
	// through Publish only.
	Request(ctx context.Context, topic string, payload []byte) ([]byte, error)

	// Ping checks that the bus is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// MessageHandler processes one incoming message.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is an event envelope.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription is an active subscription returned by EventBus.Subscribe.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig configures bus construction.
type EventBusConfig struct {
	Type string // "channel" | "nats"

	ChannelBufferSize int

	NATSURL           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Topics used across the run pipeline (spec.md §6 progress events).
const (
	TopicRunQueued     = "validator.run.queued"
	TopicRunParsing    = "validator.run.parsing"
	TopicRunValidating = "validator.run.validating"
	TopicRunPersisting = "validator.run.persisting"
	TopicRunDone       = "validator.run.done"
	TopicRunFailed     = "validator.run.failed"
	TopicRunProgress   = "validator.run.progress"
)

// ProgressEvent is the JSON payload of a Message published on a
// TopicRun* topic.
type ProgressEvent struct {
	Type     string   `json:"type"`
	RunID    string   `json:"runId"`
	Stage    RunStage `json:"stage"`
	Progress int      `json:"progress"`
	At       int64    `json:"at"`
	Extra    string   `json:"extra,omitempty"`
}
