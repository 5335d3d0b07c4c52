// Package events publishes bulk-import events to Redis pub/sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/tradedoc-cli/pkg/batch"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/logging"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/shipment"
)

// Redis channels
const (
	ChannelShipmentGenerated = "events.shipment.generated"
	ChannelBatchProgress     = "events.batch.progress"
	ChannelBatchCompleted    = "events.batch.completed"
)

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	EventType     string    `json:"event_type"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID *string   `json:"correlation_id,omitempty"`
	Source        string    `json:"source"`
	Version       string    `json:"version"`
}

// NewBaseEvent creates a BaseEvent with sensible defaults.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Source:    "tradedoc",
		Version:   "1.0",
	}
}

func (b *BaseEvent) correlate(importID string) {
	if importID != "" {
		b.CorrelationID = &importID
	}
}

// ShipmentGeneratedEvent is published when an invoice has been rendered and stored.
type ShipmentGeneratedEvent struct {
	BaseEvent

	ShipmentID     string `json:"shipment_id"`
	OrderID        string `json:"order_id"`
	RowID          int    `json:"row_id"`
	DocumentHandle string `json:"document_handle"`

	HSCode      string            `json:"hs_code"`
	Destination string            `json:"destination"`
	Incoterm    shipment.Incoterm `json:"incoterm"`
	TotalValue  float64           `json:"total_value"`
	Currency    string            `json:"currency"`

	Status    shipment.ShipmentStatus `json:"status"`
	CreatedAt time.Time               `json:"created_at"`
}

// NewShipmentGeneratedEvent builds the event for s.
func NewShipmentGeneratedEvent(s shipment.FinalizedShipment) ShipmentGeneratedEvent {
	return ShipmentGeneratedEvent{
		BaseEvent:      NewBaseEvent("shipment.generated"),
		ShipmentID:     s.ID,
		OrderID:        s.OrderID,
		RowID:          s.RowID,
		DocumentHandle: s.DocumentHandle,
		HSCode:         s.Item.HSCode,
		Destination:    s.Consignee.Country,
		Incoterm:       s.Incoterm,
		TotalValue:     s.TotalValue(),
		Currency:       s.Currency,
		Status:         s.Status,
		CreatedAt:      s.CreatedAt,
	}
}

// BatchProgressEvent is published on each reported progress update of a stage.
type BatchProgressEvent struct {
	BaseEvent

	Stage   string `json:"stage"`
	Total   int    `json:"total"`
	Done    int    `json:"done"`
	OK      int    `json:"ok"`
	Warning int    `json:"warning"`
	Failed  int    `json:"failed"`
	Percent int    `json:"percent"`

	CurrentRow                *string  `json:"current_row,omitempty"`
	ElapsedSeconds            float64  `json:"elapsed_seconds"`
	EstimatedRemainingSeconds *float64 `json:"estimated_remaining_seconds,omitempty"`
	Status                    string   `json:"status"`
}

// BatchCompletedEvent is published when a stage finishes, successfully or not.
type BatchCompletedEvent struct {
	BaseEvent

	Stage   string `json:"stage"`
	Total   int    `json:"total"`
	OK      int    `json:"ok"`
	Warning int    `json:"warning"`
	Failed  int    `json:"failed"`

	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
	DurationSeconds float64   `json:"duration_seconds"`

	Success     bool   `json:"success"`
	FinalStatus string `json:"final_status"`
}

// Client is the subset of *redis.Client the publisher needs.
type Client interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// Publisher publishes events to Redis.
type Publisher struct {
	client Client
	logger logging.Logger
}

// PublisherConfig holds Redis connection configuration.
type PublisherConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewPublisher creates a new event publisher.
func NewPublisher(client Client, logger logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.MustGlobal()
	}
	return &Publisher{
		client: client,
		logger: logger.With(logging.F("component", "event_publisher")),
	}
}

// NewPublisherFromConfig creates a publisher with a new Redis connection.
func NewPublisherFromConfig(cfg PublisherConfig, logger logging.Logger) (*Publisher, error) {
	client, err := Dial(cfg)
	if err != nil {
		return nil, err
	}
	return NewPublisher(client, logger), nil
}

// Dial opens and pings a Redis connection.
func Dial(cfg PublisherConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// PublishShipmentGenerated publishes an event for an emitted invoice.
func (p *Publisher) PublishShipmentGenerated(ctx context.Context, importID string, s shipment.FinalizedShipment) error {
	event := NewShipmentGeneratedEvent(s)
	event.correlate(importID)
	return p.publish(ctx, ChannelShipmentGenerated, event)
}

// PublishBatchProgress publishes a progress update for a stage.
func (p *Publisher) PublishBatchProgress(ctx context.Context, importID string, snap batch.ProgressSnapshot) error {
	event := BatchProgressEvent{
		BaseEvent:                 NewBaseEvent("batch.progress"),
		Stage:                     snap.Stage,
		Total:                     snap.Total,
		Done:                      snap.Done,
		OK:                        snap.OKCount,
		Warning:                   snap.WarningCount,
		Failed:                    snap.FailedCount,
		Percent:                   snap.Percent,
		ElapsedSeconds:            snap.ElapsedSeconds,
		EstimatedRemainingSeconds: snap.EstimatedRemainingSeconds,
		Status:                    snap.Status,
	}
	if snap.CurrentRow != "" {
		row := snap.CurrentRow
		event.CurrentRow = &row
	}
	event.correlate(importID)

	return p.publish(ctx, ChannelBatchProgress, event)
}

// PublishBatchCompleted publishes a completion event for a stage.
func (p *Publisher) PublishBatchCompleted(ctx context.Context, importID string, snap batch.ProgressSnapshot, completedAt time.Time) error {
	event := BatchCompletedEvent{
		BaseEvent:       NewBaseEvent("batch.completed"),
		Stage:           snap.Stage,
		Total:           snap.Total,
		OK:              snap.OKCount,
		Warning:         snap.WarningCount,
		Failed:          snap.FailedCount,
		StartedAt:       snap.StartedAt,
		CompletedAt:     completedAt,
		DurationSeconds: completedAt.Sub(snap.StartedAt).Seconds(),
		Success:         snap.Status == batch.StatusCompleted,
		FinalStatus:     snap.Status,
	}
	event.correlate(importID)

	return p.publish(ctx, ChannelBatchCompleted, event)
}

// ProgressHook returns a callback for batch.Progress.SetOnUpdate that publishes
// each update, and a completion event once the stage leaves the running state.
// Publish failures are logged and never interrupt the stage.
func (p *Publisher) ProgressHook(ctx context.Context, importID string) func(batch.ProgressSnapshot) {
	return func(snap batch.ProgressSnapshot) {
		_ = p.PublishBatchProgress(ctx, importID, snap)
		if snap.Status != batch.StatusRunning && snap.Status != batch.StatusPending {
			_ = p.PublishBatchCompleted(ctx, importID, snap, time.Now().UTC())
		}
	}
}

// publish serializes and publishes an event to Redis.
func (p *Publisher) publish(ctx context.Context, channel string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		p.logger.Error("Failed to publish event",
			logging.Err(err),
			logging.F("channel", channel))
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}

	p.logger.Debug("Event published",
		logging.F("channel", channel),
		logging.F("payload_size", len(data)))

	return nil
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}
