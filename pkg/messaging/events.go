package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventMovementRecorded = "stock.movement.recorded"
	EventMovementQueued   = "stock.movement.queued"
	EventSaleAllocated    = "stock.sale.allocated"
	EventBatchReceived    = "stock.batch.received"
	EventBatchRecalled    = "stock.batch.recalled"
	EventDriftDetected    = "stock.drift.detected"
	EventDriftCorrected   = "stock.drift.corrected"
	EventAlertRaised      = "stock.alert.raised"
)

// Exchange names
const (
	ExchangeStockEvents = "stock.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// GenerateEventID returns a unique event identifier
func GenerateEventID() string {
	return uuid.New().String()
}

// MovementRecordedEvent is published when a ledger movement commits
type MovementRecordedEvent struct {
	MovementID    string `json:"movement_id"`
	ProductID     string `json:"product_id"`
	BatchID       string `json:"batch_id,omitempty"`
	Variant       string `json:"variant"`
	MovementType  string `json:"movement_type"`
	Delta         int    `json:"delta"`
	PreviousStock int    `json:"previous_stock"`
	NewStock      int    `json:"new_stock"`
	ActorID       string `json:"actor_id"`
}

// SaleAllocatedEvent is published when a FEFO allocation commits
type SaleAllocatedEvent struct {
	ProductID      string   `json:"product_id"`
	UnitsRequested int      `json:"units_requested"`
	UnitsSold      int      `json:"units_sold"`
	PartialSale    bool     `json:"partial_sale"`
	BatchIDs       []string `json:"batch_ids"`
	ActorID        string   `json:"actor_id"`
}

// BatchReceivedEvent is published when a new batch enters stock
type BatchReceivedEvent struct {
	BatchID    string    `json:"batch_id"`
	ProductID  string    `json:"product_id"`
	Code       string    `json:"code"`
	Quantity   int       `json:"quantity"`
	ExpiryDate time.Time `json:"expiry_date"`
}

// DriftDetectedEvent is published when reconciliation finds a counter that
// disagrees with the ledger replay
type DriftDetectedEvent struct {
	ProductID     string `json:"product_id"`
	Variant       string `json:"variant"`
	CounterValue  int    `json:"counter_value"`
	ReplayedValue int    `json:"replayed_value"`
}

// DriftCorrectedEvent is published when reconciliation overwrites a counter
type DriftCorrectedEvent struct {
	ProductID      string `json:"product_id"`
	Variant        string `json:"variant"`
	CounterValue   int    `json:"counter_value"`
	ReplayedValue  int    `json:"replayed_value"`
	CorrectedValue int    `json:"corrected_value"`
}

// AlertRaisedEvent is published for expiry and low-stock alerts
type AlertRaisedEvent struct {
	AlertType string `json:"alert_type"`
	Urgency   string `json:"urgency"`
	ProductID string `json:"product_id"`
	BatchID   string `json:"batch_id,omitempty"`
	Message   string `json:"message"`
}
