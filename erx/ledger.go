package erx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// OrderStatus tracks a refill order through the ledger.
type OrderStatus string

const (
	// OrderSubmitted means the gateway accepted the order.
	OrderSubmitted OrderStatus = "submitted"

	// OrderReady means the pharmacy reports the fill is ready.
	OrderReady OrderStatus = "ready"

	// OrderPickedUp means the patient collected the fill.
	OrderPickedUp OrderStatus = "picked_up"

	// OrderCancelled means the order was withdrawn before pickup.
	OrderCancelled OrderStatus = "cancelled"
)

// String returns the status as a string.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid checks whether the status is a known value.
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderSubmitted, OrderReady, OrderPickedUp, OrderCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the order can still change.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderPickedUp || s == OrderCancelled
}

// ErrOrderClosed is returned when cancelling an order that already
// reached a terminal status.
var ErrOrderClosed = errors.New("order already closed")

// Order is a refill submission.
type Order struct {
	PatientID  string `json:"patient_id"`
	SessionID  string `json:"session_id,omitempty"`
	Medication string `json:"medication"`
	Dosage     string `json:"dosage,omitempty"`
	PharmacyID string `json:"pharmacy_id"`
	PriceCents int    `json:"price_cents,omitempty"`
}

// OrderRecord is the ledger's view of one order.
type OrderRecord struct {
	Order

	OrderID        string      `json:"order_id"`
	Status         OrderStatus `json:"status"`
	SubmittedAt    time.Time   `json:"submitted_at"`
	EstimatedReady time.Time   `json:"estimated_ready"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Ledger submits orders through a gateway and remembers every order it
// has seen so callers can track and cancel them. State is in-memory
// and lost on restart.
type Ledger struct {
	mu      sync.RWMutex
	orders  map[string]*OrderRecord
	gateway OrderGateway
	logger  *slog.Logger
	now     func() time.Time
}

// NewLedger creates a ledger over the given gateway.
func NewLedger(gateway OrderGateway, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		orders:  make(map[string]*OrderRecord),
		gateway: gateway,
		logger:  logger,
		now:     time.Now,
	}
}

// Submit sends the order to the gateway and records the confirmation.
func (l *Ledger) Submit(ctx context.Context, order Order) (OrderConfirmation, error) {
	conf, err := l.gateway.Submit(ctx, order)
	if err != nil {
		return OrderConfirmation{}, fmt.Errorf("submit order: %w", err)
	}

	now := l.now()
	record := &OrderRecord{
		Order:          order,
		OrderID:        conf.OrderID,
		Status:         OrderSubmitted,
		SubmittedAt:    now,
		EstimatedReady: conf.EstimatedReady,
		UpdatedAt:      now,
	}

	l.mu.Lock()
	l.orders[conf.OrderID] = record
	l.mu.Unlock()

	l.logger.Info("order submitted",
		"order_id", conf.OrderID,
		"patient_id", order.PatientID,
		"medication", order.Medication,
		"pharmacy_id", order.PharmacyID)
	return conf, nil
}

// Track returns the current record for an order.
func (l *Ledger) Track(orderID string) (OrderRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	record, ok := l.orders[orderID]
	if !ok {
		return OrderRecord{}, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	return *record, nil
}

// Cancel withdraws an order that has not reached a terminal status.
func (l *Ledger) Cancel(orderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	if record.Status.IsTerminal() {
		return fmt.Errorf("order %s is %s: %w", orderID, record.Status, ErrOrderClosed)
	}

	record.Status = OrderCancelled
	record.UpdatedAt = l.now()
	l.logger.Info("order cancelled", "order_id", orderID, "patient_id", record.PatientID)
	return nil
}

// Advance moves an order to a later status, for pharmacy-side updates.
func (l *Ledger) Advance(orderID string, status OrderStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("unknown order status %q", status)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	if record.Status.IsTerminal() {
		return fmt.Errorf("order %s is %s: %w", orderID, record.Status, ErrOrderClosed)
	}

	record.Status = status
	record.UpdatedAt = l.now()
	return nil
}

// List returns records for a patient, newest first. An empty patient
// id returns everything.
func (l *Ledger) List(patientID string) []OrderRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []OrderRecord
	for _, record := range l.orders {
		if patientID == "" || record.PatientID == patientID {
			out = append(out, *record)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.After(out[j].SubmittedAt)
		}
		return out[i].OrderID < out[j].OrderID
	})
	return out
}
