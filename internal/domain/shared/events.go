// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each event represents something significant that
// happened in the scholarship pipeline.
const (
	// Vault events
	EventVaultCreated   EventType = "vault.created"
	EventVaultDeposited EventType = "vault.deposited"
	EventVaultWithdrawn EventType = "vault.withdrawn"

	// Scholarship events
	EventScholarshipReleased EventType = "scholarship.released"
	EventScholarshipSkipped  EventType = "scholarship.skipped"

	// Settlement events
	EventTxSubmitted   EventType = "settlement.tx_submitted"
	EventTxConfirmed   EventType = "settlement.tx_confirmed"
	EventTxUnconfirmed EventType = "settlement.tx_unconfirmed"

	// Migration events
	EventMigrationStepCompleted EventType = "migration.step_completed"
	EventMigrationCompleted     EventType = "migration.completed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// EventHandler processes a single event.
type EventHandler func(event Event) error

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(event Event) error
}

// EventSubscriber subscribes handlers to event types.
type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscription.
type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Vault Events
// ═══════════════════════════════════════════════════════════════════════════

// VaultCreatedEvent is emitted when a course vault is created.
type VaultCreatedEvent struct {
	BaseEvent
	CourseID       uint64 `json:"course_id"`
	AmountPerGuide uint64 `json:"amount_per_guide"`
}

// Payload implements Event interface.
func (e VaultCreatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"course_id":        e.CourseID,
		"amount_per_guide": e.AmountPerGuide,
	}
}

// NewVaultCreatedEvent creates a new VaultCreatedEvent.
func NewVaultCreatedEvent(courseID, amountPerGuide uint64) VaultCreatedEvent {
	return VaultCreatedEvent{
		BaseEvent:      NewBaseEvent(EventVaultCreated, courseAggregateID(courseID)),
		CourseID:       courseID,
		AmountPerGuide: amountPerGuide,
	}
}

// VaultDepositedEvent is emitted when funds are deposited into a vault.
type VaultDepositedEvent struct {
	BaseEvent
	CourseID uint64 `json:"course_id"`
	Currency string `json:"currency"`
	Amount   uint64 `json:"amount"`
}

// Payload implements Event interface.
func (e VaultDepositedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"course_id": e.CourseID,
		"currency":  e.Currency,
		"amount":    e.Amount,
	}
}

// NewVaultDepositedEvent creates a new VaultDepositedEvent.
func NewVaultDepositedEvent(courseID uint64, currency string, amount uint64) VaultDepositedEvent {
	return VaultDepositedEvent{
		BaseEvent: NewBaseEvent(EventVaultDeposited, courseAggregateID(courseID)),
		CourseID:  courseID,
		Currency:  currency,
		Amount:    amount,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Scholarship Events
// ═══════════════════════════════════════════════════════════════════════════

// ScholarshipReleasedEvent is emitted when a guide payment is released to a
// student.
type ScholarshipReleasedEvent struct {
	BaseEvent
	CourseID    uint64 `json:"course_id"`
	GuideNumber uint64 `json:"guide_number"`
	Student     string `json:"student"`
	Amount      uint64 `json:"amount"`
	TxID        string `json:"tx_id,omitempty"`
}

// Payload implements Event interface.
func (e ScholarshipReleasedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"course_id":    e.CourseID,
		"guide_number": e.GuideNumber,
		"student":      e.Student,
		"amount":       e.Amount,
		"tx_id":        e.TxID,
	}
}

// NewScholarshipReleasedEvent creates a new ScholarshipReleasedEvent.
func NewScholarshipReleasedEvent(courseID, guideNumber uint64, student string, amount uint64, txID string) ScholarshipReleasedEvent {
	return ScholarshipReleasedEvent{
		BaseEvent:   NewBaseEvent(EventScholarshipReleased, student),
		CourseID:    courseID,
		GuideNumber: guideNumber,
		Student:     student,
		Amount:      amount,
		TxID:        txID,
	}
}

// ScholarshipSkippedEvent is emitted when a graded submission does not result
// in a payment: cooldown, low score, incorrect answer, or drained vault.
type ScholarshipSkippedEvent struct {
	BaseEvent
	CourseID    uint64 `json:"course_id"`
	GuideNumber uint64 `json:"guide_number"`
	Student     string `json:"student"`
	Reason      string `json:"reason"`
}

// Payload implements Event interface.
func (e ScholarshipSkippedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"course_id":    e.CourseID,
		"guide_number": e.GuideNumber,
		"student":      e.Student,
		"reason":       e.Reason,
	}
}

// NewScholarshipSkippedEvent creates a new ScholarshipSkippedEvent.
func NewScholarshipSkippedEvent(courseID, guideNumber uint64, student, reason string) ScholarshipSkippedEvent {
	return ScholarshipSkippedEvent{
		BaseEvent:   NewBaseEvent(EventScholarshipSkipped, student),
		CourseID:    courseID,
		GuideNumber: guideNumber,
		Student:     student,
		Reason:      reason,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Settlement Events
// ═══════════════════════════════════════════════════════════════════════════

// TxUnconfirmedEvent is emitted when the confirmation wait for a submitted
// transaction times out. The transaction is not failed: its identifier is
// kept for later reconciliation.
type TxUnconfirmedEvent struct {
	BaseEvent
	TxID        string `json:"tx_id"`
	CourseID    uint64 `json:"course_id"`
	GuideNumber uint64 `json:"guide_number"`
	Student     string `json:"student"`
}

// Payload implements Event interface.
func (e TxUnconfirmedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"tx_id":        e.TxID,
		"course_id":    e.CourseID,
		"guide_number": e.GuideNumber,
		"student":      e.Student,
	}
}

// NewTxUnconfirmedEvent creates a new TxUnconfirmedEvent.
func NewTxUnconfirmedEvent(txID string, courseID, guideNumber uint64, student string) TxUnconfirmedEvent {
	return TxUnconfirmedEvent{
		BaseEvent:   NewBaseEvent(EventTxUnconfirmed, txID),
		TxID:        txID,
		CourseID:    courseID,
		GuideNumber: guideNumber,
		Student:     student,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Migration Events
// ═══════════════════════════════════════════════════════════════════════════

// MigrationStepCompletedEvent is emitted after each reconciler step finishes.
type MigrationStepCompletedEvent struct {
	BaseEvent
	Step     string `json:"step"`
	Replayed int    `json:"replayed,omitempty"`
	Skipped  int    `json:"skipped,omitempty"`
}

// Payload implements Event interface.
func (e MigrationStepCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"step":     e.Step,
		"replayed": e.Replayed,
		"skipped":  e.Skipped,
	}
}

// NewMigrationStepCompletedEvent creates a new MigrationStepCompletedEvent.
func NewMigrationStepCompletedEvent(step string, replayed, skipped int) MigrationStepCompletedEvent {
	return MigrationStepCompletedEvent{
		BaseEvent: NewBaseEvent(EventMigrationStepCompleted, step),
		Step:      step,
		Replayed:  replayed,
		Skipped:   skipped,
	}
}

// MigrationCompletedEvent is emitted when a migration batch reaches DONE.
type MigrationCompletedEvent struct {
	BaseEvent
	BatchName        string `json:"batch_name"`
	DrainedAmount    uint64 `json:"drained_amount"`
	VaultsRecreated  int    `json:"vaults_recreated"`
	PaymentsReplayed int    `json:"payments_replayed"`
}

// Payload implements Event interface.
func (e MigrationCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"batch_name":        e.BatchName,
		"drained_amount":    e.DrainedAmount,
		"vaults_recreated":  e.VaultsRecreated,
		"payments_replayed": e.PaymentsReplayed,
	}
}

// NewMigrationCompletedEvent creates a new MigrationCompletedEvent.
func NewMigrationCompletedEvent(batchName string, drained uint64, vaults, payments int) MigrationCompletedEvent {
	return MigrationCompletedEvent{
		BaseEvent:        NewBaseEvent(EventMigrationCompleted, batchName),
		BatchName:        batchName,
		DrainedAmount:    drained,
		VaultsRecreated:  vaults,
		PaymentsReplayed: payments,
	}
}

func courseAggregateID(courseID uint64) string {
	return "course-" + uitoa(courseID)
}

// uitoa avoids importing strconv into every event construction site.
func uitoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
