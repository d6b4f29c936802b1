package command

import (
	"context"
	"fmt"

	"github.com/edubeca/scholarship-hub/internal/domain/shared"
	"github.com/edubeca/scholarship-hub/internal/domain/vault"
	"github.com/edubeca/scholarship-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPOSIT COMMAND
// Administrative: tops up an existing course vault.
// ══════════════════════════════════════════════════════════════════════════════

// DepositCommand contains the data needed to fund a vault.
type DepositCommand struct {
	// CourseID identifies the course vault.
	CourseID shared.CourseID

	// Currency names the deposited asset. Empty means the primary currency.
	Currency shared.Currency

	// Amount is the deposit amount in minor units.
	Amount shared.Amount

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c DepositCommand) Validate() error {
	if err := c.CourseID.Validate(); err != nil {
		return fmt.Errorf("deposit: %w", err)
	}
	if c.Amount == 0 {
		return fmt.Errorf("deposit: %w: amount must be positive", shared.ErrInvalidAmount)
	}
	return nil
}

// DepositResult contains the vault state after the deposit.
type DepositResult struct {
	CourseID   shared.CourseID
	Deposited  shared.Amount
	NewBalance shared.Amount
}

// DepositHandler handles the DepositCommand.
type DepositHandler struct {
	ledger         vault.Ledger
	eventPublisher shared.EventPublisher
	log            *logger.Logger
}

// NewDepositHandler creates a new DepositHandler.
func NewDepositHandler(ledger vault.Ledger, eventPublisher shared.EventPublisher, log *logger.Logger) *DepositHandler {
	if log == nil {
		log = logger.Default()
	}
	return &DepositHandler{
		ledger:         ledger,
		eventPublisher: eventPublisher,
		log:            log.With(logger.Component("vault_admin")),
	}
}

// Handle executes the deposit command.
func (h *DepositHandler) Handle(ctx context.Context, cmd DepositCommand) (*DepositResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	currency := cmd.Currency
	if currency == "" {
		currency = shared.DefaultCurrency
	}

	if err := h.ledger.Deposit(ctx, cmd.CourseID, currency, cmd.Amount); err != nil {
		return nil, fmt.Errorf("deposit: %w", err)
	}

	h.log.Info("vault deposit confirmed",
		logger.CourseID(uint64(cmd.CourseID)),
		logger.Amount(uint64(cmd.Amount)),
		logger.CorrelationID(cmd.CorrelationID),
	)

	event := shared.NewVaultDepositedEvent(uint64(cmd.CourseID), string(currency), uint64(cmd.Amount))
	event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	if h.eventPublisher != nil {
		if err := h.eventPublisher.Publish(event); err != nil {
			h.log.Warn("event publish failed", logger.Err(err))
		}
	}

	result := &DepositResult{CourseID: cmd.CourseID, Deposited: cmd.Amount}

	// Best-effort balance read for the caller's confirmation payload.
	if v, err := h.ledger.Vault(ctx, cmd.CourseID); err == nil && v != nil {
		result.NewBalance = v.Balances[currency]
	}

	return result, nil
}
