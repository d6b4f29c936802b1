package command

import (
	"context"
	"fmt"

	"github.com/edubeca/scholarship-hub/internal/domain/shared"
	"github.com/edubeca/scholarship-hub/internal/domain/vault"
	"github.com/edubeca/scholarship-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREATE VAULT COMMAND
// Administrative: provisions the funding vault for a course.
// ══════════════════════════════════════════════════════════════════════════════

// CreateVaultCommand contains the data needed to create a course vault.
type CreateVaultCommand struct {
	// CourseID identifies the course.
	CourseID shared.CourseID

	// AmountPerGuide is the fixed payout per correctly solved guide.
	AmountPerGuide shared.Amount

	// InitialDeposit optionally funds the vault in the same request.
	// Zero means create empty.
	InitialDeposit shared.Amount

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c CreateVaultCommand) Validate() error {
	if err := c.CourseID.Validate(); err != nil {
		return fmt.Errorf("create_vault: %w", err)
	}
	if c.AmountPerGuide == 0 {
		return fmt.Errorf("create_vault: %w: amount per guide must be positive", shared.ErrInvalidAmount)
	}
	return nil
}

// CreateVaultResult contains the result of vault creation.
type CreateVaultResult struct {
	CourseID  shared.CourseID
	Deposited shared.Amount
}

// CreateVaultHandler handles the CreateVaultCommand.
type CreateVaultHandler struct {
	ledger         vault.Ledger
	eventPublisher shared.EventPublisher
	log            *logger.Logger
}

// NewCreateVaultHandler creates a new CreateVaultHandler.
func NewCreateVaultHandler(ledger vault.Ledger, eventPublisher shared.EventPublisher, log *logger.Logger) *CreateVaultHandler {
	if log == nil {
		log = logger.Default()
	}
	return &CreateVaultHandler{
		ledger:         ledger,
		eventPublisher: eventPublisher,
		log:            log.With(logger.Component("vault_admin")),
	}
}

// Handle executes the create vault command. The create and the optional
// initial deposit are two ledger transactions; a vault left unfunded by a
// failed deposit is created and reported as such, not rolled back.
func (h *CreateVaultHandler) Handle(ctx context.Context, cmd CreateVaultCommand) (*CreateVaultResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	log := h.log.With(
		logger.CourseID(uint64(cmd.CourseID)),
		logger.CorrelationID(cmd.CorrelationID),
	)

	if err := h.ledger.CreateVault(ctx, cmd.CourseID, cmd.AmountPerGuide); err != nil {
		return nil, fmt.Errorf("create_vault: %w", err)
	}

	log.Info("vault created", logger.Amount(uint64(cmd.AmountPerGuide)))
	event := shared.NewVaultCreatedEvent(uint64(cmd.CourseID), uint64(cmd.AmountPerGuide))
	event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	h.publishEvent(event)

	result := &CreateVaultResult{CourseID: cmd.CourseID}

	if cmd.InitialDeposit > 0 {
		if err := h.ledger.Deposit(ctx, cmd.CourseID, shared.DefaultCurrency, cmd.InitialDeposit); err != nil {
			return result, fmt.Errorf("create_vault: vault created but initial deposit failed: %w", err)
		}
		result.Deposited = cmd.InitialDeposit

		log.Info("vault funded", logger.Amount(uint64(cmd.InitialDeposit)))
		depositEvent := shared.NewVaultDepositedEvent(uint64(cmd.CourseID), string(shared.DefaultCurrency), uint64(cmd.InitialDeposit))
		depositEvent.BaseEvent = depositEvent.BaseEvent.WithCorrelationID(cmd.CorrelationID)
		h.publishEvent(depositEvent)
	}

	return result, nil
}

func (h *CreateVaultHandler) publishEvent(event shared.Event) {
	if h.eventPublisher == nil {
		return
	}
	if err := h.eventPublisher.Publish(event); err != nil {
		h.log.Warn("event publish failed", logger.Err(err), logger.String("event_type", string(event.EventType())))
	}
}
