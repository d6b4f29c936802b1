package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/edubeca/scholarship-hub/internal/domain/shared"
	"github.com/edubeca/scholarship-hub/internal/ledger"
)

// DevnetClient is an in-process settlement backend: it applies submitted
// calls to a vault ledger state machine and simulates asynchronous
// confirmation. It backs local development (SETTLEMENT_NETWORK=devnet) and
// the submitter/coordinator tests.
//
// Confirmation model: an accepted transaction gains one confirmation per
// status poll. Fault injection hooks simulate nonce rejections and stalled
// confirmations.
type DevnetClient struct {
	mu sync.Mutex

	state *ledger.State

	// nonces tracks the pending transaction count per signer address.
	nonces map[string]uint64

	txs map[string]*devnetTx

	// rejectNextReasons queues submission-level rejections, consumed one
	// per Submit call.
	rejectNextReasons []string

	// holdConfirmations freezes confirmation progress when true.
	holdConfirmations bool
}

type devnetTx struct {
	status TxStatus
}

// NewDevnetClient creates a devnet backend over the given ledger state.
func NewDevnetClient(state *ledger.State) *DevnetClient {
	return &DevnetClient{
		state:  state,
		nonces: make(map[string]uint64),
		txs:    make(map[string]*devnetTx),
	}
}

// State exposes the underlying ledger for test assertions and local tooling.
func (c *DevnetClient) State() *ledger.State {
	return c.state
}

// RejectNextSubmit queues a nonce-level rejection for the next Submit call.
func (c *DevnetClient) RejectNextSubmit(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejectNextReasons = append(c.rejectNextReasons, reason)
}

// HoldConfirmations freezes or resumes confirmation progress.
func (c *DevnetClient) HoldConfirmations(hold bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.holdConfirmations = hold
}

// Submit implements Client. The call is applied to the ledger synchronously
// (the endpoint simulates before accepting, like a revert check); accepted
// transactions then confirm asynchronously via TxStatus polls.
func (c *DevnetClient) Submit(ctx context.Context, call Call, signer Signer, nonce *uint64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.Lock()
	if n := len(c.rejectNextReasons); n > 0 {
		reason := c.rejectNextReasons[0]
		c.rejectNextReasons = c.rejectNextReasons[1:]
		c.mu.Unlock()
		return "", shared.WrapError("settlement", "Submit", shared.ErrSubmissionRejected, reason, nil)
	}

	pending := c.nonces[signer.Address]
	if nonce != nil && *nonce < pending {
		c.mu.Unlock()
		return "", shared.NewDomainError("settlement", "Submit", shared.ErrSubmissionRejected, "stale nonce")
	}
	c.mu.Unlock()

	if err := c.apply(call, signer); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	used := c.nonces[signer.Address]
	c.nonces[signer.Address] = used + 1
	txID := TxHash(signer.Address, used, call, uuid.NewString())
	c.txs[txID] = &devnetTx{status: TxStatus{State: StatePending}}
	return txID, nil
}

// PendingNonce implements Client.
func (c *DevnetClient) PendingNonce(ctx context.Context, signer Signer) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[signer.Address], nil
}

// TxStatus implements Client. Each poll advances an unheld pending
// transaction by one confirmation.
func (c *DevnetClient) TxStatus(ctx context.Context, txID string) (TxStatus, error) {
	if err := ctx.Err(); err != nil {
		return TxStatus{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, ok := c.txs[txID]
	if !ok {
		return TxStatus{}, shared.NewDomainError("settlement", "TxStatus", shared.ErrNotFound, "unknown transaction")
	}
	if tx.status.State == StatePending && !c.holdConfirmations {
		tx.status.Confirmations++
	}
	return tx.status, nil
}

// Query implements Client.
func (c *DevnetClient) Query(ctx context.Context, method string, args []interface{}) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch method {
	case QueryVaults:
		courseID, err := argUint(args, 0)
		if err != nil {
			return nil, err
		}
		v := c.state.Vault(shared.CourseID(courseID))
		dto := VaultDTO{
			CourseID:       uint64(v.CourseID),
			Balances:       make(map[string]uint64, len(v.Balances)),
			AmountPerGuide: uint64(v.AmountPerGuide),
			Exists:         v.Exists,
		}
		for cur, bal := range v.Balances {
			dto.Balances[string(cur)] = uint64(bal)
		}
		return json.Marshal(dto)

	case QueryGuidePaid:
		courseID, guide, student, err := paymentKeyArgs(args)
		if err != nil {
			return nil, err
		}
		amount := c.state.GuidePaid(courseID, guide, student)
		return json.Marshal(uint64(amount))

	case QueryStudentCanSubmit:
		courseID, err := argUint(args, 0)
		if err != nil {
			return nil, err
		}
		student, err := argAddress(args, 1)
		if err != nil {
			return nil, err
		}
		return json.Marshal(c.state.StudentCanSubmit(shared.CourseID(courseID), student))

	case QueryGuideStatus:
		courseID, guide, student, err := paymentKeyArgs(args)
		if err != nil {
			return nil, err
		}
		dto := GuideStatusDTO{
			PaidAmount: uint64(c.state.GuidePaid(courseID, guide, student)),
			CanSubmit:  c.state.StudentCanSubmit(courseID, student),
		}
		return json.Marshal(dto)

	case QueryCourses:
		ids := c.state.Courses()
		out := make([]uint64, len(ids))
		for i, id := range ids {
			out[i] = uint64(id)
		}
		return json.Marshal(out)

	case QueryTotalBalance:
		return json.Marshal(uint64(c.state.TotalBalance()))

	default:
		return nil, shared.NewDomainError("settlement", "Query", shared.ErrInvalidInput, fmt.Sprintf("unknown query %q", method))
	}
}

// apply executes a state-changing call against the ledger.
func (c *DevnetClient) apply(call Call, signer Signer) error {
	caller := shared.Address(signer.Address)

	switch call.Function {
	case FnCreateVault:
		courseID, err := argUint(call.Args, 0)
		if err != nil {
			return err
		}
		amount, err := argUint(call.Args, 1)
		if err != nil {
			return err
		}
		return c.state.CreateVault(caller, shared.CourseID(courseID), shared.Amount(amount))

	case FnDeposit:
		courseID, err := argUint(call.Args, 0)
		if err != nil {
			return err
		}
		amount, err := argUint(call.Args, 1)
		if err != nil {
			return err
		}
		return c.state.Deposit(caller, shared.CourseID(courseID), shared.DefaultCurrency, shared.Amount(amount))

	case FnSubmitGuideResult:
		courseID, err := argUint(call.Args, 0)
		if err != nil {
			return err
		}
		guide, err := argUint(call.Args, 1)
		if err != nil {
			return err
		}
		student, err := argAddress(call.Args, 2)
		if err != nil {
			return err
		}
		isCorrect, err := argBool(call.Args, 3)
		if err != nil {
			return err
		}
		score, err := argUint(call.Args, 4)
		if err != nil {
			return err
		}
		_, err = c.state.SubmitGuideResult(caller, shared.CourseID(courseID), shared.GuideNumber(guide), student, isCorrect, shared.ProfileScore(score))
		return err

	case FnEmergencyWithdraw:
		amount, err := argUint(call.Args, 0)
		if err != nil {
			return err
		}
		return c.state.EmergencyWithdraw(caller, shared.Amount(amount))

	case FnSetGuidePaid:
		courseID, err := argUint(call.Args, 0)
		if err != nil {
			return err
		}
		guide, err := argUint(call.Args, 1)
		if err != nil {
			return err
		}
		student, err := argAddress(call.Args, 2)
		if err != nil {
			return err
		}
		amount, err := argUint(call.Args, 3)
		if err != nil {
			return err
		}
		return c.state.SetGuidePaid(caller, shared.CourseID(courseID), shared.GuideNumber(guide), student, shared.Amount(amount))

	case FnSetVaultBalance:
		courseID, err := argUint(call.Args, 0)
		if err != nil {
			return err
		}
		balance, err := argUint(call.Args, 1)
		if err != nil {
			return err
		}
		return c.state.SetVaultBalance(caller, shared.CourseID(courseID), shared.Amount(balance))

	case FnTransfer:
		to, err := argAddress(call.Args, 0)
		if err != nil {
			return err
		}
		amount, err := argUint(call.Args, 1)
		if err != nil {
			return err
		}
		return c.state.Transfer(caller, to, shared.Amount(amount))

	default:
		return shared.NewDomainError("settlement", "Submit", shared.ErrInvalidInput, fmt.Sprintf("unknown function %q", call.Function))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Argument coercion. In-process args keep their Go types; args that crossed
// a JSON boundary arrive as float64.
// ─────────────────────────────────────────────────────────────────────────────

func argUint(args []interface{}, i int) (uint64, error) {
	if i >= len(args) {
		return 0, shared.NewDomainError("settlement", "Decode", shared.ErrInvalidInput, fmt.Sprintf("missing argument %d", i))
	}
	switch v := args[i].(type) {
	case uint64:
		return v, nil
	case uint8:
		return uint64(v), nil
	case int:
		if v < 0 {
			return 0, shared.NewDomainError("settlement", "Decode", shared.ErrInvalidInput, "negative amount")
		}
		return uint64(v), nil
	case float64:
		if v < 0 {
			return 0, shared.NewDomainError("settlement", "Decode", shared.ErrInvalidInput, "negative amount")
		}
		return uint64(v), nil
	default:
		return 0, shared.NewDomainError("settlement", "Decode", shared.ErrInvalidInput, fmt.Sprintf("argument %d: want unsigned integer, got %T", i, args[i]))
	}
}

func argAddress(args []interface{}, i int) (shared.Address, error) {
	if i >= len(args) {
		return "", shared.NewDomainError("settlement", "Decode", shared.ErrInvalidInput, fmt.Sprintf("missing argument %d", i))
	}
	switch v := args[i].(type) {
	case string:
		return shared.Address(v), nil
	case shared.Address:
		return v, nil
	default:
		return "", shared.NewDomainError("settlement", "Decode", shared.ErrInvalidInput, fmt.Sprintf("argument %d: want address, got %T", i, args[i]))
	}
}

func argBool(args []interface{}, i int) (bool, error) {
	if i >= len(args) {
		return false, shared.NewDomainError("settlement", "Decode", shared.ErrInvalidInput, fmt.Sprintf("missing argument %d", i))
	}
	v, ok := args[i].(bool)
	if !ok {
		return false, shared.NewDomainError("settlement", "Decode", shared.ErrInvalidInput, fmt.Sprintf("argument %d: want bool, got %T", i, args[i]))
	}
	return v, nil
}

func paymentKeyArgs(args []interface{}) (shared.CourseID, shared.GuideNumber, shared.Address, error) {
	courseID, err := argUint(args, 0)
	if err != nil {
		return 0, 0, "", err
	}
	guide, err := argUint(args, 1)
	if err != nil {
		return 0, 0, "", err
	}
	student, err := argAddress(args, 2)
	if err != nil {
		return 0, 0, "", err
	}
	return shared.CourseID(courseID), shared.GuideNumber(guide), student, nil
}
