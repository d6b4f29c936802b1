// Package settlement implements the off-chain side of the scholarship
// ledger: the client abstraction over the settlement RPC endpoint, the
// nonce-aware transaction submitter with its bounded confirmation wait, and
// the remote ledger adapter that speaks the vault contract's wire format.
//
// The settlement layer is treated as an abstract append-only, eventually
// confirmed write target. Nothing in this package knows what a scholarship
// is; the wire-level call names and argument order are the whole contract.
package settlement

import (
	"context"
	"encoding/json"
	"time"
)

// Wire-level function identifiers of the vault contract. Argument order
// matters and is fixed by the deployed contract.
const (
	FnCreateVault       = "createVault"       // (courseId uint, amountPerGuide uint)
	FnDeposit           = "deposit"           // (courseId uint, amount uint)
	FnSubmitGuideResult = "submitGuideResult" // (courseId uint, guideNumber uint, student address, isCorrect bool, profileScore uint8)
	FnEmergencyWithdraw = "emergencyWithdraw" // (amount uint)
	FnSetGuidePaid      = "setGuidePaid"      // (courseId uint, guideNumber uint, student address, amount uint), migration only
	FnSetVaultBalance   = "setVaultBalance"   // (courseId uint, balance uint), migration only
	FnTransfer          = "transfer"          // (to address, amount uint), currency transfer, not vault-scoped
)

// Read-only query identifiers.
const (
	QueryVaults           = "vaults"                // (courseId) → VaultDTO
	QueryGuidePaid        = "guidePaid"             // (courseId, guideNumber, student) → uint
	QueryStudentCanSubmit = "studentCanSubmit"      // (courseId, student) → bool
	QueryGuideStatus      = "getStudentGuideStatus" // (courseId, guideNumber, student) → GuideStatusDTO
	QueryCourses          = "courses"               // () → []uint
	QueryTotalBalance     = "totalBalance"          // () → uint
)

// Call is one state-changing invocation of the vault contract.
type Call struct {
	Function string        `json:"function"`
	Args     []interface{} `json:"args"`
}

// Signer is the identity a call is signed with. The submitter serializes
// nonce use per signer; different signers submit fully independently.
type Signer struct {
	// Address is the settlement-layer account derived from the credential.
	Address string

	// Credential is the opaque signing secret. Never logged.
	Credential string
}

// ConfirmationState is the tri-state status of a submitted transaction.
type ConfirmationState int

const (
	// StatePending: included or queued, confirmation depth not yet reached.
	StatePending ConfirmationState = iota
	// StateConfirmed: durably included at the required depth.
	StateConfirmed
	// StateRejected: terminally rejected; it will never land.
	StateRejected
)

// String returns a human-readable state name.
func (s ConfirmationState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// TxStatus is a confirmation-status snapshot for a transaction identifier.
type TxStatus struct {
	State         ConfirmationState
	Confirmations int
	Reason        string // set on rejection
}

// Client abstracts the settlement RPC endpoint. Implementations: the HTTP
// JSON-RPC client for real networks and the in-process devnet backend.
type Client interface {
	// Submit signs and submits a call. A nil nonce means "use the node's
	// default for the signer". Returns the transaction identifier.
	//
	// Ledger-invariant violations surface here as the corresponding shared
	// errors: the endpoint simulates the call before accepting it, the same
	// way a revert would surface.
	Submit(ctx context.Context, call Call, signer Signer, nonce *uint64) (string, error)

	// PendingNonce returns the signer's pending transaction count.
	PendingNonce(ctx context.Context, signer Signer) (uint64, error)

	// TxStatus returns the confirmation status for a transaction.
	TxStatus(ctx context.Context, txID string) (TxStatus, error)

	// Query executes a read-only contract query and returns the raw result.
	Query(ctx context.Context, method string, args []interface{}) (json.RawMessage, error)
}

// VaultDTO is the wire shape of the vaults(courseId) read.
type VaultDTO struct {
	CourseID       uint64            `json:"courseId"`
	Balances       map[string]uint64 `json:"balances"`
	AmountPerGuide uint64            `json:"amountPerGuide"`
	Exists         bool              `json:"exists"`
}

// GuideStatusDTO is the wire shape of getStudentGuideStatus.
type GuideStatusDTO struct {
	PaidAmount uint64 `json:"paidAmount"`
	CanSubmit  bool   `json:"canSubmit"`
}

// Config holds settlement connection settings.
type Config struct {
	// RPCURL is the settlement RPC endpoint.
	RPCURL string

	// NetworkID identifies the target network.
	NetworkID string

	// SignerCredential is the signing secret for the platform identity.
	SignerCredential string

	// RequestTimeout bounds a single RPC round trip.
	RequestTimeout time.Duration

	// ConfirmationDepth is the number of confirmations required before a
	// transaction counts as durably included.
	ConfirmationDepth int

	// PollInterval is the sleep between confirmation polls.
	PollInterval time.Duration

	// MaxPollAttempts bounds the confirmation wait. The wait's total
	// timeout is MaxPollAttempts × PollInterval.
	MaxPollAttempts int
}

// DefaultConfig returns sensible defaults for a public test network.
func DefaultConfig(rpcURL string) Config {
	return Config{
		RPCURL:            rpcURL,
		NetworkID:         "devnet",
		RequestTimeout:    15 * time.Second,
		ConfirmationDepth: 2,
		PollInterval:      3 * time.Second,
		MaxPollAttempts:   20,
	}
}
