package settlement

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/edubeca/scholarship-hub/internal/domain/shared"
	"github.com/edubeca/scholarship-hub/pkg/logger"
)

// Outcome is the tri-state result of a submit-and-confirm cycle. It is
// never collapsed to a boolean: "unknown" is a first-class answer.
type Outcome int

const (
	// OutcomeConfirmed: the call reached the required confirmation depth.
	OutcomeConfirmed Outcome = iota
	// OutcomeRejected: the settlement layer terminally rejected the call.
	OutcomeRejected
	// OutcomeUnknown: the confirmation wait timed out. The transaction may
	// still land; the identifier remains valid for later status queries.
	OutcomeUnknown
)

// String returns a human-readable outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeRejected:
		return "rejected"
	case OutcomeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Result is the durable record of one submission attempt.
type Result struct {
	TxID          string
	Outcome       Outcome
	Confirmations int
	Reason        string
}

// Submitter wraps a Client with the nonce retry policy and the bounded
// confirmation wait. It owns no ledger state and is safe for concurrent use;
// submissions are serialized per signer so two calls can never race on the
// same nonce.
type Submitter struct {
	client Client
	config Config
	log    *logger.Logger

	mu      sync.Mutex
	signers map[string]*sync.Mutex
}

// NewSubmitter creates a Submitter.
func NewSubmitter(client Client, config Config, log *logger.Logger) *Submitter {
	if log == nil {
		log = logger.Default()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 3 * time.Second
	}
	if config.MaxPollAttempts <= 0 {
		config.MaxPollAttempts = 20
	}
	if config.ConfirmationDepth <= 0 {
		config.ConfirmationDepth = 1
	}
	return &Submitter{
		client:  client,
		config:  config,
		log:     log.With(logger.Component("settlement.submitter")),
		signers: make(map[string]*sync.Mutex),
	}
}

// Submit submits a call and waits for confirmation.
//
// Policy, in order:
//  1. submit with the default nonce;
//  2. on a nonce-level rejection, refresh the pending count and resubmit
//     once with pendingCount+1; further rejections propagate;
//  3. poll confirmation status at a fixed interval until the required depth,
//     a terminal rejection, or the attempt budget is exhausted;
//  4. on timeout, log and return the transaction identifier with
//     OutcomeUnknown and a nil error. Best effort, not a success guarantee.
//
// Ledger-invariant violations from the endpoint's pre-submission simulation
// are returned verbatim and never retried.
func (s *Submitter) Submit(ctx context.Context, call Call, signer Signer) (Result, error) {
	lock := s.signerLock(signer.Address)
	lock.Lock()
	defer lock.Unlock()

	log := s.log.With(
		logger.Fn(call.Function),
		logger.SignerAddr(signer.Address),
	)

	txID, err := s.client.Submit(ctx, call, signer, nil)
	if err != nil {
		if shared.IsLedgerInvariant(err) {
			return Result{}, err
		}
		if !errors.Is(err, shared.ErrSubmissionRejected) {
			return Result{}, shared.WrapError("settlement", "Submit", shared.ErrExternalService, "submit failed", err)
		}

		// One nonce refresh, then give up on rejections.
		pending, nerr := s.client.PendingNonce(ctx, signer)
		if nerr != nil {
			return Result{}, shared.WrapError("settlement", "Submit", shared.ErrExternalService, "pending nonce lookup failed", nerr)
		}
		retryNonce := pending + 1
		log.Warn("submission rejected, retrying with refreshed nonce",
			logger.Err(err),
			logger.Nonce(retryNonce),
		)

		txID, err = s.client.Submit(ctx, call, signer, &retryNonce)
		if err != nil {
			if shared.IsLedgerInvariant(err) {
				return Result{}, err
			}
			return Result{TxID: txID, Outcome: OutcomeRejected}, shared.WrapError("settlement", "Submit", shared.ErrSubmissionRejected, "rejected after nonce retry", err)
		}
	}

	return s.waitForConfirmation(ctx, txID, log)
}

// WaitForConfirmation polls the status of an already-submitted transaction.
// Used by the reconcile job for transactions whose first wait timed out.
func (s *Submitter) WaitForConfirmation(ctx context.Context, txID string) (Result, error) {
	return s.waitForConfirmation(ctx, txID, s.log.With(logger.TxID(txID)))
}

func (s *Submitter) waitForConfirmation(ctx context.Context, txID string, log *logger.Logger) (Result, error) {
	for attempt := 1; attempt <= s.config.MaxPollAttempts; attempt++ {
		status, err := s.client.TxStatus(ctx, txID)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			// Transient status-query failures consume an attempt but do not
			// abort the wait.
			log.Warn("confirmation poll failed", logger.Err(err), logger.Int("attempt", attempt))
		} else {
			switch status.State {
			case StateConfirmed:
				return Result{TxID: txID, Outcome: OutcomeConfirmed, Confirmations: status.Confirmations}, nil
			case StateRejected:
				return Result{TxID: txID, Outcome: OutcomeRejected, Reason: status.Reason},
					shared.NewDomainError("settlement", "WaitForConfirmation", shared.ErrSubmissionRejected, status.Reason)
			case StatePending:
				if status.Confirmations >= s.config.ConfirmationDepth {
					return Result{TxID: txID, Outcome: OutcomeConfirmed, Confirmations: status.Confirmations}, nil
				}
			}
		}

		if attempt == s.config.MaxPollAttempts {
			break
		}
		select {
		case <-ctx.Done():
			attempt = s.config.MaxPollAttempts
		case <-time.After(s.config.PollInterval):
		}
		if ctx.Err() != nil {
			break
		}
	}

	// Unknown outcome: swallowed by design. The caller holds the tx ID and
	// must treat the effect as unconfirmed, not failed.
	log.Warn("confirmation wait exhausted, outcome unknown",
		logger.TxID(txID),
		logger.Int("max_attempts", s.config.MaxPollAttempts),
		logger.Duration("poll_interval", s.config.PollInterval),
	)
	return Result{TxID: txID, Outcome: OutcomeUnknown}, nil
}

func (s *Submitter) signerLock(address string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.signers[address]
	if !ok {
		lock = &sync.Mutex{}
		s.signers[address] = lock
	}
	return lock
}
