package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/edubeca/scholarship-hub/internal/domain/shared"
	"github.com/edubeca/scholarship-hub/pkg/circuitbreaker"
	"github.com/edubeca/scholarship-hub/pkg/logger"
	"github.com/edubeca/scholarship-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// WIRE TYPES
// ══════════════════════════════════════════════════════════════════════════════

// submitRequest is the body of POST /v1/tx.
type submitRequest struct {
	NetworkID string  `json:"networkId"`
	Signer    string  `json:"signer"`
	Signature string  `json:"signature"`
	Nonce     *uint64 `json:"nonce,omitempty"`
	Call      Call    `json:"call"`
}

type submitResponse struct {
	TxID string `json:"txId"`
}

type statusResponse struct {
	State         string `json:"state"`
	Confirmations int    `json:"confirmations"`
	Reason        string `json:"reason,omitempty"`
}

type nonceResponse struct {
	Pending uint64 `json:"pending"`
}

type queryRequest struct {
	Method string        `json:"method"`
	Args   []interface{} `json:"args"`
}

type queryResponse struct {
	Result json.RawMessage `json:"result"`
}

// rpcError is the endpoint's error envelope. Code carries the revert reason
// for simulated calls; the client maps it back onto the ledger error taxonomy.
type rpcError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %s: %s", e.Code, e.Message)
}

// revertCodes maps endpoint revert codes to ledger errors. A code outside
// this table is an endpoint-level failure, not a ledger verdict.
var revertCodes = map[string]error{
	"VAULT_NOT_FOUND":      shared.ErrVaultNotFound,
	"VAULT_EXISTS":         shared.ErrVaultAlreadyExists,
	"INVALID_AMOUNT":       shared.ErrInvalidAmount,
	"INVALID_STUDENT":      shared.ErrInvalidStudent,
	"COOLDOWN_ACTIVE":      shared.ErrCooldownActive,
	"ALREADY_PAID":         shared.ErrAlreadyPaid,
	"INSUFFICIENT_BALANCE": shared.ErrInsufficientBalance,
	"UNAUTHORIZED":         shared.ErrUnauthorized,
	"NONCE_REJECTED":       shared.ErrSubmissionRejected,
	"INVALID_SIGNATURE":    shared.ErrSubmissionRejected,
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// RPCClient talks HTTP JSON to a settlement gateway. It wraps every round
// trip in a circuit breaker and transport-level retries; ledger verdicts and
// nonce rejections pass through unretried.
type RPCClient struct {
	config     Config
	httpClient *http.Client
	log        *logger.Logger
	breaker    *circuitbreaker.CircuitBreaker
	retrier    *retry.Retrier
}

// NewRPCClient creates a settlement gateway client.
func NewRPCClient(config Config, log *logger.Logger) *RPCClient {
	if log == nil {
		log = logger.Default()
	}
	log = log.With(logger.Component("settlement.rpc"))

	breaker := circuitbreaker.SettlementRPCBreaker(func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	})

	return &RPCClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.RequestTimeout},
		log:        log,
		breaker:    breaker,
		retrier:    retry.SettlementRetrier(),
	}
}

// Submit implements Client.
func (c *RPCClient) Submit(ctx context.Context, call Call, signer Signer, nonce *uint64) (string, error) {
	body := submitRequest{
		NetworkID: c.config.NetworkID,
		Signer:    signer.Address,
		Signature: signCall(signer, call, nonce),
		Nonce:     nonce,
		Call:      call,
	}

	var out submitResponse
	err := c.doRequest(ctx, http.MethodPost, "/v1/tx", body, &out)
	if err != nil {
		return "", c.translate("Submit", err)
	}
	return out.TxID, nil
}

// PendingNonce implements Client.
func (c *RPCClient) PendingNonce(ctx context.Context, signer Signer) (uint64, error) {
	path := "/v1/nonce/" + url.PathEscape(signer.Address)

	var out nonceResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &out); err != nil {
		return 0, c.translate("PendingNonce", err)
	}
	return out.Pending, nil
}

// TxStatus implements Client.
func (c *RPCClient) TxStatus(ctx context.Context, txID string) (TxStatus, error) {
	path := "/v1/tx/" + url.PathEscape(txID)

	var out statusResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &out); err != nil {
		return TxStatus{}, c.translate("TxStatus", err)
	}

	status := TxStatus{Confirmations: out.Confirmations, Reason: out.Reason}
	switch out.State {
	case "confirmed":
		status.State = StateConfirmed
	case "rejected":
		status.State = StateRejected
	case "pending", "queued", "included":
		status.State = StatePending
	default:
		return TxStatus{}, shared.NewDomainError("settlement", "TxStatus", shared.ErrExternalService,
			fmt.Sprintf("unknown state %q", out.State))
	}
	return status, nil
}

// Query implements Client.
func (c *RPCClient) Query(ctx context.Context, method string, args []interface{}) (json.RawMessage, error) {
	body := queryRequest{Method: method, Args: args}
	if body.Args == nil {
		body.Args = []interface{}{}
	}

	var out queryResponse
	if err := c.doRequest(ctx, http.MethodPost, "/v1/query", body, &out); err != nil {
		return nil, c.translate("Query", err)
	}
	return out.Result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// doRequest performs an HTTP round trip behind the circuit breaker, with
// transport-level retries. Endpoint verdicts (4xx with a revert code) are
// permanent; 5xx and network failures are retryable.
func (c *RPCClient) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			err := c.doSingleRequest(ctx, method, path, body, result)
			if err == nil {
				return nil
			}
			var rpcErr *rpcError
			if errors.As(err, &rpcErr) && rpcErr.Status < 500 {
				return retry.Permanent(err)
			}
			return retry.Retryable(err)
		})
	})
}

func (c *RPCClient) doSingleRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	fullURL := c.config.RPCURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error rpcError `json:"error"`
		}
		if err := json.Unmarshal(respBody, &envelope); err == nil && envelope.Error.Code != "" {
			envelope.Error.Status = resp.StatusCode
			return &envelope.Error
		}
		return &rpcError{
			Code:    "HTTP_" + fmt.Sprint(resp.StatusCode),
			Message: string(respBody),
			Status:  resp.StatusCode,
		}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// translate converts a transport error into the shared error taxonomy.
func (c *RPCClient) translate(op string, err error) error {
	var rpcErr *rpcError
	if errors.As(err, &rpcErr) {
		if kind, ok := revertCodes[rpcErr.Code]; ok {
			return shared.WrapError("settlement", op, kind, rpcErr.Message, rpcErr)
		}
		if rpcErr.Status >= 500 {
			return shared.WrapError("settlement", op, shared.ErrServiceUnavailable, rpcErr.Message, rpcErr)
		}
		return shared.WrapError("settlement", op, shared.ErrExternalService, rpcErr.Message, rpcErr)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return shared.WrapError("settlement", op, shared.ErrTimeout, "request deadline exceeded", err)
	}
	return shared.WrapError("settlement", op, shared.ErrExternalService, "request failed", err)
}

// signCall produces the request signature: a keyed digest over the encoded
// call. The gateway verifies it against the signer's registered credential.
func signCall(signer Signer, call Call, nonce *uint64) string {
	n := uint64(0)
	if nonce != nil {
		n = *nonce
	}
	return TxHash(signer.Credential, n, call, "")
}
