package ledgerclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	rpcCodeSimulationFailed = -32002
	rpcCodeSigVerifyFailed  = -32003
	rpcCodeNodeUnhealthy    = -32005
	rpcCodeSlotSkipped      = -32007
)

// RPCClient talks JSON-RPC 2.0 to a ledger node over HTTP.
type RPCClient struct {
	endpoint     string
	httpClient   *http.Client
	limiter      *rate.Limiter
	commitment   Commitment
	pollInterval time.Duration
	maxWait      time.Duration
	logger       *slog.Logger
	nextID       atomic.Uint64
}

// RPCOption configures an RPCClient.
type RPCOption func(*RPCClient)

func WithHTTPClient(c *http.Client) RPCOption {
	return func(r *RPCClient) { r.httpClient = c }
}

func WithCommitment(c Commitment) RPCOption {
	return func(r *RPCClient) { r.commitment = c }
}

// WithRateLimit caps outgoing requests; rps <= 0 disables the limiter.
func WithRateLimit(rps float64, burst int) RPCOption {
	return func(r *RPCClient) {
		if rps <= 0 {
			r.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithPollInterval(d time.Duration) RPCOption {
	return func(r *RPCClient) { r.pollInterval = d }
}

// WithMaxConfirmWait bounds Confirm even if the blockhash never expires.
func WithMaxConfirmWait(d time.Duration) RPCOption {
	return func(r *RPCClient) { r.maxWait = d }
}

func WithRPCLogger(l *slog.Logger) RPCOption {
	return func(r *RPCClient) { r.logger = l }
}

// NewRPCClient creates a client for endpoint.
func NewRPCClient(endpoint string, opts ...RPCOption) *RPCClient {
	c := &RPCClient{
		endpoint:     endpoint,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		limiter:      rate.NewLimiter(rate.Limit(10), 10),
		commitment:   CommitmentConfirmed,
		pollInterval: 500 * time.Millisecond,
		maxWait:      90 * time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *RPCClient) call(ctx context.Context, method string, params []any, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("ledgerclient: marshal %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ledgerclient: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		kind, _ := Classify(err)
		return &Error{Kind: kind, Message: fmt.Sprintf("%s: %v", method, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return NewError(KindRateLimited, "%s: http %d", method, resp.StatusCode)
	case resp.StatusCode >= 500:
		return NewError(KindUnavailable, "%s: http %d", method, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return &Error{Kind: KindRejected, Code: resp.StatusCode, Message: fmt.Sprintf("%s: http %d", method, resp.StatusCode)}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return NewError(KindUnavailable, "%s: read body: %v", method, err)
	}
	var rr rpcResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return NewError(KindUnavailable, "%s: decode response: %v", method, err)
	}
	if rr.Error != nil {
		return classifyRPC(rr.Error.Code, rr.Error.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rr.Result, out); err != nil {
		return NewError(KindUnavailable, "%s: decode result: %v", method, err)
	}
	return nil
}

// SubmitRaw implements Client.
func (c *RPCClient) SubmitRaw(ctx context.Context, raw []byte) (string, error) {
	var sig string
	err := c.call(ctx, "sendTransaction", []any{
		base64.StdEncoding.EncodeToString(raw),
		map[string]any{
			"encoding":            "base64",
			"preflightCommitment": string(c.commitment),
			"maxRetries":          0,
		},
	}, &sig)
	if err != nil {
		return "", err
	}
	if sig == "" {
		return "", NewError(KindUnavailable, "sendTransaction returned an empty signature")
	}
	return sig, nil
}

type signatureStatus struct {
	Slot               uint64          `json:"slot"`
	Confirmations      *uint64         `json:"confirmations"`
	Err                json.RawMessage `json:"err"`
	ConfirmationStatus Commitment      `json:"confirmationStatus"`
}

type statusesResult struct {
	Value []*signatureStatus `json:"value"`
}

type blockhashValidResult struct {
	Value bool `json:"value"`
}

// Confirm implements Client. It polls signature status until the
// configured commitment is reached, the status carries an execution error,
// or the blockhash expires.
func (c *RPCClient) Confirm(ctx context.Context, sig string, bh BlockhashContext) error {
	deadline := time.Now().Add(c.maxWait)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		st, err := c.status(ctx, sig)
		switch {
		case err != nil && !IsRetryable(err):
			return err
		case err != nil:
			c.logger.Debug("ledgerclient: status poll failed", "signature", sig, "error", err)
		case st != nil && hasExecError(st.Err):
			return NewError(KindOnChain, "%s", string(st.Err))
		case st != nil && c.commitment.Reached(st.ConfirmationStatus):
			return nil
		}

		if bh.Blockhash != "" {
			valid, err := c.blockhashValid(ctx, bh.Blockhash)
			if err == nil && !valid {
				// one last look: it may have landed in the final valid slot
				if st, err := c.status(ctx, sig); err == nil && st != nil && !hasExecError(st.Err) &&
					c.commitment.Reached(st.ConfirmationStatus) {
					return nil
				}
				return NewError(KindBlockhashNotFound, "blockhash %s expired before %s was confirmed", bh.Blockhash, sig)
			}
		}

		if time.Now().After(deadline) {
			return NewError(KindTimeout, "%s not confirmed within %s", sig, c.maxWait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *RPCClient) status(ctx context.Context, sig string) (*signatureStatus, error) {
	var res statusesResult
	err := c.call(ctx, "getSignatureStatuses", []any{
		[]string{sig},
		map[string]any{"searchTransactionHistory": true},
	}, &res)
	if err != nil {
		return nil, err
	}
	if len(res.Value) == 0 {
		return nil, nil
	}
	return res.Value[0], nil
}

func (c *RPCClient) blockhashValid(ctx context.Context, blockhash string) (bool, error) {
	var res blockhashValidResult
	err := c.call(ctx, "isBlockhashValid", []any{
		blockhash,
		map[string]any{"commitment": string(c.commitment)},
	}, &res)
	return res.Value, err
}

// Health reports whether the node answers getHealth with "ok".
func (c *RPCClient) Health(ctx context.Context) error {
	var res string
	if err := c.call(ctx, "getHealth", []any{}, &res); err != nil {
		return err
	}
	if res != "ok" {
		return errors.New("ledgerclient: node reports " + res)
	}
	return nil
}

func hasExecError(raw json.RawMessage) bool {
	s := string(bytes.TrimSpace(raw))
	return s != "" && s != "null"
}
