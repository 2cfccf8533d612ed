package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorKind classifies a gateway failure. The kind — not the error
// string — drives the retry scheduler's branching.
type ErrorKind int

const (
	// KindValidation — the authority rejected the payload as malformed.
	// Never retried automatically; surfaced for manual correction.
	KindValidation ErrorKind = iota
	// KindTransient — network failure or 5xx. Retried with backoff.
	KindTransient
	// KindAuth — device/credential problem. Retried with backoff so the
	// record recovers once an operator fixes the registration.
	KindAuth
	// KindIndeterminate — the call was cancelled or the response lost.
	// Must never be assumed failed cleanly; the prior attempt may have
	// been registered, so resubmission goes through Lookup first.
	KindIndeterminate
	// KindInternal — the payload could not be built on our side, so the
	// authority was never contacted. Terminal like a validation reject,
	// but carries no authority response code: operators can tell a local
	// defect apart from a rejection by the authority.
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindAuth:
		return "auth"
	case KindIndeterminate:
		return "indeterminate"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// GatewayError is the typed error returned by the SRM client.
type GatewayError struct {
	Kind    ErrorKind
	Code    string // authority response code, when one was received
	Message string
	cause   error
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("srm: %s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("srm: %s: %s", e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.cause }

// Retryable reports whether the drainer may re-attempt automatically.
func (e *GatewayError) Retryable() bool {
	return e.Kind != KindValidation && e.Kind != KindInternal
}

// SubmitResult is the authority's acknowledgement of a transaction.
type SubmitResult struct {
	AuthorityTransactionID string `json:"authority_transaction_id"`
	ResponseCode           string `json:"response_code"`
}

type srmErrorBody struct {
	ResponseCode string `json:"response_code"`
	Message      string `json:"message"`
}

// SRMClient submits compiled fiscal transactions to the WEB-SRM gateway.
// The gateway is treated as fallible, slow, and non-idempotent: a lost
// response does not mean the transaction was not registered.
type SRMClient struct {
	gatewayURL string
	httpClient *http.Client
}

func NewSRMClient(gatewayURL string, timeout time.Duration) *SRMClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SRMClient{
		gatewayURL: gatewayURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Submit sends one compiled payload. On failure it always returns a
// *GatewayError so the caller can branch on the kind.
func (c *SRMClient) Submit(ctx context.Context, payload []byte) (*SubmitResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gatewayURL+"/transactions", bytes.NewReader(payload))
	if err != nil {
		return nil, &GatewayError{Kind: KindTransient, Message: "create request", cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var result SubmitResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			// Accepted but the acknowledgement was lost mid-read
			return nil, &GatewayError{Kind: KindIndeterminate, Message: "decode response", cause: err}
		}
		return &result, nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		code, msg := decodeErrorBody(resp)
		return nil, &GatewayError{Kind: KindValidation, Code: code, Message: msg}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		code, msg := decodeErrorBody(resp)
		return nil, &GatewayError{Kind: KindAuth, Code: code, Message: msg}
	default:
		code, msg := decodeErrorBody(resp)
		return nil, &GatewayError{Kind: KindTransient, Code: code,
			Message: fmt.Sprintf("gateway returned %d: %s", resp.StatusCode, msg)}
	}
}

// Lookup asks the gateway whether a transaction with the given client
// reference (our record id) was already registered — the dedup check
// before resubmitting an indeterminate attempt. Returns (nil, nil) when
// the reference is unknown to the authority.
func (c *SRMClient) Lookup(ctx context.Context, clientRef string) (*SubmitResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.gatewayURL+"/transactions/"+clientRef, nil)
	if err != nil {
		return nil, &GatewayError{Kind: KindTransient, Message: "create request", cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var result SubmitResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, &GatewayError{Kind: KindTransient, Message: "decode lookup response", cause: err}
		}
		return &result, nil
	case http.StatusNotFound:
		return nil, nil
	default:
		code, msg := decodeErrorBody(resp)
		return nil, &GatewayError{Kind: KindTransient, Code: code,
			Message: fmt.Sprintf("lookup returned %d: %s", resp.StatusCode, msg)}
	}
}

func classifyTransport(ctx context.Context, err error) *GatewayError {
	// A cancelled or timed-out call may still have been applied
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &GatewayError{Kind: KindIndeterminate, Message: "call cancelled or timed out", cause: err}
	}
	return &GatewayError{Kind: KindTransient, Message: "gateway unreachable", cause: err}
}

func decodeErrorBody(resp *http.Response) (code, msg string) {
	var body srmErrorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", resp.Status
	}
	if body.Message == "" {
		body.Message = resp.Status
	}
	return body.ResponseCode, body.Message
}
