package breaker

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sentinelgw/sentinel-gateway/internal/gateway"
)

// webhookPayload is the exact wire shape documented in spec.md §6.
type webhookPayload struct {
	Event          string         `json:"event"`
	ApprovalID     string         `json:"approval_id"`
	RequestID      string         `json:"request_id"`
	AgentID        string         `json:"agent_id"`
	ActionType     string         `json:"action_type"`
	TargetResource string         `json:"target_resource"`
	RiskScore      float64        `json:"risk_score"`
	RiskLevel      string         `json:"risk_level"`
	MatchedRules   []string       `json:"matched_rules"`
	Parameters     map[string]any `json:"parameters"`
	Context        map[string]any `json:"context"`
	RequestedAt    string         `json:"requested_at"`
	ExpiresAt      *string        `json:"expires_at"`
	CallbackURL    string         `json:"callback_url"`
}

// WebhookSender dispatches the approval-requested notification as a POST
// to the configured approval webhook URL, HMAC-signed when a secret is set.
type WebhookSender struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhookSender creates a WebhookSender. timeout defaults to the
// spec.md §6 tunable (5s) when zero.
func NewWebhookSender(url, secret string, timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookSender{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: timeout},
	}
}

// Send posts the approval-requested payload. Per spec.md §4.5, 200/201/202
// are the only accepted success codes; any other outcome (transport error,
// timeout, non-2xx) is returned as an error for the caller to log -- the
// approval record is already persisted and is the source of truth
// regardless of delivery outcome.
func (w *WebhookSender) Send(req gateway.ApprovalRequest) error {
	if w.url == "" {
		return fmt.Errorf("no approval webhook URL configured")
	}

	expiresAt := req.ExpiresAt.UTC().Format(time.RFC3339)
	payload := webhookPayload{
		Event:          "approval_requested",
		ApprovalID:     req.ApprovalID,
		RequestID:      req.RequestID,
		AgentID:        req.AgentID,
		ActionType:     string(req.ActionType),
		TargetResource: req.TargetResource,
		RiskScore:      req.RiskScore,
		RiskLevel:      string(req.RiskLevel),
		MatchedRules:   req.MatchedRules,
		Parameters:     req.SanitizedParameters,
		Context:        req.Context,
		RequestedAt:    req.RequestedAt.UTC().Format(time.RFC3339),
		ExpiresAt:      &expiresAt,
		CallbackURL:    fmt.Sprintf("/api/v1/approvals/%s/decision", req.ApprovalID),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "SentinelGateway/1.0")

	if w.secret != "" {
		httpReq.Header.Set("X-Sentinel-Signature", computeHMAC(body, []byte(w.secret)))
	}

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send approval webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		return nil
	default:
		return fmt.Errorf("approval webhook returned %d", resp.StatusCode)
	}
}

func computeHMAC(data, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
