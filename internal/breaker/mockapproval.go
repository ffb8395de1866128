package breaker

import (
	"sync"
	"time"

	"github.com/sentinelgw/sentinel-gateway/internal/gateway"
)

// MockApprovalService simulates an external human-in-the-loop approval
// workflow. It is wired only into the CLI's dry-run evaluate command, never
// into the production start path -- a real deployment points the
// CircuitBreaker's webhook at an actual approval UI/service.
type MockApprovalService struct {
	mu      sync.Mutex
	pending map[string]gateway.ApprovalRequest
}

// NewMockApprovalService creates an empty MockApprovalService.
func NewMockApprovalService() *MockApprovalService {
	return &MockApprovalService{pending: make(map[string]gateway.ApprovalRequest)}
}

// HandleApprovalRequest records an incoming approval request, mimicking the
// receiving side of the webhook an external approval service would expose.
func (m *MockApprovalService) HandleApprovalRequest(req gateway.ApprovalRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[req.ApprovalID] = req
}

// AutoApprove immediately approves approvalID, for exercising the approval
// path without a human reviewer attached.
func (m *MockApprovalService) AutoApprove(approvalID string) gateway.ApprovalResponse {
	m.mu.Lock()
	delete(m.pending, approvalID)
	m.mu.Unlock()

	return gateway.ApprovalResponse{
		ApprovalID: approvalID,
		Status:     gateway.ApprovalApproved,
		ApproverID: "mock_approver",
		Reason:     "auto-approved for testing",
		ApprovedAt: time.Now().UTC(),
	}
}

// AutoDeny immediately denies approvalID with reason.
func (m *MockApprovalService) AutoDeny(approvalID, reason string) gateway.ApprovalResponse {
	if reason == "" {
		reason = "auto-denied for testing"
	}
	m.mu.Lock()
	delete(m.pending, approvalID)
	m.mu.Unlock()

	return gateway.ApprovalResponse{
		ApprovalID: approvalID,
		Status:     gateway.ApprovalDenied,
		ApproverID: "mock_approver",
		Reason:     reason,
		ApprovedAt: time.Now().UTC(),
	}
}

// Pending returns a snapshot of all approval requests this mock has seen
// and not yet resolved.
func (m *MockApprovalService) Pending() map[string]gateway.ApprovalRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]gateway.ApprovalRequest, len(m.pending))
	for k, v := range m.pending {
		out[k] = v
	}
	return out
}
