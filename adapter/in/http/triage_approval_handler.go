package http

import (
	"errors"

	"triage_server/core/domain"
	in "triage_server/core/port/in"
	"triage_server/core/service/approval"

	"github.com/gofiber/fiber/v2"
)

// ApprovalHandler exposes the approval console endpoints.
type ApprovalHandler struct {
	service in.ApprovalService
}

// NewApprovalHandler creates a new ApprovalHandler.
func NewApprovalHandler(service in.ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{service: service}
}

// Register registers approval routes.
func (h *ApprovalHandler) Register(router fiber.Router) {
	approvals := router.Group("/approvals")

	approvals.Get("/pending", h.ListPending)
	approvals.Get("/pending/by-type/:type", h.ListPendingByType)
	approvals.Get("/stats", h.GetStats)

	approvals.Post("/bulk-approve", h.BulkApprove)
	approvals.Post("/:id/approve", h.Approve)
	approvals.Post("/:id/reject", h.Reject)
}

// ListPending lists pending approvals for the authenticated user, newest
// first.
// @Summary List pending approvals
// @Tags Approvals
// @Produce json
// @Param limit query int false "Limit (default 50)"
// @Router /api/v1/approvals/pending [get]
func (h *ApprovalHandler) ListPending(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	limit := c.QueryInt("limit", 50)

	records, err := h.service.GetPendingApprovals(c.Context(), userID, limit)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{
		"approvals": toApprovalResponses(records),
		"total":     len(records),
		"limit":     limit,
	})
}

// ListPendingByType lists pending approvals of one type across the queue.
// @Summary List pending approvals by type
// @Tags Approvals
// @Produce json
// @Param type path string true "Approval type"
// @Param limit query int false "Limit (default 50)"
// @Router /api/v1/approvals/pending/by-type/{type} [get]
func (h *ApprovalHandler) ListPendingByType(c *fiber.Ctx) error {
	approvalType := c.Params("type")
	if approvalType == "" {
		return c.Status(400).JSON(fiber.Map{"error": "approval type is required"})
	}
	limit := c.QueryInt("limit", 50)

	records, err := h.service.GetPendingByType(c.Context(), approvalType, limit)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{
		"approvals": toApprovalResponses(records),
		"total":     len(records),
		"type":      approvalType,
	})
}

// Approve resolves a pending approval as APPROVED.
// @Summary Approve a pending record
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Approval ID"
// @Param request body domain.Resolution false "Approver edits"
// @Router /api/v1/approvals/{id}/approve [post]
func (h *ApprovalHandler) Approve(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	id := c.Params("id")
	if id == "" {
		return c.Status(400).JSON(fiber.Map{"error": "approval ID is required"})
	}

	var res domain.Resolution
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&res); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
		}
	}
	if res.ApprovedBy == "" {
		res.ApprovedBy = userID
	}

	record, err := h.service.Approve(c.Context(), id, res)
	if err != nil {
		if errors.Is(err, approval.ErrNotPending) {
			return c.Status(404).JSON(fiber.Map{"error": "no pending approval with that ID"})
		}
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(toApprovalResponse(record))
}

// Reject resolves a pending approval as REJECTED.
// @Summary Reject a pending record
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Approval ID"
// @Param request body map[string]string false "Rejection reason"
// @Router /api/v1/approvals/{id}/reject [post]
func (h *ApprovalHandler) Reject(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	id := c.Params("id")
	if id == "" {
		return c.Status(400).JSON(fiber.Map{"error": "approval ID is required"})
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
		}
	}

	record, err := h.service.Reject(c.Context(), id, userID, req.Reason)
	if err != nil {
		if errors.Is(err, approval.ErrNotPending) {
			return c.Status(404).JSON(fiber.Map{"error": "no pending approval with that ID"})
		}
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(toApprovalResponse(record))
}

// BulkApprove approves a list of pending records best-effort: failures are
// reported per id and never abort the rest of the batch.
// @Summary Bulk approve pending records
// @Tags Approvals
// @Accept json
// @Produce json
// @Param request body map[string][]string true "Approval IDs"
// @Router /api/v1/approvals/bulk-approve [post]
func (h *ApprovalHandler) BulkApprove(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	var req struct {
		IDs []string `json:"ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if len(req.IDs) == 0 {
		return c.Status(400).JSON(fiber.Map{"error": "ids is required"})
	}

	results := h.service.BulkApprove(c.Context(), req.IDs, userID)

	approved := 0
	for _, r := range results {
		if r.OK {
			approved++
		}
	}

	return c.JSON(fiber.Map{
		"results":  results,
		"approved": approved,
		"failed":   len(results) - approved,
	})
}

// GetStats returns queue statistics for the authenticated user.
// @Summary Get approval statistics
// @Tags Approvals
// @Produce json
// @Router /api/v1/approvals/stats [get]
func (h *ApprovalHandler) GetStats(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	stats, err := h.service.GetStatistics(c.Context(), userID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(stats)
}

// =============================================================================
// Response Types
// =============================================================================

// ApprovalResponse represents the HTTP response for an approval record.
type ApprovalResponse struct {
	ID         string   `json:"id"`
	MessageID  string   `json:"message_id"`
	ThreadID   string   `json:"thread_id,omitempty"`
	Type       string   `json:"type"`
	Status     string   `json:"status"`
	Payload    string   `json:"payload"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`
	UserID     string   `json:"user_id"`
	CreatedAt  string   `json:"created_at"`

	ResolvedAt      *string `json:"resolved_at,omitempty"`
	ResolvedBy      string  `json:"resolved_by,omitempty"`
	RejectionReason string  `json:"rejection_reason,omitempty"`
	Modifications   string  `json:"modifications,omitempty"`
	FinalContent    string  `json:"final_content,omitempty"`
}

func toApprovalResponse(rec *domain.ApprovalRecord) ApprovalResponse {
	resp := ApprovalResponse{
		ID:              rec.ID,
		MessageID:       rec.MessageID,
		ThreadID:        rec.ThreadID,
		Type:            rec.Type,
		Status:          string(rec.Status),
		Payload:         rec.Payload,
		Confidence:      rec.Confidence,
		Reasons:         rec.Reasons,
		UserID:          rec.UserID,
		CreatedAt:       rec.CreatedAt.Format(timeFormat),
		ResolvedBy:      rec.ResolvedBy,
		RejectionReason: rec.RejectionReason,
		Modifications:   rec.Modifications,
		FinalContent:    rec.FinalContent,
	}

	if rec.ResolvedAt != nil {
		formatted := rec.ResolvedAt.Format(timeFormat)
		resp.ResolvedAt = &formatted
	}

	if resp.Reasons == nil {
		resp.Reasons = []string{}
	}

	return resp
}

func toApprovalResponses(records []*domain.ApprovalRecord) []ApprovalResponse {
	if records == nil {
		return []ApprovalResponse{}
	}

	responses := make([]ApprovalResponse, len(records))
	for i, rec := range records {
		responses[i] = toApprovalResponse(rec)
	}
	return responses
}
