package http

import (
	"time"

	"triage_server/core/domain"
	in "triage_server/core/port/in"
	out "triage_server/core/port/out"
	"triage_server/pkg/ratelimit"

	"github.com/gofiber/fiber/v2"
)

const timeFormat = time.RFC3339

// TriageHandler exposes the pipeline endpoints: an on-demand run and the
// aggregated stats view.
type TriageHandler struct {
	service  in.TriageService
	mailbox  out.Mailbox
	debounce *ratelimit.Debouncer
}

// NewTriageHandler creates a new TriageHandler. mailbox and debounce may be
// nil; a nil mailbox disables since-based runs and a nil debounce disables
// run coalescing.
func NewTriageHandler(service in.TriageService, mailbox out.Mailbox, debounce *ratelimit.Debouncer) *TriageHandler {
	return &TriageHandler{service: service, mailbox: mailbox, debounce: debounce}
}

// Register registers triage routes.
func (h *TriageHandler) Register(router fiber.Router) {
	triage := router.Group("/triage")

	triage.Post("/run", h.Run)
	triage.Get("/stats", h.GetStats)
}

// Run processes a batch through the pipeline. Messages come either inline
// in the request body or from the mailbox stream starting at "since".
// Rapid repeat runs for the same user are debounced.
// @Summary Run the triage pipeline
// @Tags Triage
// @Accept json
// @Produce json
// @Param request body RunRequest false "Inline messages or a since timestamp"
// @Router /api/v1/triage/run [post]
func (h *TriageHandler) Run(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	var req RunRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
		}
	}

	if h.debounce != nil {
		if h.debounce.IsDuplicate(c.Context(), "triage:run:"+userID) {
			return c.Status(429).JSON(fiber.Map{
				"error": "a triage run was just started, try again shortly",
				"code":  "RUN_DEBOUNCED",
			})
		}
		h.debounce.Mark(c.Context(), "triage:run:"+userID)
	}

	msgs := req.Messages
	if len(msgs) == 0 {
		if h.mailbox == nil {
			return c.Status(400).JSON(fiber.Map{"error": "no messages supplied and no mailbox configured"})
		}

		since := time.Now().Add(-24 * time.Hour)
		if req.Since != "" {
			parsed, err := time.Parse(time.RFC3339, req.Since)
			if err != nil {
				return c.Status(400).JSON(fiber.Map{"error": "invalid since timestamp"})
			}
			since = parsed
		}

		fetched, err := h.mailbox.FetchSince(c.Context(), since)
		if err != nil {
			return c.Status(502).JSON(fiber.Map{"error": "mailbox fetch failed: " + err.Error()})
		}
		msgs = fetched
	}

	report, err := h.service.ProcessBatch(c.Context(), msgs)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(report)
}

// GetStats returns pipeline counters.
// @Summary Get triage statistics
// @Tags Triage
// @Produce json
// @Router /api/v1/triage/stats [get]
func (h *TriageHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.service.Stats(c.Context())
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(stats)
}

// RunRequest is the body for POST /triage/run. Messages wins when both
// fields are set.
type RunRequest struct {
	Messages []*domain.Message `json:"messages,omitempty"`
	Since    string            `json:"since,omitempty"`
}
