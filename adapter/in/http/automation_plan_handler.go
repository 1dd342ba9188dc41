package http

import (
	"strconv"
	"strings"

	"automation_server/core/domain"
	"automation_server/core/service/rules"
	"automation_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// PlanHandler handles plan approval HTTP requests.
type PlanHandler struct {
	planner *rules.Planner
	runner  *rules.Runner
}

// NewPlanHandler creates a new plan handler.
func NewPlanHandler(planner *rules.Planner, runner *rules.Runner) *PlanHandler {
	return &PlanHandler{
		planner: planner,
		runner:  runner,
	}
}

// Register registers plan routes.
func (h *PlanHandler) Register(router fiber.Router) {
	p := router.Group("/plans")

	p.Get("/", h.ListPlans)
	p.Get("/:id", h.GetPlan)
	p.Post("/:id/approve", h.ApprovePlan)
	p.Post("/:id/reject", h.RejectPlan)

	router.Post("/run", h.RunRules)
}

// ListPlans returns the user's plans, optionally filtered by status.
// GET /api/plans?status=PENDING&limit=50&offset=0
func (h *PlanHandler) ListPlans(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	var status *domain.ExecutedRuleStatus
	if s := c.Query("status"); s != "" {
		parsed := domain.ExecutedRuleStatus(strings.ToUpper(s))
		switch parsed {
		case domain.ExecutedRulePending, domain.ExecutedRuleApproved, domain.ExecutedRuleRejected:
			status = &parsed
		default:
			return apperr.BadRequest("invalid status: " + s)
		}
	}

	plans, err := h.planner.List(c.Context(), userID, status, c.QueryInt("limit", 50), c.QueryInt("offset", 0))
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"plans": plans,
		"total": len(plans),
	})
}

// GetPlan returns one plan with its action items.
// GET /api/plans/:id
func (h *PlanHandler) GetPlan(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	planID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return apperr.BadRequest("invalid plan id")
	}

	plan, err := h.planner.Get(c.Context(), userID, planID)
	if err != nil {
		return mapRepoError(err, "plan")
	}

	return c.JSON(plan)
}

// ApprovePlan approves a pending plan and runs its actions.
// POST /api/plans/:id/approve
func (h *PlanHandler) ApprovePlan(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	planID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return apperr.BadRequest("invalid plan id")
	}

	plan, outcomes, err := h.planner.Approve(c.Context(), userID, planID)
	if err != nil {
		return mapRepoError(err, "plan")
	}

	results := make([]fiber.Map, len(outcomes))
	for i, o := range outcomes {
		result := fiber.Map{
			"type":    o.Type,
			"success": o.Succeeded(),
		}
		if o.Err != nil {
			result["error"] = o.Err.Error()
		}
		if o.Summary != "" {
			result["summary"] = o.Summary
		}
		results[i] = result
	}

	return c.JSON(fiber.Map{
		"plan":    plan,
		"results": results,
	})
}

// RejectPlan rejects a pending plan.
// POST /api/plans/:id/reject
func (h *PlanHandler) RejectPlan(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	planID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return apperr.BadRequest("invalid plan id")
	}

	plan, err := h.planner.Reject(c.Context(), userID, planID)
	if err != nil {
		return mapRepoError(err, "plan")
	}

	return c.JSON(plan)
}

// RunRules evaluates the user's rules against one message immediately.
// POST /api/run
func (h *PlanHandler) RunRules(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	var req struct {
		ThreadID  string `json:"thread_id"`
		MessageID string `json:"message_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if req.MessageID == "" {
		return apperr.MissingField("message_id")
	}

	result, err := h.runner.RunRules(c.Context(), userID, req.ThreadID, req.MessageID)
	if err != nil {
		return err
	}

	return c.JSON(result)
}
