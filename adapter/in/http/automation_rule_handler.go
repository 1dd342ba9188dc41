package http

import (
	"strconv"
	"strings"

	"automation_server/core/domain"
	"automation_server/core/service/rules"
	"automation_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// RuleHandler handles rule-related HTTP requests.
type RuleHandler struct {
	ruleRepo domain.RuleRepository
	creator  *rules.Creator
	runner   *rules.Runner
}

// NewRuleHandler creates a new rule handler.
func NewRuleHandler(ruleRepo domain.RuleRepository, creator *rules.Creator, runner *rules.Runner) *RuleHandler {
	return &RuleHandler{
		ruleRepo: ruleRepo,
		creator:  creator,
		runner:   runner,
	}
}

// Register registers rule routes.
func (h *RuleHandler) Register(router fiber.Router) {
	r := router.Group("/rules")

	r.Get("/", h.ListRules)
	r.Get("/:id", h.GetRule)
	r.Post("/", h.CreateRule)
	r.Post("/prompt", h.CreateFromPrompt)
	r.Put("/:id", h.UpdateRule)
	r.Delete("/:id", h.DeleteRule)

	r.Post("/test", h.TestRules)
}

// ruleRequest is the CRUD payload. Action field values take either a literal
// string or the object form {"ai": true}.
type ruleRequest struct {
	Name         string          `json:"name"`
	Type         string          `json:"type"`
	Instructions string          `json:"instructions"`
	From         *string         `json:"from,omitempty"`
	To           *string         `json:"to,omitempty"`
	Subject      *string         `json:"subject,omitempty"`
	GroupID      *int64          `json:"group_id,omitempty"`
	Category     *string         `json:"category,omitempty"`
	Automate     bool            `json:"automate"`
	RunOnThreads bool            `json:"run_on_threads"`
	Actions      []actionRequest `json:"actions"`
}

type actionRequest struct {
	Type    string        `json:"type"`
	Label   *fieldRequest `json:"label,omitempty"`
	Subject *fieldRequest `json:"subject,omitempty"`
	Content *fieldRequest `json:"content,omitempty"`
	To      *fieldRequest `json:"to,omitempty"`
	Cc      *fieldRequest `json:"cc,omitempty"`
	Bcc     *fieldRequest `json:"bcc,omitempty"`
}

type fieldRequest struct {
	Value string `json:"value,omitempty"`
	AI    bool   `json:"ai,omitempty"`
}

func (f *fieldRequest) toValue() domain.ActionValue {
	if f == nil {
		return domain.ActionValue{}
	}
	if f.AI {
		return domain.GenerateAtRuntime()
	}
	return domain.Literal(f.Value)
}

func (req *ruleRequest) toDomain() (*domain.Rule, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, apperr.MissingField("name")
	}
	if len(req.Actions) == 0 {
		return nil, apperr.ValidationFailed("rule must have at least one action")
	}

	ruleType := domain.RuleType(strings.ToUpper(req.Type))
	switch ruleType {
	case domain.RuleTypeStatic, domain.RuleTypeGroup, domain.RuleTypeCategory, domain.RuleTypeAI:
	default:
		return nil, apperr.ValidationFailed("unknown rule type: " + req.Type)
	}
	if ruleType == domain.RuleTypeGroup && req.GroupID == nil {
		return nil, apperr.MissingField("group_id")
	}
	if ruleType == domain.RuleTypeCategory && req.Category == nil {
		return nil, apperr.MissingField("category")
	}
	if ruleType == domain.RuleTypeAI && strings.TrimSpace(req.Instructions) == "" {
		return nil, apperr.MissingField("instructions")
	}

	rule := &domain.Rule{
		Name:         req.Name,
		Type:         ruleType,
		Instructions: req.Instructions,
		From:         req.From,
		To:           req.To,
		Subject:      req.Subject,
		GroupID:      req.GroupID,
		Category:     req.Category,
		Automate:     req.Automate,
		RunOnThreads: req.RunOnThreads,
	}

	for i, ar := range req.Actions {
		actionType := domain.ActionType(strings.ToUpper(ar.Type))
		if !actionType.Valid() {
			return nil, apperr.ValidationFailed("unknown action type: " + ar.Type)
		}
		action := &domain.Action{Type: actionType, Position: i}
		action.SetField(domain.FieldLabel, ar.Label.toValue())
		action.SetField(domain.FieldSubject, ar.Subject.toValue())
		action.SetField(domain.FieldContent, ar.Content.toValue())
		action.SetField(domain.FieldTo, ar.To.toValue())
		action.SetField(domain.FieldCc, ar.Cc.toValue())
		action.SetField(domain.FieldBcc, ar.Bcc.toValue())
		rule.Actions = append(rule.Actions, action)
	}

	return rule, nil
}

// ListRules returns all rules for the current user.
// GET /api/rules
func (h *RuleHandler) ListRules(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	list, err := h.ruleRepo.ListByUser(c.Context(), userID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"rules": list,
		"total": len(list),
	})
}

// GetRule returns a specific rule by ID.
// GET /api/rules/:id
func (h *RuleHandler) GetRule(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	ruleID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return apperr.BadRequest("invalid rule id")
	}

	rule, err := h.ruleRepo.GetByID(c.Context(), ruleID)
	if err != nil {
		return mapRepoError(err, "rule")
	}
	if rule.UserID != userID {
		return apperr.NotFound("rule")
	}

	return c.JSON(rule)
}

// CreateRule creates a rule from an explicit definition.
// POST /api/rules
func (h *RuleHandler) CreateRule(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	var req ruleRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	rule, err := req.toDomain()
	if err != nil {
		return err
	}
	rule.UserID = userID

	if err := h.ruleRepo.Create(c.Context(), rule); err != nil {
		return mapRepoError(err, "rule")
	}

	return c.Status(fiber.StatusCreated).JSON(rule)
}

// CreateFromPrompt derives a rule definition from a natural-language prompt.
// POST /api/rules/prompt
func (h *RuleHandler) CreateFromPrompt(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	rule, err := h.creator.CreateFromPrompt(c.Context(), userID, req.Prompt)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(rule)
}

// UpdateRule replaces a rule definition.
// PUT /api/rules/:id
func (h *RuleHandler) UpdateRule(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	ruleID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return apperr.BadRequest("invalid rule id")
	}

	var req ruleRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	rule, err := req.toDomain()
	if err != nil {
		return err
	}
	rule.ID = ruleID
	rule.UserID = userID

	if err := h.ruleRepo.Update(c.Context(), rule); err != nil {
		return mapRepoError(err, "rule")
	}

	return c.JSON(rule)
}

// DeleteRule removes a rule.
// DELETE /api/rules/:id
func (h *RuleHandler) DeleteRule(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	ruleID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return apperr.BadRequest("invalid rule id")
	}

	if err := h.ruleRepo.Delete(c.Context(), userID, ruleID); err != nil {
		return mapRepoError(err, "rule")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// TestRules previews what the rule set would do to a message, without
// persisting or executing anything.
// POST /api/rules/test
func (h *RuleHandler) TestRules(c *fiber.Ctx) error {
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

	result, err := h.runner.TestRules(c.Context(), userID, req.ThreadID, req.MessageID)
	if err != nil {
		return err
	}

	return c.JSON(result)
}
