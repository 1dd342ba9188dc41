package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"automation_server/adapter/out/persistence"
	"automation_server/core/domain"
	"automation_server/core/port/out"
	"automation_server/pkg/apperr"
	"automation_server/pkg/logger"

	"github.com/google/uuid"
)

// ruleProposal is the structured rule the LLM derives from a free-form
// prompt. Conditions are optional; actions are mandatory.
type ruleProposal struct {
	Name         string           `json:"name"`
	Instructions string           `json:"instructions"`
	From         string           `json:"from,omitempty"`
	To           string           `json:"to,omitempty"`
	Subject      string           `json:"subject,omitempty"`
	GroupName    string           `json:"group,omitempty"`
	Category     string           `json:"category,omitempty"`
	Automate     bool             `json:"automate"`
	RunOnThreads bool             `json:"run_on_threads"`
	Actions      []actionProposal `json:"actions"`
}

type actionProposal struct {
	Type    string `json:"type"`
	Label   string `json:"label,omitempty"`
	Subject string `json:"subject,omitempty"`
	Content string `json:"content,omitempty"`
	To      string `json:"to,omitempty"`
	Cc      string `json:"cc,omitempty"`
	Bcc     string `json:"bcc,omitempty"`
}

// aiSentinel inside a proposed field marks it for generation at evaluation
// time rather than being a literal.
const aiSentinel = "{{AI}}"

// Creator turns a natural-language description into a stored rule.
type Creator struct {
	rulesRepo domain.RuleRepository
	groupRepo domain.GroupRepository
	llm       out.LLMClient
	log       *logger.Logger
}

// NewCreator creates the rule creator.
func NewCreator(rulesRepo domain.RuleRepository, groupRepo domain.GroupRepository, llm out.LLMClient) *Creator {
	return &Creator{
		rulesRepo: rulesRepo,
		groupRepo: groupRepo,
		llm:       llm,
		log:       logger.WithField("component", "rule-creator"),
	}
}

const createRuleSystemPrompt = `You are an AI assistant that converts a user's email automation request into a rule definition.

A rule has:
- "name": short descriptive name
- "instructions": restatement of when the rule applies, used for AI matching
- optional static conditions "from", "to", "subject" (substring matches on headers)
- optional "group": the name of one of the user's sender groups, when the request refers to one
- optional "category": one of newsletter, receipt, marketing, notification, personal
- "automate": true only if the user asked for the action to happen without confirmation
- "run_on_threads": true if the rule should also apply to replies in ongoing conversations
- "actions": list of {"type", ...fields}. Types: ARCHIVE, LABEL, DRAFT_EMAIL, REPLY, SEND_EMAIL, FORWARD, SUMMARIZE, MARK_SPAM.

For any action field whose value should be written by AI per email (e.g. a tailored reply body), use the exact string "{{AI}}".
Respond with the JSON rule definition only.`

// CreateFromPrompt asks the LLM for a rule definition, derives the rule type
// from what the proposal pins down, and stores it. A name collision gets one
// suffixed retry before surfacing as a duplicate.
func (c *Creator) CreateFromPrompt(ctx context.Context, userID uuid.UUID, prompt string) (*domain.Rule, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, apperr.MissingField("prompt")
	}

	var proposal ruleProposal
	if err := c.llm.CompleteStructured(ctx, createRuleSystemPrompt, prompt, &proposal); err != nil {
		if errors.Is(err, out.ErrSchemaViolation) {
			return nil, apperr.SchemaMismatch("create rule", err)
		}
		return nil, fmt.Errorf("create rule: %w", err)
	}

	rule, err := c.buildRule(ctx, userID, &proposal)
	if err != nil {
		return nil, err
	}

	if err := c.rulesRepo.Create(ctx, rule); err != nil {
		if !errors.Is(err, persistence.ErrDuplicate) {
			return nil, fmt.Errorf("store rule: %w", err)
		}
		rule.Name = rule.Name + " (2)"
		c.log.Info("Rule name collision, retrying as %q", rule.Name)
		if err := c.rulesRepo.Create(ctx, rule); err != nil {
			if errors.Is(err, persistence.ErrDuplicate) {
				return nil, apperr.Duplicate("rule")
			}
			return nil, fmt.Errorf("store rule: %w", err)
		}
	}
	return rule, nil
}

// buildRule validates the proposal and derives the rule type: a group
// reference wins over static conditions, which win over pure AI matching.
func (c *Creator) buildRule(ctx context.Context, userID uuid.UUID, proposal *ruleProposal) (*domain.Rule, error) {
	if proposal.Name == "" {
		return nil, apperr.SchemaMismatch("create rule", errors.New("proposal missing name"))
	}
	if len(proposal.Actions) == 0 {
		return nil, apperr.ValidationFailed("rule must have at least one action")
	}

	rule := &domain.Rule{
		UserID:       userID,
		Name:         proposal.Name,
		Instructions: proposal.Instructions,
		Automate:     proposal.Automate,
		RunOnThreads: proposal.RunOnThreads,
	}
	if proposal.From != "" {
		rule.From = &proposal.From
	}
	if proposal.To != "" {
		rule.To = &proposal.To
	}
	if proposal.Subject != "" {
		rule.Subject = &proposal.Subject
	}

	switch {
	case proposal.GroupName != "":
		group, err := c.groupRepo.FindByName(ctx, userID, proposal.GroupName)
		if err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				return nil, apperr.NotFound("group")
			}
			return nil, fmt.Errorf("find group: %w", err)
		}
		rule.Type = domain.RuleTypeGroup
		rule.GroupID = &group.ID
	case rule.HasStaticConditions():
		rule.Type = domain.RuleTypeStatic
	case proposal.Category != "":
		rule.Type = domain.RuleTypeCategory
		rule.Category = &proposal.Category
	default:
		if proposal.Instructions == "" {
			rule.Instructions = proposal.Name
		}
		rule.Type = domain.RuleTypeAI
	}

	for i, ap := range proposal.Actions {
		actionType := domain.ActionType(strings.ToUpper(ap.Type))
		if !actionType.Valid() {
			return nil, apperr.ValidationFailed(fmt.Sprintf("unknown action type %q", ap.Type))
		}
		action := &domain.Action{Type: actionType, Position: i}
		setProposedField(action, domain.FieldLabel, ap.Label)
		setProposedField(action, domain.FieldSubject, ap.Subject)
		setProposedField(action, domain.FieldContent, ap.Content)
		setProposedField(action, domain.FieldTo, ap.To)
		setProposedField(action, domain.FieldCc, ap.Cc)
		setProposedField(action, domain.FieldBcc, ap.Bcc)
		rule.Actions = append(rule.Actions, action)
	}
	return rule, nil
}

func setProposedField(action *domain.Action, field domain.ActionField, value string) {
	if value == "" {
		return
	}
	if value == aiSentinel {
		action.SetField(field, domain.GenerateAtRuntime())
		return
	}
	action.SetField(field, domain.Literal(value))
}
