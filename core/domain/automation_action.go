package domain

// ActionType enumerates the supported action kinds. Which fields are
// meaningful depends on the type; see Fields and RequiredFields.
type ActionType string

const (
	ActionArchive    ActionType = "ARCHIVE"
	ActionLabel      ActionType = "LABEL"
	ActionDraftEmail ActionType = "DRAFT_EMAIL"
	ActionReply      ActionType = "REPLY"
	ActionSendEmail  ActionType = "SEND_EMAIL"
	ActionForward    ActionType = "FORWARD"
	ActionSummarize  ActionType = "SUMMARIZE"
	ActionMarkSpam   ActionType = "MARK_SPAM"
)

// ActionTypes lists every valid action type, in catalog order.
var ActionTypes = []ActionType{
	ActionArchive,
	ActionLabel,
	ActionDraftEmail,
	ActionReply,
	ActionSendEmail,
	ActionForward,
	ActionSummarize,
	ActionMarkSpam,
}

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	for _, known := range ActionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ActionField names one parameter of an action.
type ActionField string

const (
	FieldLabel   ActionField = "label"
	FieldSubject ActionField = "subject"
	FieldContent ActionField = "content"
	FieldTo      ActionField = "to"
	FieldCc      ActionField = "cc"
	FieldBcc     ActionField = "bcc"
)

// Fields returns the parameter fields meaningful for the action type.
func (t ActionType) Fields() []ActionField {
	switch t {
	case ActionLabel:
		return []ActionField{FieldLabel}
	case ActionDraftEmail:
		return []ActionField{FieldTo, FieldSubject, FieldContent}
	case ActionReply:
		return []ActionField{FieldCc, FieldBcc, FieldContent}
	case ActionSendEmail:
		return []ActionField{FieldTo, FieldCc, FieldBcc, FieldSubject, FieldContent}
	case ActionForward:
		return []ActionField{FieldTo, FieldCc, FieldBcc, FieldContent}
	default:
		return nil
	}
}

// RequiredFields returns the fields that must be non-empty for execution.
func (t ActionType) RequiredFields() []ActionField {
	switch t {
	case ActionLabel:
		return []ActionField{FieldLabel}
	case ActionDraftEmail:
		return []ActionField{FieldContent}
	case ActionReply:
		return []ActionField{FieldContent}
	case ActionSendEmail:
		return []ActionField{FieldTo, FieldSubject, FieldContent}
	case ActionForward:
		return []ActionField{FieldTo}
	default:
		return nil
	}
}

// FieldDescription documents a field for LLM generation prompts.
func FieldDescription(t ActionType, f ActionField) string {
	switch f {
	case FieldLabel:
		return "The name of the label."
	case FieldSubject:
		return "The subject of the email."
	case FieldContent:
		if t == ActionForward {
			return "Extra content to add above the forwarded email."
		}
		return "The content of the email."
	case FieldTo:
		return "Comma separated email addresses of the recipients."
	case FieldCc:
		return "Comma separated email addresses of the cc recipients."
	case FieldBcc:
		return "Comma separated email addresses of the bcc recipients."
	default:
		return ""
	}
}

// ActionValue is a tagged parameter value: a literal string (possibly empty)
// or a marker telling the resolver to generate the value with the LLM at
// evaluation time.
type ActionValue struct {
	Literal     string `json:"literal,omitempty"`
	AIGenerated bool   `json:"ai_generated,omitempty"`
}

// Literal builds a literal value.
func Literal(s string) ActionValue { return ActionValue{Literal: s} }

// GenerateAtRuntime marks a field for LLM resolution.
func GenerateAtRuntime() ActionValue { return ActionValue{AIGenerated: true} }

// IsAI reports whether the value must be generated at evaluation time.
func (v ActionValue) IsAI() bool { return v.AIGenerated }

// Action is one configured action of a rule. Field values are tagged; only
// the fields meaningful for the type are consulted.
type Action struct {
	ID       int64      `json:"id"`
	RuleID   int64      `json:"rule_id"`
	Type     ActionType `json:"type"`
	Position int        `json:"position"`

	Label   ActionValue `json:"label,omitempty"`
	Subject ActionValue `json:"subject,omitempty"`
	Content ActionValue `json:"content,omitempty"`
	To      ActionValue `json:"to,omitempty"`
	Cc      ActionValue `json:"cc,omitempty"`
	Bcc     ActionValue `json:"bcc,omitempty"`
}

// FieldValue returns the stored value for a field.
func (a *Action) FieldValue(f ActionField) ActionValue {
	switch f {
	case FieldLabel:
		return a.Label
	case FieldSubject:
		return a.Subject
	case FieldContent:
		return a.Content
	case FieldTo:
		return a.To
	case FieldCc:
		return a.Cc
	case FieldBcc:
		return a.Bcc
	default:
		return ActionValue{}
	}
}

// SetField stores a value for a field.
func (a *Action) SetField(f ActionField, v ActionValue) {
	switch f {
	case FieldLabel:
		a.Label = v
	case FieldSubject:
		a.Subject = v
	case FieldContent:
		a.Content = v
	case FieldTo:
		a.To = v
	case FieldCc:
		a.Cc = v
	case FieldBcc:
		a.Bcc = v
	}
}

// AIFields lists the fields of this action marked for LLM generation,
// restricted to the fields meaningful for its type.
func (a *Action) AIFields() []ActionField {
	var fields []ActionField
	for _, f := range a.Type.Fields() {
		if a.FieldValue(f).IsAI() {
			fields = append(fields, f)
		}
	}
	return fields
}
