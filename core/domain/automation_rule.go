package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RuleType determines which matching tier a rule participates in.
type RuleType string

const (
	// RuleTypeStatic matches on configured from/to/subject conditions.
	RuleTypeStatic RuleType = "STATIC"

	// RuleTypeGroup matches when the email hits one of the rule's group items.
	RuleTypeGroup RuleType = "GROUP"

	// RuleTypeCategory matches on the sender's persisted category.
	RuleTypeCategory RuleType = "CATEGORY"

	// RuleTypeAI lets the LLM pick among candidate rules by their instructions.
	RuleTypeAI RuleType = "AI"
)

// TierPriority returns the evaluation order of the rule's tier; lower runs
// first. Deterministic tiers always run before the AI tier.
func (t RuleType) TierPriority() int {
	switch t {
	case RuleTypeStatic:
		return 0
	case RuleTypeGroup:
		return 1
	case RuleTypeCategory:
		return 2
	case RuleTypeAI:
		return 3
	default:
		return 4
	}
}

// Rule is a user-defined automation: conditions plus an ordered set of
// actions. A rule belongs to exactly one user and at most one group.
type Rule struct {
	ID           int64     `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	Name         string    `json:"name"`
	Type         RuleType  `json:"type"`
	Instructions string    `json:"instructions"`

	// Static conditions (STATIC tier); nil means "no condition on this header"
	From    *string `json:"from,omitempty"`
	To      *string `json:"to,omitempty"`
	Subject *string `json:"subject,omitempty"`

	// Group reference (GROUP tier)
	GroupID *int64 `json:"group_id,omitempty"`

	// Category condition (CATEGORY tier)
	Category *string `json:"category,omitempty"`

	Automate     bool `json:"automate"`       // Execute without human approval
	RunOnThreads bool `json:"run_on_threads"` // Apply to multi-message threads

	Actions []*Action `json:"actions"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasStaticConditions reports whether any static header condition is set.
func (r *Rule) HasStaticConditions() bool {
	return r.From != nil || r.To != nil || r.Subject != nil
}

// EligibleTiers lists every tier the rule's configuration satisfies. A rule
// eligible for more than one tier is a configuration smell the matcher warns
// about; matching still uses the fixed tier order.
func (r *Rule) EligibleTiers() []RuleType {
	var tiers []RuleType
	if r.HasStaticConditions() {
		tiers = append(tiers, RuleTypeStatic)
	}
	if r.GroupID != nil {
		tiers = append(tiers, RuleTypeGroup)
	}
	if r.Category != nil {
		tiers = append(tiers, RuleTypeCategory)
	}
	if r.Instructions != "" {
		tiers = append(tiers, RuleTypeAI)
	}
	return tiers
}

// RuleRepository provides rule storage. Create returns the persistence
// duplicate error when the (user, name) pair already exists.
type RuleRepository interface {
	GetByID(ctx context.Context, id int64) (*Rule, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Rule, error)
	Create(ctx context.Context, rule *Rule) error
	Update(ctx context.Context, rule *Rule) error
	Delete(ctx context.Context, userID uuid.UUID, id int64) error
}

// =============================================================================
// Groups
// =============================================================================

// GroupItemType says what part of the email a group item matches.
type GroupItemType string

const (
	GroupItemFrom    GroupItemType = "FROM"
	GroupItemSubject GroupItemType = "SUBJECT"
)

// GroupItem is one membership entry: an exact address, an address fragment
// (e.g. a bare domain), or a subject substring.
type GroupItem struct {
	ID      int64         `json:"id"`
	GroupID int64         `json:"group_id"`
	Type    GroupItemType `json:"type"`
	Value   string        `json:"value"`
}

// Group is a named collection of senders/subjects that GROUP rules match on.
type Group struct {
	ID        int64        `json:"id"`
	UserID    uuid.UUID    `json:"user_id"`
	Name      string       `json:"name"`
	Items     []*GroupItem `json:"items"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// GroupRepository provides group storage.
type GroupRepository interface {
	GetByID(ctx context.Context, id int64) (*Group, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Group, error)
	FindByName(ctx context.Context, userID uuid.UUID, name string) (*Group, error)
	Create(ctx context.Context, group *Group) error
	AddItem(ctx context.Context, item *GroupItem) error
	DeleteItem(ctx context.Context, groupID, itemID int64) error
}

// =============================================================================
// Sender categories
// =============================================================================

// Well-known sender categories assigned by the (external) categorization flow
// and matched by CATEGORY rules.
const (
	CategoryNewsletter   = "newsletter"
	CategoryReceipt      = "receipt"
	CategoryMarketing    = "marketing"
	CategoryNotification = "notification"
	CategoryPersonal     = "personal"
)

// SenderCategory is the persisted category of one sender address for one user.
type SenderCategory struct {
	ID        int64     `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Sender    string    `json:"sender"` // bare address, lowercased
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SenderCategoryRepository provides sender category storage.
type SenderCategoryRepository interface {
	GetBySender(ctx context.Context, userID uuid.UUID, sender string) (*SenderCategory, error)
	Upsert(ctx context.Context, category *SenderCategory) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*SenderCategory, error)
}
