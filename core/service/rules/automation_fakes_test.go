package rules

import (
	"context"
	"fmt"
	"time"

	"automation_server/adapter/out/persistence"
	"automation_server/core/domain"
	"automation_server/core/port/out"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// fakeLLM scripts CompleteStructured responses. Each call pops the next
// response; a response may be a JSON payload or an error.
type fakeLLM struct {
	responses []fakeLLMResponse
	calls     int
	prompts   []string
}

type fakeLLMResponse struct {
	payload string
	err     error
}

func (f *fakeLLM) CompleteStructured(ctx context.Context, systemPrompt, userPrompt string, result any) error {
	f.calls++
	f.prompts = append(f.prompts, userPrompt)
	if len(f.responses) == 0 {
		return fmt.Errorf("unexpected LLM call %d", f.calls)
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	if resp.err != nil {
		return resp.err
	}
	return json.Unmarshal([]byte(resp.payload), result)
}

func (f *fakeLLM) Summarize(ctx context.Context, subject, body string) (string, error) {
	f.calls++
	return "summary of " + subject, nil
}

type fakeGroupRepo struct {
	groups map[int64]*domain.Group
}

func (f *fakeGroupRepo) GetByID(ctx context.Context, id int64) (*domain.Group, error) {
	g, ok := f.groups[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return g, nil
}

func (f *fakeGroupRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Group, error) {
	return nil, nil
}

func (f *fakeGroupRepo) FindByName(ctx context.Context, userID uuid.UUID, name string) (*domain.Group, error) {
	for _, g := range f.groups {
		if g.Name == name {
			return g, nil
		}
	}
	return nil, persistence.ErrNotFound
}

func (f *fakeGroupRepo) Create(ctx context.Context, group *domain.Group) error   { return nil }
func (f *fakeGroupRepo) AddItem(ctx context.Context, item *domain.GroupItem) error { return nil }
func (f *fakeGroupRepo) DeleteItem(ctx context.Context, groupID, itemID int64) error {
	return nil
}

type fakeCategoryRepo struct {
	categories map[string]string // sender -> category
}

func (f *fakeCategoryRepo) GetBySender(ctx context.Context, userID uuid.UUID, sender string) (*domain.SenderCategory, error) {
	cat, ok := f.categories[sender]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &domain.SenderCategory{UserID: userID, Sender: sender, Category: cat}, nil
}

func (f *fakeCategoryRepo) Upsert(ctx context.Context, category *domain.SenderCategory) error {
	return nil
}

func (f *fakeCategoryRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.SenderCategory, error) {
	return nil, nil
}

// fakeProvider records every mutating call and answers reads from fixtures.
type fakeProvider struct {
	messages map[string]*domain.EmailMessage
	threads  map[string]*out.EmailThread
	labelIDs map[string]string

	modifications []labelCall
	sent          []*out.SendRequest
	drafts        []*out.SendRequest

	failNext error
}

type labelCall struct {
	threadID string
	mod      *out.LabelModification
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		messages: map[string]*domain.EmailMessage{},
		threads:  map[string]*out.EmailThread{},
		labelIDs: map[string]string{},
	}
}

func (f *fakeProvider) takeFailure() error {
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *fakeProvider) GetMessage(ctx context.Context, messageID string) (*domain.EmailMessage, error) {
	m, ok := f.messages[messageID]
	if !ok {
		return nil, &out.ProviderError{Kind: out.ProviderErrorNotFound, Op: "get message", Err: fmt.Errorf("no message %s", messageID)}
	}
	return m, nil
}

func (f *fakeProvider) GetThread(ctx context.Context, threadID string) (*out.EmailThread, error) {
	t, ok := f.threads[threadID]
	if !ok {
		return nil, &out.ProviderError{Kind: out.ProviderErrorNotFound, Op: "get thread", Err: fmt.Errorf("no thread %s", threadID)}
	}
	return t, nil
}

func (f *fakeProvider) ModifyThreadLabels(ctx context.Context, threadID string, mod *out.LabelModification) error {
	if err := f.takeFailure(); err != nil {
		return err
	}
	f.modifications = append(f.modifications, labelCall{threadID: threadID, mod: mod})
	return nil
}

func (f *fakeProvider) SendMessage(ctx context.Context, req *out.SendRequest) (string, error) {
	if err := f.takeFailure(); err != nil {
		return "", err
	}
	f.sent = append(f.sent, req)
	return fmt.Sprintf("sent-%d", len(f.sent)), nil
}

func (f *fakeProvider) CreateDraft(ctx context.Context, req *out.SendRequest) (string, error) {
	if err := f.takeFailure(); err != nil {
		return "", err
	}
	f.drafts = append(f.drafts, req)
	return fmt.Sprintf("draft-%d", len(f.drafts)), nil
}

func (f *fakeProvider) GetOrCreateLabel(ctx context.Context, name string) (string, error) {
	if err := f.takeFailure(); err != nil {
		return "", err
	}
	id, ok := f.labelIDs[name]
	if !ok {
		id = "Label_" + name
		f.labelIDs[name] = id
	}
	return id, nil
}

type fakeProviderFactory struct {
	provider *fakeProvider
	err      error
}

func (f *fakeProviderFactory) ProviderForUser(ctx context.Context, userID uuid.UUID) (out.EmailProvider, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.provider, nil
}

type fakeUserRepo struct {
	user *domain.User
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	if f.user == nil || f.user.ID != id {
		return nil, persistence.ErrNotFound
	}
	return f.user, nil
}

func (f *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return f.user, nil
}

func (f *fakeUserRepo) UpdateAbout(ctx context.Context, id uuid.UUID, about string) error {
	return nil
}

type fakeRuleRepo struct {
	rules      []*domain.Rule
	created    []*domain.Rule
	takenNames map[string]bool
	nextID     int64
}

func (f *fakeRuleRepo) GetByID(ctx context.Context, id int64) (*domain.Rule, error) {
	for _, r := range f.rules {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, persistence.ErrNotFound
}

func (f *fakeRuleRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Rule, error) {
	return f.rules, nil
}

func (f *fakeRuleRepo) Create(ctx context.Context, rule *domain.Rule) error {
	if f.takenNames[rule.Name] {
		return persistence.ErrDuplicate
	}
	f.nextID++
	rule.ID = f.nextID
	f.created = append(f.created, rule)
	f.rules = append(f.rules, rule)
	return nil
}

func (f *fakeRuleRepo) Update(ctx context.Context, rule *domain.Rule) error { return nil }
func (f *fakeRuleRepo) Delete(ctx context.Context, userID uuid.UUID, id int64) error {
	return nil
}

// fakePlanRepo keys plans by (thread, message) so duplicate inserts surface
// the same way the unique index does.
type fakePlanRepo struct {
	plans  map[string]*domain.ExecutedRule
	nextID int64

	itemErrors map[int64]string

	// missOnGet makes GetByMessage report no plan even when one exists,
	// reproducing the window between the dedup check and the insert.
	missOnGet bool
}

func newFakePlanRepo() *fakePlanRepo {
	return &fakePlanRepo{plans: map[string]*domain.ExecutedRule{}, itemErrors: map[int64]string{}}
}

func planKey(threadID, messageID string) string { return threadID + "/" + messageID }

func (f *fakePlanRepo) GetByID(ctx context.Context, userID uuid.UUID, id int64) (*domain.ExecutedRule, error) {
	for _, p := range f.plans {
		if p.ID == id && p.UserID == userID {
			return p, nil
		}
	}
	return nil, persistence.ErrNotFound
}

func (f *fakePlanRepo) GetByMessage(ctx context.Context, userID uuid.UUID, threadID, messageID string) (*domain.ExecutedRule, error) {
	if f.missOnGet {
		return nil, persistence.ErrNotFound
	}
	p, ok := f.plans[planKey(threadID, messageID)]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return p, nil
}

func (f *fakePlanRepo) ListByUser(ctx context.Context, userID uuid.UUID, status *domain.ExecutedRuleStatus, limit, offset int) ([]*domain.ExecutedRule, error) {
	var result []*domain.ExecutedRule
	for _, p := range f.plans {
		if p.UserID != userID {
			continue
		}
		if status != nil && p.Status != *status {
			continue
		}
		result = append(result, p)
	}
	return result, nil
}

func (f *fakePlanRepo) Create(ctx context.Context, plan *domain.ExecutedRule) error {
	key := planKey(plan.ThreadID, plan.MessageID)
	if _, exists := f.plans[key]; exists {
		return persistence.ErrDuplicate
	}
	f.nextID++
	plan.ID = f.nextID
	for _, item := range plan.ActionItems {
		f.nextID++
		item.ID = f.nextID
		item.ExecutedRuleID = plan.ID
	}
	f.plans[key] = plan
	return nil
}

func (f *fakePlanRepo) UpdateStatus(ctx context.Context, userID uuid.UUID, id int64, status domain.ExecutedRuleStatus) error {
	for _, p := range f.plans {
		if p.ID == id && p.UserID == userID && p.Status == domain.ExecutedRulePending {
			p.Status = status
			return nil
		}
	}
	return persistence.ErrNotFound
}

func (f *fakePlanRepo) MarkExecuted(ctx context.Context, id int64, executedAt time.Time) error {
	for _, p := range f.plans {
		if p.ID == id {
			p.ExecutedAt = &executedAt
			return nil
		}
	}
	return persistence.ErrNotFound
}

func (f *fakePlanRepo) SetActionItemError(ctx context.Context, itemID int64, message string) error {
	f.itemErrors[itemID] = message
	return nil
}

// =============================================================================
// Fixtures
// =============================================================================

var testUserID = uuid.MustParse("9b8f1f70-2f4e-4a35-9f65-1f1d2b3c4d5e")

func testUser() *domain.User {
	about := "Software engineer, prefers short replies"
	return &domain.User{ID: testUserID, Email: "me@example.com", About: &about}
}

func testEmail() *domain.EmailMessage {
	return &domain.EmailMessage{
		ID:              "msg-1",
		ThreadID:        "thread-1",
		From:            "Alice <alice@example.com>",
		To:              "me@example.com",
		Subject:         "Quarterly invoice",
		Date:            time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC),
		MessageIDHeader: "<abc@mail.example.com>",
		TextBody:        "Please find attached the invoice for Q2.",
	}
}

func strptr(s string) *string { return &s }
