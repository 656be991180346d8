package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/onurcolak/whatsapp-automation-service/internal/domain"
)

//
// Test fakes shared by the service tests.
//

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeMessageStore struct {
	mu      sync.Mutex
	records map[string]domain.MessageRecord
	order   []string
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{records: make(map[string]domain.MessageRecord)}
}

func (s *fakeMessageStore) Create(ctx context.Context, m *domain.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[m.ID]; ok {
		return fmt.Errorf("duplicate id %s", m.ID)
	}
	if m.ProviderMessageID != nil {
		for _, existing := range s.records {
			if existing.ProviderMessageID != nil && *existing.ProviderMessageID == *m.ProviderMessageID {
				return fmt.Errorf("%w: %s", domain.ErrDuplicateMessage, m.ID)
			}
		}
	}
	s.records[m.ID] = *m
	s.order = append(s.order, m.ID)
	return nil
}

func (s *fakeMessageStore) Update(ctx context.Context, m *domain.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[m.ID]; !ok {
		return fmt.Errorf("no message found with id %s", m.ID)
	}
	s.records[m.ID] = *m
	return nil
}

func (s *fakeMessageStore) GetByID(ctx context.Context, id string, since time.Time) (*domain.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.records[id]
	if !ok || m.CreatedAt.Before(since) {
		return nil, nil
	}
	return &m, nil
}

func (s *fakeMessageStore) GetByProviderID(ctx context.Context, providerID string, since time.Time) (*domain.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		m, ok := s.records[id]
		if ok && m.ProviderMessageID != nil && *m.ProviderMessageID == providerID && !m.CreatedAt.Before(since) {
			return &m, nil
		}
	}
	return nil, nil
}

// all returns live records in creation order.
func (s *fakeMessageStore) all() []domain.MessageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.MessageRecord, 0, len(s.order))
	for _, id := range s.order {
		if m, ok := s.records[id]; ok {
			out = append(out, m)
		}
	}
	return out
}

func (s *fakeMessageStore) outbound() []domain.MessageRecord {
	var out []domain.MessageRecord
	for _, m := range s.all() {
		if m.Direction == domain.DirectionOutbound {
			out = append(out, m)
		}
	}
	return out
}

func (s *fakeMessageStore) ListConversation(ctx context.Context, leadID *int64, phoneNumber string, since time.Time) ([]domain.MessageRecord, error) {
	var out []domain.MessageRecord
	for _, m := range s.all() {
		if m.PhoneNumber != phoneNumber || m.CreatedAt.Before(since) {
			continue
		}
		if leadID != nil && (m.LeadID == nil || *m.LeadID != *leadID) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *fakeMessageStore) ListRecentByLead(ctx context.Context, leadID int64, limit int, since time.Time) ([]domain.MessageRecord, error) {
	all := s.all()
	var out []domain.MessageRecord
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		m := all[i]
		if m.LeadID != nil && *m.LeadID == leadID && !m.CreatedAt.Before(since) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeMessageStore) CountInbound(ctx context.Context, leadID int64, phoneNumber string) (int64, error) {
	var n int64
	for _, m := range s.all() {
		if m.Direction != domain.DirectionInbound {
			continue
		}
		if (m.LeadID != nil && *m.LeadID == leadID) || m.PhoneNumber == phoneNumber {
			n++
		}
	}
	return n, nil
}

func (s *fakeMessageStore) ListRetryDue(ctx context.Context, now time.Time, limit int, since time.Time) ([]domain.MessageRecord, error) {
	var out []domain.MessageRecord
	for _, m := range s.all() {
		if m.Status == domain.StatusFailed && m.Direction == domain.DirectionOutbound &&
			m.MessageType == domain.MessageTypeText && m.RetryCount < domain.MaxRetries &&
			m.NextRetryTime != nil && !m.NextRetryTime.After(now) && !m.CreatedAt.Before(since) {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeMessageStore) GetStats(ctx context.Context, since time.Time) (*domain.MessageStats, error) {
	stats := &domain.MessageStats{}
	for _, m := range s.all() {
		if m.CreatedAt.Before(since) {
			continue
		}
		switch m.Status {
		case domain.StatusQueued:
			stats.Queued++
		case domain.StatusSent:
			stats.Sent++
		case domain.StatusDelivered:
			stats.Delivered++
		case domain.StatusRead:
			stats.Read++
		case domain.StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (s *fakeMessageStore) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, m := range s.records {
		if m.CreatedAt.Before(cutoff) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

type fakeLeadStore struct {
	mu     sync.Mutex
	leads  map[int64]*domain.Lead
	nextID int64

	updates []domain.LeadUpdate
	findErr error
}

func newFakeLeadStore(leads ...domain.Lead) *fakeLeadStore {
	s := &fakeLeadStore{leads: make(map[int64]*domain.Lead), nextID: 100}
	for i := range leads {
		l := leads[i]
		s.leads[l.ID] = &l
	}
	return s
}

func (s *fakeLeadStore) get(id int64) *domain.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return nil
	}
	cp := *l
	return &cp
}

func (s *fakeLeadStore) FindByID(ctx context.Context, id int64) (*domain.Lead, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.get(id), nil
}

func (s *fakeLeadStore) FindByPhone(ctx context.Context, phoneNumber string) (*domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.leads {
		if l.PhoneNumber == phoneNumber {
			cp := *l
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeLeadStore) FindByIDs(ctx context.Context, ids []int64) ([]domain.Lead, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	var out []domain.Lead
	for _, id := range ids {
		if l := s.get(id); l != nil {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (s *fakeLeadStore) Find(ctx context.Context, filter domain.LeadFilter, limit int) ([]domain.Lead, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	s.mu.Lock()
	ids := make([]int64, 0, len(s.leads))
	for id := range s.leads {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	slices.Sort(ids)

	var out []domain.Lead
	for _, id := range ids {
		l := s.get(id)
		if filter.Matches(l) {
			out = append(out, *l)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeLeadStore) Create(ctx context.Context, lead *domain.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	lead.ID = s.nextID
	cp := *lead
	s.leads[lead.ID] = &cp
	return nil
}

func (s *fakeLeadStore) UpdateFields(ctx context.Context, id int64, u domain.LeadUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return domain.ErrLeadNotFound
	}
	s.updates = append(s.updates, u)
	u.Apply(l)
	return nil
}

type fakeJobStore struct {
	mu      sync.Mutex
	jobs    map[int64]*domain.ScheduledJob
	findErr error
	runErr  map[int64]error
}

func newFakeJobStore(jobs ...domain.ScheduledJob) *fakeJobStore {
	s := &fakeJobStore{jobs: make(map[int64]*domain.ScheduledJob), runErr: make(map[int64]error)}
	for i := range jobs {
		j := jobs[i]
		s.jobs[j.ID] = &j
	}
	return s
}

func (s *fakeJobStore) job(id int64) domain.ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *fakeJobStore) FindDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledJob, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []domain.ScheduledJob
	for _, j := range s.jobs {
		if j.Status == domain.JobActive && j.NextRunAt != nil && !j.NextRunAt.After(now) {
			due = append(due, *j)
		}
	}
	sort.Slice(due, func(a, b int) bool {
		if due[a].NextRunAt.Equal(*due[b].NextRunAt) {
			return due[a].ID < due[b].ID
		}
		return due[a].NextRunAt.Before(*due[b].NextRunAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *fakeJobStore) RecordRun(ctx context.Context, id int64, u domain.JobRunUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.runErr[id]; err != nil {
		return err
	}
	j := s.jobs[id]
	j.Status = u.Status
	j.NextRunAt = u.NextRunAt
	lastRun := u.LastRunAt
	j.LastRunAt = &lastRun
	j.RunCount = u.RunCount
	j.LastError = nil
	return nil
}

func (s *fakeJobStore) RecordError(ctx context.Context, id int64, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := message
	s.jobs[id].LastError = &msg
	return nil
}

type fakeRuleStore struct {
	rules []domain.AutomationRule
}

func (s *fakeRuleStore) FindEnabled(ctx context.Context) ([]domain.AutomationRule, error) {
	var out []domain.AutomationRule
	for _, r := range s.rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeConsentStore struct {
	records map[string]*domain.ConsentRecord
	err     error
}

func (s *fakeConsentStore) Latest(ctx context.Context, phoneNumber, channel string) (*domain.ConsentRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.records[phoneNumber], nil
}

func (s *fakeConsentStore) optOut(phoneNumber string) {
	if s.records == nil {
		s.records = make(map[string]*domain.ConsentRecord)
	}
	s.records[phoneNumber] = &domain.ConsentRecord{
		PhoneNumber: phoneNumber,
		Channel:     domain.ChannelWhatsApp,
		Status:      domain.ConsentOptedOut,
		Source:      "whatsapp",
	}
}

type sentText struct {
	to   string
	text string
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []sentText
	fail  error
	count int
}

func (s *fakeSender) SendText(ctx context.Context, toPhone, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return "", s.fail
	}
	s.count++
	s.sent = append(s.sent, sentText{to: toPhone, text: text})
	return fmt.Sprintf("wamid.%d", s.count), nil
}

func (s *fakeSender) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sent))
	for _, m := range s.sent {
		out = append(out, m.text)
	}
	return out
}

type fakeLimiter struct {
	mu         sync.Mutex
	deny       map[string]string
	increments map[string]int
}

func (l *fakeLimiter) CanSendMessage(ctx context.Context, senderID, phoneNumber string) domain.RateLimitDecision {
	l.mu.Lock()
	defer l.mu.Unlock()
	if reason, ok := l.deny[phoneNumber]; ok {
		return domain.RateLimitDecision{Reason: reason}
	}
	return domain.RateLimitDecision{Allowed: true}
}

func (l *fakeLimiter) IncrementCount(ctx context.Context, senderID, phoneNumber string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.increments == nil {
		l.increments = make(map[string]int)
	}
	l.increments[phoneNumber]++
	return nil
}

type fakeAI struct {
	reply   string
	err     error
	calls   int
	history []domain.ConversationTurn
	user    string
}

func (a *fakeAI) Complete(ctx context.Context, systemPrompt string, history []domain.ConversationTurn, userText string) (string, error) {
	a.calls++
	a.history = history
	a.user = userText
	return a.reply, a.err
}

type fakeMediaQueue struct {
	ids []string
	err error
}

func (q *fakeMediaQueue) Enqueue(ctx context.Context, messageID string) error {
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, messageID)
	return nil
}

var errProviderDown = errors.New("provider unavailable")

const (
	phoneAsha = "+919876543210"
	phoneDev  = "+919812345678"
)

// harness wires every service over in-memory fakes sharing one clock.
type harness struct {
	clock    *testClock
	messages *fakeMessageStore
	leads    *fakeLeadStore
	jobs     *fakeJobStore
	rules    *fakeRuleStore
	consent  *fakeConsentStore
	sender   *fakeSender
	limiter  *fakeLimiter
	ai       *fakeAI
	media    *fakeMediaQueue

	tracker    *DeliveryTracker
	dispatcher *Dispatcher
	scheduler  *RecurrenceScheduler
	engine     *AutomationEngine
	inbound    *InboundService
	retrier    *Retrier
}

func newHarness(leads ...domain.Lead) *harness {
	h := &harness{
		clock:    &testClock{now: time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)},
		messages: newFakeMessageStore(),
		leads:    newFakeLeadStore(leads...),
		jobs:     newFakeJobStore(),
		rules:    &fakeRuleStore{},
		consent:  &fakeConsentStore{},
		sender:   &fakeSender{},
		limiter:  &fakeLimiter{deny: map[string]string{}},
		ai:       &fakeAI{},
		media:    &fakeMediaQueue{},
	}

	seq := 0
	h.tracker = NewDeliveryTracker(h.messages)
	h.tracker.now = h.clock.Now
	h.tracker.newID = func() string {
		seq++
		return fmt.Sprintf("msg-%04d", seq)
	}

	h.dispatcher = NewDispatcher(h.tracker, h.sender, NewConsentGate(h.consent, false), h.limiter, h.media, "IN")
	h.scheduler = NewRecurrenceScheduler(h.jobs, NewAudienceResolver(h.leads), h.dispatcher, 1)
	h.engine = NewAutomationEngine(h.rules, h.leads, h.tracker, h.dispatcher, h.ai, "automation", "IN")
	h.engine.now = h.clock.Now
	h.inbound = NewInboundService(h.leads, h.tracker, h.engine, "IN")
	h.retrier = NewRetrier(h.tracker, h.dispatcher)

	return h
}
