package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

const (
	LeadStatusNew      = "new"
	LeadStatusProspect = "prospect"
)

var ErrLeadNotFound = errors.New("lead not found")

type Lead struct {
	ID               int64             `db:"id" json:"id"`
	Name             string            `db:"name" json:"name"`
	PhoneNumber      string            `db:"phone_number" json:"phoneNumber"`
	Status           string            `db:"status" json:"status"`
	WorkshopName     string            `db:"workshop_name" json:"workshopName"`
	AssignedToUserID *int64            `db:"assigned_to_user_id" json:"assignedToUserId,omitempty"`
	Labels           StringList        `db:"labels" json:"labels"`
	RuleThrottle     RuleThrottleState `db:"rule_throttle" json:"ruleThrottle,omitempty"`
	Chatbot          ChatbotState      `db:"chatbot_state" json:"chatbot"`
	CreatedAt        time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time         `db:"updated_at" json:"updatedAt"`
}

// LeadFilter selects leads. Every non-empty field must match.
type LeadFilter struct {
	Statuses         []string `json:"statuses,omitempty"`
	WorkshopName     string   `json:"workshopName,omitempty"`
	AssignedToUserID *int64   `json:"assignedToUserId,omitempty"`
	LabelsAny        []string `json:"labelsAny,omitempty"`
	LabelsAll        []string `json:"labelsAll,omitempty"`
}

func (f LeadFilter) IsEmpty() bool {
	return len(f.Statuses) == 0 && f.WorkshopName == "" && f.AssignedToUserID == nil &&
		len(f.LabelsAny) == 0 && len(f.LabelsAll) == 0
}

// Matches evaluates the filter in memory with the same semantics the
// repository applies in SQL.
func (f LeadFilter) Matches(lead *Lead) bool {
	if lead == nil {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, lead.Status) {
		return false
	}
	if f.WorkshopName != "" && f.WorkshopName != lead.WorkshopName {
		return false
	}
	if f.AssignedToUserID != nil {
		if lead.AssignedToUserID == nil || *lead.AssignedToUserID != *f.AssignedToUserID {
			return false
		}
	}
	if len(f.LabelsAny) > 0 && !slices.ContainsFunc(f.LabelsAny, func(l string) bool {
		return slices.Contains(lead.Labels, l)
	}) {
		return false
	}
	for _, l := range f.LabelsAll {
		if !slices.Contains(lead.Labels, l) {
			return false
		}
	}
	return true
}

func (f LeadFilter) Value() (driver.Value, error) { return marshalJSON(f) }
func (f *LeadFilter) Scan(src any) error        { return scanJSON(src, f) }

// LeadUpdate is a field-level merge. Nil fields are left untouched.
type LeadUpdate struct {
	Name             *string            `json:"name,omitempty"`
	Status           *string            `json:"status,omitempty"`
	WorkshopName     *string            `json:"workshopName,omitempty"`
	AssignedToUserID *int64             `json:"assignedToUserId,omitempty"`
	Labels           *[]string          `json:"labels,omitempty"`
	AddLabels        []string           `json:"addLabels,omitempty"`
	RuleThrottle     *RuleThrottleState `json:"-"`
	Chatbot          *ChatbotState      `json:"-"`
}

func (u LeadUpdate) IsEmpty() bool {
	return u.Name == nil && u.Status == nil && u.WorkshopName == nil && u.AssignedToUserID == nil &&
		u.Labels == nil && len(u.AddLabels) == 0 && u.RuleThrottle == nil && u.Chatbot == nil
}

// Resolve folds AddLabels into an explicit Labels replacement computed
// against the current lead, so storage only has to apply plain assignments.
func (u LeadUpdate) Resolve(lead *Lead) LeadUpdate {
	if len(u.AddLabels) == 0 {
		return u
	}
	base := []string(lead.Labels)
	if u.Labels != nil {
		base = *u.Labels
	}
	merged := slices.Clone(base)
	for _, l := range u.AddLabels {
		if !slices.Contains(merged, l) {
			merged = append(merged, l)
		}
	}
	u.Labels = &merged
	u.AddLabels = nil
	return u
}

// Apply merges u into lead in memory.
func (u LeadUpdate) Apply(lead *Lead) {
	u = u.Resolve(lead)
	if u.Name != nil {
		lead.Name = *u.Name
	}
	if u.Status != nil {
		lead.Status = *u.Status
	}
	if u.WorkshopName != nil {
		lead.WorkshopName = *u.WorkshopName
	}
	if u.AssignedToUserID != nil {
		id := *u.AssignedToUserID
		lead.AssignedToUserID = &id
	}
	if u.Labels != nil {
		lead.Labels = slices.Clone(*u.Labels)
	}
	if u.RuleThrottle != nil {
		lead.RuleThrottle = u.RuleThrottle.clone()
	}
	if u.Chatbot != nil {
		lead.Chatbot = *u.Chatbot
	}
}

func (u LeadUpdate) Value() (driver.Value, error) { return marshalJSON(u) }
func (u *LeadUpdate) Scan(src any) error        { return scanJSON(src, u) }

// RuleThrottleState records, per rule id, when the rule last fired for a lead.
type RuleThrottleState map[int64]time.Time

// Allows reports whether window has elapsed since ruleID last fired.
func (s RuleThrottleState) Allows(ruleID int64, window time.Duration, now time.Time) bool {
	last, ok := s[ruleID]
	if !ok {
		return true
	}
	return now.Sub(last) >= window
}

// Mark returns a copy of s with ruleID stamped at now.
func (s RuleThrottleState) Mark(ruleID int64, now time.Time) RuleThrottleState {
	next := s.clone()
	next[ruleID] = now
	return next
}

func (s RuleThrottleState) clone() RuleThrottleState {
	next := make(RuleThrottleState, len(s)+1)
	for k, v := range s {
		next[k] = v
	}
	return next
}

func (s RuleThrottleState) Value() (driver.Value, error) { return marshalJSON(s) }
func (s *RuleThrottleState) Scan(src any) error        { return scanJSON(src, s) }

type ChatbotStep string

const (
	ChatbotAskName     ChatbotStep = "ask_name"
	ChatbotAskInterest ChatbotStep = "ask_interest"
	ChatbotAskLanguage ChatbotStep = "ask_language"
	ChatbotDone        ChatbotStep = "done"
)

// ChatbotState is the embedded qualification flow. The zero value is AskName.
type ChatbotState struct {
	Step     ChatbotStep `json:"step,omitempty"`
	Interest string      `json:"interest,omitempty"`
	Language string      `json:"language,omitempty"`
}

func (c ChatbotState) Current() ChatbotStep {
	if c.Step == "" {
		return ChatbotAskName
	}
	return c.Step
}

func (c ChatbotState) Value() (driver.Value, error) { return marshalJSON(c) }
func (c *ChatbotState) Scan(src any) error        { return scanJSON(src, c) }

// StringList is a JSON array column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return marshalJSON(l)
}

func (l *StringList) Scan(src any) error { return scanJSON(src, l) }

// Int64List is a JSON array column.
type Int64List []int64

func (l Int64List) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return marshalJSON(l)
}

func (l *Int64List) Scan(src any) error { return scanJSON(src, l) }

func marshalJSON(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func scanJSON(src any, dst any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, dst)
}
