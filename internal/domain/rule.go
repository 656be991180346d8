package domain

import (
	"time"
)

type TriggerType string

const (
	TriggerWelcome TriggerType = "welcome"
	TriggerKeyword TriggerType = "keyword"
	TriggerAIAgent TriggerType = "ai_agent"
	TriggerChatbot TriggerType = "chatbot"
)

type ActionType string

const (
	ActionSendText   ActionType = "send_text"
	ActionUpdateLead ActionType = "update_lead"
	ActionAIReply    ActionType = "ai_reply"
)

const DefaultThrottleMinutes = 5

type AutomationRule struct {
	ID                     int64       `db:"id" json:"id"`
	Name                   string      `db:"name" json:"name"`
	Enabled                bool        `db:"enabled" json:"enabled"`
	TriggerType            TriggerType `db:"trigger_type" json:"triggerType"`
	Conditions             LeadFilter  `db:"conditions" json:"conditions"`
	Keywords               StringList  `db:"keywords" json:"keywords"`
	ActionType             ActionType  `db:"action_type" json:"actionType"`
	ActionText             string      `db:"action_text" json:"actionText"`
	ActionLeadUpdates      LeadUpdate  `db:"action_lead_updates" json:"actionLeadUpdates"`
	ThrottleMinutesPerLead int         `db:"throttle_minutes_per_lead" json:"throttleMinutesPerLead"`
	CreatedAt              time.Time   `db:"created_at" json:"createdAt"`
}

// ThrottleWindow falls back to DefaultThrottleMinutes when unset.
func (r *AutomationRule) ThrottleWindow() time.Duration {
	minutes := r.ThrottleMinutesPerLead
	if minutes <= 0 {
		minutes = DefaultThrottleMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// InboundEvent is one received message handed to the automation engine.
type InboundEvent struct {
	LeadID          int64
	PhoneNumber     string
	Body            string
	WasFirstInbound bool
}

type ConsentStatus string

const (
	ConsentOptedIn  ConsentStatus = "opted_in"
	ConsentOptedOut ConsentStatus = "opted_out"
)

const ChannelWhatsApp = "whatsapp"

type ConsentRecord struct {
	ID          int64         `db:"id" json:"id"`
	PhoneNumber string        `db:"phone_number" json:"phoneNumber"`
	Channel     string        `db:"channel" json:"channel"`
	Status      ConsentStatus `db:"status" json:"status"`
	Source      string        `db:"source" json:"source"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updatedAt"`
}

type ComplianceResult struct {
	Compliant bool
	Reason    string
}

type RateLimitDecision struct {
	Allowed bool
	Reason  string
}
