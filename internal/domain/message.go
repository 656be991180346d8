package domain

import (
	"errors"
	"time"
)

type MessageStatus string

const (
	StatusQueued    MessageStatus = "queued"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

const MessageTypeText = "text"

const (
	// MaxRetries bounds RetryCount. A failed record at this count is terminal.
	MaxRetries = 3
	// MessageRetention is how long a record stays reachable after creation.
	MessageRetention = 90 * 24 * time.Hour
)

var (
	ErrMessageNotFound   = errors.New("message not found")
	ErrInvalidStatus     = errors.New("invalid message status")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDuplicateMessage  = errors.New("message already tracked")
)

// rank orders the forward lifecycle. Failed sits outside it.
var statusRank = map[MessageStatus]int{
	StatusQueued:    0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

func ParseMessageStatus(s string) (MessageStatus, error) {
	status := MessageStatus(s)
	if _, ok := statusRank[status]; ok || status == StatusFailed {
		return status, nil
	}
	return "", ErrInvalidStatus
}

// Rank returns the position of s on queued→sent→delivered→read, or -1 for failed.
func (s MessageStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type MessageRecord struct {
	ID                string        `db:"id" json:"id"`
	LeadID            *int64        `db:"lead_id" json:"leadId,omitempty"`
	JobID             *int64        `db:"job_id" json:"jobId,omitempty"`
	RuleID            *int64        `db:"rule_id" json:"ruleId,omitempty"`
	SenderID          string        `db:"sender_id" json:"senderId"`
	PhoneNumber       string        `db:"phone_number" json:"phoneNumber"`
	Direction         Direction     `db:"direction" json:"direction"`
	MessageType       string        `db:"message_type" json:"messageType"`
	Content           string        `db:"content" json:"content"`
	Status            MessageStatus `db:"status" json:"status"`
	RetryCount        int           `db:"retry_count" json:"retryCount"`
	NextRetryTime     *time.Time    `db:"next_retry_time" json:"nextRetryTime,omitempty"`
	LastErrorCode     *string       `db:"last_error_code" json:"-"`
	LastErrorMessage  *string       `db:"last_error_message" json:"-"`
	ProviderMessageID *string       `db:"provider_message_id" json:"providerMessageId,omitempty"`
	SentAt            *time.Time    `db:"sent_at" json:"sentAt,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"timestamp"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updatedAt"`
}

// LastError returns the recorded error, if any.
func (m *MessageRecord) LastError() *ErrorInfo {
	if m.LastErrorCode == nil && m.LastErrorMessage == nil {
		return nil
	}
	info := &ErrorInfo{}
	if m.LastErrorCode != nil {
		info.Code = *m.LastErrorCode
	}
	if m.LastErrorMessage != nil {
		info.Message = *m.LastErrorMessage
	}
	return info
}

func (m *MessageRecord) SetLastError(info *ErrorInfo) {
	if info == nil {
		m.LastErrorCode = nil
		m.LastErrorMessage = nil
		return
	}
	code, msg := info.Code, info.Message
	m.LastErrorCode = &code
	m.LastErrorMessage = &msg
}

// Terminal reports whether no further automatic transition is expected.
func (m *MessageRecord) Terminal() bool {
	return m.Status == StatusRead || (m.Status == StatusFailed && m.RetryCount >= MaxRetries)
}

// Expired reports whether the record is past the retention window at now.
func (m *MessageRecord) Expired(now time.Time) bool {
	return now.Sub(m.CreatedAt) > MessageRetention
}

// NewMessage carries the caller-supplied fields of a record about to be tracked.
type NewMessage struct {
	LeadID      *int64    `json:"leadId,omitempty"`
	JobID       *int64    `json:"jobId,omitempty"`
	RuleID      *int64    `json:"ruleId,omitempty"`
	SenderID    string    `json:"senderId"`
	PhoneNumber string    `json:"phoneNumber"`
	Direction   Direction `json:"direction"`
	MessageType string    `json:"messageType"`
	Content     string    `json:"content"`

	// ProviderMessageID is known up front for received messages. It is unique per record.
	ProviderMessageID string `json:"providerMessageId,omitempty"`
}

type MessageStats struct {
	Queued    int64 `db:"queued" json:"queued"`
	Sent      int64 `db:"sent" json:"sent"`
	Delivered int64 `db:"delivered" json:"delivered"`
	Read      int64 `db:"read_count" json:"read"`
	Failed    int64 `db:"failed" json:"failed"`
}

// ConversationTurn is one role-tagged message handed to the completion provider.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
