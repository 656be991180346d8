package domain

import (
	"database/sql/driver"
	"errors"
	"time"
)

type JobStatus string

const (
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
	JobPaused    JobStatus = "paused"
)

type TargetType string

const (
	TargetExplicit TargetType = "explicit_ids"
	TargetFilter   TargetType = "dynamic_filter"
)

type Frequency string

const (
	FrequencyNone    Frequency = "none"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
	FrequencyCustom  Frequency = "custom"
)

var ErrJobNotFound = errors.New("scheduled job not found")

// TargetSpec is either an explicit lead id list or a filter, selected by the
// owning job's TargetType.
type TargetSpec struct {
	LeadIDs Int64List  `json:"leadIds,omitempty"`
	Filter  LeadFilter `json:"filter"`
}

func (t TargetSpec) Value() (driver.Value, error) { return marshalJSON(t) }
func (t *TargetSpec) Scan(src any) error        { return scanJSON(src, t) }

type Recurrence struct {
	Frequency     Frequency      `json:"frequency"`
	Interval      int            `json:"interval,omitempty"`
	Weekdays      []time.Weekday `json:"weekdays,omitempty"`
	CustomMinutes int            `json:"customMinutes,omitempty"`
}

func (r Recurrence) Value() (driver.Value, error) { return marshalJSON(r) }
func (r *Recurrence) Scan(src any) error        { return scanJSON(src, r) }

type ScheduledJob struct {
	ID             int64      `db:"id" json:"id"`
	Name           string     `db:"name" json:"name"`
	Status         JobStatus  `db:"status" json:"status"`
	SenderID       string     `db:"sender_id" json:"senderId"`
	TargetType     TargetType `db:"target_type" json:"targetType"`
	TargetSpec     TargetSpec `db:"target_spec" json:"targetSpec"`
	MessageType    string     `db:"message_type" json:"messageType"`
	MessageContent string     `db:"message_content" json:"messageContent"`
	Recurrence     Recurrence `db:"recurrence" json:"recurrence"`
	NextRunAt      *time.Time `db:"next_run_at" json:"nextRunAt,omitempty"`
	LastRunAt      *time.Time `db:"last_run_at" json:"lastRunAt,omitempty"`
	RunCount       int        `db:"run_count" json:"runCount"`
	MaxRuns        int        `db:"max_runs" json:"maxRuns"`
	LastError      *string    `db:"last_error" json:"lastError,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updatedAt"`
}

// JobRunUpdate is the bookkeeping written after a job executes.
type JobRunUpdate struct {
	Status    JobStatus
	NextRunAt *time.Time
	LastRunAt time.Time
	RunCount  int
}

type RunReport struct {
	StartedAt      time.Time    `json:"startedAt"`
	JobsScanned    int          `json:"jobsScanned"`
	JobsExecuted   int          `json:"jobsExecuted"`
	MessagesSent   int          `json:"messagesSent"`
	MessagesQueued int          `json:"messagesQueued"`
	MessagesFailed int          `json:"messagesFailed"`
	Jobs           []JobOutcome `json:"jobs"`
}

type JobOutcome struct {
	JobID      int64  `json:"jobId"`
	OK         bool   `json:"ok"`
	Recipients int    `json:"recipients"`
	Sent       int    `json:"sent"`
	Queued     int    `json:"queued"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	Completed  bool   `json:"completed"`
	Error      string `json:"error,omitempty"`
}

// Errored counts jobs that did not complete their run.
func (r *RunReport) Errored() int {
	n := 0
	for _, j := range r.Jobs {
		if !j.OK {
			n++
		}
	}
	return n
}
