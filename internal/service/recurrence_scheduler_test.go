package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onurcolak/whatsapp-automation-service/internal/domain"
)

func dailyJob(id int64, nextRun time.Time, leadIDs ...int64) domain.ScheduledJob {
	return domain.ScheduledJob{
		ID:             id,
		Name:           "daily reminder",
		Status:         domain.JobActive,
		SenderID:       "studio",
		TargetType:     domain.TargetExplicit,
		TargetSpec:     domain.TargetSpec{LeadIDs: leadIDs},
		MessageType:    domain.MessageTypeText,
		MessageContent: "Class at 7am tomorrow",
		Recurrence:     domain.Recurrence{Frequency: domain.FrequencyDaily, Interval: 1},
		NextRunAt:      &nextRun,
	}
}

func TestRunDueJobs_DailyJobCompletesAfterMaxRuns(t *testing.T) {
	ctx := context.Background()
	h := newHarness(domain.Lead{ID: 1, Name: "Asha", PhoneNumber: phoneAsha, Status: "new"})

	job := dailyJob(10, h.clock.Now(), 1)
	job.MaxRuns = 2
	h.jobs = newFakeJobStore(job)
	h.scheduler = NewRecurrenceScheduler(h.jobs, NewAudienceResolver(h.leads), h.dispatcher, 1)

	report, err := h.scheduler.RunDueJobs(ctx, h.clock.Now(), 10, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, report.JobsExecuted)
	assert.Equal(t, 1, report.MessagesSent)

	afterFirst := h.jobs.job(10)
	assert.Equal(t, 1, afterFirst.RunCount)
	assert.Equal(t, domain.JobActive, afterFirst.Status)
	require.NotNil(t, afterFirst.NextRunAt)
	assert.Equal(t, h.clock.Now().AddDate(0, 0, 1), *afterFirst.NextRunAt)

	// Re-running the same instant does not pick the job up again.
	report, err = h.scheduler.RunDueJobs(ctx, h.clock.Now(), 10, 100)
	require.NoError(t, err)
	assert.Zero(t, report.JobsScanned)

	h.clock.Advance(24 * time.Hour)
	report, err = h.scheduler.RunDueJobs(ctx, h.clock.Now(), 10, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, report.JobsExecuted)
	assert.True(t, report.Jobs[0].Completed)

	final := h.jobs.job(10)
	assert.Equal(t, 2, final.RunCount)
	assert.Equal(t, domain.JobCompleted, final.Status)
	assert.Nil(t, final.NextRunAt)
	assert.Len(t, h.sender.sent, 2)
	assert.Equal(t, 2, h.limiter.increments[phoneAsha])
}

func TestRunDueJobs_OptedOutPhoneGetsNoRecords(t *testing.T) {
	ctx := context.Background()
	h := newHarness(
		domain.Lead{ID: 1, PhoneNumber: phoneAsha, Status: "new", Labels: domain.StringList{"weekend"}},
		domain.Lead{ID: 2, PhoneNumber: phoneDev, Status: "new", Labels: domain.StringList{"weekend"}},
	)
	h.consent.optOut(phoneAsha)

	job := dailyJob(11, h.clock.Now())
	job.TargetType = domain.TargetFilter
	job.TargetSpec = domain.TargetSpec{Filter: domain.LeadFilter{LabelsAny: []string{"weekend"}}}
	h.jobs = newFakeJobStore(job)
	h.scheduler = NewRecurrenceScheduler(h.jobs, NewAudienceResolver(h.leads), h.dispatcher, 1)

	report, err := h.scheduler.RunDueJobs(ctx, h.clock.Now(), 10, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Jobs[0].Skipped)
	assert.Equal(t, 1, report.MessagesSent)

	for _, m := range h.messages.all() {
		assert.NotEqual(t, phoneAsha, m.PhoneNumber)
	}
	require.Len(t, h.messages.all(), 1)
	assert.Equal(t, phoneDev, h.messages.all()[0].PhoneNumber)
}

func TestRunDueJobs_RateLimitedRecordsTerminalFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(domain.Lead{ID: 1, PhoneNumber: phoneAsha, Status: "new"})
	h.limiter.deny[phoneAsha] = "daily limit reached"
	h.jobs = newFakeJobStore(dailyJob(12, h.clock.Now(), 1))
	h.scheduler = NewRecurrenceScheduler(h.jobs, NewAudienceResolver(h.leads), h.dispatcher, 1)

	report, err := h.scheduler.RunDueJobs(ctx, h.clock.Now(), 10, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, report.MessagesFailed)
	assert.Empty(t, h.sender.sent)

	records := h.messages.all()
	require.Len(t, records, 1)
	assert.Equal(t, domain.StatusFailed, records[0].Status)
	assert.True(t, records[0].Terminal())
	assert.Equal(t, ErrorCodeRateLimited, records[0].LastError().Code)
	assert.Equal(t, "daily limit reached", records[0].LastError().Message)
}

func TestRunDueJobs_ProviderFailureIsRecordedNotRaised(t *testing.T) {
	ctx := context.Background()
	h := newHarness(domain.Lead{ID: 1, PhoneNumber: phoneAsha, Status: "new"})
	h.sender.fail = errProviderDown
	h.jobs = newFakeJobStore(dailyJob(13, h.clock.Now(), 1))
	h.scheduler = NewRecurrenceScheduler(h.jobs, NewAudienceResolver(h.leads), h.dispatcher, 1)

	report, err := h.scheduler.RunDueJobs(ctx, h.clock.Now(), 10, 100)
	require.NoError(t, err)
	assert.True(t, report.Jobs[0].OK)
	assert.Equal(t, 1, report.MessagesFailed)

	records := h.messages.all()
	require.Len(t, records, 1)
	assert.Equal(t, domain.StatusFailed, records[0].Status)
	assert.Equal(t, 1, records[0].RetryCount)
	assert.Equal(t, "send_error", records[0].LastError().Code)
	assert.Equal(t, 1, h.jobs.job(13).RunCount)
}

func TestRunDueJobs_JobErrorKeepsScheduleAndContinues(t *testing.T) {
	ctx := context.Background()
	h := newHarness(domain.Lead{ID: 1, PhoneNumber: phoneAsha, Status: "new"})

	now := h.clock.Now()
	broken := dailyJob(20, now.Add(-time.Hour), 1)
	broken.TargetType = domain.TargetType("segment")
	healthy := dailyJob(21, now, 1)
	h.jobs = newFakeJobStore(broken, healthy)
	h.scheduler = NewRecurrenceScheduler(h.jobs, NewAudienceResolver(h.leads), h.dispatcher, 2)

	report, err := h.scheduler.RunDueJobs(ctx, now, 10, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, report.JobsScanned)
	assert.Equal(t, 1, report.JobsExecuted)
	assert.Equal(t, 1, report.Errored())

	require.Len(t, report.Jobs, 2)
	assert.Equal(t, int64(20), report.Jobs[0].JobID)
	assert.False(t, report.Jobs[0].OK)

	b := h.jobs.job(20)
	require.NotNil(t, b.LastError)
	assert.Contains(t, *b.LastError, "unknown target type")
	assert.Equal(t, now.Add(-time.Hour), *b.NextRunAt)
	assert.Zero(t, b.RunCount)

	assert.Equal(t, 1, h.jobs.job(21).RunCount)
}

func TestRunDueJobs_RescheduleFailureLeavesJobDue(t *testing.T) {
	ctx := context.Background()
	h := newHarness(domain.Lead{ID: 1, PhoneNumber: phoneAsha, Status: "new"})
	h.jobs = newFakeJobStore(dailyJob(30, h.clock.Now(), 1))
	h.jobs.runErr[30] = errors.New("deadlock")
	h.scheduler = NewRecurrenceScheduler(h.jobs, NewAudienceResolver(h.leads), h.dispatcher, 1)

	report, err := h.scheduler.RunDueJobs(ctx, h.clock.Now(), 10, 100)
	require.NoError(t, err)
	assert.False(t, report.Jobs[0].OK)
	assert.Contains(t, report.Jobs[0].Error, "deadlock")
	assert.Equal(t, domain.JobActive, h.jobs.job(30).Status)
}

func TestRunDueJobs_NonTextIsQueuedAndHandedOff(t *testing.T) {
	ctx := context.Background()
	h := newHarness(domain.Lead{ID: 1, PhoneNumber: phoneAsha, Status: "new"})
	job := dailyJob(40, h.clock.Now(), 1)
	job.MessageType = "image"
	job.Recurrence = domain.Recurrence{Frequency: domain.FrequencyNone}
	h.jobs = newFakeJobStore(job)
	h.scheduler = NewRecurrenceScheduler(h.jobs, NewAudienceResolver(h.leads), h.dispatcher, 1)

	report, err := h.scheduler.RunDueJobs(ctx, h.clock.Now(), 10, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, report.MessagesQueued)
	assert.Empty(t, h.sender.sent)

	records := h.messages.all()
	require.Len(t, records, 1)
	assert.Equal(t, domain.StatusQueued, records[0].Status)
	assert.Equal(t, []string{records[0].ID}, h.media.ids)

	done := h.jobs.job(40)
	assert.Equal(t, domain.JobCompleted, done.Status)
	assert.Nil(t, done.NextRunAt)
}

func TestRunDueJobs_ListFailure(t *testing.T) {
	h := newHarness()
	h.jobs.findErr = errors.New("connection refused")

	_, err := h.scheduler.RunDueJobs(context.Background(), h.clock.Now(), 10, 100)
	assert.Error(t, err)
}

func TestAudienceResolver_Caps(t *testing.T) {
	ctx := context.Background()
	leads := newFakeLeadStore(
		domain.Lead{ID: 1, PhoneNumber: phoneAsha, Status: "new"},
		domain.Lead{ID: 2, PhoneNumber: phoneDev, Status: "prospect"},
		domain.Lead{ID: 3, PhoneNumber: "+14155552671", Status: "new"},
	)
	r := NewAudienceResolver(leads)

	got, err := r.Resolve(ctx, domain.TargetExplicit, domain.TargetSpec{LeadIDs: domain.Int64List{3, 1, 2}}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].ID)
	assert.Equal(t, int64(1), got[1].ID)

	got, err = r.Resolve(ctx, domain.TargetFilter, domain.TargetSpec{Filter: domain.LeadFilter{Statuses: []string{"new"}}}, 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = r.Resolve(ctx, domain.TargetFilter, domain.TargetSpec{Filter: domain.LeadFilter{WorkshopName: "Nope"}}, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = r.Resolve(ctx, domain.TargetExplicit, domain.TargetSpec{}, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
