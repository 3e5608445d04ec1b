package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/keepup-email-engine/internal/automation"
	"github.com/ignite/keepup-email-engine/internal/blast"
	"github.com/ignite/keepup-email-engine/internal/company"
	"github.com/ignite/keepup-email-engine/internal/config"
	"github.com/ignite/keepup-email-engine/internal/contacts"
	"github.com/ignite/keepup-email-engine/internal/jobs"
	"github.com/ignite/keepup-email-engine/internal/provider"
	"github.com/ignite/keepup-email-engine/internal/settings"
	"github.com/ignite/keepup-email-engine/internal/suppression"
	"github.com/ignite/keepup-email-engine/internal/template"
)

// Tuesday 10:00 in the default company timezone, inside the default
// Monday-to-Friday 09:00-17:00 window.
func tuesdayMorning(t *testing.T) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	return time.Date(2026, 3, 10, 10, 0, 0, 0, loc)
}

func setupProcessor(t *testing.T) (*Processor, sqlmock.Sqlmock, *provider.MockSender, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	jobsStore := jobs.NewStore(db)
	sender := provider.NewMockSender()
	codec := suppression.NewTokenCodec("test-secret")

	p := NewProcessor(Deps{
		Jobs:         jobsStore,
		Contacts:     contacts.NewStore(db),
		Suppressions: suppression.NewStore(db),
		Settings:     settings.NewStore(db),
		Companies:    company.NewStore(db),
		Rules:        automation.NewStore(db),
		Blasts:       blast.NewStore(db),
		Templates:    template.NewStore(db),
		Renderer:     template.NewRenderer(),
		Unsubscribe:  suppression.NewURLBuilder(codec, "https://mail.example.com"),
		Sender:       sender,
		Limiter:      NewRateLimiter(nil, jobsStore),
		Sending: config.SendingConfig{
			Enabled:   true,
			FromName:  "KeepUp",
			FromEmail: "hello@mail.example.com",
		},
		MaxAttempts: 3,
		WorkerID:    "worker-test",
	})
	p.now = func() time.Time { return tuesdayMorning(t) }
	p.jitter = func(min, max time.Duration) time.Duration { return min }

	return p, mock, sender, func() { db.Close() }
}

func queuedJob(kind jobs.Kind) *jobs.Job {
	return &jobs.Job{
		ID:          "job-1",
		CompanyID:   "comp-1",
		ContactID:   "contact-1",
		Kind:        kind,
		TemplateID:  "tpl-1",
		Attempts:    1,
		MaxAttempts: 3,
		Status:      jobs.StatusProcessing,
	}
}

func workerContactRow(c *contacts.Contact) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "company_id", "realtor_id", "community_id",
		"first_name", "last_name", "email", "phone", "status",
		"do_not_email", "paused", "tags", "follow_up_schedule_id", "updated_at",
	}).AddRow(c.ID, c.CompanyID, c.RealtorID, c.CommunityID,
		c.FirstName, c.LastName, c.Email, c.Phone, c.Status,
		c.DoNotEmail, c.Paused, "{}", c.FollowUpScheduleID, time.Now())
}

func workerTemplateRow(tpl *template.Template) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "company_id", "name", "subject", "html", "text_body",
		"preview_text", "active", "created_at", "updated_at",
	}).AddRow(tpl.ID, tpl.CompanyID, tpl.Name, tpl.Subject, tpl.HTML, tpl.Text,
		tpl.PreviewText, tpl.Active, time.Now(), time.Now())
}

func companyStateRow(companyID string, paused bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"company_id", "paused", "paused_at", "paused_by", "pause_reason",
		"pause_meta", "warmup_enabled", "warmup_started_at", "warmup_ended_at",
		"warmup_days_total", "warmup_schedule", "updated_at",
	}).AddRow(companyID, paused, nil, "", "", "{}", false, nil, nil, 0, "[]", time.Now())
}

func expectContact(mock sqlmock.Sqlmock, c *contacts.Contact) {
	mock.ExpectQuery(`FROM contacts WHERE id`).WillReturnRows(workerContactRow(c))
}

func expectNoSuppressions(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`SELECT email FROM suppressions`).
		WillReturnRows(sqlmock.NewRows([]string{"email"}))
}

func expectActiveTemplate(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`FROM email_templates WHERE id`).
		WillReturnRows(workerTemplateRow(&template.Template{
			ID: "tpl-1", CompanyID: "comp-1", Name: "Welcome",
			Subject: "Hi {{firstName}}", HTML: "<p>Hello {{firstName}}</p>", Active: true,
		}))
}

func expectDefaultPolicy(mock sqlmock.Sqlmock, sentToday int) {
	// No saved state or settings rows; both fall back to defaults.
	mock.ExpectQuery(`FROM company_email_state`).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`FROM email_settings`).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM email_jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(sentToday))
}

func expectRateOK(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM email_jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
}

func TestProcessSendsJob(t *testing.T) {
	p, mock, sender, cleanup := setupProcessor(t)
	defer cleanup()

	expectContact(mock, &contacts.Contact{
		ID: "contact-1", CompanyID: "comp-1", FirstName: "Dana",
		Email: "dana@example.com", Status: "New",
	})
	expectNoSuppressions(mock)
	expectActiveTemplate(mock)
	expectDefaultPolicy(mock, 0)
	expectRateOK(mock)
	mock.ExpectExec(`UPDATE email_jobs\s+SET status = 'sent'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := p.Process(context.Background(), newTickCache(), queuedJob(jobs.KindManual))
	require.NoError(t, err)

	require.Equal(t, 1, sender.SentCount())
	msg := sender.Sent[0]
	assert.Equal(t, "dana@example.com", msg.To)
	assert.Equal(t, "hello@mail.example.com", msg.FromEmail)
	assert.Equal(t, "Hi Dana", msg.Subject)
	assert.Contains(t, msg.HTML, "Hello Dana")
	assert.NotEmpty(t, msg.Headers["List-Unsubscribe"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessUsesCompanySenderIdentity(t *testing.T) {
	p, mock, sender, cleanup := setupProcessor(t)
	defer cleanup()

	expectContact(mock, &contacts.Contact{
		ID: "contact-1", CompanyID: "comp-1", Email: "dana@example.com",
	})
	expectNoSuppressions(mock)
	expectActiveTemplate(mock)
	mock.ExpectQuery(`FROM company_email_state`).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`FROM email_settings`).WillReturnRows(sqlmock.NewRows([]string{
		"company_id", "timezone", "allowed_days", "allowed_start_time", "allowed_end_time",
		"quiet_hours_enabled", "daily_cap", "rate_limit_per_minute", "unsubscribe_behavior",
		"bounce_monitor_enabled", "bounce_rate_threshold", "bounce_min_sent",
		"pause_on_spam_report", "from_name", "from_email", "reply_to", "updated_at",
	}).AddRow("comp-1", "America/Chicago", "{1,2,3,4,5}", "09:00", "17:00",
		true, 200, 30, "do_not_email", true, 0.05, 50, true,
		"Lakeside Homes", "sales@lakeside.example.com", "", time.Now()))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM email_jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	expectRateOK(mock)
	mock.ExpectExec(`UPDATE email_jobs\s+SET status = 'sent'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := p.Process(context.Background(), newTickCache(), queuedJob(jobs.KindManual))
	require.NoError(t, err)

	require.Equal(t, 1, sender.SentCount())
	msg := sender.Sent[0]
	assert.Equal(t, "Lakeside Homes", msg.FromName)
	assert.Equal(t, "sales@lakeside.example.com", msg.FromEmail)
	assert.Equal(t, "sales@lakeside.example.com", msg.ReplyTo)
}

func TestProcessFailsMissingRecipient(t *testing.T) {
	p, mock, sender, cleanup := setupProcessor(t)
	defer cleanup()

	job := queuedJob(jobs.KindManual)
	job.ContactID = ""
	job.ToEmail = ""
	mock.ExpectExec(`UPDATE email_jobs\s+SET status = 'failed'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, p.Process(context.Background(), newTickCache(), job))
	assert.Equal(t, 0, sender.SentCount())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessSkipsSuppressed(t *testing.T) {
	p, mock, sender, cleanup := setupProcessor(t)
	defer cleanup()

	expectContact(mock, &contacts.Contact{
		ID: "contact-1", CompanyID: "comp-1", Email: "Dana@Example.com",
	})
	mock.ExpectQuery(`SELECT email FROM suppressions`).
		WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("dana@example.com"))
	mock.ExpectExec(`UPDATE email_jobs\s+SET status = 'skipped'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, p.Process(context.Background(), newTickCache(), queuedJob(jobs.KindManual)))
	assert.Equal(t, 0, sender.SentCount())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessSkipsPausedContact(t *testing.T) {
	p, mock, _, cleanup := setupProcessor(t)
	defer cleanup()

	expectContact(mock, &contacts.Contact{
		ID: "contact-1", CompanyID: "comp-1", Email: "dana@example.com", Paused: true,
	})
	expectNoSuppressions(mock)
	mock.ExpectExec(`UPDATE email_jobs\s+SET status = 'skipped'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, p.Process(context.Background(), newTickCache(), queuedJob(jobs.KindManual)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessStopStatusSkipsScheduleJob(t *testing.T) {
	p, mock, _, cleanup := setupProcessor(t)
	defer cleanup()

	expectContact(mock, &contacts.Contact{
		ID: "contact-1", CompanyID: "comp-1", Email: "dana@example.com", Status: "Closed",
	})
	expectNoSuppressions(mock)
	mock.ExpectExec(`UPDATE email_jobs\s+SET status = 'skipped'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job := queuedJob(jobs.KindSchedule)
	job.ScheduleID = "sched-1"
	// stopOnStatuses round-trips through the meta JSON column.
	job.Meta = map[string]any{"stopOnStatuses": []any{"closed", "Lost"}}

	require.NoError(t, p.Process(context.Background(), newTickCache(), job))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessCancelsDisabledRule(t *testing.T) {
	p, mock, _, cleanup := setupProcessor(t)
	defer cleanup()

	expectContact(mock, &contacts.Contact{
		ID: "contact-1", CompanyID: "comp-1", Email: "dana@example.com", Status: "Hot",
	})
	expectNoSuppressions(mock)
	mock.ExpectQuery(`FROM automation_rules WHERE id`).
		WillReturnRows(workerRuleRow(t, &automation.Rule{
			ID: "rule-1", CompanyID: "comp-1", Name: "Hot lead", Enabled: false,
		}))
	mock.ExpectExec(`UPDATE email_jobs\s+SET status = 'canceled'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job := queuedJob(jobs.KindAutomation)
	job.RuleID = "rule-1"

	require.NoError(t, p.Process(context.Background(), newTickCache(), job))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessSkipsStaleStatus(t *testing.T) {
	p, mock, _, cleanup := setupProcessor(t)
	defer cleanup()

	expectContact(mock, &contacts.Contact{
		ID: "contact-1", CompanyID: "comp-1", Email: "dana@example.com", Status: "Cold",
	})
	expectNoSuppressions(mock)
	mock.ExpectQuery(`FROM automation_rules WHERE id`).
		WillReturnRows(workerRuleRow(t, &automation.Rule{
			ID: "rule-1", CompanyID: "comp-1", Name: "Hot lead", Enabled: true,
			TriggerConfig: automation.TriggerConfig{ToStatus: "Hot"},
		}))
	mock.ExpectExec(`UPDATE email_jobs\s+SET status = 'skipped'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job := queuedJob(jobs.KindAutomation)
	job.RuleID = "rule-1"
	job.Meta = map[string]any{"mustStillMatchAtSend": true}

	require.NoError(t, p.Process(context.Background(), newTickCache(), job))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessCancelsJobOfCanceledBlast(t *testing.T) {
	p, mock, _, cleanup := setupProcessor(t)
	defer cleanup()

	expectNoSuppressions(mock)
	mock.ExpectQuery(`FROM email_blasts WHERE`).
		WillReturnRows(workerBlastRow(t, "blast-1", blast.StatusCanceled))
	mock.ExpectExec(`UPDATE email_jobs\s+SET status = 'canceled'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job := queuedJob(jobs.KindBlast)
	job.ContactID = ""
	job.ToEmail = "dana@example.com"
	job.BlastID = "blast-1"

	require.NoError(t, p.Process(context.Background(), newTickCache(), job))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessFailsOnMissingTemplate(t *testing.T) {
	p, mock, _, cleanup := setupProcessor(t)
	defer cleanup()

	expectContact(mock, &contacts.Contact{
		ID: "contact-1", CompanyID: "comp-1", Email: "dana@example.com",
	})
	expectNoSuppressions(mock)
	mock.ExpectQuery(`FROM email_templates WHERE id`).WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`UPDATE email_jobs\s+SET status = 'failed'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, p.Process(context.Background(), newTickCache(), queuedJob(jobs.KindManual)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessHoldsWhenSendingDisabled(t *testing.T) {
	p, mock, _, cleanup := setupProcessor(t)
	defer cleanup()
	p.deps.Sending.Enabled = false

	expectContact(mock, &contacts.Contact{
		ID: "contact-1", CompanyID: "comp-1", Email: "dana@example.com",
	})
	expectNoSuppressions(mock)
	expectActiveTemplate(mock)
	mock.ExpectExec(`UPDATE email_jobs\s+SET status = 'queued'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, p.Process(context.Background(), newTickCache(), queuedJob(jobs.KindManual)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessHoldsWhenNotAllowlisted(t *testing.T) {
	p, mock, _, cleanup := setupProcessor(t)
	defer cleanup()
	p.deps.Sending.Allowlist = []string{"@keepup-staging.example.com", "qa@example.com"}

	expectContact(mock, &contacts.Contact{
		ID: "contact-1", CompanyID: "comp-1", Email: "dana@example.com",
	})
	expectNoSuppressions(mock)
	expectActiveTemplate(mock)
	mock.ExpectExec(`UPDATE email_jobs\s+SET status = 'queued'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, p.Process(context.Background(), newTickCache(), queuedJob(jobs.KindManual)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessHoldsWhenCompanyPaused(t *testing.T) {
	p, mock, _, cleanup := setupProcessor(t)
	defer cleanup()

	expectContact(mock, &contacts.Contact{
		ID: "contact-1", CompanyID: "comp-1", Email: "dana@example.com",
	})
	expectNoSuppressions(mock)
	expectActiveTemplate(mock)
	mock.ExpectQuery(`FROM company_email_state`).
		WillReturnRows(companyStateRow("comp-1", true))
	mock.ExpectExec(`UPDATE email_jobs\s+SET status = 'queued'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, p.Process(context.Background(), newTickCache(), queuedJob(jobs.KindManual)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessHoldsBlastWithoutUnsubscribeConfig(t *testing.T) {
	p, mock, _, cleanup := setupProcessor(t)
	defer cleanup()
	p.deps.Unsubscribe = suppression.NewURLBuilder(suppression.NewTokenCodec(""), "")

	expectNoSuppressions(mock)
	mock.ExpectQuery(`FROM email_blasts WHERE`).
		WillReturnRows(workerBlastRow(t, "blast-1", blast.StatusSending))
	expectActiveTemplate(mock)
	mock.ExpectQuery(`FROM company_email_state`).WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`UPDATE email_jobs\s+SET status = 'queued'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job := queuedJob(jobs.KindBlast)
	job.ContactID = ""
	job.ToEmail = "dana@example.com"
	job.BlastID = "blast-1"

	require.NoError(t, p.Process(context.Background(), newTickCache(), job))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessRequeuesOutsideSendWindow(t *testing.T) {
	p, mock, sender, cleanup := setupProcessor(t)
	defer cleanup()
	// Sunday is outside the default Monday-to-Friday window.
	p.now = func() time.Time { return tuesdayMorning(t).AddDate(0, 0, -2) }

	expectContact(mock, &contacts.Contact{
		ID: "contact-1", CompanyID: "comp-1", Email: "dana@example.com",
	})
	expectNoSuppressions(mock)
	expectActiveTemplate(mock)
	mock.ExpectQuery(`FROM company_email_state`).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`FROM email_settings`).WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`UPDATE email_jobs\s+SET status = 'queued'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, p.Process(context.Background(), newTickCache(), queuedJob(jobs.KindManual)))
	assert.Equal(t, 0, sender.SentCount())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessRequeuesAtDailyCap(t *testing.T) {
	p, mock, sender, cleanup := setupProcessor(t)
	defer cleanup()

	expectContact(mock, &contacts.Contact{
		ID: "contact-1", CompanyID: "comp-1", Email: "dana@example.com",
	})
	expectNoSuppressions(mock)
	expectActiveTemplate(mock)
	expectDefaultPolicy(mock, 200) // default cap is 200
	mock.ExpectExec(`UPDATE email_jobs\s+SET status = 'queued'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, p.Process(context.Background(), newTickCache(), queuedJob(jobs.KindManual)))
	assert.Equal(t, 0, sender.SentCount())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessRequeuesWhenRateLimited(t *testing.T) {
	p, mock, sender, cleanup := setupProcessor(t)
	defer cleanup()

	expectContact(mock, &contacts.Contact{
		ID: "contact-1", CompanyID: "comp-1", Email: "dana@example.com",
	})
	expectNoSuppressions(mock)
	expectActiveTemplate(mock)
	expectDefaultPolicy(mock, 0)
	// Rate fallback counter reports the default 30/min already spent.
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM email_jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(30))
	mock.ExpectExec(`UPDATE email_jobs\s+SET status = 'queued'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, p.Process(context.Background(), newTickCache(), queuedJob(jobs.KindManual)))
	assert.Equal(t, 0, sender.SentCount())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessRequeuesOnProviderError(t *testing.T) {
	p, mock, sender, cleanup := setupProcessor(t)
	defer cleanup()
	sender.Err = errors.New("connection reset")

	expectContact(mock, &contacts.Contact{
		ID: "contact-1", CompanyID: "comp-1", Email: "dana@example.com",
	})
	expectNoSuppressions(mock)
	expectActiveTemplate(mock)
	expectDefaultPolicy(mock, 0)
	expectRateOK(mock)
	mock.ExpectExec(`UPDATE email_jobs\s+SET status = 'queued'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, p.Process(context.Background(), newTickCache(), queuedJob(jobs.KindManual)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessFailsProviderErrorAtMaxAttempts(t *testing.T) {
	p, mock, sender, cleanup := setupProcessor(t)
	defer cleanup()
	sender.FailWith = "550 mailbox unavailable"

	expectContact(mock, &contacts.Contact{
		ID: "contact-1", CompanyID: "comp-1", Email: "dana@example.com",
	})
	expectNoSuppressions(mock)
	expectActiveTemplate(mock)
	expectDefaultPolicy(mock, 0)
	expectRateOK(mock)
	mock.ExpectExec(`UPDATE email_jobs\s+SET status = 'failed'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job := queuedJob(jobs.KindManual)
	job.Attempts = 3

	require.NoError(t, p.Process(context.Background(), newTickCache(), job))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTickCacheReusesCompanyLookups(t *testing.T) {
	p, mock, sender, cleanup := setupProcessor(t)
	defer cleanup()

	cache := newTickCache()

	for _, id := range []string{"job-1", "job-2"} {
		expectContact(mock, &contacts.Contact{
			ID: "contact-1", CompanyID: "comp-1", Email: "dana@example.com",
		})
		if id == "job-1" {
			// Company-level lookups happen once for the whole batch.
			expectNoSuppressions(mock)
			expectActiveTemplate(mock)
			expectDefaultPolicy(mock, 0)
		}
		expectRateOK(mock)
		mock.ExpectExec(`UPDATE email_jobs\s+SET status = 'sent'`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		job := queuedJob(jobs.KindManual)
		job.ID = id
		require.NoError(t, p.Process(context.Background(), cache, job))
	}

	assert.Equal(t, 2, sender.SentCount())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func workerRuleRow(t *testing.T, r *automation.Rule) *sqlmock.Rows {
	t.Helper()
	triggerJSON, err := json.Marshal(r.TriggerConfig)
	require.NoError(t, err)
	actionJSON, err := json.Marshal(r.Action)
	require.NoError(t, err)
	return sqlmock.NewRows([]string{
		"id", "company_id", "name", "enabled", "trigger_type",
		"trigger_config", "action", "created_by", "created_at", "updated_at",
	}).AddRow(r.ID, r.CompanyID, r.Name, r.Enabled, r.TriggerType,
		triggerJSON, actionJSON, "", time.Now(), time.Now())
}

func workerBlastRow(t *testing.T, id, status string) *sqlmock.Rows {
	t.Helper()
	audience, err := json.Marshal(blast.AudienceSnapshot{Type: blast.AudienceContacts})
	require.NoError(t, err)
	settingsSnap, err := json.Marshal(blast.SettingsSnapshot{Timezone: "America/Chicago"})
	require.NoError(t, err)
	return sqlmock.NewRows([]string{
		"id", "company_id", "name", "template_id", "request_id", "status", "send_mode",
		"scheduled_for", "audience", "settings_snapshot", "pacing_summary",
		"created_by", "created_at", "updated_at",
	}).AddRow(id, "comp-1", "Spring open house", "tpl-1", "", status, blast.SendNow,
		time.Now(), audience, settingsSnap, nil, "", time.Now(), time.Now())
}

func TestAllowlisted(t *testing.T) {
	cases := []struct {
		name      string
		allowlist []string
		email     string
		want      bool
	}{
		{"empty list allows all", nil, "anyone@example.com", true},
		{"exact match", []string{"qa@example.com"}, "qa@example.com", true},
		{"exact match is case-insensitive", []string{"qa@example.com"}, "QA@Example.COM", true},
		{"domain entry matches", []string{"@example.com"}, "dana@example.com", true},
		{"domain entry rejects others", []string{"@example.com"}, "dana@other.com", false},
		{"no match", []string{"qa@example.com"}, "dana@example.com", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, allowlisted(tc.allowlist, tc.email))
		})
	}
}

func TestMetaStrings(t *testing.T) {
	fromJSON := map[string]any{"stopOnStatuses": []any{"Closed", "Lost"}}
	assert.Equal(t, []string{"Closed", "Lost"}, metaStrings(fromJSON, "stopOnStatuses"))

	direct := map[string]any{"stopOnStatuses": []string{"Closed"}}
	assert.Equal(t, []string{"Closed"}, metaStrings(direct, "stopOnStatuses"))

	assert.Nil(t, metaStrings(nil, "stopOnStatuses"))
}

func TestStatusIn(t *testing.T) {
	assert.True(t, statusIn(" Closed ", []string{"closed"}))
	assert.False(t, statusIn("", []string{""}))
	assert.False(t, statusIn("New", []string{"Closed", "Lost"}))
}
