package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store persists jobs in Postgres.
type Store struct {
	db *sql.DB
}

// NewStore creates a job store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobColumns = `
	id, company_id, COALESCE(contact_id, ''), COALESCE(to_email, ''), kind, COALESCE(template_id, ''),
	COALESCE(rule_id, ''), COALESCE(schedule_id, ''), COALESCE(blast_id, ''),
	step_index, scheduled_for, next_attempt_at, attempts, max_attempts,
	status, COALESCE(last_error, ''), COALESCE(provider_message_id, ''),
	sent_at, COALESCE(canceled_reason, ''), COALESCE(claimed_by, ''),
	claimed_at, COALESCE(meta::text, '{}'), created_at, updated_at`

func scanJob(s interface{ Scan(...any) error }) (*Job, error) {
	var j Job
	var metaRaw string
	if err := s.Scan(
		&j.ID, &j.CompanyID, &j.ContactID, &j.ToEmail, &j.Kind, &j.TemplateID,
		&j.RuleID, &j.ScheduleID, &j.BlastID,
		&j.StepIndex, &j.ScheduledFor, &j.NextAttemptAt, &j.Attempts, &j.MaxAttempts,
		&j.Status, &j.LastError, &j.ProviderMessageID,
		&j.SentAt, &j.CanceledReason, &j.ClaimedBy,
		&j.ClaimedAt, &metaRaw, &j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if metaRaw != "" && metaRaw != "{}" {
		if err := json.Unmarshal([]byte(metaRaw), &j.Meta); err != nil {
			return nil, fmt.Errorf("decode job meta: %w", err)
		}
	}
	return &j, nil
}

// Enqueue inserts a new queued job. Missing id, scheduling fields and
// attempt bounds get defaults.
func (s *Store) Enqueue(ctx context.Context, j *Job) error {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.Status == "" {
		j.Status = StatusQueued
	}
	if j.MaxAttempts == 0 {
		j.MaxAttempts = DefaultMaxAttempts
	}
	now := time.Now().UTC()
	if j.ScheduledFor.IsZero() {
		j.ScheduledFor = now
	}
	if j.NextAttemptAt.IsZero() {
		j.NextAttemptAt = j.ScheduledFor
	}

	metaJSON := []byte("{}")
	if j.Meta != nil {
		var err error
		metaJSON, err = json.Marshal(j.Meta)
		if err != nil {
			return fmt.Errorf("encode job meta: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_jobs (
			id, company_id, contact_id, to_email, kind, template_id,
			rule_id, schedule_id, blast_id, step_index,
			scheduled_for, next_attempt_at, attempts, max_attempts,
			status, meta, created_at, updated_at
		) VALUES (
			$1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, NULLIF($6, ''),
			NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), $10,
			$11, $12, 0, $13, $14, $15, NOW(), NOW()
		)`,
		j.ID, j.CompanyID, j.ContactID, j.ToEmail, j.Kind, j.TemplateID,
		j.RuleID, j.ScheduleID, j.BlastID, j.StepIndex,
		j.ScheduledFor, j.NextAttemptAt, j.MaxAttempts,
		j.Status, string(metaJSON),
	)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// Claim atomically moves up to limit due jobs from queued to
// processing for this worker. Due means scheduled_for and
// next_attempt_at have both passed and the job is not parked behind a
// held reason. One statement, so concurrent workers never double-claim.
func (s *Store) Claim(ctx context.Context, workerID string, limit int) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH claimed AS (
			UPDATE email_jobs
			SET
				status = 'processing',
				attempts = attempts + 1,
				claimed_by = $1,
				claimed_at = NOW(),
				updated_at = NOW()
			WHERE id IN (
				SELECT j.id FROM email_jobs j
				WHERE j.status = 'queued'
				  AND j.scheduled_for <= NOW()
				  AND j.next_attempt_at <= NOW()
				  AND (j.last_error IS NULL OR j.last_error <> ALL($3))
				ORDER BY j.scheduled_for ASC, j.created_at ASC
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)
			RETURNING *
		)
		SELECT `+jobColumns+` FROM claimed`,
		workerID, limit, pq.Array(HeldReasons),
	)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	defer rows.Close()

	var claimed []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed job: %w", err)
		}
		claimed = append(claimed, j)
	}
	return claimed, rows.Err()
}

// RequeueStale returns processing jobs whose claim is older than
// staleAge to the queue. The claim increment stands, so a crash loop
// still runs out of attempts eventually.
func (s *Store) RequeueStale(ctx context.Context, staleAge time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE email_jobs
		SET status = 'queued',
		    next_attempt_at = NOW() + INTERVAL '60 seconds',
		    last_error = $2,
		    claimed_by = NULL,
		    claimed_at = NULL,
		    updated_at = NOW()
		WHERE status = 'processing'
		  AND claimed_at < NOW() - $1::interval`,
		fmt.Sprintf("%d milliseconds", staleAge.Milliseconds()),
		ReasonStaleProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// MarkSent finalizes a processing job this worker owns.
func (s *Store) MarkSent(ctx context.Context, jobID, workerID, providerMessageID string) error {
	if _, err := Transition(StatusProcessing, EventSend); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE email_jobs
		SET status = 'sent',
		    provider_message_id = NULLIF($3, ''),
		    sent_at = NOW(),
		    last_error = NULL,
		    claimed_by = NULL,
		    claimed_at = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'processing' AND claimed_by = $2`,
		jobID, workerID, providerMessageID,
	)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return requireOwned(res)
}

// MarkFailed moves a processing job to failed with a reason code and
// truncated error text.
func (s *Store) MarkFailed(ctx context.Context, jobID, workerID, reason, errText string) error {
	if !ValidReason(reason) {
		return fmt.Errorf("%w: %s", ErrInvalidReason, reason)
	}
	if _, err := Transition(StatusProcessing, EventFail); err != nil {
		return err
	}
	msg := reason
	if errText != "" {
		msg = TruncateError(reason + ": " + errText)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE email_jobs
		SET status = 'failed',
		    last_error = $3,
		    claimed_by = NULL,
		    claimed_at = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'processing' AND claimed_by = $2`,
		jobID, workerID, msg,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return requireOwned(res)
}

// MarkSkipped moves a processing job to skipped.
func (s *Store) MarkSkipped(ctx context.Context, jobID, workerID, reason string) error {
	if !ValidReason(reason) {
		return fmt.Errorf("%w: %s", ErrInvalidReason, reason)
	}
	if _, err := Transition(StatusProcessing, EventSkip); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE email_jobs
		SET status = 'skipped',
		    last_error = $3,
		    claimed_by = NULL,
		    claimed_at = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'processing' AND claimed_by = $2`,
		jobID, workerID, reason,
	)
	if err != nil {
		return fmt.Errorf("mark skipped: %w", err)
	}
	return requireOwned(res)
}

// MarkCanceled cancels a processing job this worker owns.
func (s *Store) MarkCanceled(ctx context.Context, jobID, workerID, reason string) error {
	if !ValidReason(reason) {
		return fmt.Errorf("%w: %s", ErrInvalidReason, reason)
	}
	if _, err := Transition(StatusProcessing, EventCancel); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE email_jobs
		SET status = 'canceled',
		    canceled_reason = $3,
		    claimed_by = NULL,
		    claimed_at = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'processing' AND claimed_by = $2`,
		jobID, workerID, reason,
	)
	if err != nil {
		return fmt.Errorf("mark canceled: %w", err)
	}
	return requireOwned(res)
}

// RequeueGateBlocked returns a claimed job to the queue because a gate
// blocked it. The claim-time attempt increment is given back so gates
// never consume retry budget. When rescheduleTo is non-nil the job's
// scheduled_for moves as well (send-window adjustment).
func (s *Store) RequeueGateBlocked(ctx context.Context, jobID, workerID, reason string, nextAttemptAt time.Time, rescheduleTo *time.Time) error {
	if !ValidReason(reason) {
		return fmt.Errorf("%w: %s", ErrInvalidReason, reason)
	}
	if _, err := Transition(StatusProcessing, EventRequeue); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE email_jobs
		SET status = 'queued',
		    attempts = GREATEST(attempts - 1, 0),
		    last_error = $3,
		    next_attempt_at = $4,
		    scheduled_for = COALESCE($5, scheduled_for),
		    claimed_by = NULL,
		    claimed_at = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'processing' AND claimed_by = $2`,
		jobID, workerID, reason, nextAttemptAt, rescheduleTo,
	)
	if err != nil {
		return fmt.Errorf("requeue gate-blocked: %w", err)
	}
	return requireOwned(res)
}

// RequeueProviderError returns a claimed job to the queue after a
// provider failure. The attempt increment stands.
func (s *Store) RequeueProviderError(ctx context.Context, jobID, workerID, errText string, nextAttemptAt time.Time) error {
	if _, err := Transition(StatusProcessing, EventRequeue); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE email_jobs
		SET status = 'queued',
		    last_error = $3,
		    next_attempt_at = $4,
		    claimed_by = NULL,
		    claimed_at = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'processing' AND claimed_by = $2`,
		jobID, workerID, TruncateError(ReasonProviderError+": "+errText), nextAttemptAt,
	)
	if err != nil {
		return fmt.Errorf("requeue provider error: %w", err)
	}
	return requireOwned(res)
}

// ErrNotOwned means a conditional write matched nothing: the job moved
// on (stale recovery, cancel) between claim and write.
var ErrNotOwned = fmt.Errorf("jobs: job not in expected state for this worker")

func requireOwned(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotOwned
	}
	return nil
}

// GetByID fetches one job, nil when absent.
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM email_jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// CountSentBetween counts a company's sent jobs with sent_at in
// [from, to). Used for daily caps and bounce-rate denominators.
func (s *Store) CountSentBetween(ctx context.Context, companyID string, from, to time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM email_jobs
		WHERE company_id = $1 AND status = 'sent'
		  AND sent_at >= $2 AND sent_at < $3`,
		companyID, from, to,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sent: %w", err)
	}
	return n, nil
}

// CountSentSince counts a company's sends since the given instant.
// Rate-limit fallback when Redis is not configured.
func (s *Store) CountSentSince(ctx context.Context, companyID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM email_jobs
		WHERE company_id = $1 AND status = 'sent' AND sent_at >= $2`,
		companyID, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sent since: %w", err)
	}
	return n, nil
}

// CancelQueuedByBlast cancels every queued job belonging to a blast.
// Jobs already processing finish or cancel at the worker's blast check.
func (s *Store) CancelQueuedByBlast(ctx context.Context, blastID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE email_jobs
		SET status = 'canceled', canceled_reason = $2, updated_at = NOW()
		WHERE blast_id = $1 AND status = 'queued'`,
		blastID, ReasonBlastCanceled,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel blast jobs: %w", err)
	}
	return res.RowsAffected()
}

// CancelQueuedScheduleJobs cancels all queued schedule-kind jobs for a
// contact, recording why.
func (s *Store) CancelQueuedScheduleJobs(ctx context.Context, contactID, reason string) (int64, error) {
	if !ValidReason(reason) {
		return 0, fmt.Errorf("%w: %s", ErrInvalidReason, reason)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE email_jobs
		SET status = 'canceled', canceled_reason = $2, updated_at = NOW()
		WHERE contact_id = $1 AND kind = 'schedule' AND status = 'queued'`,
		contactID, reason,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel schedule jobs: %w", err)
	}
	return res.RowsAffected()
}

// HoldQueuedForCompany parks all of a company's queued jobs behind a
// held reason without touching their schedule.
func (s *Store) HoldQueuedForCompany(ctx context.Context, companyID, reason string) (int64, error) {
	if !ValidReason(reason) {
		return 0, fmt.Errorf("%w: %s", ErrInvalidReason, reason)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE email_jobs
		SET last_error = $2, updated_at = NOW()
		WHERE company_id = $1 AND status = 'queued'`,
		companyID, reason,
	)
	if err != nil {
		return 0, fmt.Errorf("hold queued jobs: %w", err)
	}
	return res.RowsAffected()
}

// ReleaseHeldForCompany clears a held reason from the company's queued
// jobs so they become claimable again.
func (s *Store) ReleaseHeldForCompany(ctx context.Context, companyID, reason string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE email_jobs
		SET last_error = NULL, updated_at = NOW()
		WHERE company_id = $1 AND status = 'queued' AND last_error = $2`,
		companyID, reason,
	)
	if err != nil {
		return 0, fmt.Errorf("release held jobs: %w", err)
	}
	return res.RowsAffected()
}

// HasRecentJobForRule reports whether the contact already has a live
// or sent job for this automation rule created since the cutoff.
// Backs trigger cooldowns.
func (s *Store) HasRecentJobForRule(ctx context.Context, contactID, ruleID string, since time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM email_jobs
			WHERE contact_id = $1 AND rule_id = $2
			  AND status IN ('queued', 'processing', 'sent')
			  AND created_at >= $3
		)`,
		contactID, ruleID, since,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check rule cooldown: %w", err)
	}
	return exists, nil
}

// ApplyProviderEvent marks jobs matched by id or provider message id
// with a provider event reason. Only sent or processing jobs qualify;
// status moves to failed only when fail is set (bounce, spam report).
func (s *Store) ApplyProviderEvent(ctx context.Context, jobID, providerMessageID, reason string, fail bool) (int64, error) {
	if !ValidReason(reason) {
		return 0, fmt.Errorf("%w: %s", ErrInvalidReason, reason)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE email_jobs
		SET last_error = $3,
		    status = CASE WHEN $4 THEN 'failed' ELSE status END,
		    updated_at = NOW()
		WHERE status IN ('sent', 'processing')
		  AND ((NULLIF($1, '') IS NOT NULL AND id = $1::uuid)
		       OR (NULLIF($2, '') IS NOT NULL AND provider_message_id = $2))`,
		jobID, providerMessageID, reason, fail,
	)
	if err != nil {
		return 0, fmt.Errorf("apply provider event: %w", err)
	}
	return res.RowsAffected()
}

// BlockedGroup is one reason bucket in the blocked-jobs report.
type BlockedGroup struct {
	Reason      string     `json:"reason"`
	Count       int        `json:"count"`
	NextAttempt *time.Time `json:"nextAttempt,omitempty"`
}

// BlockedSummary groups a company's queued jobs that carry a blocking
// reason, with the earliest next attempt per bucket.
func (s *Store) BlockedSummary(ctx context.Context, companyID string) ([]BlockedGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT last_error, COUNT(*), MIN(next_attempt_at)
		FROM email_jobs
		WHERE company_id = $1 AND status = 'queued' AND last_error IS NOT NULL
		GROUP BY last_error
		ORDER BY COUNT(*) DESC`,
		companyID,
	)
	if err != nil {
		return nil, fmt.Errorf("blocked summary: %w", err)
	}
	defer rows.Close()

	var groups []BlockedGroup
	for rows.Next() {
		var g BlockedGroup
		if err := rows.Scan(&g.Reason, &g.Count, &g.NextAttempt); err != nil {
			return nil, fmt.Errorf("scan blocked group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}
