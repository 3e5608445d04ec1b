// Package worker claims queued email jobs and walks each one through
// the gate pipeline: recipient and policy checks first, then render
// and send. Every outcome is a conditional store write keyed on the
// claiming worker, so a job that was reclaimed or canceled mid-flight
// is left alone.
package worker

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/keepup-email-engine/internal/automation"
	"github.com/ignite/keepup-email-engine/internal/blast"
	"github.com/ignite/keepup-email-engine/internal/company"
	"github.com/ignite/keepup-email-engine/internal/config"
	"github.com/ignite/keepup-email-engine/internal/contacts"
	"github.com/ignite/keepup-email-engine/internal/jobs"
	"github.com/ignite/keepup-email-engine/internal/pkg/logger"
	"github.com/ignite/keepup-email-engine/internal/provider"
	"github.com/ignite/keepup-email-engine/internal/schedule"
	"github.com/ignite/keepup-email-engine/internal/settings"
	"github.com/ignite/keepup-email-engine/internal/suppression"
	"github.com/ignite/keepup-email-engine/internal/template"
	"github.com/ignite/keepup-email-engine/internal/warmup"
)

// Deps carries everything the processor needs. All stores share one
// *sql.DB; the split mirrors the package layout.
type Deps struct {
	Jobs         *jobs.Store
	Contacts     *contacts.Store
	Suppressions *suppression.Store
	Settings     *settings.Store
	Companies    *company.Store
	Rules        *automation.Store
	Blasts       *blast.Store
	Templates    *template.Store
	Renderer     *template.Renderer
	Unsubscribe  *suppression.URLBuilder
	Sender       provider.Sender
	Limiter      *RateLimiter

	Sending     config.SendingConfig
	MaxAttempts int
	WorkerID    string
}

// Processor decides the fate of one claimed job.
type Processor struct {
	deps     Deps
	workerID string

	// Overridable in tests.
	now    func() time.Time
	jitter func(min, max time.Duration) time.Duration
}

// NewProcessor builds a processor. A zero WorkerID gets a generated
// one; MaxAttempts of zero falls back to the queue default.
func NewProcessor(d Deps) *Processor {
	if d.WorkerID == "" {
		d.WorkerID = "worker-" + uuid.New().String()[:8]
	}
	if d.MaxAttempts <= 0 {
		d.MaxAttempts = jobs.DefaultMaxAttempts
	}
	return &Processor{
		deps:     d,
		workerID: d.WorkerID,
		now:      time.Now,
		jitter:   randomJitter,
	}
}

// WorkerID returns the claim identity this processor writes under.
func (p *Processor) WorkerID() string { return p.workerID }

// tickCache holds per-batch lookups. One cache is built per claim
// batch and thrown away with it; nothing here outlives a tick.
type tickCache struct {
	settings    map[string]*settings.Settings
	states      map[string]*company.State
	suppressed  map[string]map[string]struct{}
	caps        map[string]*warmup.CapCheck
	blastStatus map[string]string
	templates   map[string]*template.Template
}

func newTickCache() *tickCache {
	return &tickCache{
		settings:    make(map[string]*settings.Settings),
		states:      make(map[string]*company.State),
		suppressed:  make(map[string]map[string]struct{}),
		caps:        make(map[string]*warmup.CapCheck),
		blastStatus: make(map[string]string),
		templates:   make(map[string]*template.Template),
	}
}

func (p *Processor) settingsFor(ctx context.Context, c *tickCache, companyID string) (*settings.Settings, error) {
	if st, ok := c.settings[companyID]; ok {
		return st, nil
	}
	st, err := p.deps.Settings.GetForCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	c.settings[companyID] = st
	return st, nil
}

func (p *Processor) stateFor(ctx context.Context, c *tickCache, companyID string) (*company.State, error) {
	if st, ok := c.states[companyID]; ok {
		return st, nil
	}
	st, err := p.deps.Companies.Get(ctx, companyID)
	if err != nil {
		return nil, err
	}
	c.states[companyID] = st
	return st, nil
}

func (p *Processor) suppressedFor(ctx context.Context, c *tickCache, companyID string) (map[string]struct{}, error) {
	if set, ok := c.suppressed[companyID]; ok {
		return set, nil
	}
	set, err := p.deps.Suppressions.EmailSet(ctx, companyID)
	if err != nil {
		return nil, err
	}
	c.suppressed[companyID] = set
	return set, nil
}

func (p *Processor) capFor(ctx context.Context, c *tickCache, companyID string, st *settings.Settings, state *company.State, now time.Time) (*warmup.CapCheck, error) {
	if check, ok := c.caps[companyID]; ok {
		return check, nil
	}
	check, err := warmup.CheckDailyCap(ctx, p.deps.Jobs, state, st, now)
	if err != nil {
		return nil, err
	}
	c.caps[companyID] = check
	return check, nil
}

func (p *Processor) blastStatusFor(ctx context.Context, c *tickCache, companyID, blastID string) (string, error) {
	if status, ok := c.blastStatus[blastID]; ok {
		return status, nil
	}
	b, err := p.deps.Blasts.Get(ctx, companyID, blastID)
	if err != nil {
		return "", err
	}
	status := blast.StatusCanceled
	if b != nil {
		status = b.Status
	}
	c.blastStatus[blastID] = status
	return status, nil
}

func (p *Processor) templateFor(ctx context.Context, c *tickCache, templateID string) (*template.Template, error) {
	if tpl, ok := c.templates[templateID]; ok {
		return tpl, nil
	}
	tpl, err := p.deps.Templates.GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}
	c.templates[templateID] = tpl
	return tpl, nil
}

// Process runs the gate pipeline for one claimed job. A returned error
// means a lookup failed and the job was left in processing; stale
// recovery will requeue it with its attempt spent.
func (p *Processor) Process(ctx context.Context, c *tickCache, job *jobs.Job) error {
	now := p.now()

	// Gate 1: resolve the recipient.
	var contact *contacts.Contact
	var realtor *contacts.Realtor
	var err error
	if job.ContactID != "" {
		contact, err = p.deps.Contacts.GetContact(ctx, job.ContactID)
		if err != nil {
			return err
		}
	}
	if rid := metaString(job.Meta, "realtorId"); rid != "" {
		realtor, err = p.deps.Contacts.GetRealtor(ctx, rid)
		if err != nil {
			return err
		}
	} else if contact != nil && contact.RealtorID != "" {
		realtor, err = p.deps.Contacts.GetRealtor(ctx, contact.RealtorID)
		if err != nil {
			return err
		}
	}

	email := strings.TrimSpace(job.ToEmail)
	if contact != nil && strings.TrimSpace(contact.Email) != "" {
		email = strings.TrimSpace(contact.Email)
	}
	if email == "" {
		return p.fail(ctx, job, jobs.ReasonMissingRecipient, "no resolvable recipient address")
	}

	// Gate 2: suppression list.
	suppressed, err := p.suppressedFor(ctx, c, job.CompanyID)
	if err != nil {
		return err
	}
	if _, hit := suppressed[contacts.NormalizeEmail(email)]; hit {
		return p.skip(ctx, job, jobs.ReasonSuppressed)
	}

	// Gate 3: recipient-level pause.
	if contact != nil && contact.Paused {
		return p.skip(ctx, job, jobs.ReasonContactPaused)
	}
	if metaString(job.Meta, "recipientType") == "realtor" {
		if realtor == nil {
			return p.fail(ctx, job, jobs.ReasonMissingRecipient, "realtor record missing")
		}
		if realtor.Paused {
			return p.skip(ctx, job, jobs.ReasonRealtorPaused)
		}
	}

	// Gate 4: follow-up stop statuses.
	if job.Kind == jobs.KindSchedule && contact != nil {
		if statusIn(contact.Status, metaStrings(job.Meta, "stopOnStatuses")) {
			return p.skip(ctx, job, jobs.ReasonStopStatus)
		}
	}

	// Gate 5: automation rule still live and still matching.
	if job.Kind == jobs.KindAutomation && job.RuleID != "" {
		rule, err := p.deps.Rules.GetRule(ctx, job.RuleID)
		if err != nil {
			return err
		}
		if rule == nil || !rule.Enabled {
			return p.cancel(ctx, job, jobs.ReasonRuleDisabled)
		}
		if metaBool(job.Meta, "mustStillMatchAtSend") && contact != nil && !rule.MatchesStatus(contact.Status) {
			return p.skip(ctx, job, jobs.ReasonStaleStatus)
		}
	}

	// Gate 6: blast canceled between enqueue and claim.
	if job.Kind == jobs.KindBlast && job.BlastID != "" {
		status, err := p.blastStatusFor(ctx, c, job.CompanyID, job.BlastID)
		if err != nil {
			return err
		}
		if status == blast.StatusCanceled {
			return p.cancel(ctx, job, jobs.ReasonBlastCanceled)
		}
	}

	// Gate 7: template must exist and be active.
	tpl, err := p.templateFor(ctx, c, job.TemplateID)
	if err != nil {
		return err
	}
	if tpl == nil {
		return p.fail(ctx, job, jobs.ReasonTemplateMissing, "template "+job.TemplateID+" not found")
	}
	if !tpl.Active {
		return p.fail(ctx, job, jobs.ReasonTemplateInactive, "template "+job.TemplateID+" is inactive")
	}

	// Gate 8: global kill switch.
	if !p.deps.Sending.Enabled {
		return p.hold(ctx, job, jobs.ReasonSendingDisabled, now)
	}

	// Gate 9: allowlist.
	if !allowlisted(p.deps.Sending.Allowlist, email) {
		return p.hold(ctx, job, jobs.ReasonNotAllowlisted, now)
	}

	// Gate 10: company pause.
	state, err := p.stateFor(ctx, c, job.CompanyID)
	if err != nil {
		return err
	}
	if state.Paused {
		return p.hold(ctx, job, jobs.ReasonCompanyPaused, now)
	}

	// Gate 11: blasts never send without a working unsubscribe link.
	if job.Kind == jobs.KindBlast && !p.unsubscribeReady() {
		return p.hold(ctx, job, jobs.ReasonUnsubscribeConfigMissing, now)
	}

	st, err := p.settingsFor(ctx, c, job.CompanyID)
	if err != nil {
		return err
	}

	// Gate 12: send window.
	if !schedule.InAllowedWindow(now, st) {
		adjusted := schedule.AdjustToAllowedWindow(now, st)
		return p.requeue(ctx, job, jobs.ReasonOutsideSendWindow, adjusted, &adjusted)
	}

	// Gate 13: daily cap, warmup-aware.
	check, err := p.capFor(ctx, c, job.CompanyID, st, state, now)
	if err != nil {
		return err
	}
	if check.Blocked {
		next := schedule.NextDayRetryAt(now, st, p.jitter)
		return p.requeue(ctx, job, jobs.ReasonDailyCap, next, nil)
	}

	// Gate 14: per-minute rate.
	if p.deps.Limiter != nil {
		allowed, err := p.deps.Limiter.Allow(ctx, job.CompanyID, st.RateLimitPerMinute, now)
		if err != nil {
			return err
		}
		if !allowed {
			return p.requeue(ctx, job, jobs.ReasonRateLimited, now.Add(time.Minute), nil)
		}
	}

	// Gate 15: render and send.
	msg := p.buildMessage(job, tpl, contact, realtor, st, email, now)
	result, err := p.deps.Sender.Send(ctx, msg)

	// Gate 16: record the outcome.
	if err != nil {
		return p.retryOrFail(ctx, job, err.Error(), now)
	}
	if !result.Success {
		return p.retryOrFail(ctx, job, result.Error, now)
	}
	if err := p.deps.Jobs.MarkSent(ctx, job.ID, p.workerID, result.MessageID); err != nil {
		return p.reportWrite(job, err)
	}
	logger.Info("email sent",
		"jobId", job.ID, "companyId", job.CompanyID, "kind", string(job.Kind),
		"provider", result.Provider, "messageId", result.MessageID)
	return nil
}

func (p *Processor) unsubscribeReady() bool {
	return p.deps.Unsubscribe != nil && p.deps.Unsubscribe.Configured()
}

func (p *Processor) buildMessage(job *jobs.Job, tpl *template.Template, contact *contacts.Contact, realtor *contacts.Realtor, st *settings.Settings, email string, now time.Time) *provider.Message {
	data := contacts.MergeData(contact, realtor)

	subject := p.renderLax(tpl.Subject, data)
	html := p.renderLax(tpl.HTML, data)
	text := ""
	if tpl.Text != "" {
		text = p.renderLax(tpl.Text, data)
	}
	if tpl.PreviewText != "" {
		html = template.InjectPreviewText(html, p.renderLax(tpl.PreviewText, data))
	}

	headers := map[string]string{}
	if p.unsubscribeReady() {
		if unsubURL, err := p.deps.Unsubscribe.Build(job.CompanyID, email, now); err == nil {
			html, text = suppression.AppendFooter(html, text, unsubURL)
			headers = suppression.ListUnsubscribeHeaders(unsubURL)
		} else {
			logger.Warn("unsubscribe link build failed",
				"jobId", job.ID, "companyId", job.CompanyID, "error", err.Error())
		}
	}

	fromName, fromEmail, replyTo := p.senderIdentity(st)
	return &provider.Message{
		JobID:     job.ID,
		CompanyID: job.CompanyID,
		To:        email,
		FromName:  fromName,
		FromEmail: fromEmail,
		ReplyTo:   replyTo,
		Subject:   subject,
		HTML:      html,
		Text:      text,
		Headers:   headers,
	}
}

func (p *Processor) renderLax(body string, data map[string]any) string {
	res, err := p.deps.Renderer.RenderWithMode(body, data, template.RenderModeLax)
	if err != nil || res == nil {
		return body
	}
	return res.Output
}

// senderIdentity resolves the from and reply-to for a send: the
// company's configured identity when it set one, the platform identity
// otherwise. A company from address without an explicit reply-to
// replies to itself.
func (p *Processor) senderIdentity(st *settings.Settings) (fromName, fromEmail, replyTo string) {
	fromName = p.deps.Sending.FromName
	fromEmail = p.deps.Sending.FromEmail
	replyTo = p.deps.Sending.ReplyTo

	if st.FromEmail != "" {
		fromEmail = st.FromEmail
		replyTo = st.FromEmail
	}
	if st.FromName != "" {
		fromName = st.FromName
	}
	if st.ReplyTo != "" {
		replyTo = st.ReplyTo
	}
	if replyTo == "" {
		replyTo = fromEmail
	}
	return fromName, fromEmail, replyTo
}

func (p *Processor) maxAttemptsFor(job *jobs.Job) int {
	if job.MaxAttempts > 0 {
		return job.MaxAttempts
	}
	return p.deps.MaxAttempts
}

func (p *Processor) retryOrFail(ctx context.Context, job *jobs.Job, errText string, now time.Time) error {
	if job.Attempts >= p.maxAttemptsFor(job) {
		logger.Error("job failed after final attempt",
			"jobId", job.ID, "companyId", job.CompanyID, "attempts", job.Attempts, "error", errText)
		if err := p.deps.Jobs.MarkFailed(ctx, job.ID, p.workerID, jobs.ReasonProviderError, errText); err != nil {
			return p.reportWrite(job, err)
		}
		return nil
	}
	delay := schedule.RetryDelay(job.Attempts)
	logger.Warn("provider error, retrying",
		"jobId", job.ID, "companyId", job.CompanyID, "attempt", job.Attempts,
		"retryIn", delay.String(), "error", errText)
	if err := p.deps.Jobs.RequeueProviderError(ctx, job.ID, p.workerID, errText, now.Add(delay)); err != nil {
		return p.reportWrite(job, err)
	}
	return nil
}

func (p *Processor) fail(ctx context.Context, job *jobs.Job, reason, errText string) error {
	if err := p.deps.Jobs.MarkFailed(ctx, job.ID, p.workerID, reason, errText); err != nil {
		return p.reportWrite(job, err)
	}
	logger.Warn("job failed", "jobId", job.ID, "companyId", job.CompanyID, "reason", reason)
	return nil
}

func (p *Processor) skip(ctx context.Context, job *jobs.Job, reason string) error {
	if err := p.deps.Jobs.MarkSkipped(ctx, job.ID, p.workerID, reason); err != nil {
		return p.reportWrite(job, err)
	}
	logger.Info("job skipped", "jobId", job.ID, "companyId", job.CompanyID, "reason", reason)
	return nil
}

func (p *Processor) cancel(ctx context.Context, job *jobs.Job, reason string) error {
	if err := p.deps.Jobs.MarkCanceled(ctx, job.ID, p.workerID, reason); err != nil {
		return p.reportWrite(job, err)
	}
	logger.Info("job canceled", "jobId", job.ID, "companyId", job.CompanyID, "reason", reason)
	return nil
}

// hold requeues behind a held reason. The job stays unclaimable until
// an operator or a state change rewrites last_error.
func (p *Processor) hold(ctx context.Context, job *jobs.Job, reason string, now time.Time) error {
	return p.requeue(ctx, job, reason, now, nil)
}

func (p *Processor) requeue(ctx context.Context, job *jobs.Job, reason string, nextAttemptAt time.Time, rescheduleTo *time.Time) error {
	if err := p.deps.Jobs.RequeueGateBlocked(ctx, job.ID, p.workerID, reason, nextAttemptAt, rescheduleTo); err != nil {
		return p.reportWrite(job, err)
	}
	logger.Info("job requeued", "jobId", job.ID, "companyId", job.CompanyID,
		"reason", reason, "nextAttemptAt", nextAttemptAt.Format(time.RFC3339))
	return nil
}

// reportWrite downgrades ErrNotOwned to a log line: the job moved on
// under us (stale recovery or a cancel) and someone else owns it now.
func (p *Processor) reportWrite(job *jobs.Job, err error) error {
	if err == jobs.ErrNotOwned {
		logger.Warn("job no longer owned by this worker", "jobId", job.ID, "workerId", p.workerID)
		return nil
	}
	return err
}

// allowlisted reports whether the address may receive mail. Entries
// starting with "@" match the whole domain; anything else matches the
// exact address. An empty list allows everyone.
func allowlisted(allowlist []string, email string) bool {
	if len(allowlist) == 0 {
		return true
	}
	normalized := contacts.NormalizeEmail(email)
	for _, entry := range allowlist {
		e := contacts.NormalizeEmail(entry)
		if e == "" {
			continue
		}
		if strings.HasPrefix(e, "@") {
			if strings.HasSuffix(normalized, e) {
				return true
			}
			continue
		}
		if normalized == e {
			return true
		}
	}
	return false
}

func statusIn(status string, list []string) bool {
	s := strings.ToLower(strings.TrimSpace(status))
	if s == "" {
		return false
	}
	for _, item := range list {
		if strings.ToLower(strings.TrimSpace(item)) == s {
			return true
		}
	}
	return false
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}

func metaBool(meta map[string]any, key string) bool {
	if meta == nil {
		return false
	}
	if v, ok := meta[key].(bool); ok {
		return v
	}
	return false
}

// metaStrings reads a string list that may have round-tripped through
// JSON, where it comes back as []any.
func metaStrings(meta map[string]any, key string) []string {
	if meta == nil {
		return nil
	}
	switch v := meta[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
