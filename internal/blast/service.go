package blast

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/keepup-email-engine/internal/contacts"
	"github.com/ignite/keepup-email-engine/internal/jobs"
	"github.com/ignite/keepup-email-engine/internal/pkg/logger"
	"github.com/ignite/keepup-email-engine/internal/schedule"
	"github.com/ignite/keepup-email-engine/internal/settings"
	"github.com/ignite/keepup-email-engine/internal/template"
)

// Service launches, previews and cancels blasts.
type Service struct {
	blasts        *Store
	templates     *template.Store
	settingsStore *settings.Store
	resolver      *Resolver
	jobsStore     *jobs.Store
	planner       *schedule.Planner
}

// NewService wires the blast service.
func NewService(blasts *Store, templates *template.Store, settingsStore *settings.Store, resolver *Resolver, jobsStore *jobs.Store) *Service {
	return &Service{
		blasts:        blasts,
		templates:     templates,
		settingsStore: settingsStore,
		resolver:      resolver,
		jobsStore:     jobsStore,
		planner:       schedule.NewPlanner(),
	}
}

// LaunchRequest is the input to Launch.
type LaunchRequest struct {
	CompanyID        string          `json:"-"`
	Name             string          `json:"name"`
	TemplateID       string          `json:"templateId"`
	RequestID        string          `json:"requestId,omitempty"`
	AudienceType     string          `json:"audienceType,omitempty"`
	Filter           contacts.Filter `json:"-"`
	SendMode         string          `json:"sendMode,omitempty"`
	ScheduledFor     *time.Time      `json:"scheduledFor,omitempty"`
	ConfirmationText string          `json:"confirmationText,omitempty"`
	CreatedBy        string          `json:"-"`
}

// LaunchResult reports what a launch (or idempotent replay) produced.
type LaunchResult struct {
	Blast         *Blast                `json:"blast"`
	FinalToSend   int                   `json:"finalToSend"`
	Excluded      Excluded              `json:"excludedBreakdown"`
	PacingSummary *schedule.PlanSummary `json:"pacingSummary,omitempty"`
	Idempotent    bool                  `json:"idempotent,omitempty"`
}

// Preview resolves the audience and estimates pacing without writing
// anything.
type Preview struct {
	TotalMatched  int                   `json:"totalMatched"`
	FinalToSend   int                   `json:"finalToSend"`
	Excluded      Excluded              `json:"excludedBreakdown"`
	ExcludedTotal int                   `json:"excludedTotal"`
	Pacing        *schedule.PlanSummary `json:"pacing,omitempty"`
	Warnings      []string              `json:"warnings,omitempty"`
}

func (s *Service) resolve(ctx context.Context, companyID, audienceType string, f contacts.Filter) (*Resolution, error) {
	if audienceType == AudienceRealtors {
		return s.resolver.ResolveRealtors(ctx, companyID)
	}
	return s.resolver.ResolveContacts(ctx, companyID, f)
}

func (s *Service) alignStart(req *LaunchRequest, st *settings.Settings) (time.Time, error) {
	if req.SendMode == SendScheduled {
		if req.ScheduledFor == nil || req.ScheduledFor.IsZero() {
			return time.Time{}, fmt.Errorf("scheduledFor is required for scheduled sends")
		}
		return schedule.AdjustToAllowedWindow(*req.ScheduledFor, st), nil
	}
	return schedule.AdjustToAllowedWindow(time.Now(), st), nil
}

func (s *Service) plan(ctx context.Context, companyID string, st *settings.Settings, entries []Entry, startAt time.Time) ([]schedule.PlannedSend, *schedule.PlanSummary, error) {
	recipients := make([]schedule.Recipient, len(entries))
	for i, e := range entries {
		r := schedule.Recipient{Email: e.Email}
		if e.Contact != nil {
			r.ContactID = e.Contact.ID
		}
		recipients[i] = r
	}

	sentToday := 0
	if st.DailyCap > 0 {
		loc := st.Location()
		dayStart, dayEnd := schedule.DayBounds(time.Now(), loc)
		var err error
		sentToday, err = s.jobsStore.CountSentBetween(ctx, companyID, dayStart, dayEnd)
		if err != nil {
			return nil, nil, err
		}
	}

	planned, summary := s.planner.Plan(recipients, st, startAt, st.DailyCap, sentToday)
	return planned, summary, nil
}

// DoPreview resolves and paces without creating anything.
func (s *Service) DoPreview(ctx context.Context, req *LaunchRequest) (*Preview, error) {
	res, err := s.resolve(ctx, req.CompanyID, req.AudienceType, req.Filter)
	if err != nil {
		return nil, err
	}
	p := &Preview{
		TotalMatched:  res.TotalMatched,
		FinalToSend:   len(res.Recipients),
		Excluded:      res.Excluded,
		ExcludedTotal: res.Excluded.Total(),
	}
	if p.FinalToSend >= ConfirmThreshold {
		p.Warnings = append(p.Warnings, fmt.Sprintf("Confirm send for %d recipients.", p.FinalToSend))
	}
	if len(res.Recipients) > 0 {
		st, err := s.settingsStore.GetForCompany(ctx, req.CompanyID)
		if err != nil {
			return nil, err
		}
		startAt, err := s.alignStart(req, st)
		if err != nil {
			return nil, err
		}
		_, summary, err := s.plan(ctx, req.CompanyID, st, res.Recipients, startAt)
		if err != nil {
			return nil, err
		}
		p.Pacing = summary
	}
	return p, nil
}

// Launch creates the blast record and one paced job per recipient.
// A request id that already produced a blast replays that blast
// instead of creating a second one, including when two launches race
// on the unique index. Large audiences require the caller to type
// "SEND <n>" back.
func (s *Service) Launch(ctx context.Context, req *LaunchRequest) (*LaunchResult, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if req.TemplateID == "" {
		return nil, fmt.Errorf("templateId is required")
	}
	if req.RequestID != "" && (len(req.RequestID) < 8 || len(req.RequestID) > 80) {
		return nil, fmt.Errorf("requestId must be 8-80 characters")
	}

	if req.RequestID != "" {
		existing, err := s.blasts.FindByRequestID(ctx, req.CompanyID, req.RequestID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return &LaunchResult{
				Blast:       existing,
				FinalToSend: existing.FinalToSend(),
				Idempotent:  true,
			}, nil
		}
	}

	tmpl, err := s.templates.GetByID(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}
	if tmpl == nil || tmpl.CompanyID != req.CompanyID {
		return nil, fmt.Errorf("template not found")
	}
	if !tmpl.Active {
		return nil, fmt.Errorf("template is inactive")
	}

	res, err := s.resolve(ctx, req.CompanyID, req.AudienceType, req.Filter)
	if err != nil {
		return nil, err
	}
	finalToSend := len(res.Recipients)
	if finalToSend >= ConfirmThreshold {
		expected := fmt.Sprintf("SEND %d", finalToSend)
		if req.ConfirmationText != expected {
			return nil, fmt.Errorf("confirmation required: type %q", expected)
		}
	}

	st, err := s.settingsStore.GetForCompany(ctx, req.CompanyID)
	if err != nil {
		return nil, err
	}
	startAt, err := s.alignStart(req, st)
	if err != nil {
		return nil, err
	}
	planned, summary, err := s.plan(ctx, req.CompanyID, st, res.Recipients, startAt)
	if err != nil {
		return nil, err
	}

	audienceType := req.AudienceType
	if audienceType == "" {
		audienceType = AudienceContacts
	}
	sendMode := req.SendMode
	if sendMode == "" {
		sendMode = SendNow
	}
	scheduledFor := startAt
	if summary != nil && !summary.FirstSendAt.IsZero() {
		scheduledFor = summary.FirstSendAt
	}

	b := &Blast{
		CompanyID:    req.CompanyID,
		Name:         req.Name,
		TemplateID:   req.TemplateID,
		RequestID:    req.RequestID,
		Status:       StatusScheduled,
		SendMode:     sendMode,
		ScheduledFor: &scheduledFor,
		Audience: AudienceSnapshot{
			Type:          audienceType,
			SnapshotCount: res.TotalMatched,
			ExcludedCount: res.Excluded.Total(),
		},
		Settings: SettingsSnapshot{
			Timezone:           st.Timezone,
			DailyCap:           st.DailyCap,
			RateLimitPerMinute: st.RateLimitPerMinute,
		},
		PacingSummary: summary,
		CreatedBy:     req.CreatedBy,
	}
	if err := s.blasts.Create(ctx, b); err != nil {
		if err == ErrDuplicateRequest && req.RequestID != "" {
			existing, findErr := s.blasts.FindByRequestID(ctx, req.CompanyID, req.RequestID)
			if findErr == nil && existing != nil {
				return &LaunchResult{
					Blast:       existing,
					FinalToSend: existing.FinalToSend(),
					Idempotent:  true,
				}, nil
			}
		}
		return nil, err
	}

	entryByEmail := make(map[string]Entry, len(res.Recipients))
	for _, e := range res.Recipients {
		entryByEmail[e.Email] = e
	}
	for _, send := range planned {
		entry := entryByEmail[send.Recipient.Email]
		job := &jobs.Job{
			CompanyID:    req.CompanyID,
			ContactID:    send.Recipient.ContactID,
			ToEmail:      send.Recipient.Email,
			Kind:         jobs.KindBlast,
			TemplateID:   req.TemplateID,
			BlastID:      b.ID,
			ScheduledFor: send.At,
			Meta:         map[string]any{"blastName": req.Name},
		}
		if entry.Realtor != nil {
			job.Meta["realtorId"] = entry.Realtor.ID
			job.Meta["recipientType"] = "realtor"
		}
		if err := s.jobsStore.Enqueue(ctx, job); err != nil {
			// Without its jobs the blast is a dud; take it out of play
			if cancelErr := s.blasts.SetStatus(ctx, req.CompanyID, b.ID, StatusCanceled); cancelErr != nil {
				logger.Error("cancel after enqueue failure failed",
					"blastId", b.ID, "error", cancelErr.Error())
			}
			return nil, fmt.Errorf("enqueue blast job: %w", err)
		}
	}

	daysSpanned := 0
	if summary != nil {
		daysSpanned = summary.DaysSpanned
	}
	logger.Info("blast launched", "blastId", b.ID, "recipients", finalToSend,
		"daysSpanned", daysSpanned)
	return &LaunchResult{
		Blast:         b,
		FinalToSend:   finalToSend,
		Excluded:      res.Excluded,
		PacingSummary: summary,
	}, nil
}

// Cancel stops a blast: its queued jobs are canceled and the blast is
// marked canceled. Jobs already sent or in flight are left alone.
func (s *Service) Cancel(ctx context.Context, companyID, blastID string) (int64, error) {
	b, err := s.blasts.Get(ctx, companyID, blastID)
	if err != nil {
		return 0, err
	}
	if b == nil {
		return 0, fmt.Errorf("blast not found")
	}
	if b.Status == StatusCanceled || b.Status == StatusCompleted {
		return 0, nil
	}
	canceled, err := s.jobsStore.CancelQueuedByBlast(ctx, blastID)
	if err != nil {
		return 0, err
	}
	if err := s.blasts.SetStatus(ctx, companyID, blastID, StatusCanceled); err != nil {
		return canceled, err
	}
	logger.Info("blast canceled", "blastId", blastID, "jobsCanceled", canceled)
	return canceled, nil
}
