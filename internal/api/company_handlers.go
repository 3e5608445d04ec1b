package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/keepup-email-engine/internal/pkg/httputil"
	"github.com/ignite/keepup-email-engine/internal/schedule"
	"github.com/ignite/keepup-email-engine/internal/settings"
	"github.com/ignite/keepup-email-engine/internal/warmup"
)

type settingsPayload struct {
	CompanyID           string  `json:"companyId"`
	Timezone            string  `json:"timezone"`
	AllowedDays         []int   `json:"allowedDays"`
	AllowedStartTime    string  `json:"allowedStartTime"`
	AllowedEndTime      string  `json:"allowedEndTime"`
	QuietHoursEnabled   bool    `json:"quietHoursEnabled"`
	DailyCap            int     `json:"dailyCap"`
	RateLimitPerMinute  int     `json:"rateLimitPerMinute"`
	UnsubscribeBehavior string  `json:"unsubscribeBehavior"`
	BounceMonitorOn     bool    `json:"bounceMonitorEnabled"`
	BounceRateThreshold float64 `json:"bounceRateThreshold"`
	BounceMinSent       int     `json:"bounceMinSent"`
	PauseOnSpamReport   bool    `json:"pauseOnSpamReport"`
	FromName            string  `json:"fromName"`
	FromEmail           string  `json:"fromEmail"`
	ReplyTo             string  `json:"replyTo"`
}

func settingsToPayload(s *settings.Settings) settingsPayload {
	return settingsPayload{
		CompanyID:           s.CompanyID,
		Timezone:            s.Timezone,
		AllowedDays:         s.AllowedDays,
		AllowedStartTime:    s.AllowedStartTime,
		AllowedEndTime:      s.AllowedEndTime,
		QuietHoursEnabled:   s.QuietHoursEnabled,
		DailyCap:            s.DailyCap,
		RateLimitPerMinute:  s.RateLimitPerMinute,
		UnsubscribeBehavior: s.UnsubscribeBehavior,
		BounceMonitorOn:     s.BounceMonitorOn,
		BounceRateThreshold: s.BounceRateThreshold,
		BounceMinSent:       s.BounceMinSent,
		PauseOnSpamReport:   s.PauseOnSpamReport,
		FromName:            s.FromName,
		FromEmail:           s.FromEmail,
		ReplyTo:             s.ReplyTo,
	}
}

// GetSettings returns the company's sending policy, defaults included.
func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	st, err := h.settings.GetForCompany(r.Context(), companyID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, settingsToPayload(st))
}

// PutSettings replaces the company's sending policy.
func (h *Handlers) PutSettings(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")

	var p settingsPayload
	if !httputil.Decode(w, r, &p) {
		return
	}
	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			httputil.BadRequest(w, "unknown timezone: "+p.Timezone)
			return
		}
	}

	st := settings.Defaults(companyID)
	st.Timezone = orDefault(p.Timezone, st.Timezone)
	if p.AllowedDays != nil {
		st.AllowedDays = p.AllowedDays
	}
	st.AllowedStartTime = orDefault(p.AllowedStartTime, st.AllowedStartTime)
	st.AllowedEndTime = orDefault(p.AllowedEndTime, st.AllowedEndTime)
	st.QuietHoursEnabled = p.QuietHoursEnabled
	if st.QuietHoursEnabled {
		start := schedule.ParseClock(st.AllowedStartTime)
		end := schedule.ParseClock(st.AllowedEndTime)
		// Equal start and end would leave no instant inside the window
		if start >= 0 && start == end {
			httputil.BadRequest(w, "allowedStartTime and allowedEndTime must differ")
			return
		}
	}
	if p.DailyCap > 0 {
		st.DailyCap = p.DailyCap
	}
	if p.RateLimitPerMinute > 0 {
		st.RateLimitPerMinute = p.RateLimitPerMinute
	}
	st.UnsubscribeBehavior = orDefault(p.UnsubscribeBehavior, st.UnsubscribeBehavior)
	st.BounceMonitorOn = p.BounceMonitorOn
	if p.BounceRateThreshold > 0 {
		st.BounceRateThreshold = p.BounceRateThreshold
	}
	if p.BounceMinSent > 0 {
		st.BounceMinSent = p.BounceMinSent
	}
	st.PauseOnSpamReport = p.PauseOnSpamReport
	st.FromName = p.FromName
	st.FromEmail = p.FromEmail
	st.ReplyTo = p.ReplyTo

	if err := h.settings.Upsert(r.Context(), st); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, settingsToPayload(st))
}

// PauseSending pauses a company's outbound email. The reason is
// required so the pause is explainable later.
func (h *Handlers) PauseSending(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")

	var body struct {
		Reason string `json:"reason"`
		By     string `json:"by"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}
	if body.Reason == "" {
		httputil.BadRequest(w, "reason is required")
		return
	}
	if body.By == "" {
		body.By = "api"
	}

	paused, err := h.monitor.PauseCompanySending(r.Context(), companyID, body.By, body.Reason, nil)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"paused": true, "changed": paused})
}

// ResumeSending lifts a company pause and releases held jobs.
func (h *Handlers) ResumeSending(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")

	resumed, err := h.monitor.ResumeCompanySending(r.Context(), companyID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"paused": false, "changed": resumed})
}

type readinessCheck struct {
	Name string `json:"name"`
	OK   bool   `json:"ok"`
	Note string `json:"note,omitempty"`
}

// Readiness reports whether the company can actually send: policy,
// identity, unsubscribe config, pause and warmup state in one list.
func (h *Handlers) Readiness(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	ctx := r.Context()

	st, err := h.settings.GetForCompany(ctx, companyID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	state, err := h.companies.Get(ctx, companyID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	_, tzErr := time.LoadLocation(st.Timezone)
	fromEmail := st.FromEmail
	if fromEmail == "" {
		fromEmail = h.sending.FromEmail
	}
	status := warmup.Compute(state, st, time.Now())

	checks := []readinessCheck{
		{Name: "sending_enabled", OK: h.sending.Enabled},
		{Name: "timezone_valid", OK: tzErr == nil, Note: st.Timezone},
		{Name: "sender_identity", OK: fromEmail != "", Note: fromEmail},
		{Name: "unsubscribe_config", OK: h.unsubURLs != nil && h.unsubURLs.Configured()},
		{Name: "not_paused", OK: !state.Paused, Note: state.PauseReason},
	}
	if status.Enabled {
		note := ""
		if status.Active {
			note = "day " + strconv.Itoa(status.DayIndex) + " of " + strconv.Itoa(status.DaysTotal)
		}
		checks = append(checks, readinessCheck{Name: "warmup", OK: true, Note: note})
	}

	ready := true
	for _, c := range checks {
		if !c.OK {
			ready = false
			break
		}
	}

	httputil.OK(w, map[string]any{
		"ready":  ready,
		"checks": checks,
		"warmup": map[string]any{
			"enabled":  status.Enabled,
			"active":   status.Active,
			"dayIndex": status.DayIndex,
			"capToday": status.CapToday,
		},
	})
}

// BlockedJobs groups the company's parked queued jobs by reason.
func (h *Handlers) BlockedJobs(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	groups, err := h.jobs.BlockedSummary(r.Context(), companyID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"companyId": companyID, "blocked": groups})
}

// RecentEvents lists the latest provider events for a company.
func (h *Handlers) RecentEvents(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	list, err := h.events.ListRecentByCompany(r.Context(), companyID, limit)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(list))
	for _, e := range list {
		out = append(out, map[string]any{
			"id":         e.ID,
			"eventType":  e.EventType,
			"email":      e.Email,
			"jobId":      e.JobID,
			"occurredAt": e.OccurredAt.Format(time.RFC3339),
		})
	}
	httputil.OK(w, map[string]any{"companyId": companyID, "events": out})
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
