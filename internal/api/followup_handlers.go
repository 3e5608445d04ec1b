package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/keepup-email-engine/internal/followup"
	"github.com/ignite/keepup-email-engine/internal/pkg/httputil"
)

// ListSchedules returns a company's follow-up schedules.
func (h *Handlers) ListSchedules(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	list, err := h.schedules.ListByCompany(r.Context(), companyID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"schedules": list})
}

// CreateSchedule stores a new follow-up schedule.
func (h *Handlers) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")

	var sched followup.Schedule
	if !httputil.Decode(w, r, &sched) {
		return
	}
	sched.CompanyID = companyID
	if sched.Name == "" {
		httputil.BadRequest(w, "name is required")
		return
	}

	if err := h.schedules.Create(r.Context(), &sched); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.Created(w, sched)
}

func (h *Handlers) loadSchedule(w http.ResponseWriter, r *http.Request) *followup.Schedule {
	companyID := chi.URLParam(r, "companyID")
	sched, err := h.schedules.Get(r.Context(), companyID, chi.URLParam(r, "scheduleID"))
	if err != nil {
		httputil.InternalError(w, err)
		return nil
	}
	if sched == nil {
		httputil.NotFound(w, "schedule not found")
		return nil
	}
	return sched
}

// GetSchedule returns one schedule.
func (h *Handlers) GetSchedule(w http.ResponseWriter, r *http.Request) {
	sched := h.loadSchedule(w, r)
	if sched == nil {
		return
	}
	httputil.OK(w, sched)
}

// UpdateSchedule rewrites a schedule and bumps its version. Contacts
// already on the schedule keep their enqueued steps; reapply to pick
// up the new shape.
func (h *Handlers) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	sched := h.loadSchedule(w, r)
	if sched == nil {
		return
	}

	var p followup.Schedule
	if !httputil.Decode(w, r, &p) {
		return
	}
	if p.Name != "" {
		sched.Name = p.Name
	}
	sched.Summary = p.Summary
	if p.Status != "" {
		sched.Status = p.Status
	}
	sched.StopOnStatuses = p.StopOnStatuses
	if p.Steps != nil {
		sched.Steps = p.Steps
	}

	if err := h.schedules.Update(r.Context(), sched); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.OK(w, sched)
}

// ArchiveSchedule retires a schedule from new applications.
func (h *Handlers) ArchiveSchedule(w http.ResponseWriter, r *http.Request) {
	sched := h.loadSchedule(w, r)
	if sched == nil {
		return
	}
	if err := h.schedules.Archive(r.Context(), sched.CompanyID, sched.ID); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.NoContent(w)
}

// ApplySchedule puts a contact on this schedule, replacing whatever
// schedule run the contact was on.
func (h *Handlers) ApplySchedule(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	scheduleID := chi.URLParam(r, "scheduleID")

	var body struct {
		ContactID string `json:"contactId"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}
	if body.ContactID == "" {
		httputil.BadRequest(w, "contactId is required")
		return
	}

	result, err := h.followup.Apply(r.Context(), companyID, body.ContactID, scheduleID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, result)
}

// RemoveFollowUp takes a contact off their follow-up schedule and
// cancels the queued steps.
func (h *Handlers) RemoveFollowUp(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	contactID := chi.URLParam(r, "contactID")

	result, err := h.followup.Remove(r.Context(), companyID, contactID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, result)
}
