package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/keepup-email-engine/internal/blast"
	"github.com/ignite/keepup-email-engine/internal/contacts"
	"github.com/ignite/keepup-email-engine/internal/pkg/httputil"
)

// blastRequest is the wire shape for launch and preview. The filter
// lives in a sub-object so the service-side LaunchRequest can keep its
// fields unexported from JSON.
type blastRequest struct {
	Name             string     `json:"name"`
	TemplateID       string     `json:"templateId"`
	RequestID        string     `json:"requestId"`
	AudienceType     string     `json:"audienceType"`
	SendMode         string     `json:"sendMode"`
	ScheduledFor     *time.Time `json:"scheduledFor"`
	ConfirmationText string     `json:"confirmationText"`
	CreatedBy        string     `json:"createdBy"`
	Filter           struct {
		Statuses    []string `json:"statuses"`
		CommunityID string   `json:"communityId"`
		Tag         string   `json:"tag"`
	} `json:"filter"`
}

func (b *blastRequest) toLaunch(companyID string) *blast.LaunchRequest {
	return &blast.LaunchRequest{
		CompanyID:        companyID,
		Name:             b.Name,
		TemplateID:       b.TemplateID,
		RequestID:        b.RequestID,
		AudienceType:     b.AudienceType,
		SendMode:         b.SendMode,
		ScheduledFor:     b.ScheduledFor,
		ConfirmationText: b.ConfirmationText,
		CreatedBy:        b.CreatedBy,
		Filter: contacts.Filter{
			Statuses:    b.Filter.Statuses,
			CommunityID: b.Filter.CommunityID,
			Tag:         b.Filter.Tag,
		},
	}
}

// PreviewBlast resolves the audience and pacing without creating
// anything.
func (h *Handlers) PreviewBlast(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")

	var body blastRequest
	if !httputil.Decode(w, r, &body) {
		return
	}

	preview, err := h.blastSvc.DoPreview(r.Context(), body.toLaunch(companyID))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.OK(w, preview)
}

// LaunchBlast creates a blast and enqueues its jobs. Retries with the
// same requestId return the original launch.
func (h *Handlers) LaunchBlast(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")

	var body blastRequest
	if !httputil.Decode(w, r, &body) {
		return
	}
	if body.CreatedBy == "" {
		body.CreatedBy = "api"
	}

	result, err := h.blastSvc.Launch(r.Context(), body.toLaunch(companyID))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if result.Idempotent {
		httputil.OK(w, result)
		return
	}
	httputil.Created(w, result)
}

// ListBlasts returns a company's recent blasts.
func (h *Handlers) ListBlasts(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	list, err := h.blasts.ListByCompany(r.Context(), companyID, 50)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"blasts": list})
}

func (h *Handlers) loadBlast(w http.ResponseWriter, r *http.Request) *blast.Blast {
	companyID := chi.URLParam(r, "companyID")
	b, err := h.blasts.Get(r.Context(), companyID, chi.URLParam(r, "blastID"))
	if err != nil {
		httputil.InternalError(w, err)
		return nil
	}
	if b == nil {
		httputil.NotFound(w, "blast not found")
		return nil
	}
	return b
}

// GetBlast returns one blast.
func (h *Handlers) GetBlast(w http.ResponseWriter, r *http.Request) {
	b := h.loadBlast(w, r)
	if b == nil {
		return
	}
	httputil.OK(w, b)
}

// BlastProgress returns per-status job counts for a blast.
func (h *Handlers) BlastProgress(w http.ResponseWriter, r *http.Request) {
	b := h.loadBlast(w, r)
	if b == nil {
		return
	}
	progress, err := h.blasts.GetProgress(r.Context(), b.CompanyID, b.ID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{
		"blastId":  b.ID,
		"status":   b.Status,
		"progress": progress,
	})
}

// CancelBlast cancels the blast's queued jobs. Already-sent mail is
// unaffected.
func (h *Handlers) CancelBlast(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	blastID := chi.URLParam(r, "blastID")

	canceled, err := h.blastSvc.Cancel(r.Context(), companyID, blastID)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.OK(w, map[string]any{"blastId": blastID, "jobsCanceled": canceled})
}
