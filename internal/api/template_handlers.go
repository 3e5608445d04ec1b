package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/keepup-email-engine/internal/pkg/httputil"
	"github.com/ignite/keepup-email-engine/internal/template"
)

type templatePayload struct {
	ID          string `json:"id,omitempty"`
	CompanyID   string `json:"companyId"`
	Name        string `json:"name"`
	Subject     string `json:"subject"`
	HTML        string `json:"html"`
	Text        string `json:"text,omitempty"`
	PreviewText string `json:"previewText,omitempty"`
	Active      bool   `json:"active"`
	Variables   []string `json:"variables,omitempty"`
	UpdatedAt   string `json:"updatedAt,omitempty"`
}

func templateToPayload(t *template.Template) templatePayload {
	return templatePayload{
		ID:          t.ID,
		CompanyID:   t.CompanyID,
		Name:        t.Name,
		Subject:     t.Subject,
		HTML:        t.HTML,
		Text:        t.Text,
		PreviewText: t.PreviewText,
		Active:      t.Active,
		Variables:   template.ExtractVariables(t.Subject + " " + t.HTML),
		UpdatedAt:   t.UpdatedAt.Format(time.RFC3339),
	}
}

// ListTemplates returns a company's templates.
func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	list, err := h.templates.ListByCompany(r.Context(), companyID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	out := make([]templatePayload, 0, len(list))
	for _, t := range list {
		out = append(out, templateToPayload(t))
	}
	httputil.OK(w, map[string]any{"templates": out})
}

// CreateTemplate stores a new template.
func (h *Handlers) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")

	var p templatePayload
	if !httputil.Decode(w, r, &p) {
		return
	}
	if p.Name == "" || p.Subject == "" || p.HTML == "" {
		httputil.BadRequest(w, "name, subject and html are required")
		return
	}

	t := &template.Template{
		CompanyID:   companyID,
		Name:        p.Name,
		Subject:     p.Subject,
		HTML:        p.HTML,
		Text:        p.Text,
		PreviewText: p.PreviewText,
		Active:      p.Active,
	}
	if err := h.templates.Create(r.Context(), t); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, templateToPayload(t))
}

func (h *Handlers) loadCompanyTemplate(w http.ResponseWriter, r *http.Request) *template.Template {
	companyID := chi.URLParam(r, "companyID")
	t, err := h.templates.GetByID(r.Context(), chi.URLParam(r, "templateID"))
	if err != nil {
		httputil.InternalError(w, err)
		return nil
	}
	if t == nil || t.CompanyID != companyID {
		httputil.NotFound(w, "template not found")
		return nil
	}
	return t
}

// GetTemplate returns one template.
func (h *Handlers) GetTemplate(w http.ResponseWriter, r *http.Request) {
	t := h.loadCompanyTemplate(w, r)
	if t == nil {
		return
	}
	httputil.OK(w, templateToPayload(t))
}

// UpdateTemplate rewrites a template's content fields.
func (h *Handlers) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	t := h.loadCompanyTemplate(w, r)
	if t == nil {
		return
	}

	var p templatePayload
	if !httputil.Decode(w, r, &p) {
		return
	}
	if p.Name != "" {
		t.Name = p.Name
	}
	if p.Subject != "" {
		t.Subject = p.Subject
	}
	if p.HTML != "" {
		t.HTML = p.HTML
	}
	t.Text = p.Text
	t.PreviewText = p.PreviewText

	if err := h.templates.Update(r.Context(), t); err != nil {
		httputil.InternalError(w, err)
		return
	}
	// Drop any cached compile of the old body.
	h.renderer.ClearCacheKey(t.ID)
	httputil.OK(w, templateToPayload(t))
}

// SetTemplateActive toggles a template on or off.
func (h *Handlers) SetTemplateActive(w http.ResponseWriter, r *http.Request) {
	t := h.loadCompanyTemplate(w, r)
	if t == nil {
		return
	}

	var body struct {
		Active bool `json:"active"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}
	if err := h.templates.SetActive(r.Context(), t.ID, body.Active); err != nil {
		httputil.InternalError(w, err)
		return
	}
	t.Active = body.Active
	httputil.OK(w, templateToPayload(t))
}

// PreviewTemplate renders the template strictly against sample data
// and reports missing variables instead of sending anything.
func (h *Handlers) PreviewTemplate(w http.ResponseWriter, r *http.Request) {
	t := h.loadCompanyTemplate(w, r)
	if t == nil {
		return
	}

	var body struct {
		Data map[string]any `json:"data"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}
	if body.Data == nil {
		body.Data = map[string]any{}
	}

	subject, err := h.renderer.RenderWithMode(t.Subject, body.Data, template.RenderModeStrict)
	if err != nil {
		httputil.BadRequest(w, "subject render failed: "+err.Error())
		return
	}
	html, err := h.renderer.RenderWithMode(t.HTML, body.Data, template.RenderModeStrict)
	if err != nil {
		httputil.BadRequest(w, "html render failed: "+err.Error())
		return
	}

	httputil.OK(w, map[string]any{
		"subject":  subject.Output,
		"html":     html.Output,
		"warnings": append(subject.Warnings, html.Warnings...),
		"missing":  template.MissingVariables(t.Subject+" "+t.HTML, body.Data),
	})
}
