package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/keepup-email-engine/internal/automation"
	"github.com/ignite/keepup-email-engine/internal/pkg/httputil"
)

// ListRules returns a company's automation rules.
func (h *Handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	list, err := h.rules.ListByCompany(r.Context(), companyID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"rules": list})
}

// CreateRule stores a new automation rule.
func (h *Handlers) CreateRule(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")

	var rule automation.Rule
	if !httputil.Decode(w, r, &rule) {
		return
	}
	rule.CompanyID = companyID
	if rule.Name == "" {
		httputil.BadRequest(w, "name is required")
		return
	}
	if rule.Action.TemplateID == "" {
		httputil.BadRequest(w, "action.templateId is required")
		return
	}

	if err := h.rules.CreateRule(r.Context(), &rule); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, rule)
}

func (h *Handlers) loadCompanyRule(w http.ResponseWriter, r *http.Request) *automation.Rule {
	companyID := chi.URLParam(r, "companyID")
	rule, err := h.rules.GetRule(r.Context(), chi.URLParam(r, "ruleID"))
	if err != nil {
		httputil.InternalError(w, err)
		return nil
	}
	if rule == nil || rule.CompanyID != companyID {
		httputil.NotFound(w, "rule not found")
		return nil
	}
	return rule
}

// GetRule returns one rule.
func (h *Handlers) GetRule(w http.ResponseWriter, r *http.Request) {
	rule := h.loadCompanyRule(w, r)
	if rule == nil {
		return
	}
	httputil.OK(w, rule)
}

// UpdateRule rewrites a rule's trigger and action.
func (h *Handlers) UpdateRule(w http.ResponseWriter, r *http.Request) {
	rule := h.loadCompanyRule(w, r)
	if rule == nil {
		return
	}

	var p automation.Rule
	if !httputil.Decode(w, r, &p) {
		return
	}
	if p.Name != "" {
		rule.Name = p.Name
	}
	rule.Enabled = p.Enabled
	rule.TriggerConfig = p.TriggerConfig
	if p.Action.TemplateID != "" {
		rule.Action = p.Action
	}

	if err := h.rules.UpdateRule(r.Context(), rule); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, rule)
}

// DeleteRule removes a rule. Jobs it already enqueued cancel at claim
// time via the rule-liveness check.
func (h *Handlers) DeleteRule(w http.ResponseWriter, r *http.Request) {
	rule := h.loadCompanyRule(w, r)
	if rule == nil {
		return
	}
	if err := h.rules.DeleteRule(r.Context(), rule.CompanyID, rule.ID); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.NoContent(w)
}

// SetRuleEnabled flips a rule on or off.
func (h *Handlers) SetRuleEnabled(w http.ResponseWriter, r *http.Request) {
	rule := h.loadCompanyRule(w, r)
	if rule == nil {
		return
	}

	var body struct {
		Enabled bool `json:"enabled"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}
	if err := h.rules.SetEnabled(r.Context(), rule.CompanyID, rule.ID, body.Enabled); err != nil {
		httputil.InternalError(w, err)
		return
	}
	rule.Enabled = body.Enabled
	httputil.OK(w, rule)
}

// ListPresets returns the built-in automations available for install.
func (h *Handlers) ListPresets(w http.ResponseWriter, r *http.Request) {
	presets := automation.Presets()
	out := make([]map[string]any, 0, len(presets))
	for _, p := range presets {
		out = append(out, map[string]any{
			"key":         p.Key,
			"title":       p.Title,
			"description": p.Description,
		})
	}
	httputil.OK(w, map[string]any{"presets": out})
}

// InstallPreset installs a built-in automation (template plus rule)
// for the company. Installing twice returns the existing rule.
func (h *Handlers) InstallPreset(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	key := chi.URLParam(r, "presetKey")

	if automation.FindPreset(key) == nil {
		httputil.NotFound(w, "unknown preset: "+key)
		return
	}

	rule, err := h.installer.Install(r.Context(), companyID, key, "api")
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, rule)
}

// SetContactStatus updates a contact's status and runs the automation
// rules for the change.
func (h *Handlers) SetContactStatus(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	contactID := chi.URLParam(r, "contactID")

	var body struct {
		Status string `json:"status"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}
	if body.Status == "" {
		httputil.BadRequest(w, "status is required")
		return
	}

	ctx := r.Context()
	contact, err := h.contacts.GetContact(ctx, contactID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if contact == nil || contact.CompanyID != companyID {
		httputil.NotFound(w, "contact not found")
		return
	}

	if err := h.contacts.SetStatus(ctx, contactID, body.Status); err != nil {
		httputil.InternalError(w, err)
		return
	}

	result, err := h.automation.HandleContactStatusChange(ctx, automation.StatusChange{
		CompanyID:      companyID,
		ContactID:      contactID,
		PreviousStatus: contact.Status,
		NextStatus:     body.Status,
	})
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, map[string]any{
		"contactId":      contactID,
		"status":         body.Status,
		"previousStatus": contact.Status,
		"rulesEvaluated": result.Evaluated,
		"jobsEnqueued":   result.Enqueued,
	})
}
