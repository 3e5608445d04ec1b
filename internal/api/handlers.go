// Package api exposes the HTTP surface: company email settings and
// state, templates, automation rules, follow-up schedules, blasts,
// the SendGrid event webhook and the public unsubscribe page.
package api

import (
	"net/http"
	"time"

	"github.com/ignite/keepup-email-engine/internal/automation"
	"github.com/ignite/keepup-email-engine/internal/blast"
	"github.com/ignite/keepup-email-engine/internal/company"
	"github.com/ignite/keepup-email-engine/internal/config"
	"github.com/ignite/keepup-email-engine/internal/contacts"
	"github.com/ignite/keepup-email-engine/internal/deliverability"
	"github.com/ignite/keepup-email-engine/internal/events"
	"github.com/ignite/keepup-email-engine/internal/followup"
	"github.com/ignite/keepup-email-engine/internal/jobs"
	"github.com/ignite/keepup-email-engine/internal/pkg/httputil"
	"github.com/ignite/keepup-email-engine/internal/settings"
	"github.com/ignite/keepup-email-engine/internal/suppression"
	"github.com/ignite/keepup-email-engine/internal/template"
	"github.com/ignite/keepup-email-engine/internal/webhook"
)

// Handlers carries every dependency the HTTP layer needs.
type Handlers struct {
	jobs         *jobs.Store
	settings     *settings.Store
	companies    *company.Store
	contacts     *contacts.Store
	events       *events.Store
	templates    *template.Store
	rules        *automation.Store
	automation   *automation.Engine
	installer    *automation.Installer
	schedules    *followup.Store
	followup     *followup.Engine
	blasts       *blast.Store
	renderer     *template.Renderer
	blastSvc     *blast.Service
	monitor      *deliverability.Monitor
	ingestor     *webhook.Ingestor
	unsubApplier *suppression.Applier
	tokenCodec   *suppression.TokenCodec
	unsubURLs    *suppression.URLBuilder

	sending      config.SendingConfig
	webhookToken string
}

// HandlersDeps is the constructor input for Handlers.
type HandlersDeps struct {
	Jobs         *jobs.Store
	Settings     *settings.Store
	Companies    *company.Store
	Contacts     *contacts.Store
	Events       *events.Store
	Templates    *template.Store
	Rules        *automation.Store
	Automation   *automation.Engine
	Installer    *automation.Installer
	Schedules    *followup.Store
	Followup     *followup.Engine
	Blasts       *blast.Store
	Renderer     *template.Renderer
	BlastSvc     *blast.Service
	Monitor      *deliverability.Monitor
	Ingestor     *webhook.Ingestor
	UnsubApplier *suppression.Applier
	TokenCodec   *suppression.TokenCodec
	UnsubURLs    *suppression.URLBuilder
	Sending      config.SendingConfig
	WebhookToken string
}

// NewHandlers wires the handler set.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		jobs:         d.Jobs,
		settings:     d.Settings,
		companies:    d.Companies,
		contacts:     d.Contacts,
		events:       d.Events,
		templates:    d.Templates,
		rules:        d.Rules,
		automation:   d.Automation,
		installer:    d.Installer,
		schedules:    d.Schedules,
		followup:     d.Followup,
		blasts:       d.Blasts,
		renderer:     d.Renderer,
		blastSvc:     d.BlastSvc,
		monitor:      d.Monitor,
		ingestor:     d.Ingestor,
		unsubApplier: d.UnsubApplier,
		tokenCodec:   d.TokenCodec,
		unsubURLs:    d.UnsubURLs,
		sending:      d.Sending,
		webhookToken: d.WebhookToken,
	}
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
