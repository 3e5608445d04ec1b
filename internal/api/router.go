package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes builds the router. The webhook and unsubscribe endpoints
// live outside /api: SendGrid authenticates with a shared token and
// the unsubscribe page must work from a mail client with no session.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Post("/webhooks/sendgrid", h.SendGridWebhook)

	r.Get("/email/unsubscribe", h.UnsubscribePage)
	r.Post("/email/unsubscribe", h.UnsubscribeConfirm)

	r.Route("/api/companies/{companyID}", func(r chi.Router) {
		r.Route("/email", func(r chi.Router) {
			r.Get("/settings", h.GetSettings)
			r.Put("/settings", h.PutSettings)
			r.Post("/pause", h.PauseSending)
			r.Post("/resume", h.ResumeSending)
			r.Get("/readiness", h.Readiness)
			r.Get("/blocked", h.BlockedJobs)
			r.Get("/events", h.RecentEvents)
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", h.ListTemplates)
			r.Post("/", h.CreateTemplate)
			r.Get("/{templateID}", h.GetTemplate)
			r.Put("/{templateID}", h.UpdateTemplate)
			r.Post("/{templateID}/active", h.SetTemplateActive)
			r.Post("/{templateID}/preview", h.PreviewTemplate)
		})

		r.Route("/automation", func(r chi.Router) {
			r.Get("/rules", h.ListRules)
			r.Post("/rules", h.CreateRule)
			r.Get("/rules/{ruleID}", h.GetRule)
			r.Put("/rules/{ruleID}", h.UpdateRule)
			r.Delete("/rules/{ruleID}", h.DeleteRule)
			r.Post("/rules/{ruleID}/enabled", h.SetRuleEnabled)
			r.Get("/presets", h.ListPresets)
			r.Post("/presets/{presetKey}/install", h.InstallPreset)
		})

		r.Route("/followup/schedules", func(r chi.Router) {
			r.Get("/", h.ListSchedules)
			r.Post("/", h.CreateSchedule)
			r.Get("/{scheduleID}", h.GetSchedule)
			r.Put("/{scheduleID}", h.UpdateSchedule)
			r.Post("/{scheduleID}/archive", h.ArchiveSchedule)
			r.Post("/{scheduleID}/apply", h.ApplySchedule)
		})

		r.Route("/blasts", func(r chi.Router) {
			r.Get("/", h.ListBlasts)
			r.Post("/", h.LaunchBlast)
			r.Post("/preview", h.PreviewBlast)
			r.Get("/{blastID}", h.GetBlast)
			r.Get("/{blastID}/progress", h.BlastProgress)
			r.Post("/{blastID}/cancel", h.CancelBlast)
		})

		r.Route("/contacts/{contactID}", func(r chi.Router) {
			r.Put("/status", h.SetContactStatus)
			r.Post("/followup/remove", h.RemoveFollowUp)
		})
	})

	return r
}
