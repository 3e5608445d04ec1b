package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/ignite/keepup-email-engine/internal/pkg/httputil"
	"github.com/ignite/keepup-email-engine/internal/webhook"
)

// SendGridWebhook ingests a batch of SendGrid events. SendGrid posts a
// JSON array; the shared token rides on the query string.
func (h *Handlers) SendGridWebhook(w http.ResponseWriter, r *http.Request) {
	if h.webhookToken == "" {
		httputil.Error(w, http.StatusServiceUnavailable, "webhook not configured")
		return
	}
	token := r.URL.Query().Get("token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.webhookToken)) != 1 {
		httputil.Error(w, http.StatusUnauthorized, "invalid token")
		return
	}

	var batch []webhook.SendGridEvent
	if !httputil.Decode(w, r, &batch) {
		return
	}

	summary, err := h.ingestor.ProcessBatch(r.Context(), batch)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, summary)
}
