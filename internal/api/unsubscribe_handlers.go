package api

import (
	"html/template"
	"net/http"

	"github.com/ignite/keepup-email-engine/internal/pkg/logger"
)

var unsubConfirmPage = template.Must(template.New("confirm").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Unsubscribe</title></head>
<body style="font-family: sans-serif; max-width: 480px; margin: 80px auto; text-align: center;">
  <h2>Unsubscribe</h2>
  <p>Stop receiving emails at <strong>{{.Email}}</strong>?</p>
  <form method="POST" action="/email/unsubscribe?token={{.Token}}">
    <button type="submit" style="padding: 10px 24px; font-size: 16px; cursor: pointer;">Unsubscribe</button>
  </form>
</body>
</html>`))

var unsubDonePage = template.Must(template.New("done").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Unsubscribed</title></head>
<body style="font-family: sans-serif; max-width: 480px; margin: 80px auto; text-align: center;">
  <h2>You're unsubscribed</h2>
  <p><strong>{{.Email}}</strong> will no longer receive emails from us.</p>
</body>
</html>`))

const unsubErrorPage = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Unsubscribe</title></head>
<body style="font-family: sans-serif; max-width: 480px; margin: 80px auto; text-align: center;">
  <h2>Link expired</h2>
  <p>This unsubscribe link is invalid or has expired. Use the link from a recent email.</p>
</body>
</html>`

func writeUnsubError(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(unsubErrorPage))
}

// UnsubscribePage shows the confirmation form. Confirmation normally
// takes a real POST so mail scanners following the link don't
// unsubscribe anyone; ?confirm=1 skips the form for callers that can
// only issue a GET.
func (h *Handlers) UnsubscribePage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "" {
		h.UnsubscribeConfirm(w, r)
		return
	}

	token := r.URL.Query().Get("token")
	payload, err := h.tokenCodec.Parse(token)
	if err != nil {
		writeUnsubError(w, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	unsubConfirmPage.Execute(w, map[string]string{
		"Email": payload.Email,
		"Token": token,
	})
}

// UnsubscribeConfirm suppresses the address and applies the company's
// configured unsubscribe behavior. Also serves RFC 8058 one-click
// POSTs from mail clients.
func (h *Handlers) UnsubscribeConfirm(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	payload, err := h.tokenCodec.Parse(token)
	if err != nil {
		writeUnsubError(w, http.StatusBadRequest)
		return
	}

	st, err := h.settings.GetForCompany(r.Context(), payload.CompanyID)
	if err != nil {
		logger.Error("unsubscribe settings lookup failed", "companyId", payload.CompanyID, "error", err)
		writeUnsubError(w, http.StatusInternalServerError)
		return
	}
	if err := h.unsubApplier.Apply(r.Context(), st, payload.CompanyID, payload.Email, "unsubscribe_link"); err != nil {
		logger.Error("unsubscribe apply failed", "companyId", payload.CompanyID, "error", err)
		writeUnsubError(w, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	unsubDonePage.Execute(w, map[string]string{"Email": payload.Email})
}
