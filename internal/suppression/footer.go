package suppression

import "strings"

// footerMarker lets the footer survive re-renders without doubling up.
const footerMarker = "data-keepup-unsubscribe"

// AppendFooter adds the unsubscribe block to a rendered message. Bodies
// that already carry one are left alone; an empty URL is a no-op.
func AppendFooter(html, text, unsubscribeURL string) (string, string) {
	if unsubscribeURL == "" {
		return html, text
	}

	if html != "" && !strings.Contains(html, footerMarker) {
		html += `<div ` + footerMarker + ` style="margin-top:24px;font-size:12px;color:#666;">` +
			`To unsubscribe, <a href="` + unsubscribeURL + `">click here</a>.</div>`
	}
	if text != "" && !strings.Contains(strings.ToLower(text), "unsubscribe:") {
		text += "\n\nTo unsubscribe: " + unsubscribeURL
	}
	return html, text
}

// ListUnsubscribeHeaders returns the one-click unsubscribe headers for
// an outgoing message.
func ListUnsubscribeHeaders(unsubscribeURL string) map[string]string {
	if unsubscribeURL == "" {
		return nil
	}
	return map[string]string{
		"List-Unsubscribe":      "<" + unsubscribeURL + ">",
		"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
	}
}
