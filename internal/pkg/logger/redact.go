package logger

import "strings"

// RedactEmail masks an address for logging while keeping enough of the
// local part to correlate lines: "john.doe@example.com" becomes
// "jo***@example.com". Local parts of two characters or fewer are
// masked entirely, and anything without exactly one "@" comes back as
// "***@***".
func RedactEmail(email string) string {
	at := strings.Split(email, "@")
	if len(at) != 2 {
		return "***@***"
	}
	local := at[0]
	if len(local) > 2 {
		return local[:2] + "***@" + at[1]
	}
	return "***@" + at[1]
}
