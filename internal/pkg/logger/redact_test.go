package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
	assert.Equal(t, "***@***", RedactEmail("two@ats@example.com"))
}

func TestScrubMasksRecipientFields(t *testing.T) {
	assert.Equal(t, "da***@example.com", scrub("email", "dana@example.com"))
	assert.Equal(t, "da***@example.com", scrub("to", "dana@example.com"))
	assert.Equal(t, "da***@example.com", scrub("recipientEmail", "dana@example.com"))

	// Embedded addresses inside ordinary fields get masked too
	assert.Equal(t, "send to da***@example.com failed", scrub("error", "send to dana@example.com failed"))
	assert.Equal(t, "queue drained", scrub("msg", "queue drained"))
}
