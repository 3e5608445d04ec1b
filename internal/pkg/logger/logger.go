// Package logger emits structured JSON log lines on stderr. Recipient
// addresses are redacted unless redaction is switched off, so routine
// send logging does not leak contact PII.
package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Level is the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger writes one JSON object per entry. Fields are flat key-value
// pairs; values pass through PII redaction when enabled.
type Logger struct {
	mu        sync.Mutex
	level     Level
	redactPII bool
}

var std = &Logger{level: INFO, redactPII: true}

// SetLevel sets the minimum level emitted by the package-level logger.
func SetLevel(l Level) { std.level = l }

// SetRedactPII toggles email redaction on the package-level logger.
func SetRedactPII(on bool) { std.redactPII = on }

func Debug(msg string, fields ...interface{}) { std.emit(DEBUG, msg, fields) }
func Info(msg string, fields ...interface{})  { std.emit(INFO, msg, fields) }
func Warn(msg string, fields ...interface{})  { std.emit(WARN, msg, fields) }
func Error(msg string, fields ...interface{}) { std.emit(ERROR, msg, fields) }

func (l *Logger) emit(level Level, msg string, fields []interface{}) {
	if level < l.level {
		return
	}

	entry := map[string]interface{}{
		"time":  time.Now().UTC().Format(time.RFC3339),
		"level": level.String(),
		"msg":   msg,
	}
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := fmt.Sprintf("%v", fields[i+1])
		if l.redactPII {
			val = scrub(key, val)
		}
		entry[key] = val
	}

	line, _ := json.Marshal(entry)
	l.mu.Lock()
	fmt.Fprintln(os.Stderr, string(line))
	l.mu.Unlock()
}

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// scrub masks recipient-ish fields outright and any embedded email
// addresses in other values.
func scrub(key, val string) string {
	k := strings.ToLower(key)
	if strings.Contains(k, "email") || strings.Contains(k, "recipient") || k == "to" {
		return RedactEmail(val)
	}
	return emailPattern.ReplaceAllStringFunc(val, RedactEmail)
}
