// Package template renders email bodies with the Liquid template
// language and stores the per-company template records.
package template

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/keepup-email-engine/internal/pkg/logger"
)

// RenderMode determines how the renderer handles errors
type RenderMode int

const (
	// RenderModeLax falls back to the raw template on errors (worker sends)
	RenderModeLax RenderMode = iota
	// RenderModeStrict surfaces errors and missing variables (preview)
	RenderModeStrict
)

// RenderResult contains the rendered output and any warnings.
type RenderResult struct {
	Output   string   `json:"output"`
	Warnings []string `json:"warnings,omitempty"`
	Success  bool     `json:"success"`
}

// Renderer compiles and renders Liquid templates with caching.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewRenderer creates a renderer with the standard custom filters.
func NewRenderer() *Renderer {
	r := &Renderer{engine: liquid.NewEngine()}
	r.registerFilters()
	return r
}

func (r *Renderer) registerFilters() {
	// {{ firstName | default: "Friend" }}
	r.engine.RegisterFilter("default", func(value any, defaultVal string) any {
		if value == nil {
			return defaultVal
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	// {{ name | capitalize }}
	r.engine.RegisterFilter("capitalize", func(s string) string {
		if len(s) == 0 {
			return s
		}
		return strings.ToUpper(string(s[0])) + strings.ToLower(s[1:])
	})

	// {{ email | urlencode }}
	r.engine.RegisterFilter("urlencode", func(s string) string {
		return url.QueryEscape(s)
	})

	// {{ userInput | escape }}
	r.engine.RegisterFilter("escape", func(s string) string {
		return html.EscapeString(s)
	})
}

// Parse compiles a template string and returns any syntax error.
func (r *Renderer) Parse(templateStr string) error {
	_, err := r.engine.ParseString(templateStr)
	return err
}

// Render processes a template against merge data, caching the compiled
// form under cacheKey when one is given.
func (r *Renderer) Render(cacheKey, templateStr string, data map[string]any) (string, error) {
	if cacheKey != "" {
		if cached, ok := r.cache.Load(cacheKey); ok {
			return cached.(*liquid.Template).RenderString(data)
		}
	}

	tpl, err := r.engine.ParseString(templateStr)
	if err != nil {
		return templateStr, err
	}
	if cacheKey != "" {
		r.cache.Store(cacheKey, tpl)
	}
	return tpl.RenderString(data)
}

// RenderWithMode renders with configurable error handling. Lax mode
// never fails a send over a template problem; it logs and returns the
// raw template instead.
func (r *Renderer) RenderWithMode(templateStr string, data map[string]any, mode RenderMode) (*RenderResult, error) {
	result := &RenderResult{Success: true}

	if mode == RenderModeStrict {
		for _, v := range MissingVariables(templateStr, data) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("variable %q is not defined", v))
		}
		if len(result.Warnings) > 0 {
			result.Success = false
		}
	}

	output, err := r.engine.ParseAndRenderString(templateStr, data)
	if err != nil {
		if mode == RenderModeStrict {
			return result, err
		}
		logger.Warn("template render fell back to raw body", "error", err.Error())
		result.Output = templateStr
		result.Success = false
		return result, nil
	}

	result.Output = output
	return result, nil
}

// ClearCacheKey drops one compiled template, for template updates.
func (r *Renderer) ClearCacheKey(key string) {
	r.cache.Delete(key)
}

var varPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_.]*?)(?:\s*\||\s*\}\})`)

// ExtractVariables lists the distinct variable paths a template
// references, sorted.
func ExtractVariables(templateStr string) []string {
	seen := map[string]struct{}{}
	for _, m := range varPattern.FindAllStringSubmatch(templateStr, -1) {
		name := strings.TrimSpace(m[1])
		if name == "" || isLiquidKeyword(name) {
			continue
		}
		seen[name] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// MissingVariables returns referenced variables absent from data.
func MissingVariables(templateStr string, data map[string]any) []string {
	var missing []string
	for _, v := range ExtractVariables(templateStr) {
		if !variableExists(v, data) {
			missing = append(missing, v)
		}
	}
	return missing
}

func variableExists(varPath string, data map[string]any) bool {
	var current any = data
	for _, part := range strings.Split(varPath, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		current, ok = m[part]
		if !ok {
			return false
		}
	}
	return true
}

func isLiquidKeyword(name string) bool {
	switch strings.ToLower(name) {
	case "if", "elsif", "else", "endif", "unless", "endunless",
		"case", "when", "endcase", "for", "endfor", "break", "continue",
		"capture", "endcapture", "comment", "endcomment", "raw", "endraw",
		"assign", "increment", "decrement", "include", "render",
		"forloop", "tablerowloop", "limit", "offset", "reversed",
		"true", "false", "nil", "null", "blank", "empty",
		"and", "or", "not", "contains", "in":
		return true
	}
	return false
}

// InjectPreviewText prepends a hidden preheader so inbox previews show
// it instead of the first body line.
func InjectPreviewText(htmlBody, preview string) string {
	if preview == "" || htmlBody == "" {
		return htmlBody
	}
	block := `<div style="display:none;max-height:0;overflow:hidden;">` +
		html.EscapeString(preview) + `</div>`
	if idx := strings.Index(strings.ToLower(htmlBody), "<body"); idx >= 0 {
		if end := strings.Index(htmlBody[idx:], ">"); end >= 0 {
			insert := idx + end + 1
			return htmlBody[:insert] + block + htmlBody[insert:]
		}
	}
	return block + htmlBody
}
