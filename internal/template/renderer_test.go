package template

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	r := NewRenderer()

	out, err := r.Render("k1", "Hello {{ firstName }}!", map[string]any{"firstName": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada!", out)

	// Cached path produces the same output
	out, err = r.Render("k1", "ignored because cached", map[string]any{"firstName": "Bob"})
	require.NoError(t, err)
	assert.Equal(t, "Hello Bob!", out)

	r.ClearCacheKey("k1")
	out, err = r.Render("k1", "Bye {{ firstName }}", map[string]any{"firstName": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Bye Ada", out)
}

func TestRenderFilters(t *testing.T) {
	r := NewRenderer()

	tests := []struct {
		tpl  string
		data map[string]any
		want string
	}{
		{`{{ firstName | default: "Friend" }}`, map[string]any{}, "Friend"},
		{`{{ firstName | default: "Friend" }}`, map[string]any{"firstName": ""}, "Friend"},
		{`{{ firstName | default: "Friend" }}`, map[string]any{"firstName": "Ada"}, "Ada"},
		{`{{ name | capitalize }}`, map[string]any{"name": "ada LOVELACE"}, "Ada lovelace"},
		{`{{ email | urlencode }}`, map[string]any{"email": "a+b@example.com"}, "a%2Bb%40example.com"},
		{`{{ v | escape }}`, map[string]any{"v": "<b>"}, "&lt;b&gt;"},
	}
	for _, tt := range tests {
		out, err := r.Render("", tt.tpl, tt.data)
		require.NoError(t, err, tt.tpl)
		assert.Equal(t, tt.want, out, tt.tpl)
	}
}

func TestRenderWithModeLaxFallsBack(t *testing.T) {
	r := NewRenderer()

	res, err := r.RenderWithMode("{% broken", map[string]any{}, RenderModeLax)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "{% broken", res.Output)
}

func TestRenderWithModeStrict(t *testing.T) {
	r := NewRenderer()

	res, err := r.RenderWithMode("Hi {{ firstName }}", map[string]any{}, RenderModeStrict)
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "firstName")

	_, err = r.RenderWithMode("{% broken", map[string]any{}, RenderModeStrict)
	assert.Error(t, err)
}

func TestExtractVariables(t *testing.T) {
	tpl := `Hi {{ firstName }}, from {{ realtor.name | capitalize }}.
{% if status %}Status: {{ status }}{% endif %}
{{ firstName }} again.`

	got := ExtractVariables(tpl)
	assert.Equal(t, []string{"firstName", "realtor.name", "status"}, got)
}

func TestMissingVariables(t *testing.T) {
	tpl := "{{ firstName }} {{ realtor.name }}"
	data := map[string]any{
		"firstName": "Ada",
		"realtor":   map[string]any{"email": "r@example.com"},
	}
	assert.Equal(t, []string{"realtor.name"}, MissingVariables(tpl, data))

	data["realtor"] = map[string]any{"name": "Sam"}
	assert.Nil(t, MissingVariables(tpl, data))
}

func TestInjectPreviewText(t *testing.T) {
	withBody := `<html><body class="x"><p>Hi</p></body></html>`
	got := InjectPreviewText(withBody, "Preview here")
	assert.True(t, strings.HasPrefix(got, `<html><body class="x"><div style="display:none`))
	assert.Contains(t, got, "Preview here")

	plain := InjectPreviewText("<p>Hi</p>", "Preview")
	assert.True(t, strings.HasPrefix(plain, `<div style="display:none`))

	assert.Equal(t, "<p>Hi</p>", InjectPreviewText("<p>Hi</p>", ""))
	assert.Equal(t, "", InjectPreviewText("", "Preview"))
}
