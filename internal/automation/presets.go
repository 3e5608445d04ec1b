package automation

import (
	"context"
	"fmt"

	"github.com/ignite/keepup-email-engine/internal/template"
)

// Preset is a ready-made automation: the rule plus the template it
// sends. Installation creates both under the company, keyed by name so
// installing twice changes nothing.
type Preset struct {
	Key         string `json:"key"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Template    template.Template
	Rule        Rule
}

// Presets returns the built-in automations offered to every company.
func Presets() []Preset {
	return []Preset{
		{
			Key:         "hot_lead_followup",
			Title:       "Hot Lead Follow-Up",
			Description: "When a contact becomes Hot, send a follow-up email 24 hours later.",
			Template: template.Template{
				Name:    "Hot Lead Follow Up",
				Subject: "Quick follow-up - next steps at {{communityName}}",
				HTML: "<p>Hi {{firstName}},</p>\n" +
					"<p>Thanks again for connecting. I wanted to follow up and share next steps for {{communityName}}.</p>\n" +
					"<p>If you would like to tour or have questions, reply here or call {{realtorPhone}}.</p>\n" +
					"<p>Best,</p>\n<p>{{realtorName}}</p>",
				Text: "Hi {{firstName}},\n" +
					"Thanks again for connecting. I wanted to follow up and share next steps for {{communityName}}.\n" +
					"If you would like to tour or have questions, reply here or call {{realtorPhone}}.\n" +
					"Best,\n{{realtorName}}",
				Active: true,
			},
			Rule: Rule{
				Name:          "Status Hot: Follow Up",
				Enabled:       true,
				TriggerType:   TriggerContactStatusChanged,
				TriggerConfig: TriggerConfig{ToStatus: "Hot"},
				Action: Action{
					Type:                 ActionSendEmail,
					DelayMinutes:         1440,
					CooldownMinutes:      10080,
					MustStillMatchAtSend: true,
				},
			},
		},
		{
			Key:         "new_lead_auto_response",
			Title:       "New Lead Auto-Response",
			Description: "When a contact becomes New, send a quick response within 10 minutes.",
			Template: template.Template{
				Name:    "New Lead Auto Response",
				Subject: "Thanks for your interest in {{communityName}}",
				HTML: "<p>Hi {{firstName}},</p>\n" +
					"<p>Thanks for reaching out about {{communityName}}. I will follow up shortly with next steps.</p>\n" +
					"<p>Best,</p>\n<p>{{realtorName}}</p>",
				Text: "Hi {{firstName}},\n" +
					"Thanks for reaching out about {{communityName}}. I will follow up shortly with next steps.\n" +
					"Best,\n{{realtorName}}",
				Active: true,
			},
			Rule: Rule{
				Name:          "Status New: Auto Response",
				Enabled:       true,
				TriggerType:   TriggerContactStatusChanged,
				TriggerConfig: TriggerConfig{ToStatus: "New"},
				Action: Action{
					Type:                 ActionSendEmail,
					DelayMinutes:         10,
					CooldownMinutes:      1440,
					MustStillMatchAtSend: true,
				},
			},
		},
	}
}

// FindPreset returns the preset with the given key, nil when unknown.
func FindPreset(key string) *Preset {
	for _, p := range Presets() {
		if p.Key == key {
			preset := p
			return &preset
		}
	}
	return nil
}

// Installer wires presets into a company.
type Installer struct {
	rules     *Store
	templates *template.Store
}

// NewInstaller creates a preset installer.
func NewInstaller(rules *Store, templates *template.Store) *Installer {
	return &Installer{rules: rules, templates: templates}
}

// Install creates the preset's template and rule for the company.
// Both lookups key on name, so a second install reuses what exists.
func (i *Installer) Install(ctx context.Context, companyID, key, createdBy string) (*Rule, error) {
	preset := FindPreset(key)
	if preset == nil {
		return nil, fmt.Errorf("unknown automation preset: %s", key)
	}

	tmpl, err := i.templates.FindByName(ctx, companyID, preset.Template.Name)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		t := preset.Template
		t.CompanyID = companyID
		if err := i.templates.Create(ctx, &t); err != nil {
			return nil, err
		}
		tmpl = &t
	}

	rule, err := i.rules.FindByName(ctx, companyID, preset.Rule.Name)
	if err != nil {
		return nil, err
	}
	if rule != nil {
		return rule, nil
	}

	r := preset.Rule
	r.CompanyID = companyID
	r.CreatedBy = createdBy
	r.Action.TemplateID = tmpl.ID
	if err := i.rules.CreateRule(ctx, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
