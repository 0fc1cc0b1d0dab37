package notify

import (
	"bytes"
	"fmt"
	"text/template"
)

const (
	TemplateIntakePacket  = "intake_packet"
	TemplateReminderTier1 = "reminder_tier1"
	TemplateReminderTier2 = "reminder_tier2"
	TemplateReminderTier3 = "reminder_tier3"
)

// Payload keys shared by the built-in templates.
const (
	KeyPatientName     = "patient_name"
	KeyAppointmentTime = "appointment_time"
	KeyDoctor          = "doctor"
	KeyLocation        = "location"
	KeyIntakeFormURL   = "intake_form_url"
	KeyIsNewPatient    = "is_new_patient"
)

type messageTemplate struct {
	subject *template.Template
	body    *template.Template
}

// Templates maps template ids to subject and body text templates. Rendering
// fails on any payload key the template references but the payload lacks.
type Templates struct {
	byID map[string]messageTemplate
}

func NewTemplates() *Templates {
	return &Templates{byID: make(map[string]messageTemplate)}
}

// Register parses and stores a template, replacing any previous one.
func (t *Templates) Register(id, subject, body string) error {
	s, err := template.New(id + ".subject").Option("missingkey=error").Parse(subject)
	if err != nil {
		return fmt.Errorf("parse %s subject: %w", id, err)
	}
	b, err := template.New(id + ".body").Option("missingkey=error").Parse(body)
	if err != nil {
		return fmt.Errorf("parse %s body: %w", id, err)
	}
	t.byID[id] = messageTemplate{subject: s, body: b}
	return nil
}

func (t *Templates) Render(id string, payload map[string]any) (subject, body string, err error) {
	mt, ok := t.byID[id]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownTemplate, id)
	}
	var sb, bb bytes.Buffer
	if err := mt.subject.Execute(&sb, payload); err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", id, err)
	}
	if err := mt.body.Execute(&bb, payload); err != nil {
		return "", "", fmt.Errorf("render %s body: %w", id, err)
	}
	return sb.String(), bb.String(), nil
}

// DefaultTemplates returns the intake packet and the three reminder tiers.
func DefaultTemplates() *Templates {
	t := NewTemplates()
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(t.Register(TemplateIntakePacket,
		"Your new patient intake form",
		`Hi {{.patient_name}}, welcome to the clinic. Your first visit is on {{.appointment_time}} with {{.doctor}} at {{.location}}. `+
			`Please complete your intake form before you arrive: {{.intake_form_url}}`))
	must(t.Register(TemplateReminderTier1,
		"Upcoming appointment on {{.appointment_time}}",
		`Hi {{.patient_name}}, this is a reminder of your appointment on {{.appointment_time}} with {{.doctor}} at {{.location}}.`))
	must(t.Register(TemplateReminderTier2,
		"Please confirm your appointment on {{.appointment_time}}",
		`Hi {{.patient_name}}, your appointment with {{.doctor}} at {{.location}} is on {{.appointment_time}}. `+
			`Reply YES to confirm or NO [REASON] to cancel.`+
			`{{if .is_new_patient}} Have you completed your intake form? {{.intake_form_url}}{{end}}`))
	must(t.Register(TemplateReminderTier3,
		"FINAL REMINDER: appointment on {{.appointment_time}}",
		`FINAL REMINDER: {{.patient_name}}, you are booked with {{.doctor}} at {{.location}} on {{.appointment_time}}. `+
			`Please reply YES to confirm your attendance or NO to cancel.`))
	return t
}
