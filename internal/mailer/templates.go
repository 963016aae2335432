package mailer

import (
	"bytes"
	"fmt"
	"text/template"
)

// Each template renders a subject line followed by the plain-text body.
// The first line of the rendered output is the subject.
var templates = template.Must(template.New("mail").Parse(`
{{- define "invoice_created" -}}
Invoice {{.invoice_id}}
Hello {{.member_name}},

Your invoice over {{.currency}} {{.amount}} is ready. You can settle it
by bank transfer using your usual payment slip.

Amount due: {{.currency}} {{.missing_amount}}

Thank you for supporting the farm.
{{- end -}}

{{- define "invoice_overdue_notice" -}}
Payment reminder {{.overdue_notices_count}} for invoice {{.invoice_id}}
Hello {{.member_name}},

Our records show an outstanding balance of {{.currency}} {{.missing_amount}}
on your invoice {{.invoice_id}}. Please settle it at your earliest
convenience. The updated invoice is attached.

If your payment crossed this reminder, please disregard it.
{{- end -}}
`))

// render produces the subject and body for one template.
func render(name string, data map[string]any) (subject, body string, err error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", "", fmt.Errorf("render mail template %q: %w", name, err)
	}
	out := buf.String()
	for i := 0; i < len(out); i++ {
		if out[i] == '\n' {
			return out[:i], out[i+1:], nil
		}
	}
	return out, "", nil
}
