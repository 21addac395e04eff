package email

import (
	"bytes"
	"html/template"
)

var resultsTmpl = template.Must(template.New("results").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: sans-serif; color: #1a1a1a; max-width: 560px; margin: 0 auto; padding: 24px;">
  <h2 style="margin-bottom: 8px;">Your email sequences are ready</h2>
  <p>Your personalised sequences have been generated and are attached as a CSV file.</p>
  <table style="border-collapse: collapse; margin: 24px 0;">
    <tr><td style="padding: 4px 16px 4px 0; color: #6b7280;">Contacts</td><td><strong>{{.ContactCount}}</strong></td></tr>
    <tr><td style="padding: 4px 16px 4px 0; color: #6b7280;">Emails generated</td><td><strong>{{.EmailsGenerated}}</strong></td></tr>
    {{- if .ErrorCount}}
    <tr><td style="padding: 4px 16px 4px 0; color: #6b7280;">Contacts that failed</td><td><strong>{{.ErrorCount}}</strong></td></tr>
    {{- end}}
  </table>
  {{- if .ErrorCount}}
  <p style="color: #6b7280; font-size: 14px;">Rows that could not be generated are marked ERROR in the file.</p>
  {{- end}}
  {{- if .DownloadURL}}
  <p style="margin: 32px 0;">
    <a href="{{.DownloadURL}}"
       style="background: #0f172a; color: #ffffff; padding: 12px 24px;
              border-radius: 6px; text-decoration: none; font-weight: 600;">
      Download CSV
    </a>
  </p>
  {{- end}}
  <p style="color: #6b7280; font-size: 14px;">
    Import the file into your outreach tool, or reply to this email with any questions.
  </p>
  <hr style="border: none; border-top: 1px solid #e5e7eb; margin: 32px 0;">
  <p style="color: #9ca3af; font-size: 12px;">Order {{.OrderID}}</p>
</body>
</html>`))

func resultsHTML(p ResultsReadyParams) (string, error) {
	var buf bytes.Buffer
	if err := resultsTmpl.Execute(&buf, p); err != nil {
		return "", err
	}
	return buf.String(), nil
}
