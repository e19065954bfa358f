package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"

	"github.com/dkhelifi/planact/internal/models"
)

// Rendered holds the output of template rendering against a payload.
type Rendered struct {
	Subject  string
	BodyHTML string
	BodyText string
}

// Render executes a notification template's subject and bodies against
// the given context. Subject and text body use text templates; the HTML
// body is rendered with escaping.
func Render(tmpl *models.NotificationTemplate, ctx map[string]interface{}) (*Rendered, error) {
	subject, err := renderText("subject", tmpl.Subject, ctx)
	if err != nil {
		return nil, err
	}
	bodyText, err := renderText("body_text", tmpl.BodyText, ctx)
	if err != nil {
		return nil, err
	}
	bodyHTML, err := renderHTML("body_html", tmpl.BodyHTML, ctx)
	if err != nil {
		return nil, err
	}
	return &Rendered{Subject: subject, BodyHTML: bodyHTML, BodyText: bodyText}, nil
}

func renderText(name, src string, ctx map[string]interface{}) (string, error) {
	if src == "" {
		return "", nil
	}
	t, err := texttemplate.New(name).Parse(src)
	if err != nil {
		return "", fmt.Errorf("notify: parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("notify: render %s: %w", name, err)
	}
	return buf.String(), nil
}

func renderHTML(name, src string, ctx map[string]interface{}) (string, error) {
	if src == "" {
		return "", nil
	}
	t, err := htmltemplate.New(name).Parse(src)
	if err != nil {
		return "", fmt.Errorf("notify: parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("notify: render %s: %w", name, err)
	}
	return buf.String(), nil
}
