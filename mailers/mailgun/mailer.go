// Package mailgun provides a Mailgun implementation of the mfgauth.Mailer interface.
package mailgun

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Mailer implements mfgauth.Mailer using the Mailgun messages API.
type Mailer struct {
	apiKey    string
	domain    string
	fromEmail string
	fromName  string
	baseURL   string
	client    *http.Client
}

// New creates a new Mailgun mailer.
func New(apiKey, domain, fromEmail, fromName string) *Mailer {
	return &Mailer{
		apiKey:    apiKey,
		domain:    domain,
		fromEmail: fromEmail,
		fromName:  fromName,
		baseURL:   "https://api.mailgun.net/v3",
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// NewWithBaseURL creates a new Mailgun mailer with a custom base URL, useful
// for the EU region endpoint.
func NewWithBaseURL(apiKey, domain, fromEmail, fromName, baseURL string) *Mailer {
	m := New(apiKey, domain, fromEmail, fromName)
	if baseURL != "" {
		m.baseURL = baseURL
	}
	return m
}

// SendPasswordReset sends a password reset email.
func (m *Mailer) SendPasswordReset(ctx context.Context, to, link string) error {
	subject := "Reset your password"
	text := fmt.Sprintf("Reset link: %s\n\nThis link expires soon. If you did not request a reset, ignore this email.", link)
	html := fmt.Sprintf("<p>Reset link: <a href=\"%s\">%s</a></p><p>This link expires soon. If you did not request a reset, ignore this email.</p>", link, link)
	return m.send(ctx, to, subject, text, html)
}

// SendSecurityAlert sends a security alert notification.
func (m *Mailer) SendSecurityAlert(ctx context.Context, to, subject, body string) error {
	return m.send(ctx, to, subject, body, "<p>"+body+"</p>")
}

func (m *Mailer) send(ctx context.Context, to, subject, text, html string) error {
	if m.domain == "" {
		return fmt.Errorf("mailgun domain not configured")
	}

	form := url.Values{}
	from := m.fromEmail
	if m.fromName != "" {
		from = fmt.Sprintf("%s <%s>", m.fromName, m.fromEmail)
	}
	form.Set("from", from)
	form.Set("to", to)
	form.Set("subject", subject)
	form.Set("text", text)
	form.Set("html", html)

	endpoint := fmt.Sprintf("%s/%s/messages", m.baseURL, m.domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth("api", m.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mailgun returned status %d", resp.StatusCode)
	}
	return nil
}
