// Package sendgrid provides a SendGrid implementation of the mfgauth.Mailer interface.
package sendgrid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Mailer implements mfgauth.Mailer using the SendGrid v3 mail API.
type Mailer struct {
	apiKey    string
	fromEmail string
	fromName  string
	client    *http.Client
}

// New creates a new SendGrid mailer.
func New(apiKey, fromEmail, fromName string) *Mailer {
	return &Mailer{
		apiKey:    apiKey,
		fromEmail: fromEmail,
		fromName:  fromName,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
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
	payload := map[string]any{
		"personalizations": []map[string]any{
			{
				"to":      []map[string]string{{"email": to}},
				"subject": subject,
			},
		},
		"from": map[string]string{
			"email": m.fromEmail,
			"name":  m.fromName,
		},
		"content": []map[string]string{
			{"type": "text/plain", "value": text},
			{"type": "text/html", "value": html},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.sendgrid.com/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid returned status %d", resp.StatusCode)
	}
	return nil
}
