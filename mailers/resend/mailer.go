// Package resend provides a Resend implementation of the mfgauth.Mailer interface.
package resend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Mailer implements mfgauth.Mailer using the Resend API.
type Mailer struct {
	apiKey    string
	fromEmail string
	fromName  string
	client    *http.Client
}

// New creates a new Resend mailer.
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
	html := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<style>
		body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; }
		.container { max-width: 600px; margin: 0 auto; padding: 20px; }
		.button { display: inline-block; padding: 12px 24px; background: #2563eb; color: white; text-decoration: none; border-radius: 6px; margin: 20px 0; }
		.footer { font-size: 12px; color: #6b7280; margin-top: 40px; }
	</style>
</head>
<body>
	<div class="container">
		<h1>Reset your password</h1>
		<p>Click the button below to reset your password:</p>
		<a href="%s" class="button">Reset Password</a>
		<p class="footer">This link expires in 1 hour. If you didn't request this, you can ignore this email.</p>
	</div>
</body>
</html>`, link)

	text := fmt.Sprintf(`Reset your password

Click this link to reset your password: %s

This link expires in 1 hour.`, link)

	return m.send(ctx, to, subject, html, text)
}

// SendSecurityAlert sends a security alert notification.
func (m *Mailer) SendSecurityAlert(ctx context.Context, to, subject, body string) error {
	html := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<style>
		body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; }
		.container { max-width: 600px; margin: 0 auto; padding: 20px; }
		.footer { font-size: 12px; color: #6b7280; margin-top: 40px; }
	</style>
</head>
<body>
	<div class="container">
		<h1>%s</h1>
		<p>%s</p>
		<p class="footer">If this was you, no action is needed.</p>
	</div>
</body>
</html>`, subject, body)

	return m.send(ctx, to, subject, html, body)
}

func (m *Mailer) send(ctx context.Context, to, subject, html, text string) error {
	payload := map[string]any{
		"from":    fmt.Sprintf("%s <%s>", m.fromName, m.fromEmail),
		"to":      []string{to},
		"subject": subject,
		"html":    html,
		"text":    text,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.resend.com/emails", bytes.NewReader(body))
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
		return fmt.Errorf("resend returned status %d", resp.StatusCode)
	}
	return nil
}
