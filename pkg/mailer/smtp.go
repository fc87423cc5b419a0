package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/noah-isme/auth-api/pkg/config"
)

// SMTPMailer delivers transactional mail over SMTP with STARTTLS.
type SMTPMailer struct {
	cfg         config.SMTPConfig
	frontendURL string
}

// NewSMTPMailer builds an SMTPMailer from config.
func NewSMTPMailer(smtpCfg config.SMTPConfig, mailCfg config.MailConfig) *SMTPMailer {
	return &SMTPMailer{cfg: smtpCfg, frontendURL: strings.TrimRight(mailCfg.FrontendURL, "/")}
}

// SendVerificationEmail mails the email-verification link.
func (m *SMTPMailer) SendVerificationEmail(ctx context.Context, email, name, token string) error {
	verifyURL := fmt.Sprintf("%s/verify-email?token=%s", m.frontendURL, token)
	content := fmt.Sprintf(`
    <h2>Welcome, %s!</h2>
    <p>Thanks for signing up. Please verify your email address to activate your account.</p>
    <hr class="divider">
    <a href="%s" class="btn btn-primary">Verify your email</a>
    <hr class="divider">
    <p class="fineprint">This link expires in <strong>24 hours</strong>.</p>
    <p class="fineprint">If you did not create this account, you can ignore this email.</p>`, name, verifyURL)

	return m.send(ctx, email, "Verify your email", wrapHTML(content))
}

// SendPasswordResetEmail mails the password-reset link.
func (m *SMTPMailer) SendPasswordResetEmail(ctx context.Context, email, name, token string) error {
	resetURL := fmt.Sprintf("%s/reset-password?token=%s", m.frontendURL, token)
	content := fmt.Sprintf(`
    <h2>Password reset requested</h2>
    <p>Hi %s,</p>
    <p>We received a request to reset your password.</p>
    <hr class="divider">
    <a href="%s" class="btn btn-danger">Reset password</a>
    <hr class="divider">
    <p class="fineprint">This link is valid for <strong>1 hour</strong>.</p>
    <p class="fineprint">If you did not request a reset, please change your password immediately.</p>`, name, resetURL)

	return m.send(ctx, email, "Reset your password", wrapHTML(content))
}

// SendPasswordChangedEmail notifies the user that their password changed.
func (m *SMTPMailer) SendPasswordChangedEmail(ctx context.Context, email, name string) error {
	content := fmt.Sprintf(`
    <h2>Password changed</h2>
    <p>Hi %s,</p>
    <p>Your password has been changed and all active sessions were signed out.</p>
    <hr class="divider">
    <p class="fineprint">If you did not change your password, contact support immediately.</p>`, name)

	return m.send(ctx, email, "Your password was changed", wrapHTML(content))
}

func (m *SMTPMailer) send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)

	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}

	if m.cfg.User != "" {
		auth := smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(envelopeFrom(m.cfg.From, m.cfg.User)); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}

	msg := strings.Join([]string{
		"From: " + m.cfg.From,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		`Content-Type: text/html; charset="UTF-8"`,
		"",
		body,
	}, "\r\n")

	if _, err := w.Write([]byte(msg)); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close: %w", err)
	}

	return client.Quit()
}

// envelopeFrom strips a display name from the configured sender when the
// SMTP user is empty.
func envelopeFrom(from, user string) string {
	if user != "" {
		return user
	}
	if start := strings.IndexByte(from, '<'); start >= 0 {
		if end := strings.IndexByte(from[start:], '>'); end > 0 {
			return from[start+1 : start+end]
		}
	}
	return from
}

func wrapHTML(content string) string {
	return `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <style>
    body { font-family: Arial, sans-serif; background: #f4f4f4; margin: 0; padding: 0; }
    .container { max-width: 600px; margin: 40px auto; background: #fff; border-radius: 10px; overflow: hidden; }
    .header { background: #4F46E5; color: white; padding: 30px; text-align: center; }
    .body { padding: 30px; color: #333; line-height: 1.6; }
    .btn { display: inline-block; padding: 14px 28px; border-radius: 6px; text-decoration: none; font-weight: bold; margin: 20px 0; }
    .btn-primary { background: #4F46E5; color: white; }
    .btn-danger { background: #DC2626; color: white; }
    .footer { background: #f4f4f4; padding: 20px; text-align: center; font-size: 12px; color: #888; }
    .divider { border: none; border-top: 1px solid #eee; margin: 20px 0; }
    .fineprint { color: #888; font-size: 13px; }
  </style>
</head>
<body>
  <div class="container">
    <div class="header"><h1>Auth System</h1></div>
    <div class="body">` + content + `</div>
    <div class="footer">This email was generated automatically.</div>
  </div>
</body>
</html>`
}
