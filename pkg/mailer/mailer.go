package mailer

import "context"

// Mailer is the notification sink consumed by the credential service.
// Implementations are best-effort: a send failure must be surfaced as an
// error so the caller can log it, but callers never let it roll back the
// state change that triggered the mail.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, email, name, token string) error
	SendPasswordResetEmail(ctx context.Context, email, name, token string) error
	SendPasswordChangedEmail(ctx context.Context, email, name string) error
}
