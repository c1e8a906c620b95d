package mail

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/waveline/server/internal/logging"
)

// LogMailer logs the messages it would deliver instead of sending them. It
// stands in for the SMTP collaborator in development and tests; deployments
// swap in a real implementation of Mailer.
type LogMailer struct {
	frontendBaseURL string
	sender          string
}

// NewLogMailer creates a LogMailer building links against the frontend base URL.
func NewLogMailer(frontendBaseURL, sender string) *LogMailer {
	return &LogMailer{frontendBaseURL: frontendBaseURL, sender: sender}
}

func (m *LogMailer) log(ctx context.Context, subject, to, link string) error {
	logging.FromContext(ctx).Info("email send",
		slog.String("from", m.sender),
		slog.String("to", logging.MaskEmail(to)),
		slog.String("subject", subject),
		slog.String("link", link),
	)
	return nil
}

func (m *LogMailer) SendWelcomeEmail(ctx context.Context, to, name, token string) error {
	link := fmt.Sprintf("%s/verify-email/%s", m.frontendBaseURL, token)
	return m.log(ctx, "Welcome to the Site!", to, link)
}

func (m *LogMailer) SendPasswordResetEmail(ctx context.Context, to, name, token string) error {
	link := fmt.Sprintf("%s/reset-password/%s", m.frontendBaseURL, token)
	return m.log(ctx, "Your password reset link", to, link)
}

func (m *LogMailer) SendPasswordResetSuccessEmail(ctx context.Context, to, name string) error {
	return m.log(ctx, "Your password was reset successfully", to, "")
}

func (m *LogMailer) SendEmailChangeEmail(ctx context.Context, to, name, userID, token string) error {
	link := fmt.Sprintf("%s/change-email/%s/confirm/%s", m.frontendBaseURL, userID, token)
	return m.log(ctx, "Your Request to Change Email Address", to, link)
}
