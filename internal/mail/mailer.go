// Package mail is the boundary to the email delivery collaborator. The auth
// flows treat sends as fire-and-forget: a failed send is logged by the caller
// and never rolls back the write that preceded it.
package mail

import "context"

// Mailer delivers the templated messages the auth flows produce.
type Mailer interface {
	SendWelcomeEmail(ctx context.Context, to, name, token string) error
	SendPasswordResetEmail(ctx context.Context, to, name, token string) error
	SendPasswordResetSuccessEmail(ctx context.Context, to, name string) error
	SendEmailChangeEmail(ctx context.Context, to, name, userID, token string) error
}
