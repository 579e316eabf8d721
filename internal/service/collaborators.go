package service

import (
	"context"
	"log/slog"

	"github.com/vedran77/lobby/internal/domain"
)

// Mailer sends outbound mail. Calls are fire-and-forget.
type Mailer interface {
	SendWelcome(ctx context.Context, user domain.User) error
}

// HumanVerifier checks a captcha token. Calls are fire-and-forget.
type HumanVerifier interface {
	Verify(ctx context.Context, token string) (bool, error)
}

// LogMailer logs instead of sending.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) SendWelcome(ctx context.Context, user domain.User) error {
	m.Logger.InfoContext(ctx, "welcome mail", slog.String("to", user.Email), slog.String("username", user.Username))
	return nil
}

// AllowAll accepts every token.
type AllowAll struct{}

func (AllowAll) Verify(context.Context, string) (bool, error) {
	return true, nil
}
