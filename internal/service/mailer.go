package service

import (
	"context"
	"log/slog"
)

// Mailer delivers out-of-band messages. Real delivery (SMTP, a provider API)
// is an external collaborator; the server wires LogMailer by default.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, token string) error
}

// LogMailer records deliveries in the log instead of sending them.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendPasswordReset(ctx context.Context, email, token string) error {
	m.logger.InfoContext(ctx, "password reset mail queued",
		slog.String("to", email),
		slog.String("token", tokenPrefix(token)),
	)
	return nil
}
