package service

//go:generate mockgen -source=mailer.go -destination=../../mocks/mailer.go -package=mocks

import (
	"context"
	"log/slog"

	"github.com/pribylovaa/biocraft-studio/internal/pkg/log"
	"github.com/pribylovaa/biocraft-studio/internal/pkg/redact"
)

// Mailer доставляет пользователю ссылку сброса пароля.
type Mailer interface {
	Send(ctx context.Context, to, link string) error
}

// LogMailer пишет ссылку в лог вместо отправки письма (локальная разработка).
// Токен в ссылке маскируется.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, to, link string) error {
	log.From(ctx).Info("password_reset_link",
		slog.String("email", redact.Email(to)),
		slog.String("link", redact.URL(link)),
	)

	return nil
}
