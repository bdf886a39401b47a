package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pribylovaa/biocraft-studio/internal/identity"
	"github.com/pribylovaa/biocraft-studio/internal/models"
	"github.com/pribylovaa/biocraft-studio/internal/oauth"
	"github.com/pribylovaa/biocraft-studio/internal/pkg/log"
	"github.com/pribylovaa/biocraft-studio/internal/pkg/redact"
)

// OAuthStart готовит вход через внешнего провайдера: URL авторизации и
// состояние (state + PKCE verifier), которое HTTP-слой кладёт в cookie.
func (s *Service) OAuthStart(ctx context.Context, provider string) (string, oauth.State, error) {
	const op = "service.oauth.OAuthStart"

	p, err := s.oauth.Get(provider)
	if err != nil {
		return "", oauth.State{}, wrapError(ErrNotFound, MsgUnknownProvider, err)
	}

	st, err := oauth.NewState(p.Name())
	if err != nil {
		log.From(ctx).Error("oauth_state_failed", slog.String("op", op), slog.String("err", err.Error()))
		return "", oauth.State{}, wrapError(ErrInternal, MsgInternal, err)
	}

	return p.AuthCodeURL(st.State, st.Challenge()), st, nil
}

// OAuthCallback обменивает code на личность провайдера, находит или создаёт
// пользователя по e-mail и выдаёт сессию.
func (s *Service) OAuthCallback(ctx context.Context, st oauth.State, code string) (*models.Session, error) {
	const op = "service.oauth.OAuthCallback"

	lg := log.From(ctx).With(slog.String("op", op), slog.String("provider", st.Provider))

	p, err := s.oauth.Get(st.Provider)
	if err != nil {
		return nil, wrapError(ErrNotFound, MsgUnknownProvider, err)
	}

	info, err := p.Exchange(ctx, code, st.Verifier)
	if err != nil {
		lg.Warn("oauth_exchange_failed", slog.String("err", err.Error()))
		return nil, wrapError(ErrUnauthenticated, MsgOAuthFailed, err)
	}

	email := normalizeEmail(info.Email)
	if email == "" || !info.EmailVerified {
		return nil, wrapError(ErrUnauthenticated, MsgOAuthFailed, oauth.ErrNoEmail)
	}

	id, verified, err := s.provider.EnsureUser(ctx, email)
	if err != nil {
		lg.Error("oauth_ensure_user_failed", slog.String("email", redact.Email(email)), slog.String("err", err.Error()))
		return nil, wrapError(ErrInternal, MsgInternal, err)
	}

	if !verified {
		if err := s.claimUnverified(ctx, id.ID); err != nil {
			lg.Error("oauth_claim_account_failed", slog.String("user_id", id.ID.String()), slog.String("err", err.Error()))
			return nil, wrapError(ErrInternal, MsgInternal, err)
		}
	}

	s.ensureProfile(ctx, *id)

	sess, err := s.provider.IssueSession(ctx, *id)
	if err != nil {
		lg.Error("oauth_issue_session_failed", slog.String("err", err.Error()))
		return nil, wrapError(ErrInternal, MsgInternal, err)
	}

	if err := s.profiles.TouchLastLogin(ctx, id.ID, s.now()); err != nil {
		lg.Warn("touch_last_login_failed", slog.String("err", err.Error()))
	}

	lg.Info("oauth_login_ok", slog.String("user_id", id.ID.String()))
	return sess, nil
}

// claimUnverified передаёт неподтверждённую учётную запись владельцу адреса,
// подтверждённого провайдером: пароль, заданный при /signup, перестаёт
// действовать, выданные сессии отзываются.
func (s *Service) claimUnverified(ctx context.Context, userID uuid.UUID) error {
	const op = "service.oauth.claimUnverified"

	secret, _, err := newResetToken()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if _, err := s.provider.UpdateUser(ctx, userID, identity.UserUpdate{Password: &secret}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.provider.RevokeAll(ctx, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.provider.ConfirmEmail(ctx, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
