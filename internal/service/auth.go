package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pribylovaa/biocraft-studio/internal/identity"
	"github.com/pribylovaa/biocraft-studio/internal/models"
	"github.com/pribylovaa/biocraft-studio/internal/pkg/log"
	"github.com/pribylovaa/biocraft-studio/internal/pkg/redact"
	"github.com/pribylovaa/biocraft-studio/internal/storage"
)

// minPasswordLen — минимальная длина пароля в рунах.
const minPasswordLen = 6

// SignUpInput — данные регистрации. ConfirmPassword необязателен.
type SignUpInput struct {
	Email           string
	Password        string
	ConfirmPassword *string
}

// SignUp регистрирует пользователя и создаёт строку профиля.
// Сессия не выдаётся.
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (*models.Identity, error) {
	const op = "service.auth.SignUp"

	lg := log.From(ctx).With(slog.String("op", op))

	email := normalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, newError(ErrValidation, MsgEmailPasswordRequired)
	}

	if !validEmail(email) {
		return nil, newError(ErrValidation, MsgInvalidEmail)
	}

	if in.ConfirmPassword != nil && *in.ConfirmPassword != in.Password {
		return nil, newError(ErrValidation, MsgPasswordsDoNotMatch)
	}

	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}

	id, err := s.provider.SignUp(ctx, email, in.Password)
	if err != nil {
		if errors.Is(err, identity.ErrEmailTaken) {
			lg.Warn("signup_email_taken", slog.String("email", redact.Email(email)))
			return nil, wrapError(ErrConflict, MsgEmailTaken, err)
		}

		lg.Error("signup_failed", slog.String("err", err.Error()))
		return nil, wrapError(ErrInternal, MsgInternal, err)
	}

	s.ensureProfile(ctx, *id)

	lg.Info("signup_ok", slog.String("user_id", id.ID.String()))
	return id, nil
}

// Login проверяет учётные данные и выдаёт сессию. Неизвестный e-mail и
// неверный пароль неразличимы для вызывающего.
func (s *Service) Login(ctx context.Context, email, password string) (*models.Session, error) {
	const op = "service.auth.Login"

	lg := log.From(ctx).With(slog.String("op", op))

	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, newError(ErrValidation, MsgEmailPasswordRequired)
	}

	sess, err := s.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) || errors.Is(err, identity.ErrEmailNotVerified) {
			lg.Warn("login_rejected", slog.String("email", redact.Email(email)))
			return nil, wrapError(ErrUnauthenticated, MsgInvalidCredentials, err)
		}

		lg.Error("login_failed", slog.String("err", err.Error()))
		return nil, wrapError(ErrInternal, MsgInternal, err)
	}

	if err := s.profiles.TouchLastLogin(ctx, sess.User.ID, s.now()); err != nil {
		lg.Warn("touch_last_login_failed",
			slog.String("user_id", sess.User.ID.String()),
			slog.String("err", err.Error()),
		)
	}

	return sess, nil
}

// Logout отзывает refresh-токен с ограничением по времени.
// Ошибки только логируются: выход всегда успешен для вызывающего.
func (s *Service) Logout(ctx context.Context, refreshToken string) {
	const op = "service.auth.Logout"

	if refreshToken == "" {
		return
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Auth.RevokeTimeout)
	defer cancel()

	if err := s.provider.SignOut(rctx, refreshToken); err != nil {
		log.From(ctx).Warn("logout_revoke_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
	}
}

// Refresh ротирует refresh-токен. Любая ошибка — ErrUnauthenticated.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*models.Session, error) {
	const op = "service.auth.Refresh"

	if refreshToken == "" {
		return nil, newError(ErrUnauthenticated, MsgNoActiveSession)
	}

	sess, err := s.provider.RefreshSession(ctx, refreshToken)
	if err != nil {
		lg := log.From(ctx).With(slog.String("op", op))

		switch {
		case errors.Is(err, identity.ErrInvalidToken),
			errors.Is(err, identity.ErrTokenExpired),
			errors.Is(err, identity.ErrTokenRevoked):
			lg.Warn("refresh_rejected", slog.String("err", err.Error()))
		default:
			lg.Error("refresh_failed", slog.String("err", err.Error()))
		}

		return nil, wrapError(ErrUnauthenticated, MsgInvalidSession, err)
	}

	return sess, nil
}

// CurrentUser проверяет access-токен и возвращает личность.
func (s *Service) CurrentUser(ctx context.Context, accessToken string) (*models.Identity, error) {
	if accessToken == "" {
		return nil, newError(ErrUnauthenticated, MsgAuthRequired)
	}

	id, err := s.provider.GetUser(ctx, accessToken)
	if err != nil {
		if errors.Is(err, identity.ErrTokenExpired) {
			return nil, wrapError(ErrSessionExpired, MsgSessionExpired, err)
		}
		return nil, wrapError(ErrUnauthenticated, MsgInvalidSession, err)
	}

	return id, nil
}

// CurrentSession возвращает несекретную сводку проверенной сессии
// с актуальной личностью.
func (s *Service) CurrentSession(ctx context.Context, sess *models.Session) (*models.SessionSummary, error) {
	if sess == nil {
		return nil, newError(ErrUnauthenticated, MsgNoActiveSession)
	}

	id, err := s.CurrentUser(ctx, sess.AccessToken)
	if err != nil {
		return nil, err
	}

	sum := sess.Summary()
	sum.User = *id

	return &sum, nil
}

// RequestPasswordReset всегда отвечает одним и тем же сообщением,
// существует аккаунт или нет.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	const op = "service.auth.RequestPasswordReset"

	email = normalizeEmail(email)
	if email == "" {
		return "", newError(ErrValidation, MsgEmailRequired)
	}

	lg := log.From(ctx).With(slog.String("op", op), slog.String("email", redact.Email(email)))

	profile, err := s.profiles.ProfileByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Info("reset_unknown_email")
		} else {
			lg.Error("reset_lookup_failed", slog.String("err", err.Error()))
		}

		return MsgResetRequested, nil
	}

	token, hash, err := newResetToken()
	if err != nil {
		lg.Error("reset_token_generate_failed", slog.String("err", err.Error()))
		return MsgResetRequested, nil
	}

	now := s.now()
	rt := &models.PasswordResetToken{
		UserID:    profile.UserID,
		TokenHash: hash,
		ExpiresAt: now.Add(s.cfg.Auth.ResetTokenTTL),
		CreatedAt: now,
	}

	if err := s.resets.SaveResetToken(ctx, rt); err != nil {
		lg.Error("reset_token_save_failed", slog.String("err", err.Error()))
		return MsgResetRequested, nil
	}

	link := strings.TrimRight(s.cfg.FrontendURL, "/") + "/reset-password?token=" + url.QueryEscape(token)
	if err := s.mailer.Send(ctx, profile.Email, link); err != nil {
		lg.Error("reset_mail_failed", slog.String("err", err.Error()))
	}

	return MsgResetRequested, nil
}

// ConfirmPasswordReset устанавливает новый пароль по одноразовому токену.
// Токен удаляется до смены пароля, поэтому повторное использование невозможно
// даже при параллельных запросах.
func (s *Service) ConfirmPasswordReset(ctx context.Context, password, token string) error {
	const op = "service.auth.ConfirmPasswordReset"

	if password == "" || token == "" {
		return newError(ErrValidation, MsgPasswordTokenRequired)
	}

	if err := validatePassword(password); err != nil {
		return err
	}

	lg := log.From(ctx).With(slog.String("op", op))
	hash := hashResetToken(token)

	rt, err := s.resets.ResetTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return wrapError(ErrValidation, MsgInvalidOrExpiredToken, err)
		}

		lg.Error("reset_token_lookup_failed", slog.String("err", err.Error()))
		return wrapError(ErrInternal, MsgInternal, err)
	}

	if err := s.resets.DeleteResetToken(ctx, hash); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return wrapError(ErrValidation, MsgInvalidOrExpiredToken, err)
		}

		lg.Error("reset_token_delete_failed", slog.String("err", err.Error()))
		return wrapError(ErrInternal, MsgInternal, err)
	}

	if rt.Expired(s.now()) {
		return newError(ErrValidation, MsgTokenExpired)
	}

	if _, err := s.provider.UpdateUser(ctx, rt.UserID, identity.UserUpdate{Password: &password}); err != nil {
		lg.Error("reset_update_password_failed", slog.String("err", err.Error()))
		return wrapError(ErrInternal, MsgInternal, err)
	}

	if err := s.provider.RevokeAll(ctx, rt.UserID); err != nil {
		lg.Warn("reset_revoke_sessions_failed", slog.String("err", err.Error()))
	}

	lg.Info("password_reset_ok", slog.String("user_id", rt.UserID.String()))
	return nil
}

// ChangePassword меняет пароль после проверки текущего.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	const op = "service.auth.ChangePassword"

	if current == "" || next == "" {
		return newError(ErrValidation, MsgChangeFieldsRequired)
	}

	if err := validatePassword(next); err != nil {
		return err
	}

	lg := log.From(ctx).With(slog.String("op", op), slog.String("user_id", userID.String()))

	if err := s.provider.VerifyPassword(ctx, userID, current); err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			return wrapError(ErrUnauthenticated, MsgCurrentPasswordInvalid, err)
		}

		lg.Error("verify_password_failed", slog.String("err", err.Error()))
		return wrapError(ErrInternal, MsgInternal, err)
	}

	if _, err := s.provider.UpdateUser(ctx, userID, identity.UserUpdate{Password: &next}); err != nil {
		lg.Error("update_password_failed", slog.String("err", err.Error()))
		return wrapError(ErrInternal, MsgInternal, err)
	}

	return nil
}

// ensureProfile создаёт строку профиля; существующая — не ошибка.
func (s *Service) ensureProfile(ctx context.Context, id models.Identity) {
	_, err := s.profiles.CreateProfile(ctx, &models.Profile{UserID: id.ID, Email: id.Email})
	if err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
		log.From(ctx).Warn("create_profile_failed",
			slog.String("user_id", id.ID.String()),
			slog.String("err", err.Error()),
		)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validEmail требует "@" и голый адрес без отображаемого имени.
func validEmail(email string) bool {
	if !strings.Contains(email, "@") {
		return false
	}

	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}

	return addr.Address == email
}

// validatePassword: не короче 6 символов, есть заглавная, строчная и цифра.
func validatePassword(password string) error {
	if utf8.RuneCountInString(password) < minPasswordLen {
		return newError(ErrValidation, MsgPasswordTooShort)
	}

	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}

	if !upper || !lower || !digit {
		return newError(ErrValidation, MsgPasswordTooWeak)
	}

	return nil
}

// newResetToken — 32 случайных байта в hex и sha256-хэш от них в hex.
func newResetToken() (token, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}

	token = hex.EncodeToString(b)
	return token, hashResetToken(token), nil
}

func hashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
