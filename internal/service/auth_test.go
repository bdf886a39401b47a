package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/pribylovaa/biocraft-studio/internal/identity"
	"github.com/pribylovaa/biocraft-studio/internal/models"
	"github.com/pribylovaa/biocraft-studio/internal/storage"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

// Валидация выполняется до любого обращения к провайдеру.
func TestSignUp_Validation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   SignUpInput
		msg  string
	}{
		{"empty_email", SignUpInput{Password: "Abcdef1"}, MsgEmailPasswordRequired},
		{"empty_password", SignUpInput{Email: "a@b.com"}, MsgEmailPasswordRequired},
		{"no_at", SignUpInput{Email: "a.b.com", Password: "Abcdef1"}, MsgInvalidEmail},
		{"display_name", SignUpInput{Email: "Ada <a@b.com>", Password: "Abcdef1"}, MsgInvalidEmail},
		{"mismatch", SignUpInput{Email: "a@b.com", Password: "Abcdef1", ConfirmPassword: strPtr("Abcdef2")}, MsgPasswordsDoNotMatch},
		{"short", SignUpInput{Email: "a@b.com", Password: "Ab1"}, MsgPasswordTooShort},
		{"no_upper", SignUpInput{Email: "a@b.com", Password: "abcdef1"}, MsgPasswordTooWeak},
		{"no_lower", SignUpInput{Email: "a@b.com", Password: "ABCDEF1"}, MsgPasswordTooWeak},
		{"no_digit", SignUpInput{Email: "a@b.com", Password: "Abcdefg"}, MsgPasswordTooWeak},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t, false)
			_, err := env.svc.SignUp(context.Background(), tc.in)
			requireKind(t, err, ErrValidation, tc.msg)
		})
	}
}

func TestSignUp_OK(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	id := testIdentity()

	env.provider.EXPECT().SignUp(gomock.Any(), "a@b.com", "Abcdef1").Return(&id, nil)
	env.profiles.EXPECT().CreateProfile(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p *models.Profile) (*models.Profile, error) {
			require.Equal(t, id.ID, p.UserID)
			require.Equal(t, "a@b.com", p.Email)
			return p, nil
		})

	got, err := env.svc.SignUp(context.Background(), SignUpInput{
		Email:           "  A@B.com ",
		Password:        "Abcdef1",
		ConfirmPassword: strPtr("Abcdef1"),
	})
	require.NoError(t, err)
	require.Equal(t, id, *got)
}

// Ошибка создания профиля не мешает регистрации: профиль создастся лениво.
func TestSignUp_ProfileFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	id := testIdentity()

	env.provider.EXPECT().SignUp(gomock.Any(), "a@b.com", "Abcdef1").Return(&id, nil)
	env.profiles.EXPECT().CreateProfile(gomock.Any(), gomock.Any()).Return(nil, errors.New("db down"))

	_, err := env.svc.SignUp(context.Background(), SignUpInput{Email: "a@b.com", Password: "Abcdef1"})
	require.NoError(t, err)
}

func TestSignUp_EmailTaken(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	env.provider.EXPECT().SignUp(gomock.Any(), "a@b.com", "Abcdef1").Return(nil, identity.ErrEmailTaken)

	_, err := env.svc.SignUp(context.Background(), SignUpInput{Email: "a@b.com", Password: "Abcdef1"})
	requireKind(t, err, ErrConflict, MsgEmailTaken)
}

func TestSignUp_Internal(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	env.provider.EXPECT().SignUp(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("db down"))

	_, err := env.svc.SignUp(context.Background(), SignUpInput{Email: "a@b.com", Password: "Abcdef1"})
	requireKind(t, err, ErrInternal, MsgInternal)
}

func TestLogin_Required(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)

	_, err := env.svc.Login(context.Background(), " ", "x")
	requireKind(t, err, ErrValidation, MsgEmailPasswordRequired)

	_, err = env.svc.Login(context.Background(), "a@b.com", "")
	requireKind(t, err, ErrValidation, MsgEmailPasswordRequired)
}

// Неверный пароль, неизвестный e-mail и неподтверждённый e-mail дают один ответ.
func TestLogin_Rejected(t *testing.T) {
	t.Parallel()

	for _, cause := range []error{identity.ErrInvalidCredentials, identity.ErrEmailNotVerified} {
		env := newTestEnv(t, false)
		env.provider.EXPECT().SignInWithPassword(gomock.Any(), "a@b.com", "Wrong1pass").Return(nil, cause)

		_, err := env.svc.Login(context.Background(), "a@b.com", "Wrong1pass")
		requireKind(t, err, ErrUnauthenticated, MsgInvalidCredentials)
	}
}

func TestLogin_OK_TouchFailureIgnored(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	id := testIdentity()
	sess := models.NewSession("at", "rt", id, fixedNow, time.Hour)

	env.provider.EXPECT().SignInWithPassword(gomock.Any(), "a@b.com", "Abcdef1").Return(&sess, nil)
	env.profiles.EXPECT().TouchLastLogin(gomock.Any(), id.ID, fixedNow).Return(errors.New("db down"))

	got, err := env.svc.Login(context.Background(), "A@b.com", "Abcdef1")
	require.NoError(t, err)
	require.Equal(t, "a@b.com", got.User.Email)
}

func TestLogin_Internal(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	env.provider.EXPECT().SignInWithPassword(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("db down"))

	_, err := env.svc.Login(context.Background(), "a@b.com", "Abcdef1")
	requireKind(t, err, ErrInternal, MsgInternal)
}

// Logout не возвращает ошибок; отзыв идёт с ограничением по времени
// и переживает отмену контекста запроса.
func TestLogout_BestEffort(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)

	env.svc.Logout(context.Background(), "")

	env.provider.EXPECT().SignOut(gomock.Any(), "rt").
		DoAndReturn(func(ctx context.Context, _ string) error {
			_, ok := ctx.Deadline()
			require.True(t, ok)
			require.NoError(t, ctx.Err())
			return errors.New("store unreachable")
		})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	env.svc.Logout(ctx, "rt")
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)

	_, err := env.svc.Refresh(context.Background(), "")
	requireKind(t, err, ErrUnauthenticated, MsgNoActiveSession)

	for _, cause := range []error{identity.ErrTokenRevoked, identity.ErrTokenExpired, identity.ErrInvalidToken, errors.New("db down")} {
		env.provider.EXPECT().RefreshSession(gomock.Any(), "old").Return(nil, cause)

		_, err = env.svc.Refresh(context.Background(), "old")
		requireKind(t, err, ErrUnauthenticated, MsgInvalidSession)
	}

	sess := models.NewSession("at2", "rt2", testIdentity(), fixedNow, time.Hour)
	env.provider.EXPECT().RefreshSession(gomock.Any(), "old").Return(&sess, nil)

	got, err := env.svc.Refresh(context.Background(), "old")
	require.NoError(t, err)
	require.Equal(t, "rt2", got.RefreshToken)
}

func TestCurrentSession(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	id := testIdentity()
	sess := models.NewSession("at", "rt", id, fixedNow, time.Hour)

	_, err := env.svc.CurrentSession(context.Background(), nil)
	requireKind(t, err, ErrUnauthenticated, MsgNoActiveSession)

	promoted := id
	promoted.Role = models.RoleAdmin
	env.provider.EXPECT().GetUser(gomock.Any(), "at").Return(&promoted, nil)

	sum, err := env.svc.CurrentSession(context.Background(), &sess)
	require.NoError(t, err)
	require.Equal(t, models.RoleAdmin, sum.User.Role)
	require.Equal(t, sess.ExpiresAt, sum.ExpiresAt)

	env.provider.EXPECT().GetUser(gomock.Any(), "at").Return(nil, identity.ErrTokenExpired)
	_, err = env.svc.CurrentSession(context.Background(), &sess)
	requireKind(t, err, ErrSessionExpired, MsgSessionExpired)
	require.ErrorIs(t, err, ErrUnauthenticated)

	env.provider.EXPECT().GetUser(gomock.Any(), "at").Return(nil, identity.ErrInvalidToken)
	_, err = env.svc.CurrentSession(context.Background(), &sess)
	requireKind(t, err, ErrUnauthenticated, MsgInvalidSession)
	require.NotErrorIs(t, err, ErrSessionExpired)

	_, err = env.svc.CurrentUser(context.Background(), "")
	requireKind(t, err, ErrUnauthenticated, MsgAuthRequired)
}

func TestRequestPasswordReset_EmailRequired(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	_, err := env.svc.RequestPasswordReset(context.Background(), "  ")
	requireKind(t, err, ErrValidation, MsgEmailRequired)
}

// Ответ одинаков для существующего и несуществующего e-mail.
func TestRequestPasswordReset_Enumeration(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	uid := uuid.New()

	env.profiles.EXPECT().ProfileByEmail(gomock.Any(), "ghost@b.com").Return(nil, storage.ErrNotFound)
	unknown, err := env.svc.RequestPasswordReset(context.Background(), "ghost@b.com")
	require.NoError(t, err)

	var saved *models.PasswordResetToken
	env.profiles.EXPECT().ProfileByEmail(gomock.Any(), "a@b.com").
		Return(&models.Profile{UserID: uid, Email: "a@b.com"}, nil)
	env.resets.EXPECT().SaveResetToken(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, rt *models.PasswordResetToken) error {
			saved = rt
			return nil
		})

	var link string
	env.mailer.EXPECT().Send(gomock.Any(), "a@b.com", gomock.Any()).
		DoAndReturn(func(_ context.Context, _, l string) error {
			link = l
			return nil
		})

	known, err := env.svc.RequestPasswordReset(context.Background(), "A@b.com")
	require.NoError(t, err)
	require.Equal(t, unknown, known)
	require.Equal(t, MsgResetRequested, known)

	require.NotNil(t, saved)
	require.Equal(t, uid, saved.UserID)
	require.Equal(t, fixedNow.Add(time.Hour), saved.ExpiresAt)

	require.True(t, strings.HasPrefix(link, "http://localhost:9002/reset-password?token="))
	u, err := url.Parse(link)
	require.NoError(t, err)
	token := u.Query().Get("token")
	require.Len(t, token, 64)
	require.Equal(t, hashResetToken(token), saved.TokenHash)
	require.NotEqual(t, token, saved.TokenHash)
}

// Внутренние ошибки не меняют ответ.
func TestRequestPasswordReset_InternalErrorsHidden(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)

	env.profiles.EXPECT().ProfileByEmail(gomock.Any(), "a@b.com").Return(nil, errors.New("db down"))
	msg, err := env.svc.RequestPasswordReset(context.Background(), "a@b.com")
	require.NoError(t, err)
	require.Equal(t, MsgResetRequested, msg)

	env.profiles.EXPECT().ProfileByEmail(gomock.Any(), "a@b.com").
		Return(&models.Profile{UserID: uuid.New(), Email: "a@b.com"}, nil)
	env.resets.EXPECT().SaveResetToken(gomock.Any(), gomock.Any()).Return(errors.New("db down"))
	msg, err = env.svc.RequestPasswordReset(context.Background(), "a@b.com")
	require.NoError(t, err)
	require.Equal(t, MsgResetRequested, msg)
}

func TestConfirmPasswordReset_Validation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)

	requireKind(t, env.svc.ConfirmPasswordReset(context.Background(), "", "tok"), ErrValidation, MsgPasswordTokenRequired)
	requireKind(t, env.svc.ConfirmPasswordReset(context.Background(), "Abcdef1", ""), ErrValidation, MsgPasswordTokenRequired)
	requireKind(t, env.svc.ConfirmPasswordReset(context.Background(), "weak", "tok"), ErrValidation, MsgPasswordTooShort)
}

// Токен одноразовый: первая попытка успешна, вторая — ErrValidation.
func TestConfirmPasswordReset_SingleUse(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	uid := uuid.New()
	hash := hashResetToken("tok")
	rt := &models.PasswordResetToken{UserID: uid, TokenHash: hash, ExpiresAt: fixedNow.Add(time.Minute)}

	gomock.InOrder(
		env.resets.EXPECT().ResetTokenByHash(gomock.Any(), hash).Return(rt, nil),
		env.resets.EXPECT().DeleteResetToken(gomock.Any(), hash).Return(nil),
		env.provider.EXPECT().UpdateUser(gomock.Any(), uid, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ uuid.UUID, upd identity.UserUpdate) (*models.Identity, error) {
				require.NotNil(t, upd.Password)
				require.Equal(t, "Newpass1", *upd.Password)
				require.Nil(t, upd.Role)
				return &models.Identity{ID: uid}, nil
			}),
		env.provider.EXPECT().RevokeAll(gomock.Any(), uid).Return(nil),
		env.resets.EXPECT().ResetTokenByHash(gomock.Any(), hash).Return(nil, storage.ErrNotFound),
	)

	require.NoError(t, env.svc.ConfirmPasswordReset(context.Background(), "Newpass1", "tok"))

	err := env.svc.ConfirmPasswordReset(context.Background(), "Newpass1", "tok")
	requireKind(t, err, ErrValidation, MsgInvalidOrExpiredToken)
}

func TestConfirmPasswordReset_Expired(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	hash := hashResetToken("tok")
	rt := &models.PasswordResetToken{UserID: uuid.New(), TokenHash: hash, ExpiresAt: fixedNow.Add(-time.Second)}

	env.resets.EXPECT().ResetTokenByHash(gomock.Any(), hash).Return(rt, nil)
	env.resets.EXPECT().DeleteResetToken(gomock.Any(), hash).Return(nil)

	err := env.svc.ConfirmPasswordReset(context.Background(), "Newpass1", "tok")
	requireKind(t, err, ErrValidation, MsgTokenExpired)
}

// Параллельное использование: токен уже удалён другим запросом.
func TestConfirmPasswordReset_ConcurrentUse(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	hash := hashResetToken("tok")
	rt := &models.PasswordResetToken{UserID: uuid.New(), TokenHash: hash, ExpiresAt: fixedNow.Add(time.Minute)}

	env.resets.EXPECT().ResetTokenByHash(gomock.Any(), hash).Return(rt, nil)
	env.resets.EXPECT().DeleteResetToken(gomock.Any(), hash).Return(storage.ErrNotFound)

	err := env.svc.ConfirmPasswordReset(context.Background(), "Newpass1", "tok")
	requireKind(t, err, ErrValidation, MsgInvalidOrExpiredToken)
}

func TestChangePassword(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	uid := uuid.New()

	requireKind(t, env.svc.ChangePassword(context.Background(), uid, "", "Newpass1"), ErrValidation, MsgChangeFieldsRequired)
	requireKind(t, env.svc.ChangePassword(context.Background(), uid, "Oldpass1", "newpass"), ErrValidation, MsgPasswordTooWeak)

	env.provider.EXPECT().VerifyPassword(gomock.Any(), uid, "Bad1pass").Return(identity.ErrInvalidCredentials)
	requireKind(t, env.svc.ChangePassword(context.Background(), uid, "Bad1pass", "Newpass1"), ErrUnauthenticated, MsgCurrentPasswordInvalid)

	env.provider.EXPECT().VerifyPassword(gomock.Any(), uid, "Oldpass1").Return(nil)
	env.provider.EXPECT().UpdateUser(gomock.Any(), uid, gomock.Any()).Return(&models.Identity{ID: uid}, nil)
	require.NoError(t, env.svc.ChangePassword(context.Background(), uid, "Oldpass1", "Newpass1"))
}

func TestValidEmail(t *testing.T) {
	t.Parallel()

	require.True(t, validEmail("a@b.com"))
	require.True(t, validEmail("first.last+tag@lab.example.org"))
	require.False(t, validEmail("a@"))
	require.False(t, validEmail("@b.com"))
}
