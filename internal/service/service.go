// service содержит бизнес-логику BioCraft Studio: аутентификацию и сессии,
// сброс и смену пароля, OAuth-вход, профили, загрузки и сохранённые рецепты.
//
// Экземпляры сервисов не хранят состояние запроса и безопасны для
// конкурентного использования при потокобезопасных зависимостях.
// Ошибки возвращаются как *Error с видом (Kind) и безопасным текстом для
// пользователя; HTTP-слой маппит вид на статус.
package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/pribylovaa/biocraft-studio/internal/config"
	"github.com/pribylovaa/biocraft-studio/internal/identity"
	"github.com/pribylovaa/biocraft-studio/internal/oauth"
	"github.com/pribylovaa/biocraft-studio/internal/storage"
)

// Виды ошибок сервисного слоя.
var (
	// ErrValidation — некорректный ввод (HTTP 400).
	ErrValidation = errors.New("validation failed")
	// ErrUnauthenticated — нет или неверны учётные данные/сессия (HTTP 401).
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrSessionExpired — истёк access-токен, refresh ещё может сработать (HTTP 401).
	// Совпадает и с ErrUnauthenticated.
	ErrSessionExpired = fmt.Errorf("session expired: %w", ErrUnauthenticated)
	// ErrForbidden — действие запрещено (HTTP 403).
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound — сущность не найдена или чужая (HTTP 404).
	ErrNotFound = errors.New("not found")
	// ErrConflict — нарушение уникальности (HTTP 409).
	ErrConflict = errors.New("conflict")
	// ErrUnavailable — зависимость не сконфигурирована (HTTP 503).
	ErrUnavailable = errors.New("unavailable")
	// ErrInternal — внутренняя ошибка без деталей для клиента (HTTP 500).
	ErrInternal = errors.New("internal error")
)

// Deps — зависимости сервиса. Files и OAuth могут быть nil:
// тогда загрузки отвечают ErrUnavailable, а OAuth — ErrNotFound.
type Deps struct {
	Provider identity.Provider
	Profiles storage.ProfileStorage
	Resets   storage.ResetTokenStorage
	Recipes  storage.RecipeStorage
	Files    storage.FileStorage
	Mailer   Mailer
	OAuth    *oauth.Registry
}

// Service — бизнес-логика BioCraft Studio.
type Service struct {
	cfg      *config.Config
	provider identity.Provider
	profiles storage.ProfileStorage
	resets   storage.ResetTokenStorage
	recipes  storage.RecipeStorage
	files    storage.FileStorage
	mailer   Mailer
	oauth    *oauth.Registry
	now      func() time.Time
}

// New создаёт новый экземпляр Service.
func New(cfg *config.Config, deps Deps) *Service {
	mailer := deps.Mailer
	if mailer == nil {
		mailer = LogMailer{}
	}

	return &Service{
		cfg:      cfg,
		provider: deps.Provider,
		profiles: deps.Profiles,
		resets:   deps.Resets,
		recipes:  deps.Recipes,
		files:    deps.Files,
		mailer:   mailer,
		oauth:    deps.OAuth,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Error — ошибка сервиса: вид, текст для пользователя и исходная причина.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	return e.Message
}

// Unwrap позволяет errors.Is находить и вид, и исходную причину.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}

func newError(kind error, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func wrapError(kind error, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// Message возвращает пользовательский текст ошибки сервиса (или пустую строку).
func Message(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Message
	}

	return ""
}

// Тексты ответов, которые видит пользователь.
const (
	MsgSignUpOK            = "User created. Please verify your email."
	MsgLoginOK             = "Signed in successfully"
	MsgLogoutOK            = "Signed out successfully"
	MsgRefreshOK           = "Session refreshed successfully"
	MsgResetRequested      = "If an account exists with this email, a password reset link has been sent."
	MsgPasswordUpdated     = "Password updated successfully. You can now log in with your new password."
	MsgPasswordChanged     = "Password changed successfully"
	MsgProfileUpdated      = "Profile updated successfully"
	MsgRecipeSaved         = "Recipe saved successfully"
	MsgRecipeAlreadySaved  = "Recipe already saved"
	MsgRecipeUpdated       = "Recipe updated successfully"
	MsgRecipeDeleted       = "Recipe deleted successfully"
	MsgFileUploaded        = "File uploaded successfully"
	MsgProfilePictureSaved = "Profile picture updated successfully"

	MsgEmailPasswordRequired  = "Email and password are required"
	MsgInvalidEmail           = "Invalid email format"
	MsgPasswordsDoNotMatch    = "Passwords do not match"
	MsgEmailTaken             = "An account with this email already exists"
	MsgPasswordTooShort       = "Password must be at least 6 characters long"
	MsgPasswordTooWeak        = "Password must include at least one uppercase letter, one lowercase letter, and one number"
	MsgPasswordRequired       = "Password is required"
	MsgInvalidCredentials     = "Invalid login credentials"
	MsgEmailRequired          = "Email is required"
	MsgPasswordTokenRequired  = "Password and token are required"
	MsgInvalidOrExpiredToken  = "Invalid or expired token"
	MsgTokenExpired           = "Token has expired"
	MsgChangeFieldsRequired   = "Current password and new password are required"
	MsgCurrentPasswordInvalid = "Current password is incorrect"
	MsgAuthRequired           = "Authentication required"
	MsgInvalidSession         = "Invalid session data"
	MsgNoActiveSession        = "No active session"
	MsgSessionExpired         = "Session expired"
	MsgNoRecipeData           = "No recipe data provided"
	MsgInvalidRecipe          = "Invalid recipe format"
	MsgRecipeNameRequired     = "Recipe name is required"
	MsgRecipeNotFound         = "Recipe not found"
	MsgRecipeDuplicate        = "A recipe with the same content is already saved"
	MsgInvalidID              = "Invalid id"
	MsgNoFile                 = "No file uploaded"
	MsgFileTypeNotAllowed     = "File type not allowed"
	MsgFileTooLarge           = "File too large"
	MsgUploadsDisabled        = "File uploads are not configured"
	MsgFieldTooLong           = "Profile fields must be at most 200 characters"
	MsgInvalidPicture         = "Invalid profile picture"
	MsgUnknownProvider        = "Unknown authentication provider"
	MsgOAuthFailed            = "Authentication with provider failed"
	MsgInternal               = "Internal server error"
)
