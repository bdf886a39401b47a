// errors стандартизирует ответы об ошибках HTTP-слоя.
// На вход он принимает ошибку сервисного слоя (или контекста),
// а на выход даёт:
//   - корректный HTTP-статус;
//   - стабильный машиночитаемый code;
//   - безопасное message без утечки деталей.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pribylovaa/biocraft-studio/internal/service"
)

// Нестандартный код часто используемый для "клиент закрыл соединение".
const StatusClientClosedRequest = 499

// Коды ошибок для фронта.
const (
	CodeInvalidArgument   = "invalid_argument"
	CodeUnauthenticated   = "unauthenticated"
	CodeSessionExpired    = "session_expired"
	CodePermissionDenied  = "permission_denied"
	CodeNotFound          = "not_found"
	CodeAlreadyExists     = "already_exists"
	CodeResourceExhausted = "resource_exhausted"
	CodeCanceled          = "canceled"
	CodeDeadlineExceeded  = "deadline_exceeded"
	CodeUnavailable       = "unavailable"
	CodeInternal          = "internal"
)

// APIError — единый формат для фронта.
// Code — короткий стабильный код для машиночитаемой обработки на FE.
// Message — безопасное человекочитаемое описание.
// RequestID — прокидывается из X-Request-Id, если есть (для трассировки).
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse — корневой объект в ответе.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// ToHTTP конвертирует ошибку в HTTP-статус и унифицированный ответ.
//
// Поведение:
//   - err == nil — программная ошибка вызова: 500/internal;
//   - отмена и дедлайн контекста — 499/canceled и 504/deadline_exceeded;
//   - *service.Error — статус по виду, message из ошибки;
//   - прочее — 500/internal без деталей.
func ToHTTP(err error) (int, ErrorResponse) {
	if err == nil {
		return internal()
	}

	switch {
	case errors.Is(err, context.Canceled):
		return resp(StatusClientClosedRequest, CodeCanceled, "request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return resp(http.StatusGatewayTimeout, CodeDeadlineExceeded, "request timed out")
	}

	var se *service.Error
	if !errors.As(err, &se) {
		return internal()
	}

	status, code := fromKind(se.Kind)
	msg := se.Message
	if status == http.StatusInternalServerError {
		msg = service.MsgInternal
	}

	return resp(status, code, msg)
}

// WriteError — хелпер для HTTP-хендлеров.
// Пишет статус и тело, добавляет request_id из заголовка, если он есть.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := ToHTTP(err)
	write(w, r, status, body)
}

// Write пишет ошибку с явно заданными статусом, кодом и текстом
// (CSRF, rate limit, recover).
func Write(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	_, body := resp(status, code, message)
	write(w, r, status, body)
}

func write(w http.ResponseWriter, r *http.Request, status int, body ErrorResponse) {
	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		body.Error.RequestID = rid
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// fromKind — маппинг вида ошибки сервиса на HTTP-статус и код:
//   - Validation -> 400
//   - SessionExpired -> 401/session_expired
//   - Unauthenticated -> 401
//   - Forbidden -> 403
//   - NotFound -> 404
//   - Conflict -> 409
//   - Unavailable -> 503
//   - прочее -> 500/internal
func fromKind(kind error) (int, string) {
	switch {
	case errors.Is(kind, service.ErrValidation):
		return http.StatusBadRequest, CodeInvalidArgument
	case errors.Is(kind, service.ErrSessionExpired):
		return http.StatusUnauthorized, CodeSessionExpired
	case errors.Is(kind, service.ErrUnauthenticated):
		return http.StatusUnauthorized, CodeUnauthenticated
	case errors.Is(kind, service.ErrForbidden):
		return http.StatusForbidden, CodePermissionDenied
	case errors.Is(kind, service.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(kind, service.ErrConflict):
		return http.StatusConflict, CodeAlreadyExists
	case errors.Is(kind, service.ErrUnavailable):
		return http.StatusServiceUnavailable, CodeUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func resp(status int, code, msg string) (int, ErrorResponse) {
	return status, ErrorResponse{Error: APIError{Code: code, Message: msg}}
}

func internal() (int, ErrorResponse) {
	return resp(http.StatusInternalServerError, CodeInternal, service.MsgInternal)
}
