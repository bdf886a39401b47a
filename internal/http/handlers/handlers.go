package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	apierrors "github.com/pribylovaa/biocraft-studio/internal/errors"
	"github.com/pribylovaa/biocraft-studio/internal/http/middleware"
	"github.com/pribylovaa/biocraft-studio/internal/models"
	"github.com/pribylovaa/biocraft-studio/internal/service"
	"github.com/pribylovaa/biocraft-studio/internal/session"
)

// msgInvalidBody — тело запроса не разобралось как ожидаемый JSON.
const msgInvalidBody = "Invalid request body"

// Options — параметры HTTP-обработчиков.
type Options struct {
	// FrontendURL — куда ведут редиректы OAuth.
	FrontendURL string
	// Secure — флаг Secure для служебных cookie (state OAuth).
	Secure bool
	// MaxUploadBytes — предел тела multipart-запроса /upload.
	MaxUploadBytes int64
}

// Handlers агрегирует зависимости HTTP-обработчиков.
type Handlers struct {
	svc     *service.Service
	codec   *session.Codec
	metrics *middleware.Metrics
	opts    Options
}

func New(svc *service.Service, codec *session.Codec, metrics *middleware.Metrics, opts Options) *Handlers {
	return &Handlers{svc: svc, codec: codec, metrics: metrics, opts: opts}
}

// writeJSON — единый ответ JSON с нужным Content-Type.
// Ошибки выводим через apierrors.WriteError.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeStrict — строгий JSON-декодер: запрещаем неизвестные поля.
func decodeStrict(r *http.Request, value any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(value)
}

// errInvalidBody — локальная ошибка парсинга тела -> 400/invalid_argument.
func errInvalidBody(cause error) error {
	return &service.Error{Kind: service.ErrValidation, Message: msgInvalidBody, Err: cause}
}

// message — тело успешного ответа {"message": ...}.
type message struct {
	Message string `json:"message"`
}

// identity достаёт личность, положенную RequireAuth. Отсутствие — ошибка
// сборки роутера, отвечаем 401.
func identity(w http.ResponseWriter, r *http.Request) (models.Identity, bool) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		apierrors.Write(w, r, http.StatusUnauthorized, apierrors.CodeUnauthenticated, service.MsgAuthRequired)
	}

	return id, ok
}

// outcome переводит ошибку операции в исход для метрик.
func outcome(err error) string {
	if err != nil {
		return middleware.OutcomeFailure
	}

	return middleware.OutcomeSuccess
}

// sessionMessage переводит ошибку Codec.Decode в текст ответа 401.
func sessionMessage(err error) string {
	if errors.Is(err, session.ErrNoSession) {
		return service.MsgNoActiveSession
	}

	return service.MsgInvalidSession
}
