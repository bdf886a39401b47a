package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	apierrors "github.com/pribylovaa/biocraft-studio/internal/errors"
	"github.com/pribylovaa/biocraft-studio/internal/http/middleware"
	"github.com/pribylovaa/biocraft-studio/internal/oauth"
	"github.com/pribylovaa/biocraft-studio/internal/service"
)

// Коды ошибок в редиректе на страницу ошибки фронтенда.
const (
	oauthErrMissingCode  = "missing_code"
	oauthErrInvalidState = "invalid_state"
)

// OAuthStart кладёт state и PKCE-verifier в cookie и уводит на провайдера.
func (h *Handlers) OAuthStart(w http.ResponseWriter, r *http.Request) {
	authURL, st, err := h.svc.OAuthStart(r.Context(), chi.URLParam(r, "provider"))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	http.SetCookie(w, st.Cookie(h.opts.Secure))
	http.Redirect(w, r, authURL, http.StatusFound)
}

// OAuthCallback завершает вход: обменивает code, выставляет cookie сессии и
// возвращает на фронтенд. Ошибки уходят редиректом на /auth-error.
func (h *Handlers) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// state одноразовый: cookie очищаем при любом исходе.
	http.SetCookie(w, oauth.ClearCookie(h.opts.Secure))

	if e := q.Get("error"); e != "" {
		h.oauthFail(w, r, e)
		return
	}

	code := q.Get("code")
	if code == "" {
		h.oauthFail(w, r, oauthErrMissingCode)
		return
	}

	st, err := oauth.ReadState(r, q.Get("state"))
	if err != nil {
		h.oauthFail(w, r, oauthErrInvalidState)
		return
	}

	sess, err := h.svc.OAuthCallback(r.Context(), st, code)
	if err != nil {
		msg := service.Message(err)
		if msg == "" {
			msg = service.MsgInternal
		}
		h.oauthFail(w, r, msg)
		return
	}

	if err := h.codec.Encode(w, sess, false); err != nil {
		h.oauthFail(w, r, service.MsgInternal)
		return
	}

	h.metrics.AuthEvent("oauth", middleware.OutcomeSuccess)
	http.Redirect(w, r, h.frontend(""), http.StatusFound)
}

func (h *Handlers) oauthFail(w http.ResponseWriter, r *http.Request, reason string) {
	h.metrics.AuthEvent("oauth", middleware.OutcomeFailure)
	http.Redirect(w, r, h.frontend("/auth-error?error="+url.QueryEscape(reason)), http.StatusFound)
}

func (h *Handlers) frontend(path string) string {
	return strings.TrimRight(h.opts.FrontendURL, "/") + path
}
