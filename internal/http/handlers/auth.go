package handlers

import (
	"errors"
	"net/http"

	apierrors "github.com/pribylovaa/biocraft-studio/internal/errors"
	"github.com/pribylovaa/biocraft-studio/internal/models"
	"github.com/pribylovaa/biocraft-studio/internal/service"
)

type signUpRequest struct {
	Email           string  `json:"email"`
	Password        string  `json:"password"`
	ConfirmPassword *string `json:"confirmPassword,omitempty"`
}

type signUpResponse struct {
	Message string          `json:"message"`
	User    models.Identity `json:"user"`
}

func (h *Handlers) SignUp(w http.ResponseWriter, r *http.Request) {
	var in signUpRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, errInvalidBody(err))
		return
	}

	id, err := h.svc.SignUp(r.Context(), service.SignUpInput{
		Email:           in.Email,
		Password:        in.Password,
		ConfirmPassword: in.ConfirmPassword,
	})
	h.metrics.AuthEvent("signup", outcome(err))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, signUpResponse{Message: service.MsgSignUpOK, User: *id})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

type sessionResponse struct {
	Message string                `json:"message,omitempty"`
	Session models.SessionSummary `json:"session"`
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, errInvalidBody(err))
		return
	}

	sess, err := h.svc.Login(r.Context(), in.Email, in.Password)
	h.metrics.AuthEvent("login", outcome(err))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	if err := h.codec.Encode(w, sess, in.Remember); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{Message: service.MsgLoginOK, Session: sess.Summary()})
}

// SignOut всегда успешен: отзыв best-effort, cookie очищаются безусловно.
func (h *Handlers) SignOut(w http.ResponseWriter, r *http.Request) {
	if sess, err := h.codec.Decode(r); err == nil {
		h.svc.Logout(r.Context(), sess.RefreshToken)
	}

	h.codec.Clear(w)
	h.metrics.AuthEvent("logout", outcome(nil))

	writeJSON(w, http.StatusOK, message{Message: service.MsgLogoutOK})
}

// Refresh ротирует пару токенов; при любой ошибке cookie очищаются.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	sess, err := h.codec.Decode(r)
	if err != nil {
		h.codec.Clear(w)
		h.metrics.AuthEvent("refresh", outcome(err))
		apierrors.Write(w, r, http.StatusUnauthorized, apierrors.CodeUnauthenticated, sessionMessage(err))
		return
	}

	next, err := h.svc.Refresh(r.Context(), sess.RefreshToken)
	h.metrics.AuthEvent("refresh", outcome(err))
	if err != nil {
		h.codec.Clear(w)
		apierrors.WriteError(w, r, err)
		return
	}

	if err := h.codec.Encode(w, next, false); err != nil {
		h.codec.Clear(w)
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{Message: service.MsgRefreshOK, Session: next.Summary()})
}

type resetPasswordRequest struct {
	Email string `json:"email"`
}

func (h *Handlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var in resetPasswordRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, errInvalidBody(err))
		return
	}

	msg, err := h.svc.RequestPasswordReset(r.Context(), in.Email)
	h.metrics.AuthEvent("reset", outcome(err))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, message{Message: msg})
}

type newPasswordRequest struct {
	Password string `json:"password"`
	Token    string `json:"token"`
}

func (h *Handlers) NewPassword(w http.ResponseWriter, r *http.Request) {
	var in newPasswordRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, errInvalidBody(err))
		return
	}

	err := h.svc.ConfirmPasswordReset(r.Context(), in.Password, in.Token)
	h.metrics.AuthEvent("reset_confirm", outcome(err))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, message{Message: service.MsgPasswordUpdated})
}

// Session отдаёт несекретную сводку сессии из cookie; без cookie — 401.
func (h *Handlers) Session(w http.ResponseWriter, r *http.Request) {
	sess, err := h.codec.Decode(r)
	if err != nil {
		apierrors.Write(w, r, http.StatusUnauthorized, apierrors.CodeUnauthenticated, sessionMessage(err))
		return
	}

	sum, err := h.svc.CurrentSession(r.Context(), sess)
	if err != nil {
		if !errors.Is(err, service.ErrSessionExpired) {
			h.codec.Clear(w)
		}
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{Session: *sum})
}

type userResponse struct {
	Message string          `json:"message"`
	User    models.Identity `json:"user"`
}

func (h *Handlers) CurrentUser(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, userResponse{Message: "User retrieved", User: id})
}
