package handlers

import (
	"net/http"

	apierrors "github.com/pribylovaa/biocraft-studio/internal/errors"
	"github.com/pribylovaa/biocraft-studio/internal/models"
	"github.com/pribylovaa/biocraft-studio/internal/service"
)

type profileResponse struct {
	Message string          `json:"message,omitempty"`
	Profile *models.Profile `json:"profile"`
}

func (h *Handlers) GetProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	p, err := h.svc.GetProfile(r.Context(), id)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, profileResponse{Profile: p})
}

// updateProfileRequest — редактируемые поля профиля. user_id, email и
// картинка через PATCH не меняются.
type updateProfileRequest struct {
	FullName     *string `json:"full_name"`
	Organization *string `json:"organization"`
	Role         *string `json:"role"`
}

func (h *Handlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var in updateProfileRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, errInvalidBody(err))
		return
	}

	p, err := h.svc.UpdateProfile(r.Context(), id, models.ProfileUpdate{
		FullName:     in.FullName,
		Organization: in.Organization,
		Role:         in.Role,
	})
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, profileResponse{Message: service.MsgProfileUpdated, Profile: p})
}

type picturePresignRequest struct {
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// PicturePresign выдаёт presigned PUT для аватара.
func (h *Handlers) PicturePresign(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var in picturePresignRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, errInvalidBody(err))
		return
	}

	info, err := h.svc.ProfilePictureUploadURL(r.Context(), id.ID, in.ContentType, in.Size)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

type pictureConfirmRequest struct {
	Key string `json:"key"`
}

// PictureConfirm сохраняет загруженный аватар в профиле.
func (h *Handlers) PictureConfirm(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var in pictureConfirmRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, errInvalidBody(err))
		return
	}

	p, err := h.svc.ConfirmProfilePicture(r.Context(), id, in.Key)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, profileResponse{Message: service.MsgProfilePictureSaved, Profile: p})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var in changePasswordRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, errInvalidBody(err))
		return
	}

	err := h.svc.ChangePassword(r.Context(), id.ID, in.CurrentPassword, in.NewPassword)
	h.metrics.AuthEvent("change_password", outcome(err))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, message{Message: service.MsgPasswordChanged})
}
