package handlers

import (
	"errors"
	"net/http"

	apierrors "github.com/pribylovaa/biocraft-studio/internal/errors"
	"github.com/pribylovaa/biocraft-studio/internal/models"
	"github.com/pribylovaa/biocraft-studio/internal/service"
)

const (
	// uploadField — имя поля multipart-формы с файлом.
	uploadField = "file"
	// multipartSlack — запас на заголовки и границы multipart сверх размера файла.
	multipartSlack = 1 << 20
	// uploadMemory — сколько формы держать в памяти, остальное во временных файлах.
	uploadMemory = 8 << 20
)

type uploadResponse struct {
	Message string               `json:"message"`
	File    *models.UploadedFile `json:"file"`
}

// Upload принимает один файл в поле "file" multipart-формы.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	if h.opts.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes+multipartSlack)
	}

	if err := r.ParseMultipartForm(uploadMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.WriteError(w, r, &service.Error{Kind: service.ErrValidation, Message: service.MsgFileTooLarge, Err: err})
			return
		}

		apierrors.WriteError(w, r, &service.Error{Kind: service.ErrValidation, Message: service.MsgNoFile, Err: err})
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, hdr, err := r.FormFile(uploadField)
	if err != nil {
		apierrors.WriteError(w, r, &service.Error{Kind: service.ErrValidation, Message: service.MsgNoFile, Err: err})
		return
	}
	defer file.Close()

	f, err := h.svc.Upload(r.Context(), id.ID, hdr.Filename, hdr.Header.Get("Content-Type"), hdr.Size, file)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{Message: service.MsgFileUploaded, File: f})
}
