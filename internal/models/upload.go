package models

import "time"

// UploadInfo — presigned PUT для прямой загрузки объекта клиентом.
type UploadInfo struct {
	UploadURL      string            `json:"upload_url"`
	Key            string            `json:"key"`
	Expires        time.Duration     `json:"-"`
	ExpiresIn      int64             `json:"expires_in"`
	RequiredHeader map[string]string `json:"required_headers"`
}

// UploadedFile — файл, сохранённый через POST /upload.
type UploadedFile struct {
	Key          string `json:"filename"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
	ContentType  string `json:"mimetype"`
	URL          string `json:"url,omitempty"`
}
