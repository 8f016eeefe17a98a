package transport

import (
	"bytes"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
)

// PayloadField names the multipart part that carries the JSON body.
const PayloadField = "payload"

// Attachment is one file uploaded alongside a request.
type Attachment struct {
	Field       string
	Filename    string
	ContentType string
	Data        []byte
}

// AttachmentFromFile reads path into an Attachment under field.
func AttachmentFromFile(field, path string) (Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("transport: read attachment: %w", err)
	}
	name := filepath.Base(path)
	ct := mime.TypeByExtension(filepath.Ext(name))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return Attachment{Field: field, Filename: name, ContentType: ct, Data: data}, nil
}

func encodeMultipart(payload []byte, files []Attachment) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	if payload != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q`, PayloadField))
		h.Set("Content-Type", "application/json")
		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("transport: multipart payload: %w", err)
		}
		if _, err := part.Write(payload); err != nil {
			return nil, "", fmt.Errorf("transport: multipart payload: %w", err)
		}
	}
	for _, f := range files {
		field := f.Field
		if field == "" {
			field = "files"
		}
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, f.Filename))
		h.Set("Content-Type", ct)
		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("transport: multipart file: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", fmt.Errorf("transport: multipart file: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("transport: multipart close: %w", err)
	}
	return buf, mw.FormDataContentType(), nil
}
