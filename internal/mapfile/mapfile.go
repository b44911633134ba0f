// Package mapfile turns a raw request payload into a map file ready for upload.
//
// How payloads become map files is owned by whoever deploys the service;
// Converter is the seam where that rule plugs in. PassThrough is the default
// and treats the payload itself as the map file.
package mapfile

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	ContentTypeJSON   = "application/json"
	ContentTypeBinary = "application/octet-stream"
)

// File is a produced map file.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Size returns the file length in bytes.
func (f *File) Size() int64 {
	return int64(len(f.Data))
}

// Converter produces a map file from a request payload.
type Converter interface {
	Convert(ctx context.Context, payload []byte) (*File, error)
}

// ConverterFunc adapts a plain function to Converter.
type ConverterFunc func(ctx context.Context, payload []byte) (*File, error)

// Convert calls f.
func (f ConverterFunc) Convert(ctx context.Context, payload []byte) (*File, error) {
	return f(ctx, payload)
}

var extensions = map[string]string{
	ContentTypeJSON:      ".json",
	"application/xml":    ".xml",
	"text/xml":           ".xml",
	"text/plain":         ".txt",
	"application/zip":    ".zip",
	"application/pdf":    ".pdf",
	"image/png":          ".png",
	"image/jpeg":         ".jpg",
	"application/x-gzip": ".gz",
	ContentTypeBinary:    ".bin",
}

// PassThrough uses the payload verbatim. Valid JSON is labelled
// application/json; anything else gets a sniffed content type.
type PassThrough struct{}

// NewPassThrough returns the default converter.
func NewPassThrough() *PassThrough {
	return &PassThrough{}
}

// Convert implements Converter. It never rejects a payload.
func (PassThrough) Convert(_ context.Context, payload []byte) (*File, error) {
	ct := DetectContentType(payload)
	return &File{
		Name:        uuid.NewString() + Extension(ct),
		ContentType: ct,
		Data:        payload,
	}, nil
}

// DetectContentType reports application/json for valid JSON documents and
// falls back to http.DetectContentType, stripped of parameters.
func DetectContentType(payload []byte) string {
	if len(payload) > 0 && json.Valid(payload) {
		return ContentTypeJSON
	}
	ct := http.DetectContentType(payload)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}

// Extension maps a content type to a file extension, ".bin" when unknown.
func Extension(contentType string) string {
	if ext, ok := extensions[contentType]; ok {
		return ext
	}
	return ".bin"
}
