package storage

import (
	"errors"
	"io"
)

var (
	ErrEmptyKey   = errors.New("empty key")
	ErrInvalidKey = errors.New("invalid key")
	ErrNotFound   = errors.New("blob not found")
)

type Object struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

// BlobStore holds uploaded PDFs and crop images under slash-separated keys
// such as "pdfs/<uuid>.pdf".
type BlobStore interface {
	Put(key string, r io.Reader) (Object, error)
	Get(key string) (io.ReadCloser, error)
	Delete(key string) error
	URL(key string) string
}
