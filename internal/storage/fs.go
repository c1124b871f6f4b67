package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

type FSStore struct {
	base      string
	urlPrefix string
}

// NewFSStore stores blobs below base; URL joins keys onto urlPrefix
// (for example "/uploads").
func NewFSStore(base, urlPrefix string) (*FSStore, error) {
	if base == "" {
		base = "./uploads"
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FSStore{base: base, urlPrefix: strings.TrimRight(urlPrefix, "/")}, nil
}

func (s *FSStore) Put(key string, r io.Reader) (Object, error) {
	dst, key, err := s.resolve(key)
	if err != nil {
		return Object{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Object{}, fmt.Errorf("create blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return Object{}, fmt.Errorf("create temp blob: %w", err)
	}
	n, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp.Name())
		if copyErr != nil {
			return Object{}, fmt.Errorf("write blob: %w", copyErr)
		}
		return Object{}, fmt.Errorf("close blob: %w", closeErr)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return Object{}, fmt.Errorf("commit blob: %w", err)
	}
	return Object{Key: key, Size: n}, nil
}

func (s *FSStore) Get(key string) (io.ReadCloser, error) {
	src, _, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

func (s *FSStore) Delete(key string) error {
	dst, _, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

func (s *FSStore) URL(key string) string {
	return s.urlPrefix + "/" + strings.TrimLeft(key, "/")
}

// resolve maps a key to a path inside base and rejects keys that climb out.
func (s *FSStore) resolve(key string) (string, string, error) {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	if key == "" {
		return "", "", ErrEmptyKey
	}
	clean := path.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", "", ErrInvalidKey
	}
	clean = strings.TrimPrefix(clean, "/")
	return filepath.Join(s.base, filepath.FromSlash(clean)), clean, nil
}
