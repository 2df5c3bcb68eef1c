// Package blob keeps uploaded recordings on local disk and hands out
// URLs the speech service can fetch them from.
package blob

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var ErrInvalidKey = errors.New("invalid blob key")

// Store writes blobs under a base directory, one sub-directory per owner.
type Store struct {
	base       string
	publicBase string
}

// NewStore creates the base directory when missing.
func NewStore(base, publicBaseURL string) (*Store, error) {
	if base == "" {
		return nil, errors.New("blob directory required")
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &Store{base: base, publicBase: strings.TrimRight(publicBaseURL, "/")}, nil
}

// UploadTarget reserves a fresh key for the owner, keeping the file extension.
func (s *Store) UploadTarget(ownerID int64, filename string) (string, error) {
	if ownerID <= 0 {
		return "", errors.New("owner id required")
	}
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) > 10 {
		ext = ""
	}
	return strconv.FormatInt(ownerID, 10) + "/" + uuid.NewString() + ext, nil
}

// Put streams r into the blob at key.
func (s *Store) Put(key string, r io.Reader) (int64, error) {
	path, err := s.path(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create blob directory: %w", err)
	}
	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create blob: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("commit blob: %w", err)
	}
	return n, nil
}

// URL resolves a stored blob to the address it is served from.
func (s *Store) URL(key string) (string, error) {
	path, err := s.path(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("resolve blob %s: %w", key, err)
	}
	return s.publicBase + "/blobs/" + key, nil
}

// Open returns a reader for the blob.
func (s *Store) Open(key string) (*os.File, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Delete removes the blob; missing blobs are not an error.
func (s *Store) Delete(key string) error {
	if key == "" {
		return nil
	}
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob: %w", err)
	}
	// prune empty owner directory
	_ = os.Remove(filepath.Dir(path))
	return nil
}

func (s *Store) path(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" || strings.Contains(key, "..") || strings.ContainsRune(key, '\\') {
		return "", ErrInvalidKey
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) {
		return "", ErrInvalidKey
	}
	return filepath.Join(s.base, clean), nil
}
