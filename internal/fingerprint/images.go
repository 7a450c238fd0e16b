package fingerprint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// ErrImageNotFound is returned by ImageStore.Open for unknown references.
var ErrImageNotFound = errors.New("image not found")

var imageRefPattern = regexp.MustCompile(`^[0-9a-f]{64}\.[a-z]{3,4}$`)

// ImageStore keeps enrollment source images on disk, named by fingerprint, so
// storing the same image twice is a no-op.
type ImageStore struct {
	dir string
}

// NewImageStore creates the directory if needed.
func NewImageStore(dir string) (*ImageStore, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating image directory: %w", err)
	}
	return &ImageStore{dir: dir}, nil
}

// Save writes the image and returns its reference.
func (s *ImageStore) Save(imageData []byte) (string, error) {
	ref := QueryFingerprint(imageData) + extensionFor(detectMIMEType(imageData))
	path := filepath.Join(s.dir, ref)

	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("creating temp image: %w", err)
	}
	if _, err := tmp.Write(imageData); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("closing image: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("storing image: %w", err)
	}
	return ref, nil
}

// Open returns the image bytes and MIME type for a reference.
func (s *ImageStore) Open(ref string) ([]byte, string, error) {
	if !imageRefPattern.MatchString(ref) {
		return nil, "", ErrImageNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.dir, ref)) //nolint:gosec // ref is validated above
	if errors.Is(err, os.ErrNotExist) {
		return nil, "", ErrImageNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("reading image: %w", err)
	}
	return data, detectMIMEType(data), nil
}
