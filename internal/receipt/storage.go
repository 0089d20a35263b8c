package receipt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Storage defines the interface for receipt image storage
type Storage interface {
	// Save stores data under name and returns the object key
	Save(ctx context.Context, name string, data []byte, contentType string) (string, error)

	// Get retrieves an object by key
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes an object
	Delete(ctx context.Context, key string) error

	// PublicURL returns the URL an object is served from
	PublicURL(key string) string

	// KeyFromURL reverses PublicURL. It reports false for foreign URLs.
	KeyFromURL(url string) (string, bool)
}

// LocalStorage implements the Storage interface using local filesystem.
// Objects are served by the HTTP server under /files/.
type LocalStorage struct {
	basePath string
	baseURL  string
}

// NewLocalStorage creates a new LocalStorage instance. baseURL is the
// externally visible prefix of the /files/ route.
func NewLocalStorage(basePath, baseURL string) (*LocalStorage, error) {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
		baseURL:  strings.TrimRight(baseURL, "/") + "/files/",
	}, nil
}

// Save saves a file to local storage
func (l *LocalStorage) Save(_ context.Context, name string, data []byte, _ string) (string, error) {
	path, err := l.path(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return name, nil
}

// Get retrieves a file from local storage
func (l *LocalStorage) Get(_ context.Context, key string) ([]byte, error) {
	path, err := l.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a file from local storage
func (l *LocalStorage) Delete(_ context.Context, key string) error {
	path, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// PublicURL returns the URL of key under the /files/ route
func (l *LocalStorage) PublicURL(key string) string {
	return l.baseURL + key
}

// KeyFromURL extracts the key from a URL produced by PublicURL
func (l *LocalStorage) KeyFromURL(url string) (string, bool) {
	key, ok := strings.CutPrefix(url, l.baseURL)
	if !ok || key == "" {
		return "", false
	}
	return key, true
}

// path confines keys to the storage directory
func (l *LocalStorage) path(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid file name %q", key)
	}
	return filepath.Join(l.basePath, key), nil
}
