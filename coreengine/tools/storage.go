package tools

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const resourceScheme = "resource://"

// ResourceStore holds generated documents on disk and hands out opaque
// resource URLs for them. Resource names never contain path separators,
// so a URL cannot escape the storage directory.
type ResourceStore struct {
	dir string
}

// NewResourceStore creates the storage directory if needed.
func NewResourceStore(dir string) (*ResourceStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir %s: %w", dir, err)
	}
	return &ResourceStore{dir: dir}, nil
}

// Dir returns the storage directory.
func (rs *ResourceStore) Dir() string { return rs.dir }

// Put writes data under the stored name and returns its resource URL and
// filesystem path.
func (rs *ResourceStore) Put(storedName string, data []byte) (resource string, path string, err error) {
	if err := validateName(storedName); err != nil {
		return "", "", err
	}
	path = filepath.Join(rs.dir, storedName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", "", fmt.Errorf("write resource %s: %w", storedName, err)
	}
	return resourceScheme + storedName, path, nil
}

// Path resolves a stored name to its filesystem path without writing.
func (rs *ResourceStore) Path(storedName string) (string, error) {
	if err := validateName(storedName); err != nil {
		return "", err
	}
	return filepath.Join(rs.dir, storedName), nil
}

// Open returns the raw bytes of a stored resource. Accepts either a full
// resource URL or a bare stored name.
func (rs *ResourceStore) Open(resource string) ([]byte, error) {
	name := strings.TrimPrefix(resource, resourceScheme)
	if err := validateName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(rs.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: resource %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("read resource %s: %w", name, err)
	}
	return data, nil
}

// AppendAudit appends one JSON line to the audit log.
func (rs *ResourceStore) AppendAudit(event map[string]any) error {
	line, err := json.Marshal(map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339),
		"event": event,
	})
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(rs.dir, "audit.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

func validateName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: invalid resource name %q", ErrNotFound, name)
	}
	return nil
}
