package docs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Storage lays uploads out as <root>/<session>/<course>/<docType>/<name>.
type Storage struct {
	Root string
}

// NewStorage returns a Storage rooted at root.
func NewStorage(root string) *Storage {
	return &Storage{Root: root}
}

// cleanSegment rejects path segments that could escape the upload area.
func cleanSegment(kind, s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
		return "", fmt.Errorf("invalid %s: %q", kind, s)
	}
	return s, nil
}

// Dir returns the directory for one (session, course, docType) triple.
func (s *Storage) Dir(session, course, docType string) (string, error) {
	parts := []string{s.Root}
	for _, seg := range []struct{ kind, v string }{
		{"session id", session}, {"course", course}, {"document type", docType},
	} {
		clean, err := cleanSegment(seg.kind, seg.v)
		if err != nil {
			return "", err
		}
		parts = append(parts, clean)
	}
	return filepath.Join(parts...), nil
}

// Save writes r under the triple's directory and returns the stored path and
// byte count. An existing file of the same name is replaced.
func (s *Storage) Save(session, course, docType, name string, r io.Reader) (string, int64, error) {
	dir, err := s.Dir(session, course, docType)
	if err != nil {
		return "", 0, err
	}
	base, err := cleanSegment("file name", filepath.Base(name))
	if err != nil {
		return "", 0, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create upload directory: %w", err)
	}

	path := filepath.Join(dir, base)
	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("create %s: %w", base, err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, fmt.Errorf("write %s: %w", base, err)
	}
	return path, n, nil
}

// List returns the files stored for the triple, sorted by name. A missing
// directory yields no files and no error.
func (s *Storage) List(session, course, docType string) ([]string, error) {
	dir, err := s.Dir(session, course, docType)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// RemoveSession deletes every upload for a session.
func (s *Storage) RemoveSession(session string) error {
	clean, err := cleanSegment("session id", session)
	if err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(s.Root, clean))
}
