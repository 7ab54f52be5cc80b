package feeds

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/lectern/lectern/internal/domain"
)

// DirResolver resolves lectern-bundled:// URIs against a directory of
// content shipped with the application.
type DirResolver struct {
	dir string
}

// NewDirResolver creates a resolver rooted at dir.
func NewDirResolver(dir string) *DirResolver {
	return &DirResolver{dir: dir}
}

// Resolve opens the bundled resource named by the URI.
func (r *DirResolver) Resolve(uri string) (io.ReadCloser, int64, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid bundled URI %q: %w", uri, err)
	}
	if parsed.Scheme != domain.BundledScheme {
		return nil, 0, fmt.Errorf("not a bundled URI: %q", uri)
	}

	name := filepath.Clean(parsed.Host + parsed.Path)
	if name == "" || strings.HasPrefix(name, "..") {
		return nil, 0, fmt.Errorf("invalid bundled resource name %q", name)
	}

	path := filepath.Join(r.dir, name)
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("bundled resource %q: %w", name, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}
