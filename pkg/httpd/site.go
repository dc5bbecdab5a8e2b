package httpd

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/fluxorio/webpool/pkg/config"
)

//go:embed assets/index.html assets/404.html
var assets embed.FS

const defaultContentType = "text/html; charset=utf-8"

// Page is a static response body.
type Page struct {
	ContentType string
	Body        []byte
}

// DefaultIndexPage is served at "/" when no index file is configured on disk.
func DefaultIndexPage() Page {
	return mustAsset("assets/index.html")
}

// DefaultNotFoundPage is served for unknown paths when no not-found file is
// available on disk.
func DefaultNotFoundPage() Page {
	return mustAsset("assets/404.html")
}

func mustAsset(name string) Page {
	b, err := assets.ReadFile(name)
	if err != nil {
		panic(fmt.Errorf("fail-fast: embedded asset %s: %w", name, err))
	}
	return Page{ContentType: defaultContentType, Body: b}
}

// Site maps request paths to pages. It is read-only once serving starts.
type Site struct {
	pages    map[string]Page
	notFound Page
}

// NewSite returns a site serving index at "/" and notFound for everything
// else.
func NewSite(index, notFound Page) *Site {
	s := &Site{
		pages:    make(map[string]Page),
		notFound: withDefaultType(notFound),
	}
	s.Handle("/", index)
	return s
}

// DefaultSite serves the embedded pages.
func DefaultSite() *Site {
	return NewSite(DefaultIndexPage(), DefaultNotFoundPage())
}

// Handle registers page at path, replacing any previous page.
func (s *Site) Handle(path string, page Page) {
	s.pages[path] = withDefaultType(page)
}

// Lookup returns the page and status for a request. Only GET of a known
// path is answered with 200; everything else gets the not-found page.
func (s *Site) Lookup(method, path string) (Page, int) {
	if method == http.MethodGet {
		if p, ok := s.pages[path]; ok {
			return p, http.StatusOK
		}
	}
	return s.notFound, http.StatusNotFound
}

// NotFound returns the fallback page.
func (s *Site) NotFound() Page {
	return s.notFound
}

// Paths returns the number of registered paths.
func (s *Site) Paths() int {
	return len(s.pages)
}

// LoadSite reads the index and not-found pages from cfg.Dir, falling back to
// the embedded pages when either file does not exist. Extra routes must
// exist on disk.
func LoadSite(cfg config.Static) (*Site, error) {
	index, err := readPage(cfg.Dir, cfg.Index)
	if errors.Is(err, fs.ErrNotExist) {
		index, err = DefaultIndexPage(), nil
	}
	if err != nil {
		return nil, err
	}

	notFound, err := readPage(cfg.Dir, cfg.NotFound)
	if errors.Is(err, fs.ErrNotExist) {
		notFound, err = DefaultNotFoundPage(), nil
	}
	if err != nil {
		return nil, err
	}

	site := NewSite(index, notFound)
	for path, file := range cfg.Routes {
		if !strings.HasPrefix(path, "/") {
			return nil, fmt.Errorf("route %q: path must start with /", path)
		}
		page, err := readPage(cfg.Dir, file)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", path, err)
		}
		site.Handle(path, page)
	}
	return site, nil
}

func readPage(dir, name string) (Page, error) {
	if name == "" {
		return Page{}, fs.ErrNotExist
	}
	path := filepath.Join(dir, name)
	b, err := os.ReadFile(path)
	if err != nil {
		return Page{}, fmt.Errorf("read page %s: %w", path, err)
	}
	return Page{ContentType: contentTypeFor(name), Body: b}, nil
}

func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return defaultContentType
}

func withDefaultType(p Page) Page {
	if p.ContentType == "" {
		p.ContentType = defaultContentType
	}
	return p
}
