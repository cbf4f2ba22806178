package proxy

import (
	"bytes"
	"errors"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"
)

// SPA serves files from a filesystem and hands every other path to a fallback, so that client-side
// routes resolve to the entry document.
type SPA struct {
	fsys     fs.FS
	files    http.Handler
	fallback http.Handler
}

// NewSPA creates an SPA handler over fsys.
func NewSPA(fsys fs.FS, fallback http.Handler) SPA {
	return SPA{
		fsys:     fsys,
		files:    http.FileServer(http.FS(fsys)),
		fallback: fallback,
	}
}

func (s SPA) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.NotFound(w, r)
		return
	}

	name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if name != "" && s.isFile(name) {
		s.files.ServeHTTP(w, r)
		return
	}
	s.fallback.ServeHTTP(w, r)
}

func (s SPA) isFile(name string) bool {
	info, err := fs.Stat(s.fsys, name)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

// EntryDocument serves one file of fsys for every request it receives.
func EntryDocument(fsys fs.FS, name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				http.NotFound(w, r)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(content))
	})
}
