// Package listing renders the landing page: the upload form, a progress
// bar driven by /progress polling, and the files already in the upload
// directory.
package listing

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"os"
	"sort"
)

//go:embed templates/*.html
var templates embed.FS

// FileInfo is one row of the listing.
type FileInfo struct {
	Name string
	Size string
}

type pageData struct {
	Files []FileInfo
}

// Renderer enumerates a directory and renders it through the index template.
type Renderer struct {
	dir  string
	tmpl *template.Template
}

// New parses the embedded templates.
func New(dir string) (*Renderer, error) {
	tmpl, err := template.ParseFS(templates, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Renderer{dir: dir, tmpl: tmpl}, nil
}

// Files lists regular files sorted by name. Directories, including the
// persister's staging directory, are never shown.
func (r *Renderer) Files() ([]FileInfo, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("read upload dir: %w", err)
	}
	var files []FileInfo
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		files = append(files, FileInfo{Name: e.Name(), Size: humanSize(info.Size())})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Render writes the HTML page.
func (r *Renderer) Render(w io.Writer) error {
	files, err := r.Files()
	if err != nil {
		return err
	}
	return r.tmpl.ExecuteTemplate(w, "index.html", pageData{Files: files})
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.2f GB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.2f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.2f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
