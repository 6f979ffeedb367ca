// Package dashboard serves the gateway's read-only operator UI: one
// HTML page that polls /stats and /ready and subscribes to /events.
//
// Grounded on the teacher's internal/dashboard.Handler: the
// embed.FS-backed template/static split, the path-prefix dispatch
// between "/static/..." and the HTML shell, and the content-type
// switch on file extension are all kept. The teacher's handler was
// built to stay out of the way of a parallel "/api/" mux; this
// version instead only needs to avoid the gateway's own top-level
// admin routes, which the caller mounts separately.
package dashboard

import (
	"embed"
	"html/template"
	"net/http"
	"path"
	"strings"

	"go.uber.org/zap"
)

//go:embed templates static
var content embed.FS

// Handler serves the dashboard HTML shell and its static assets. The
// gateway mounts this at "/" alongside the admin routes registered by
// internal/api; any path under /static/ is served from the embedded
// filesystem, everything else renders the single dashboard page.
func Handler(log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/static/") {
			serveStatic(w, r, log)
			return
		}
		serveShell(w, log)
	}
}

func serveStatic(w http.ResponseWriter, r *http.Request, log *zap.Logger) {
	filePath := strings.TrimPrefix(r.URL.Path, "/")

	file, err := content.Open(filePath)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer file.Close()

	contentType := "application/octet-stream"
	switch path.Ext(r.URL.Path) {
	case ".css":
		contentType = "text/css"
	case ".js":
		contentType = "application/javascript"
	case ".svg":
		contentType = "image/svg+xml"
	case ".png":
		contentType = "image/png"
	case ".jpg", ".jpeg":
		contentType = "image/jpeg"
	}
	w.Header().Set("Content-Type", contentType)

	http.FileServer(http.FS(content)).ServeHTTP(w, r)
}

func serveShell(w http.ResponseWriter, log *zap.Logger) {
	tmpl, err := template.ParseFS(content, "templates/dashboard.html")
	if err != nil {
		log.Error("dashboard: parsing template", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html")
	if err := tmpl.Execute(w, nil); err != nil {
		log.Error("dashboard: executing template", zap.Error(err))
	}
}
