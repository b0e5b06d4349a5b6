package api

import (
	"embed"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"
)

//go:embed public
var embeddedPublic embed.FS

// handleStatic serves the embedded web UI for any path the API does not
// claim.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	for _, candidate := range staticCandidates(r.URL.Path) {
		data, err := fs.ReadFile(embeddedPublic, "public/"+candidate)
		if err != nil {
			continue
		}

		contentType := mime.TypeByExtension(path.Ext(candidate))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(data)
		return
	}

	writeError(w, http.StatusNotFound, "static file not found: "+r.URL.Path)
}

// staticCandidates lists the embedded paths tried for a request, in order.
func staticCandidates(uriPath string) []string {
	normalized := normalizeStaticPath(uriPath)
	switch {
	case normalized == "":
		return []string{"index.html"}
	case strings.HasSuffix(normalized, "/"):
		return []string{normalized + "index.html", strings.TrimSuffix(normalized, "/")}
	default:
		return []string{normalized, normalized + "/index.html"}
	}
}

// normalizeStaticPath flattens a request path into an embedded-file key:
// no leading slash, no empty, "." or ".." segments.
func normalizeStaticPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}

	segments := strings.Split(strings.TrimPrefix(p, "/"), "/")
	kept := segments[:0]
	for _, seg := range segments {
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		kept = append(kept, seg)
	}
	return strings.Join(kept, "/")
}
