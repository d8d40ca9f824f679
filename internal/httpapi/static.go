package httpapi

import (
	"embed"
	"io/fs"
	"net/http"
)

// The embedded overlay is a single self-contained page that tails
// /ws/feed. Streamers load it as a browser source in OBS to show the
// translated transcript on stream.
//
//go:embed static
var overlayFS embed.FS

func overlayHandler() http.Handler {
	sub, err := fs.Sub(overlayFS, "static")
	if err != nil {
		return http.NotFoundHandler()
	}
	return http.FileServer(http.FS(sub))
}
