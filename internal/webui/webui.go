// Package webui serves the HTML side of the service: the built map and
// board pages and a development-only data dump.
package webui

import (
	"net/http"

	"bustimes.app/internal/app"
)

type WebUI struct {
	*app.Application
}

// SetWebUIRoutes registers the debug page and the static assets on mux.
func (webUI *WebUI) SetWebUIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /debug", webUI.debugIndexHandler)
	mux.HandleFunc("GET /static/{file}", webUI.staticHandler)
}
