package handlers

import (
	_ "embed"
	"net/http"
)

//go:embed configure.html
var configurePage []byte

// Configure serves the static configuration page. Stremio opens it when the
// user hits "Configure" on the addon.
func (h *StreamHandler) Configure(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(configurePage)
}

// Root redirects to the configure page.
func (h *StreamHandler) Root(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/configure", http.StatusFound)
}
