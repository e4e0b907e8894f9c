package webui

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

var allowedExtensions = map[string]bool{
	".html": true, ".css": true, ".js": true, ".json": true,
	".png": true, ".jpg": true, ".jpeg": true, ".svg": true,
	".ico": true, ".webmanifest": true,
}

// staticHandler serves a single file from the configured static directory.
func (webUI *WebUI) staticHandler(w http.ResponseWriter, r *http.Request) {
	if webUI.Application == nil || webUI.Config.Server.StaticDir == "" {
		http.NotFound(w, r)
		return
	}

	fileName := r.PathValue("file")
	if fileName == "" {
		fileName = filepath.Base(r.URL.Path)
	}

	if !allowedExtensions[strings.ToLower(filepath.Ext(fileName))] {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	if strings.Contains(fileName, "..") || strings.ContainsAny(fileName, `/\`) {
		http.Error(w, "Invalid file name", http.StatusBadRequest)
		return
	}

	staticDir, err := filepath.Abs(webUI.Config.Server.StaticDir)
	if err != nil {
		http.Error(w, "Internal configuration error", http.StatusInternalServerError)
		return
	}
	absPath := filepath.Join(staticDir, fileName)

	rel, err := filepath.Rel(staticDir, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		slog.Warn("potential path traversal attempt blocked", "path", absPath)
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	stat, err := os.Stat(absPath)
	if err != nil || stat.IsDir() {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeFile(w, r, absPath)
}
