package restapi

import (
	"net/http"
	"strconv"
)

// noStore marks live responses and every non-2xx response.
const noStore = "no-cache, no-store, must-revalidate"

// cacheHeader is the Cache-Control value for a successful response that may
// be reused for maxAgeSeconds.
func cacheHeader(maxAgeSeconds int) string {
	if maxAgeSeconds <= 0 {
		return noStore
	}
	return "public, max-age=" + strconv.Itoa(maxAgeSeconds)
}

// CacheControlMiddleware stamps Cache-Control once the status is known:
// cacheHeader(maxAgeSeconds) on 2xx, noStore on anything else. A header the
// handler already set wins.
func CacheControlMiddleware(maxAgeSeconds int, next http.Handler) http.Handler {
	success := cacheHeader(maxAgeSeconds)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(&cacheControlWriter{ResponseWriter: w, success: success}, r)
	})
}

type cacheControlWriter struct {
	http.ResponseWriter
	success string
	stamped bool
}

func (w *cacheControlWriter) stamp(status int) {
	if w.stamped {
		return
	}
	w.stamped = true
	h := w.ResponseWriter.Header()
	if h.Get("Cache-Control") != "" {
		return
	}
	if status >= 200 && status < 300 {
		h.Set("Cache-Control", w.success)
	} else {
		h.Set("Cache-Control", noStore)
	}
}

func (w *cacheControlWriter) WriteHeader(status int) {
	w.stamp(status)
	w.ResponseWriter.WriteHeader(status)
}

func (w *cacheControlWriter) Write(b []byte) (int, error) {
	w.stamp(http.StatusOK)
	return w.ResponseWriter.Write(b)
}

func (w *cacheControlWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
