package webd

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	ghandlers "github.com/gorilla/handlers"
)

func permissiveCorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Add("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept, Authorization")
		next.ServeHTTP(w, r)
	})
}

func contentTypeMiddlewareFunc(contentType string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", contentType)
			next.ServeHTTP(w, r)
		})
	}
}

// https://github.com/gorilla/mux#middleware

func remoteHost(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	for _, v := range req.Header.Values("X-Forwarded-For") {
		host += "->" + v
	}
	return host
}

// writeLog logs one served request. The writer is ignored; entries go to
// the default slog handler, which writes to stderr.
func writeLog(_ io.Writer, params ghandlers.LogFormatterParams) {
	req := params.Request
	uri := req.RequestURI
	if uri == "" {
		uri = params.URL.RequestURI()
	}
	level := slog.LevelInfo
	if params.StatusCode >= http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	slog.Log(req.Context(), level, "HTTP",
		"remote", remoteHost(req),
		"method", req.Method,
		"uri", uri,
		"proto", req.Proto,
		"status", params.StatusCode,
		"size", params.Size,
		"elapsed", time.Since(params.TimeStamp).Round(time.Microsecond))
}

func loggingMiddleware(next http.Handler) http.Handler {
	return ghandlers.CustomLoggingHandler(os.Stderr, next, writeLog)
}
