package middleware

import (
	"net/http"
	"time"

	pkgmw "github.com/adminpilot/control-plane/pkg/middleware"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger writes one structured line per request once the response is done,
// including the authenticated actor when there is one.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, slot := pkgmw.WithActorSlot(r.Context())
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(ctx))

		status := responseStatus(ww)
		event := log.WithLevel(levelFor(status)).
			Str("request_id", chimw.GetReqID(ctx)).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr)
		if actor := slot.Subject(); actor != "" {
			event = event.Str("actor", actor)
		}
		event.Msg("request")
	})
}

// responseStatus treats a handler that never called WriteHeader as 200.
func responseStatus(ww chimw.WrapResponseWriter) int {
	if s := ww.Status(); s != 0 {
		return s
	}
	return http.StatusOK
}

func levelFor(status int) zerolog.Level {
	switch {
	case status >= 500:
		return zerolog.ErrorLevel
	case status >= 400:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}
