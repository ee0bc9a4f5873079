package api

import (
	"net/http"
	"strings"

	"github.com/menxli/lfss-go/pkg/apierr"
	"github.com/menxli/lfss-go/pkg/lfsserr"
	"github.com/menxli/lfss-go/pkg/log"
	"github.com/menxli/lfss-go/pkg/metrics"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	logger := log.WithComponent("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		timer := metrics.NewTimer()
		next.ServeHTTP(rec, r)
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", timer.Duration()).
			Msg("request")
	})
}

func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Logger.Error().Interface("panic", rec).Msg("handler panicked")
				writeError(w, lfsserr.New(lfsserr.KindInvalidData, "internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		timer := metrics.NewTimer()
		next.ServeHTTP(rec, r)
		class := "2xx"
		switch {
		case rec.status >= 500:
			class = "5xx"
		case rec.status >= 400:
			class = "4xx"
		case rec.status >= 300:
			class = "3xx"
		}
		metrics.RequestsTotal.WithLabelValues(r.Method, class).Inc()
		timer.ObserveDurationVec(metrics.RequestDuration, r.Method)
	})
}

// authMiddleware resolves the caller per spec.md §6's order: Bearer
// header, HTTP Basic (only when WebDAV is enabled), `?token=` query,
// guest otherwise. A credential that is present but does not resolve to
// a user yields 401, rather than silently falling back to guest.
func authMiddleware(deps *Deps) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, basicUser, basicPass, hasCredential := extractCredential(r, deps.Cfg.WebdavEnabled)
			if !hasCredential {
				next.ServeHTTP(w, withUser(r, nil))
				return
			}

			if basicUser != "" {
				got, err := deps.Users.AuthenticateBasic(r.Context(), basicUser, basicPass)
				if err != nil {
					writeUnauthorized(w)
					return
				}
				next.ServeHTTP(w, withUser(r, got))
				return
			}

			got, err := deps.Users.Authenticate(r.Context(), token)
			if err != nil {
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, withUser(r, got))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"invalid credentials"}`))
}

func extractCredential(r *http.Request, webdavEnabled bool) (token, basicUser, basicPass string, present bool) {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer "), "", "", true
	}
	if webdavEnabled {
		if bu, bp, ok := r.BasicAuth(); ok {
			return "", bu, bp, true
		}
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok, "", "", true
	}
	return "", "", "", false
}

func writeError(w http.ResponseWriter, err error) {
	status := apierr.StatusFor(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + apierr.Message(err) + `"}`))
}
