package middlewares

import (
	"context"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/mbolis/matrix-survey/log"
)

const (
	ClientCookie  = "client_id"
	SessionCookie = "session_id"

	clientMaxAge = 60 * 60 * 24 * 365
)

type ctxKey int

const (
	clientKey ctxKey = iota
	sessionKey
)

// Client identifies the browser behind a request with two cookies: a
// long-lived client id and a session id that dies with the browser session.
// Missing or malformed ids are replaced by fresh ones.
func Client(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := ensureCookie(w, r, ClientCookie, clientMaxAge)
		sessionID := ensureCookie(w, r, SessionCookie, 0)

		ctx := context.WithValue(r.Context(), clientKey, clientID)
		ctx = context.WithValue(ctx, sessionKey, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ensureCookie(w http.ResponseWriter, r *http.Request, name string, maxAge int) string {
	if c, err := r.Cookie(name); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Path:     "/",
		Name:     name,
		Value:    id,
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// ClientID is the long-lived id of the calling browser.
func ClientID(ctx context.Context) string {
	id, _ := ctx.Value(clientKey).(string)
	return id
}

// SessionID is the id of the calling browser session.
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey).(string)
	return id
}

// AccessLog logs one line per request, once it has been served.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)

		healthz := r.URL.Path == "/healthz"
		if healthz && m.Code < 500 && !log.IsLevelEnabled(log.TraceLevel) {
			return
		}

		entry := log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   m.Code,
			"bytes":    m.Written,
			"duration": m.Duration,
		})
		if id := middleware.GetReqID(r.Context()); id != "" {
			entry = entry.WithField("request", id)
		}

		switch {
		case m.Code >= 500:
			entry.Warn("http")
		case healthz:
			entry.Trace("http")
		default:
			entry.Info("http")
		}
	})
}
