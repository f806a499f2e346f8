package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/apptdesk/libs/auth"
	"github.com/md-rashed-zaman/apptdesk/libs/httpx"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/model"
)

type sessionKey struct{}

func SessionFromContext(ctx context.Context) (model.Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(model.Session)
	return s, ok
}

func ContextWithSession(ctx context.Context, s model.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// RequireSession turns the bearer token into the explicit session every engine call takes.
func RequireSession(verifier *auth.Verifier, loc *time.Location) httpx.Middleware {
	if loc == nil {
		loc = time.UTC
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := verifier.Verify(auth.BearerToken(r.Header.Get("Authorization")))
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: errorDetail{Kind: "unauthorized", Message: "missing or invalid token"}})
				return
			}
			sess := model.Session{OrgID: claims.BusinessID, UserID: claims.Subject, Location: loc}
			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), sess)))
		})
	}
}

// OrgKey buckets rate limits per organization, falling back to the client address.
func OrgKey(r *http.Request) string {
	if s, ok := SessionFromContext(r.Context()); ok {
		return "org:" + s.OrgID
	}
	return "ip:" + httpx.ClientIP(r)
}
