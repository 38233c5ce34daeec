package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/chative-estimate/server/internal/agent/model"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderClientID = "X-Client-ID"
)

type identityKey struct{}

// Identity reads the caller identity set by the upstream auth layer.
// A request with X-User-ID is authenticated; otherwise X-Client-ID
// identifies the anonymous browser for quota purposes.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := model.Identity{
			UserID:   strings.TrimSpace(r.Header.Get(HeaderUserID)),
			ClientID: strings.TrimSpace(r.Header.Get(HeaderClientID)),
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

// IdentityFrom returns the identity stored by Identity.
func IdentityFrom(ctx context.Context) model.Identity {
	id, _ := ctx.Value(identityKey{}).(model.Identity)
	return id
}
