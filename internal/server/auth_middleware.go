package server

import (
	"context"
	"net/http"

	"github.com/zeusync/wordsync/internal/core/models"
	"github.com/zeusync/wordsync/internal/core/observability/log"
	"github.com/zeusync/wordsync/internal/core/protocol"
)

type identityKey struct{}

// IdentityMiddleware rejects requests without a valid User-Id and
// User-Name pair and stores the identity in the request context.
func IdentityMiddleware(logger log.Log, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := protocol.IdentityFromHeader(r.Header)
		if err != nil {
			logger.Debug("Rejected request without identity",
				log.String("path", r.URL.Path),
				log.String("remote_addr", r.RemoteAddr),
				log.Error(err))
			writeEnvelope(w, http.StatusUnauthorized, nil, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

// IdentityFromContext returns the identity set by IdentityMiddleware.
func IdentityFromContext(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(models.Identity)
	return id, ok
}
