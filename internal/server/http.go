package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/zeusync/wordsync/internal/core/models"
	"github.com/zeusync/wordsync/internal/core/observability/log"
	"github.com/zeusync/wordsync/internal/core/protocol"
)

const HealthPath = "/healthz"

// routes builds the request multiplexer.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST "+protocol.SyncPath, IdentityMiddleware(s.logger, http.HandlerFunc(s.handleSync)))
	mux.Handle("GET "+protocol.FeedPath, IdentityMiddleware(s.logger, http.HandlerFunc(s.handleFeed)))
	mux.HandleFunc("GET "+HealthPath, s.handleHealth)
	return mux
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())
	requestID := r.Header.Get(protocol.HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	logger := s.logger.With(
		log.Int64("user_id", id.ID),
		log.String("request_id", requestID))

	incoming, err := decodeSyncRequest(w, r, s.config.MaxBodyBytes)
	if err != nil {
		logger.Warn("Rejected sync request", log.Error(err))
		writeEnvelope(w, http.StatusBadRequest, nil, err.Error())
		return
	}

	guard, err := s.users.get(id.ID)
	if err != nil {
		logger.Error("Failed to open user store", log.Error(err))
		writeEnvelope(w, http.StatusInternalServerError, nil, "storage unavailable")
		return
	}

	var changed bool
	merged, err := guard.Update(r.Context(), func(current models.Snapshot) (models.Snapshot, bool, error) {
		next, diff := Merge(current, incoming)
		changed = diff
		return next, diff, nil
	})
	if err != nil {
		logger.Error("Failed to merge word list", log.Error(err))
		writeEnvelope(w, http.StatusInternalServerError, nil, "storage unavailable")
		return
	}

	logger.Info("Sync served",
		log.Int("received", len(incoming)),
		log.Int("entries", len(merged)),
		log.Bool("changed", changed))

	writeEnvelope(w, http.StatusOK, merged, protocol.MessageSuccess)

	if changed {
		s.feed.broadcast(id.ID, protocol.FeedEvent{
			Event:  protocol.EventChanged,
			Hash:   merged.Fingerprint(),
			Source: requestID,
		})
	}
}

func decodeSyncRequest(w http.ResponseWriter, r *http.Request, limit int64) (models.Snapshot, error) {
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	var req protocol.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Wrap(ErrInvalidBody, err.Error())
	}
	if req.Data == nil {
		req.Data = models.Snapshot{}
	}
	if err := req.Data.Validate(); err != nil {
		return nil, errors.Wrap(ErrInvalidBody, err.Error())
	}
	return req.Data, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.GetStats()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"users":       stats.UserCount,
		"subscribers": stats.SubscriberCount,
		"storage": map[string]any{
			"loads":   stats.Storage.LoadCount,
			"commits": stats.Storage.CommitCount,
			"errors":  stats.Storage.ErrorCount,
			"entries": stats.Storage.Entries,
		},
	})
}

// writeEnvelope answers in the sync envelope shape. The envelope code
// mirrors the HTTP status.
func writeEnvelope(w http.ResponseWriter, status int, data models.Snapshot, message string) {
	if data == nil {
		data = models.Snapshot{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(protocol.SyncResponse{
		Code:    status,
		Data:    data,
		Message: message,
	})
}
