// Package protocol defines the HTTP/JSON sync wire format shared by the
// client SDK and the reference server.
package protocol

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/zeusync/wordsync/internal/core/models"
)

const (
	SyncPath = "/api/v1/stars/sync"
	FeedPath = "/api/v1/stars/feed"

	HeaderUserID    = "User-Id"
	HeaderUserName  = "User-Name"
	HeaderRequestID = "X-Request-Id"

	// CodeOK is the envelope code of a successful sync.
	CodeOK = 200

	MessageSuccess = "success"

	// EventChanged is pushed on the feed after a sync changed the stored list.
	EventChanged = "changed"
)

// SyncRequest carries the sender's entire snapshot.
type SyncRequest struct {
	Data models.Snapshot `json:"data"`
}

// SyncResponse is the envelope every sync answer is wrapped in.
type SyncResponse struct {
	Code    int             `json:"code"`
	Data    models.Snapshot `json:"data"`
	Message string          `json:"message"`
}

// FeedEvent is one message on the change feed. Hash is the fingerprint of
// the server's list after the change; Source is the request id that caused
// it.
type FeedEvent struct {
	Event  string `json:"event"`
	Hash   uint64 `json:"hash,string"`
	Source string `json:"source,omitempty"`
}

// SetIdentity writes the caller identity headers.
func SetIdentity(h http.Header, id models.Identity) {
	h.Set(HeaderUserID, strconv.FormatInt(id.ID, 10))
	h.Set(HeaderUserName, id.Name)
}

// IdentityFromHeader reads the caller identity headers.
func IdentityFromHeader(h http.Header) (models.Identity, error) {
	rawID := strings.TrimSpace(h.Get(HeaderUserID))
	name := strings.TrimSpace(h.Get(HeaderUserName))
	if rawID == "" || name == "" {
		return models.Identity{}, ErrMissingIdentity
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return models.Identity{}, ErrInvalidIdentity
	}
	return models.Identity{ID: id, Name: name}, nil
}

// FeedURL derives the websocket feed address from a sync endpoint:
// http(s) becomes ws(s) and the sync path is swapped for the feed path.
func FeedURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", ErrUnsupportedScheme
	}
	if strings.HasSuffix(u.Path, "/sync") {
		u.Path = strings.TrimSuffix(u.Path, "/sync") + "/feed"
	} else {
		u.Path = FeedPath
	}
	u.RawQuery = ""
	return u.String(), nil
}
