package engine

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// stampReader is the slice of the changestamp service conditional reads need.
type stampReader interface {
	Read(ctx context.Context, namespaceID *int64, table string) (*uuid.UUID, error)
}

// handleConditional sets the collection's change stamp as the ETag and, when
// the client presented a matching If-None-Match, short-circuits with 304.
// Returns true when the response is already written. Collections that have
// never been touched carry no ETag.
func handleConditional(stamps stampReader, w http.ResponseWriter, r *http.Request, namespaceID *int64, table string) bool {
	stamp, err := stamps.Read(r.Context(), namespaceID, table)
	if err != nil || stamp == nil {
		// Stamp reads are best effort; the response is still correct
		// without one.
		return false
	}

	etag := fmt.Sprintf("%q", stamp.String())
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return true
	}
	return false
}
