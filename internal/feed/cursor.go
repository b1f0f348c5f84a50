// Package feed assembles user feeds by merging pushed cache entries with
// celebrity posts pulled at read time.
package feed

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/eduardonaguiar/socialmedia/internal/feedcache"
)

// ErrInvalidCursor marks a cursor the client mangled or fabricated.
var ErrInvalidCursor = errors.New("invalid cursor")

type cursorPayload struct {
	Score  int64  `json:"s"`
	Member string `json:"m"`
}

// EncodeCursor serializes a feed position into an opaque page token.
func EncodeCursor(c feedcache.Cursor) string {
	payload, _ := json.Marshal(cursorPayload{Score: c.Score, Member: c.Member})
	return base64.RawURLEncoding.EncodeToString(payload)
}

// DecodeCursor parses a page token. Any malformed input maps to
// ErrInvalidCursor so handlers can answer 400 without inspecting the cause.
func DecodeCursor(token string) (feedcache.Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return feedcache.Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var payload cursorPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return feedcache.Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if payload.Member == "" {
		return feedcache.Cursor{}, fmt.Errorf("%w: empty member", ErrInvalidCursor)
	}
	return feedcache.Cursor{Score: payload.Score, Member: payload.Member}, nil
}
