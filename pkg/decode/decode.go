// Package decode implements a single-read response body decoder: it never
// calls both text() and json() on the same body, since doing so is a
// well-known source of "body already consumed" faults on streaming
// responses.
package decode

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

// Response is the minimal capability this package needs from an HTTP
// response; pkg/transport's concrete response satisfies it.
type Response interface {
	StatusCode() int
	Header(name string) string
	Body() io.Reader
}

// Decode reads resp's body exactly once and returns either parsed JSON (as
// any), the raw text, or nil for no-content statuses.
func Decode(resp Response) (any, error) {
	switch resp.StatusCode() {
	case 204, 205:
		return nil, nil
	}

	raw, err := io.ReadAll(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("error decoding response: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	if isJSONContentType(resp.Header("Content-Type")) {
		// gjson.ValidBytes is a cheap structural check that avoids building
		// a full json.Decoder (and its error message machinery) for bodies
		// that are obviously not JSON, before paying for a real unmarshal.
		if !gjson.ValidBytes(raw) {
			return nil, fmt.Errorf("error parse json: invalid JSON body")
		}
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, fmt.Errorf("error parse json: %w", err)
		}
		return value, nil
	}

	return string(raw), nil
}

func isJSONContentType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if ct == "" {
		return false
	}
	// Drop any "; charset=..." parameter before matching.
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = ct[:idx]
	}
	ct = strings.TrimSpace(ct)
	return strings.Contains(ct, "application/json") || strings.HasSuffix(ct, "+json")
}
