package cache

import (
	"encoding/json"
	"sort"
	"strings"
)

// Key deterministically serializes a [url, headers] tuple: header names
// lowercased, entries sorted by (name, value), encoded as a JSON tuple so
// semantically distinct inputs never collide.
func Key(url string, headers map[string]string) string {
	type pair struct{ Name, Value string }
	pairs := make([]pair, 0, len(headers))
	for name, value := range headers {
		pairs = append(pairs, pair{Name: strings.ToLower(name), Value: value})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Name != pairs[j].Name {
			return pairs[i].Name < pairs[j].Name
		}
		return pairs[i].Value < pairs[j].Value
	})

	tuple := [2]any{url, pairs}
	raw, err := json.Marshal(tuple)
	if err != nil {
		// Marshaling a []pair of strings cannot fail; this is defensive
		// only so Key stays a total function.
		return url
	}
	return string(raw)
}
