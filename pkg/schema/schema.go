// Package schema models the endpoint catalog: an ordered mapping of path
// templates to per-operation descriptors, each carrying up to four schema
// slots, validated as a whole at construction time.
package schema

import (
	"fmt"
	"sort"

	"github.com/cexll/schemafetch-go/pkg/urlbuild"
	"github.com/cexll/schemafetch-go/pkg/validate"
)

// Operation is one of the eight method-descriptor kinds a catalog entry
// may declare.
type Operation string

const (
	Get      Operation = "get"
	Post     Operation = "post"
	Put      Operation = "put"
	Patch    Operation = "patch"
	Delete   Operation = "delete"
	Download Operation = "download"
	URL      Operation = "url"
	SSE      Operation = "sse"
)

// PathSchema pairs a $path validator with the set of keys it declares.
// Keys is required whenever Schema is non-nil: the catalog invariant
// checks that it is exactly the template's placeholder set.
type PathSchema struct {
	Schema validate.Schema
	Keys   []string
}

// Descriptor is one method-descriptor-set entry. Events is only meaningful
// for the sse operation; Request only for post/put/patch;
// Response is unused (and never consulted) for download and sse.
type Descriptor struct {
	Path     *PathSchema
	Search   validate.Schema
	Request  validate.Schema
	Response validate.Schema
	Events   map[string]validate.Schema

	// DefaultCacheRequest is consulted by the client when a per-call
	// cacheRequest option is not supplied, for operation=get only.
	DefaultCacheRequest bool
	DefaultCacheTTLMs   int64
}

// Entry binds one path template to its method-descriptor-set. Catalog
// preserves Entry order since the catalog is an ordered mapping, which a
// plain Go map cannot represent.
type Entry struct {
	Template string
	Methods  map[Operation]Descriptor
}

// Catalog is the compiled, order-preserving endpoint catalog.
type Catalog []Entry

// Lookup finds the descriptor for (template, operation). The catalog is
// expected to stay small (tens of endpoints), so linear scan is adequate
// and keeps Catalog a plain, easily hand-authored slice.
func (c Catalog) Lookup(template string, op Operation) (Descriptor, bool) {
	for _, e := range c {
		if e.Template != template {
			continue
		}
		d, ok := e.Methods[op]
		return d, ok
	}
	return Descriptor{}, false
}

// Compile validates every entry's placeholder invariant and returns the
// catalog unchanged on success. Use this at client-construction time so a
// malformed catalog fails fast rather than surfacing as a runtime
// ConstructURLError on the first call.
func Compile(entries []Entry) (Catalog, error) {
	for _, e := range entries {
		placeholders, err := urlbuild.Placeholders(e.Template)
		if err != nil {
			return nil, fmt.Errorf("error compiling catalog entry %q: %w", e.Template, err)
		}
		for op, d := range e.Methods {
			if d.Path == nil {
				continue
			}
			if err := checkPlaceholderInvariant(placeholders, d.Path.Keys); err != nil {
				return nil, fmt.Errorf("error compiling catalog entry %q operation %q: %w", e.Template, op, err)
			}
		}
	}
	return Catalog(entries), nil
}

// checkPlaceholderInvariant enforces that when a $path schema is declared,
// its key set must equal the template's placeholder set exactly, with no
// missing keys and no extras.
func checkPlaceholderInvariant(placeholders, keys []string) error {
	want := make(map[string]struct{}, len(placeholders))
	for _, p := range placeholders {
		want[p] = struct{}{}
	}
	have := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		have[k] = struct{}{}
	}

	var missing, extra []string
	for p := range want {
		if _, ok := have[p]; !ok {
			missing = append(missing, p)
		}
	}
	for k := range have {
		if _, ok := want[k]; !ok {
			extra = append(extra, k)
		}
	}
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return fmt.Errorf("$path keys must equal template placeholders exactly: missing=%v extra=%v", missing, extra)
}
