package comic

import "sort"

// Registry routes endpoints to sources. Sources are consulted in registration order and
// the first one whose Handles matches wins.
type Registry struct {
	sources []Source
}

// NewRegistry builds a Registry; nil sources are skipped.
func NewRegistry(sources ...Source) *Registry {
	r := &Registry{}
	for _, s := range sources {
		if s != nil {
			r.sources = append(r.sources, s)
		}
	}
	return r
}

// Find returns the first source claiming endpoint.
func (r *Registry) Find(endpoint string) (Source, bool) {
	for _, s := range r.sources {
		if s.Handles(endpoint) {
			return s, true
		}
	}
	return nil, false
}

// Sources returns the registered sources in precedence order.
func (r *Registry) Sources() []Source {
	return append([]Source(nil), r.sources...)
}

// Conflicts reports endpoints claimed by more than one source, mapped to the claiming
// source names in precedence order.
func (r *Registry) Conflicts(endpoints []string) map[string][]string {
	out := make(map[string][]string)
	seen := make(map[string]struct{}, len(endpoints))
	for _, ep := range endpoints {
		if _, dup := seen[ep]; dup {
			continue
		}
		seen[ep] = struct{}{}
		var owners []string
		for _, s := range r.sources {
			if s.Handles(ep) {
				owners = append(owners, s.Name())
			}
		}
		if len(owners) > 1 {
			out[ep] = owners
		}
	}
	return out
}

// ConflictEndpoints returns the sorted keys of a Conflicts result.
func ConflictEndpoints(conflicts map[string][]string) []string {
	keys := make([]string, 0, len(conflicts))
	for k := range conflicts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
