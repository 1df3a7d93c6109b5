package comic

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// DefaultSourceName owns series descriptors that do not name a source.
const DefaultSourceName = "gocomics"

// Series is static metadata for one comic series.
type Series struct {
	Endpoint  string `json:"endpoint"`
	Title     string `json:"title"`
	Author    string `json:"author,omitempty"`
	Available bool   `json:"available"`
	StartDate string `json:"startDate,omitempty"`
	Source    string `json:"source,omitempty"`
}

// Directory is the read-only series catalogue loaded at startup.
type Directory struct {
	series []Series
	index  map[string]int
}

// NewDirectory indexes series by endpoint. Later duplicates replace earlier ones.
func NewDirectory(series []Series) *Directory {
	d := &Directory{index: make(map[string]int, len(series))}
	for _, s := range series {
		if s.Source == "" {
			s.Source = DefaultSourceName
		}
		if i, ok := d.index[s.Endpoint]; ok {
			d.series[i] = s
			continue
		}
		d.index[s.Endpoint] = len(d.series)
		d.series = append(d.series, s)
	}
	return d
}

// LoadDirectory reads a JSON array of series descriptors from path.
func LoadDirectory(path string) (*Directory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read series directory: %w", err)
	}
	var series []Series
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, fmt.Errorf("decode series directory %s: %w", path, err)
	}
	return NewDirectory(series), nil
}

// Lookup returns the descriptor for endpoint.
func (d *Directory) Lookup(endpoint string) (Series, bool) {
	if d == nil {
		return Series{}, false
	}
	i, ok := d.index[endpoint]
	if !ok {
		return Series{}, false
	}
	return d.series[i], true
}

// Title returns the series title, falling back to the endpoint.
func (d *Directory) Title(endpoint string) string {
	if s, ok := d.Lookup(endpoint); ok && s.Title != "" {
		return s.Title
	}
	return endpoint
}

// OwnedBy reports whether endpoint is a directory series owned by source.
func (d *Directory) OwnedBy(endpoint, source string) bool {
	s, ok := d.Lookup(endpoint)
	return ok && s.Source == source
}

// All returns every series in load order.
func (d *Directory) All() []Series {
	if d == nil {
		return nil
	}
	return append([]Series(nil), d.series...)
}

// Endpoints returns every endpoint in load order.
func (d *Directory) Endpoints() []string {
	if d == nil {
		return nil
	}
	out := make([]string, 0, len(d.series))
	for _, s := range d.series {
		out = append(out, s.Endpoint)
	}
	return out
}

// Search filters series by a case-insensitive match on endpoint, title or author,
// sorted by title. An empty query returns everything.
func (d *Directory) Search(query string) []Series {
	q := strings.ToLower(strings.TrimSpace(query))
	var out []Series
	for _, s := range d.All() {
		if q == "" ||
			strings.Contains(strings.ToLower(s.Title), q) ||
			strings.Contains(strings.ToLower(s.Endpoint), q) ||
			strings.Contains(strings.ToLower(s.Author), q) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Title) < strings.ToLower(out[j].Title)
	})
	return out
}

// BySource returns the series owned by the named source, in load order.
func (d *Directory) BySource(name string) []Series {
	var out []Series
	for _, s := range d.All() {
		if s.Source == name {
			out = append(out, s)
		}
	}
	return out
}
