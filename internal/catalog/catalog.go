package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultCities is the built-in Kerala city list, in display order.
var DefaultCities = []string{
	"Kozhikode",
	"Vadakara",
	"Thiruvananthapuram",
	"Kochi",
	"Kollam",
	"Alappuzha",
	"Palakkad",
	"Kannur",
	"Malappuram",
}

var (
	ErrEmpty     = errors.New("catalog has no cities")
	ErrBlankName = errors.New("catalog city name is blank")
	ErrDuplicate = errors.New("catalog city name is duplicated")
)

// Catalog is a fixed, ordered list of city names. It is immutable after New
// and safe for concurrent use.
type Catalog struct {
	names []string
	lower []string
}

// New builds a catalog. Names are trimmed; blank or case-insensitively
// duplicated names are rejected.
func New(names []string) (*Catalog, error) {
	if len(names) == 0 {
		return nil, ErrEmpty
	}
	c := &Catalog{
		names: make([]string, 0, len(names)),
		lower: make([]string, 0, len(names)),
	}
	seen := make(map[string]struct{}, len(names))
	for i, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			return nil, fmt.Errorf("%w: index %d", ErrBlankName, i)
		}
		l := strings.ToLower(n)
		if _, ok := seen[l]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicate, n)
		}
		seen[l] = struct{}{}
		c.names = append(c.names, n)
		c.lower = append(c.lower, l)
	}
	return c, nil
}

// Default returns the catalog of DefaultCities.
func Default() *Catalog {
	c, err := New(DefaultCities)
	if err != nil {
		panic(err)
	}
	return c
}

// Names returns a copy of every entry in catalog order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	return len(c.names)
}

// Filter returns the entries containing term as a case-insensitive substring,
// in catalog order. An empty term matches every entry; callers that want
// "show nothing" for an empty term must check that themselves.
func (c *Catalog) Filter(term string) []string {
	t := strings.ToLower(term)
	out := make([]string, 0, len(c.names))
	for i, l := range c.lower {
		if strings.Contains(l, t) {
			out = append(out, c.names[i])
		}
	}
	return out
}

// Contains reports whether name is a catalog entry, ignoring case.
func (c *Catalog) Contains(name string) bool {
	l := strings.ToLower(strings.TrimSpace(name))
	for _, n := range c.lower {
		if n == l {
			return true
		}
	}
	return false
}
