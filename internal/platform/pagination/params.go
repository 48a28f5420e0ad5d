// Package pagination reads page, size and sort query parameters for list endpoints. Pages are
// zero-based.
package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

const (
	DefaultPageSize    = 10
	DefaultMaxPageSize = 100
)

type Sort struct {
	Field string
	Desc  bool
}

type Params struct {
	Page int
	Size int
	Sort Sort
}

// Options configure Parse per endpoint. An empty AllowedSortFields accepts any well-formed field.
type Options struct {
	DefaultPageSize   int
	MaxPageSize       int
	DefaultSort       Sort
	AllowedSortFields []string
}

func (o Options) limits() (def, max int) {
	max = o.MaxPageSize
	if max <= 0 {
		max = DefaultMaxPageSize
	}
	def = min(cmpOr(o.DefaultPageSize, DefaultPageSize), max)
	return def, max
}

var (
	ErrInvalidPage = errors.New("pagination: invalid page")
	ErrInvalidSize = errors.New("pagination: invalid size")
	ErrInvalidSort = errors.New("pagination: invalid sort")
)

func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse validates the query values. size above the maximum is clamped rather than rejected.
func Parse(values url.Values, opts Options) (Params, error) {
	def, max := opts.limits()
	out := Params{Size: def, Sort: opts.DefaultSort}

	if raw := strings.TrimSpace(values.Get("page")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return Params{}, fmt.Errorf("%w: %q is not a non-negative integer", ErrInvalidPage, raw)
		}
		out.Page = n
	}
	if raw := strings.TrimSpace(values.Get("size")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return Params{}, fmt.Errorf("%w: %q is not a positive integer", ErrInvalidSize, raw)
		}
		out.Size = min(n, max)
	}
	if raw := strings.TrimSpace(values.Get("sort")); raw != "" {
		sort, err := parseSort(raw, opts.AllowedSortFields)
		if err != nil {
			return Params{}, err
		}
		out.Sort = sort
	}
	return out, nil
}

// parseSort understands "field", "field,asc|desc" and "field:asc|desc".
func parseSort(raw string, allowed []string) (Sort, error) {
	field, dir, hasDir := strings.Cut(strings.ReplaceAll(raw, ":", ","), ",")
	field, dir = strings.TrimSpace(field), strings.TrimSpace(dir)
	if !validField(field) {
		return Sort{}, fmt.Errorf("%w: bad field %q", ErrInvalidSort, field)
	}
	if len(allowed) > 0 && !slices.Contains(allowed, field) {
		return Sort{}, fmt.Errorf("%w: cannot sort by %q", ErrInvalidSort, field)
	}
	sort := Sort{Field: field}
	if !hasDir {
		return sort, nil
	}
	switch strings.ToLower(dir) {
	case "asc":
	case "desc":
		sort.Desc = true
	default:
		return Sort{}, fmt.Errorf("%w: bad direction %q", ErrInvalidSort, dir)
	}
	return sort, nil
}

func validField(field string) bool {
	if field == "" {
		return false
	}
	return !strings.ContainsFunc(field, func(r rune) bool {
		return !(r == '_' || r == '.' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9'))
	})
}

func cmpOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
