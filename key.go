package pagequery

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mitchellh/hashstructure/v2"
)

// KeySep separates key segments.
const KeySep = ":"

const (
	DefaultPageSize = 10

	scopeTable  = "table"
	scopeScroll = "scroll"
)

// SortOrder is "asc" or "desc".
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Canonical folds case and maps anything that is not "desc" to "asc".
func (o SortOrder) Canonical() SortOrder {
	if strings.EqualFold(string(o), string(SortDesc)) {
		return SortDesc
	}
	return SortAsc
}

// Flip returns the opposite order.
func (o SortOrder) Flip() SortOrder {
	if o.Canonical() == SortAsc {
		return SortDesc
	}
	return SortAsc
}

// canonicalizer is implemented by parameter sets that resolve defaults before keying.
type canonicalizer interface {
	canonicalParams() any
}

// TableParams is the fetch input of a table page.
type TableParams struct {
	Page      int       `json:"page"`
	PageSize  int       `json:"pageSize"`
	Search    string    `json:"search"`
	SortBy    string    `json:"sortBy"`
	SortOrder SortOrder `json:"sortOrder"`
}

// Canonical resolves defaults: page >= 1, page size >= 1, explicit sort order.
func (p TableParams) Canonical() TableParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	p.SortOrder = p.SortOrder.Canonical()
	return p
}

func (p TableParams) canonicalParams() any { return p.Canonical() }

// ScrollParams identifies one infinite list.
type ScrollParams struct {
	Search   string `json:"search"`
	PageSize int    `json:"pageSize"`
}

func (p ScrollParams) Canonical() ScrollParams {
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	return p
}

func (p ScrollParams) canonicalParams() any { return p.Canonical() }

// ScrollRequest is the fetch input of one scroll page.
type ScrollRequest struct {
	Page     int    `json:"page"`
	PageSize int    `json:"pageSize"`
	Search   string `json:"search"`
}

// BuildKey serializes a parameter set into "<namespace>:<hash>". Equal sets
// give equal keys regardless of call-site identity; parameter sets that know
// their defaults are canonicalized first. The hash is stable across runs.
// It panics on parameters that cannot be hashed (funcs, channels).
func BuildKey(namespace string, params ...any) string {
	canon := make([]any, len(params))
	for i, p := range params {
		if c, ok := p.(canonicalizer); ok {
			canon[i] = c.canonicalParams()
		} else {
			canon[i] = p
		}
	}
	h, err := hashstructure.Hash(canon, hashstructure.FormatV2, nil)
	if err != nil {
		panic(fmt.Sprintf("pagequery: unhashable key params for %q: %v", namespace, err))
	}
	return namespace + KeySep + fmt.Sprintf("%016x", h)
}

// TableKey is the cache key of one table page.
func TableKey(namespace string, p TableParams) string {
	return BuildKey(namespace, scopeTable, p)
}

// ScrollKey is the key of one infinite list; its pages live under it.
// scope carries caller parameters that partition lists beyond the search.
func ScrollKey(namespace string, p ScrollParams, scope ...any) string {
	return BuildKey(namespace, append([]any{scopeScroll, p}, scope...)...)
}

// PageKey is the cache key of one cursor page of a scroll list.
func PageKey(listKey string, cursor int) string {
	return listKey + KeySep + strconv.Itoa(cursor)
}

// MatchKey reports whether prefix selects key. Matching is segment aware:
// the prefix must be the whole key, end with KeySep, or be followed by KeySep.
// The empty prefix matches every key.
func MatchKey(key, prefix string) bool {
	if prefix == "" || key == prefix {
		return true
	}
	if !strings.HasPrefix(key, prefix) {
		return false
	}
	return strings.HasSuffix(prefix, KeySep) || strings.HasPrefix(key[len(prefix):], KeySep)
}
