package pagequery

import (
	"context"
	"slices"
	"time"
)

// Status of a cache entry.
type Status uint8

const (
	StatusPending Status = iota + 1
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Pagination is the server-reported position of a page.
type Pagination struct {
	Page       int `json:"page" msgpack:"page"`
	PageSize   int `json:"pageSize" msgpack:"pageSize"`
	Total      int `json:"total" msgpack:"total"`
	TotalPages int `json:"totalPages" msgpack:"totalPages"`
}

// HasNext reports whether pages follow this one.
func (p Pagination) HasNext() bool { return p.Page < p.TotalPages }

func (p Pagination) valid() bool {
	return p.Page >= 1 && p.PageSize >= 1 && p.Total >= 0 && p.TotalPages >= 0
}

// Result is the fetch contract's output shape.
type Result[T any] struct {
	Success    bool        `json:"success"`
	Data       []T         `json:"data,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Fetcher performs one network call. The cache treats it as opaque.
type Fetcher[T any] func(ctx context.Context) (Result[T], error)

// Entry is an immutable snapshot of one key. A refetch publishes a new Entry;
// Data of a published entry is never modified.
type Entry[T any] struct {
	Key        string
	Status     Status
	Data       []T
	Pagination Pagination
	UpdatedAt  time.Time
	Err        error
	Gen        uint64

	// Previous is the last successful entry for the same key, kept while this
	// entry is pending or failed so callers keep seeing data.
	Previous *Entry[T]
}

// Items returns a copy of the data a consumer should see: this entry's data
// on success, otherwise the previous successful data (nil if none).
func (e *Entry[T]) Items() []T {
	if s := e.visible(); s != nil {
		return slices.Clone(s.Data)
	}
	return nil
}

// Page returns the pagination that belongs to Items.
func (e *Entry[T]) Page() (Pagination, bool) {
	if s := e.visible(); s != nil {
		return s.Pagination, true
	}
	return Pagination{}, false
}

// HasData reports whether Items comes from a successful fetch.
func (e *Entry[T]) HasData() bool { return e.visible() != nil }

func (e *Entry[T]) visible() *Entry[T] {
	if e == nil {
		return nil
	}
	if e.Status == StatusSuccess {
		return e
	}
	return e.Previous
}

// lastSuccess is what a new pending/error entry should carry as Previous.
func (e *Entry[T]) lastSuccess() *Entry[T] {
	return e.visible()
}

func normalize[T any](key string, gen uint64, res Result[T], err error, now time.Time) *Entry[T] {
	e := &Entry[T]{Key: key, Gen: gen, UpdatedAt: now}
	switch {
	case err != nil:
		e.Status = StatusError
		e.Err = &FetchError{Key: key, Kind: KindTransport, Msg: err.Error(), Err: err}
	case !res.Success:
		msg := res.Error
		if msg == "" {
			msg = "request was not successful"
		}
		e.Status = StatusError
		e.Err = &FetchError{Key: key, Kind: KindApplication, Msg: msg}
	case res.Pagination == nil:
		e.Status = StatusError
		e.Err = &FetchError{Key: key, Kind: KindPagination, Msg: "missing pagination metadata"}
	case !res.Pagination.valid():
		e.Status = StatusError
		e.Err = &FetchError{Key: key, Kind: KindPagination, Msg: "malformed pagination metadata"}
	default:
		e.Status = StatusSuccess
		e.Data = res.Data
		e.Pagination = *res.Pagination
	}
	return e
}
