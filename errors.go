package pagequery

import (
	"errors"
	"fmt"
)

var (
	// ErrSuperseded is returned by Call.Wait when a newer generation was issued
	// for the key before the response arrived. The response was discarded.
	ErrSuperseded = errors.New("pagequery: response superseded by a newer fetch")
	// ErrDisposed is returned once the owning Registry has been disposed.
	ErrDisposed = errors.New("pagequery: registry disposed")
	// ErrInvalidPageSize rejects page sizes below 1.
	ErrInvalidPageSize = errors.New("pagequery: page size must be >= 1")
)

// ErrorKind classifies why a fetch produced an error entry.
// Consumers see one error status regardless of kind; the kind is for logs and metrics.
type ErrorKind uint8

const (
	// KindTransport: the fetcher returned an error or panicked.
	KindTransport ErrorKind = iota + 1
	// KindApplication: the fetcher answered success=false.
	KindApplication
	// KindPagination: success without usable pagination metadata.
	KindPagination
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindApplication:
		return "application"
	case KindPagination:
		return "pagination"
	default:
		return "unknown"
	}
}

// FetchError is the normalized error stored on an error entry.
type FetchError struct {
	Key  string
	Kind ErrorKind
	Msg  string
	Err  error // underlying transport error, if any
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("pagequery: fetch %q failed (%s): %s", e.Key, e.Kind, e.Msg)
}

func (e *FetchError) Unwrap() error { return e.Err }

// InvalidateError reports spill-tier deletes that failed during an invalidation.
// Generations were still bumped, so the affected spilled pages can never be
// revived; the error only means their bytes linger until the provider evicts them.
type InvalidateError struct {
	Prefix string
	DelErr []error
}

func (e *InvalidateError) Error() string {
	return fmt.Sprintf("invalidate %q: %d spill delete(s) failed: %v", e.Prefix, len(e.DelErr), errors.Join(e.DelErr...))
}

func (e *InvalidateError) Unwrap() []error { return e.DelErr }
