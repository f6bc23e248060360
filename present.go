package pagequery

import (
	"strings"

	"golang.org/x/text/cases"
)

// Option is one selectable row of a selector.
type Option struct {
	Value    string `json:"value"`
	Label    string `json:"label"`
	SubLabel string `json:"subLabel,omitempty"`
}

// Presenter maps raw items to what a consumer renders. It is applied to views
// only; caches never see presented values.
type Presenter[T, O any] interface {
	Present(item T) O
}

// PresenterFunc adapts a plain function to Presenter.
type PresenterFunc[T, O any] func(T) O

func (f PresenterFunc[T, O]) Present(item T) O { return f(item) }

// PresentAll maps items in order.
func PresentAll[T, O any](p Presenter[T, O], items []T) []O {
	out := make([]O, len(items))
	for i, it := range items {
		out[i] = p.Present(it)
	}
	return out
}

// FilterOptions narrows already loaded options to those whose label or
// sub-label contains input, ignoring case. It serves the gap before a
// debounced search reaches the server. Empty input keeps everything.
func FilterOptions(opts []Option, input string) []Option {
	input = strings.TrimSpace(input)
	if input == "" {
		return opts
	}
	fold := cases.Fold()
	needle := fold.String(input)

	out := make([]Option, 0, len(opts))
	for _, o := range opts {
		if strings.Contains(fold.String(o.Label), needle) ||
			strings.Contains(fold.String(o.SubLabel), needle) {
			out = append(out, o)
		}
	}
	return out
}

// Select returns the option with value, if loaded.
func Select(opts []Option, value string) (Option, bool) {
	for _, o := range opts {
		if o.Value == value {
			return o, true
		}
	}
	return Option{}, false
}
