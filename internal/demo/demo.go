// Package demo serves a deterministic in-memory user directory through the
// pagequery fetch contracts. The CLI queries it in place of a remote API.
package demo

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/text/cases"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/unkn0wn-root/pagequery"
)

// User is one row of the directory.
type User struct {
	ID        string    `json:"id" msgpack:"id" cbor:"id"`
	Name      string    `json:"name" msgpack:"name" cbor:"name"`
	Email     string    `json:"email" msgpack:"email" cbor:"email"`
	CreatedAt time.Time `json:"createdAt" msgpack:"createdAt" cbor:"createdAt"`
}

// ToStruct renders u as a protobuf Struct for protobuf spill encoding.
func (u User) ToStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"id":        u.ID,
		"name":      u.Name,
		"email":     u.Email,
		"createdAt": u.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

// UserFromStruct reverses User.ToStruct.
func UserFromStruct(s *structpb.Struct) (User, error) {
	f := s.GetFields()
	at, err := time.Parse(time.RFC3339Nano, f["createdAt"].GetStringValue())
	if err != nil {
		return User{}, fmt.Errorf("demo: createdAt: %w", err)
	}
	return User{
		ID:        f["id"].GetStringValue(),
		Name:      f["name"].GetStringValue(),
		Email:     f["email"].GetStringValue(),
		CreatedAt: at,
	}, nil
}

// Sortable are the columns Table can order by.
var Sortable = []string{"id", "name", "email", "createdAt"}

var epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// Directory is safe for concurrent use.
type Directory struct {
	latency time.Duration

	mu    sync.RWMutex
	users []User
	fail  string

	calls atomic.Int64
}

// NewDirectory creates n users named "User 1".."User n", created one hour
// apart. latency delays every fetch.
func NewDirectory(n int, latency time.Duration) *Directory {
	users := make([]User, n)
	for i := range users {
		users[i] = User{
			ID:        fmt.Sprintf("u%03d", i+1),
			Name:      fmt.Sprintf("User %d", i+1),
			Email:     fmt.Sprintf("user%d@example.com", i+1),
			CreatedAt: epoch.Add(time.Duration(i) * time.Hour),
		}
	}
	return &Directory{users: users, latency: latency}
}

// Calls counts fetches served so far.
func (d *Directory) Calls() int64 { return d.calls.Load() }

// Fail makes every fetch answer success=false with msg; "" restores service.
func (d *Directory) Fail(msg string) {
	d.mu.Lock()
	d.fail = msg
	d.mu.Unlock()
}

// Rename changes a user's name, so invalidation has something to show.
func (d *Directory) Rename(id, name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.users {
		if d.users[i].ID == id {
			d.users[i].Name = name
			return true
		}
	}
	return false
}

// Table serves pagequery.TableFetcher[User].
func (d *Directory) Table(ctx context.Context, p pagequery.TableParams) (pagequery.Result[User], error) {
	if err := d.wait(ctx); err != nil {
		return pagequery.Result[User]{}, err
	}
	rows, failMsg := d.filter(p.Search)
	if failMsg != "" {
		return pagequery.Result[User]{Success: false, Error: failMsg}, nil
	}
	if p.SortBy != "" && !slices.Contains(Sortable, p.SortBy) {
		return pagequery.Result[User]{Success: false, Error: fmt.Sprintf("cannot sort by %q", p.SortBy)}, nil
	}
	sortUsers(rows, p.SortBy, p.SortOrder)
	return paginate(rows, p.Page, p.PageSize), nil
}

// Scroll serves pagequery.ScrollFetcher[User]; rows come in id order.
func (d *Directory) Scroll(ctx context.Context, req pagequery.ScrollRequest) (pagequery.Result[User], error) {
	if err := d.wait(ctx); err != nil {
		return pagequery.Result[User]{}, err
	}
	rows, failMsg := d.filter(req.Search)
	if failMsg != "" {
		return pagequery.Result[User]{Success: false, Error: failMsg}, nil
	}
	return paginate(rows, req.Page, req.PageSize), nil
}

func (d *Directory) wait(ctx context.Context) error {
	d.calls.Add(1)
	if d.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d.latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// filter copies the users whose name or email contains search, ignoring case.
func (d *Directory) filter(search string) ([]User, string) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.fail != "" {
		return nil, d.fail
	}
	search = strings.TrimSpace(search)
	if search == "" {
		return slices.Clone(d.users), ""
	}
	fold := cases.Fold()
	needle := fold.String(search)
	var out []User
	for _, u := range d.users {
		if strings.Contains(fold.String(u.Name), needle) || strings.Contains(fold.String(u.Email), needle) {
			out = append(out, u)
		}
	}
	return out, ""
}

func sortUsers(rows []User, by string, order pagequery.SortOrder) {
	desc := order.Canonical() == pagequery.SortDesc
	slices.SortStableFunc(rows, func(a, b User) int {
		var c int
		switch by {
		case "name":
			c = cmp.Compare(a.Name, b.Name)
		case "email":
			c = cmp.Compare(a.Email, b.Email)
		case "createdAt":
			c = a.CreatedAt.Compare(b.CreatedAt)
		default:
			c = cmp.Compare(a.ID, b.ID)
		}
		if desc {
			return -c
		}
		return c
	})
}

func paginate(rows []User, page, size int) pagequery.Result[User] {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = pagequery.DefaultPageSize
	}
	total := len(rows)
	totalPages := (total + size - 1) / size
	start := min((page-1)*size, total)
	end := min(start+size, total)
	return pagequery.Result[User]{
		Success: true,
		Data:    rows[start:end],
		Pagination: &pagequery.Pagination{
			Page:       page,
			PageSize:   size,
			Total:      total,
			TotalPages: totalPages,
		},
	}
}

// Options presents users as selector options.
var Options = pagequery.PresenterFunc[User, pagequery.Option](func(u User) pagequery.Option {
	return pagequery.Option{Value: u.ID, Label: u.Name, SubLabel: u.Email}
})
