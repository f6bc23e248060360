package demo

import (
	"context"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/unkn0wn-root/pagequery"
)

func TestTable_FirstPage(t *testing.T) {
	d := NewDirectory(100, 0)
	res, err := d.Table(context.Background(), pagequery.TableParams{Page: 1, PageSize: 10, SortBy: "id", SortOrder: pagequery.SortAsc})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Pagination == nil {
		t.Fatalf("result = %+v", res)
	}
	want := pagequery.Pagination{Page: 1, PageSize: 10, Total: 100, TotalPages: 10}
	if *res.Pagination != want {
		t.Fatalf("pagination = %+v, want %+v", *res.Pagination, want)
	}
	if len(res.Data) != 10 || res.Data[0].ID != "u001" || res.Data[9].ID != "u010" {
		t.Fatalf("data = %v", res.Data)
	}
}

func TestTable_SearchSortAndLastPage(t *testing.T) {
	d := NewDirectory(25, 0)
	ctx := context.Background()

	// "user1" matches user1@ and user10@..user19@ by email.
	res, _ := d.Table(ctx, pagequery.TableParams{Page: 1, PageSize: 5, Search: "USER1", SortBy: "name", SortOrder: pagequery.SortDesc})
	if res.Pagination.Total != 11 || res.Pagination.TotalPages != 3 {
		t.Fatalf("pagination = %+v", *res.Pagination)
	}
	if res.Data[0].Name != "User 19" {
		t.Fatalf("first row = %q, want User 19", res.Data[0].Name)
	}

	last, _ := d.Table(ctx, pagequery.TableParams{Page: 3, PageSize: 10})
	if len(last.Data) != 5 {
		t.Fatalf("last page rows = %d, want 5", len(last.Data))
	}
	beyond, _ := d.Table(ctx, pagequery.TableParams{Page: 9, PageSize: 10})
	if len(beyond.Data) != 0 || !beyond.Success {
		t.Fatalf("beyond = %+v", beyond)
	}
}

func TestTable_DefaultsToNewestFirstOnCreatedAt(t *testing.T) {
	d := NewDirectory(3, 0)
	res, _ := d.Table(context.Background(), pagequery.TableParams{Page: 1, PageSize: 3, SortBy: "createdAt", SortOrder: pagequery.SortDesc})
	if res.Data[0].ID != "u003" {
		t.Fatalf("first = %s, want u003", res.Data[0].ID)
	}
}

func TestTable_ApplicationErrors(t *testing.T) {
	d := NewDirectory(3, 0)
	ctx := context.Background()

	res, err := d.Table(ctx, pagequery.TableParams{Page: 1, PageSize: 3, SortBy: "salary"})
	if err != nil || res.Success || res.Error == "" {
		t.Fatalf("unknown column: %+v %v", res, err)
	}

	d.Fail("maintenance")
	res, _ = d.Scroll(ctx, pagequery.ScrollRequest{Page: 1, PageSize: 3})
	if res.Success || res.Error != "maintenance" {
		t.Fatalf("fail mode: %+v", res)
	}
	d.Fail("")
	res, _ = d.Scroll(ctx, pagequery.ScrollRequest{Page: 1, PageSize: 3})
	if !res.Success {
		t.Fatalf("recovered: %+v", res)
	}
	if d.Calls() != 3 {
		t.Fatalf("calls = %d, want 3", d.Calls())
	}
}

func TestScroll_Cursors(t *testing.T) {
	d := NewDirectory(25, 0)
	ctx := context.Background()
	for page, want := range map[int]int{1: 10, 2: 10, 3: 5} {
		res, _ := d.Scroll(ctx, pagequery.ScrollRequest{Page: page, PageSize: 10})
		if len(res.Data) != want || res.Pagination.TotalPages != 3 {
			t.Fatalf("page %d: rows=%d pagination=%+v", page, len(res.Data), *res.Pagination)
		}
	}
}

func TestRenameAndOptions(t *testing.T) {
	d := NewDirectory(2, 0)
	if !d.Rename("u002", "Grace") || d.Rename("nope", "x") {
		t.Fatal("rename results wrong")
	}
	res, _ := d.Scroll(context.Background(), pagequery.ScrollRequest{Page: 1, PageSize: 2})
	opt := Options.Present(res.Data[1])
	if opt.Value != "u002" || opt.Label != "Grace" || opt.SubLabel != "user2@example.com" {
		t.Fatalf("option = %+v", opt)
	}
}

func TestWait_HonorsContext(t *testing.T) {
	d := NewDirectory(1, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Table(ctx, pagequery.TableParams{Page: 1, PageSize: 1}); err == nil {
		t.Fatal("expected context error")
	}
}

func TestUserStructRoundTrip(t *testing.T) {
	d := NewDirectory(3, 0)
	res, err := d.Table(context.Background(), pagequery.TableParams{Page: 1, PageSize: 3, SortBy: "id", SortOrder: pagequery.SortAsc})
	if err != nil {
		t.Fatal(err)
	}
	in := res.Data[0]
	s, err := in.ToStruct()
	if err != nil {
		t.Fatal(err)
	}
	out, err := UserFromStruct(s)
	if err != nil {
		t.Fatal(err)
	}
	if out.ID != in.ID || out.Name != in.Name || out.Email != in.Email || !out.CreatedAt.Equal(in.CreatedAt) {
		t.Fatalf("round trip = %+v, want %+v", out, in)
	}
	if _, err := UserFromStruct(&structpb.Struct{}); err == nil {
		t.Fatal("expected error without createdAt")
	}
}
