package index

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&Document{}, &Field{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	tick := 0
	clock := func() time.Time {
		tick++
		return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(tick) * time.Second)
	}
	idx, err := New(Config{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to build index: %v", err)
	}
	return idx
}

func mustPut(t *testing.T, idx *Index, document Document, fields []Field) {
	t.Helper()
	if err := idx.Put(context.Background(), document, fields); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}
}

func TestIndexGetAndExists(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	_, err := idx.Get(ctx, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	mustPut(t, idx, Document{ID: "doc-1", DocType: DocTypeAnnotation, Body: "{}"}, nil)

	exists, err := idx.Exists(ctx, "doc-1")
	if err != nil || !exists {
		t.Fatalf("expected document to exist: %v", err)
	}
	document, err := idx.Get(ctx, "doc-1")
	if err != nil || document.Body != "{}" {
		t.Fatalf("unexpected get result %v, %v", document, err)
	}
	if document.UpdatedAtSeconds == 0 {
		t.Fatalf("put must stamp the update time")
	}
}

func TestIndexGetReturnsTombstones(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	mustPut(t, idx, Document{ID: "doc-1", DocType: DocTypeAnnotation, Body: "{}", Deleted: true}, nil)

	document, err := idx.Get(ctx, "doc-1")
	if err != nil {
		t.Fatalf("tombstones must be retrievable: %v", err)
	}
	if !document.Deleted {
		t.Fatalf("deleted flag lost")
	}
}

func TestIndexSearchMatchesFields(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	mustPut(t, idx, Document{ID: "doc-1", DocType: DocTypeAnnotation, Body: "{}"}, []Field{
		{Name: FieldOwner, Value: "alice"},
		{Name: FieldAccessStatus, Value: "private"},
	})
	mustPut(t, idx, Document{ID: "doc-2", DocType: DocTypeAnnotation, Body: "{}"}, []Field{
		{Name: FieldOwner, Value: "bob"},
		{Name: FieldAccessStatus, Value: "public"},
	})
	mustPut(t, idx, Document{ID: "doc-3", DocType: DocTypeCollection, Body: "{}"}, []Field{
		{Name: FieldOwner, Value: "alice"},
	})

	total, documents, err := idx.Search(ctx, DocTypeAnnotation,
		Match{Field: FieldOwner, Value: "alice"}, 0, 10)
	if err != nil {
		t.Fatalf("unexpected search error: %v", err)
	}
	if total != 1 || len(documents) != 1 || documents[0].ID != "doc-1" {
		t.Fatalf("unexpected match result: total %d, %v", total, documents)
	}

	// doc types never mix.
	total, _, err = idx.Search(ctx, DocTypeCollection,
		Match{Field: FieldOwner, Value: "alice"}, 0, 10)
	if err != nil || total != 1 {
		t.Fatalf("collection search total = %d, err %v", total, err)
	}
}

func TestIndexSearchBoolComposition(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	mustPut(t, idx, Document{ID: "doc-1", DocType: DocTypeAnnotation, Body: "{}"}, []Field{
		{Name: FieldAccessStatus, Value: "shared"},
		{Name: FieldCanSee, Value: "bob"},
	})
	mustPut(t, idx, Document{ID: "doc-2", DocType: DocTypeAnnotation, Body: "{}"}, []Field{
		{Name: FieldAccessStatus, Value: "shared"},
		{Name: FieldCanSee, Value: "carol"},
	})
	mustPut(t, idx, Document{ID: "doc-3", DocType: DocTypeAnnotation, Body: "{}"}, []Field{
		{Name: FieldAccessStatus, Value: "public"},
	})

	query := BoolShould(
		BoolMust(
			Match{Field: FieldAccessStatus, Value: "shared"},
			Match{Field: FieldCanSee, Value: "bob"},
		),
		Match{Field: FieldAccessStatus, Value: "public"},
	)
	total, documents, err := idx.Search(ctx, DocTypeAnnotation, query, 0, 10)
	if err != nil {
		t.Fatalf("unexpected search error: %v", err)
	}
	if total != 2 {
		t.Fatalf("unexpected total %d", total)
	}
	ids := map[string]bool{}
	for _, document := range documents {
		ids[document.ID] = true
	}
	if !ids["doc-1"] || !ids["doc-3"] {
		t.Fatalf("unexpected matches %v", ids)
	}
}

func TestIndexPutReplacesFieldRows(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	mustPut(t, idx, Document{ID: "doc-1", DocType: DocTypeAnnotation, Body: "{}"}, []Field{
		{Name: FieldTargetID, Value: "http://example.org/old"},
	})
	mustPut(t, idx, Document{ID: "doc-1", DocType: DocTypeAnnotation, Body: "{}"}, []Field{
		{Name: FieldTargetID, Value: "http://example.org/new"},
	})

	total, _, err := idx.Search(ctx, DocTypeAnnotation,
		Match{Field: FieldTargetID, Value: "http://example.org/old"}, 0, 10)
	if err != nil || total != 0 {
		t.Fatalf("stale field rows must be dropped: total %d, err %v", total, err)
	}
	total, _, err = idx.Search(ctx, DocTypeAnnotation,
		Match{Field: FieldTargetID, Value: "http://example.org/new"}, 0, 10)
	if err != nil || total != 1 {
		t.Fatalf("new field rows must match: total %d, err %v", total, err)
	}
}

func TestIndexSearchExcludesTombstones(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	mustPut(t, idx, Document{ID: "doc-1", DocType: DocTypeAnnotation, Body: "{}"}, []Field{
		{Name: FieldOwner, Value: "alice"},
	})
	mustPut(t, idx, Document{ID: "doc-1", DocType: DocTypeAnnotation, Body: "{}", Deleted: true}, nil)

	total, _, err := idx.Search(ctx, DocTypeAnnotation, nil, 0, 10)
	if err != nil || total != 0 {
		t.Fatalf("tombstones must not match searches: total %d, err %v", total, err)
	}
}

func TestIndexSearchPagination(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	for _, id := range []string{"doc-1", "doc-2", "doc-3"} {
		mustPut(t, idx, Document{ID: id, DocType: DocTypeAnnotation, Body: "{}"}, nil)
	}

	total, page, err := idx.Search(ctx, DocTypeAnnotation, nil, 1, 1)
	if err != nil {
		t.Fatalf("unexpected search error: %v", err)
	}
	if total != 3 || len(page) != 1 || page[0].ID != "doc-2" {
		t.Fatalf("unexpected window: total %d, page %v", total, page)
	}
}

func TestIndexDelete(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	mustPut(t, idx, Document{ID: "doc-1", DocType: DocTypeAnnotation, Body: "{}"}, []Field{
		{Name: FieldOwner, Value: "alice"},
	})
	if err := idx.Delete(ctx, "doc-1"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if err := idx.Delete(ctx, "doc-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	_, err := idx.Get(ctx, "doc-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("hard-deleted documents must be gone, got %v", err)
	}
}
