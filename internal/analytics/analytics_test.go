package analytics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"media-gallery/internal/store"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	backend, err := store.NewJSONBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s, err := store.Open(context.Background(), backend, Collection)
	if err != nil {
		t.Fatal(err)
	}
	return New(s)
}

func TestRecordViewSameViewerTwice(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	first := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return first }
	if _, err := tr.RecordView(ctx, "a.jpg", "v1"); err != nil {
		t.Fatalf("RecordView: %v", err)
	}

	second := first.Add(time.Minute)
	tr.now = func() time.Time { return second }
	rec, err := tr.RecordView(ctx, "a.jpg", "v1")
	if err != nil {
		t.Fatalf("RecordView: %v", err)
	}

	if rec.ViewCount != 2 {
		t.Errorf("ViewCount = %d, want 2", rec.ViewCount)
	}
	if len(rec.UniqueViewers) != 1 {
		t.Errorf("UniqueViewers = %v, want one viewer", rec.UniqueViewers)
	}
	if !rec.LastViewed.Equal(second) {
		t.Errorf("LastViewed = %v, want %v", rec.LastViewed, second)
	}
}

func TestRecordViewDistinctViewersSorted(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	for _, v := range []string{"zed", "amy", "kim", "amy"} {
		if _, err := tr.RecordView(ctx, "a.jpg", v); err != nil {
			t.Fatal(err)
		}
	}

	rec, err := tr.Get(ctx, "a.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if rec.ViewCount != 4 {
		t.Errorf("ViewCount = %d, want 4", rec.ViewCount)
	}
	if fmt.Sprint(rec.UniqueViewers) != "[amy kim zed]" {
		t.Errorf("UniqueViewers = %v, want [amy kim zed]", rec.UniqueViewers)
	}
}

func TestConcurrentViews(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	const n = 30
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := tr.RecordView(ctx, "a.jpg", fmt.Sprintf("v%d", i%10)); err != nil {
				t.Errorf("RecordView: %v", err)
			}
		}(i)
	}
	wg.Wait()

	rec, _ := tr.Get(ctx, "a.jpg")
	if rec.ViewCount != n {
		t.Errorf("ViewCount = %d, want %d", rec.ViewCount, n)
	}
	if len(rec.UniqueViewers) != 10 {
		t.Errorf("unique viewers = %d, want 10", len(rec.UniqueViewers))
	}
}

func TestRecordViewValidation(t *testing.T) {
	tr := newTestTracker(t)
	if _, err := tr.RecordView(context.Background(), "a.jpg", " "); !errors.Is(err, ErrInvalidView) {
		t.Errorf("err = %v, want ErrInvalidView", err)
	}
	if _, err := tr.RecordView(context.Background(), "", "v"); !errors.Is(err, ErrInvalidView) {
		t.Errorf("err = %v, want ErrInvalidView", err)
	}
}

func TestGetUnviewedAndAll(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	rec, err := tr.Get(ctx, "never.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if rec.ViewCount != 0 || rec.UniqueViewers == nil {
		t.Errorf("unviewed record = %+v", rec)
	}

	_, _ = tr.RecordView(ctx, "a.jpg", "v")
	_, _ = tr.RecordView(ctx, "b.jpg", "v")
	all, err := tr.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all["b.jpg"].ViewCount != 1 {
		t.Errorf("All = %+v", all)
	}
}
