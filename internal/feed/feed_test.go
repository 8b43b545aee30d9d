package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var ctx = context.Background()

func strptr(s string) *string { return &s }

// --- Client ---

func TestFetchPage_QueryAndDecode(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"destinations":[{"id":"d1","name":"Lisbon","price":120}],"nextCursor":"c2"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "tok")
	page, err := c.FetchPage(ctx, PageRequest{
		Origin:    "LHR",
		Cursor:    strptr("c1"),
		SessionID: "s-1",
		Exclude:   []string{"a", "b", "c"},
		Vibe:      "beach",
	})
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}

	if got.URL.Path != "/feed" {
		t.Errorf("path = %q, want /feed", got.URL.Path)
	}
	q := got.URL.Query()
	if q.Get("origin") != "LHR" || q.Get("cursor") != "c1" || q.Get("sessionId") != "s-1" {
		t.Errorf("query = %v", q)
	}
	if q.Get("exclude") != "a,b,c" {
		t.Errorf("exclude = %q, want a,b,c", q.Get("exclude"))
	}
	if q.Get("vibe") != "beach" || q.Has("sort") {
		t.Errorf("filters = %v", q)
	}
	if got.Header.Get("Authorization") != "Bearer tok" {
		t.Errorf("Authorization = %q", got.Header.Get("Authorization"))
	}

	if len(page.Destinations) != 1 || page.Destinations[0].Name != "Lisbon" || *page.Destinations[0].Price != 120 {
		t.Errorf("destinations = %+v", page.Destinations)
	}
	if page.NextCursor == nil || *page.NextCursor != "c2" {
		t.Errorf("nextCursor = %v, want c2", page.NextCursor)
	}
}

func TestFetchPage_FirstPageOmitsCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("cursor") || r.URL.Query().Has("exclude") {
			t.Errorf("first page query = %v", r.URL.Query())
		}
		fmt.Fprint(w, `{"destinations":[],"nextCursor":null}`)
	}))
	defer srv.Close()

	page, err := NewClient(srv.URL, "").FetchPage(ctx, PageRequest{Origin: "JFK", SessionID: "s"})
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if page.NextCursor != nil {
		t.Error("expected terminal page")
	}
}

func TestFetchPage_RateLimitRetry(t *testing.T) {
	var attempt atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempt.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"destinations":[{"id":"d1"}],"nextCursor":null}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	c.backoff = time.Millisecond
	if _, err := c.FetchPage(ctx, PageRequest{}); err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if got := attempt.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestFetchPage_RateLimitExhausted(t *testing.T) {
	var attempt atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	c.backoff = time.Millisecond
	_, err := c.FetchPage(ctx, PageRequest{})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if got := attempt.Load(); got != maxRetries {
		t.Errorf("attempts = %d, want %d", got, maxRetries)
	}
}

func TestFetchPage_ServerErrorNotRetried(t *testing.T) {
	var attempt atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, "").FetchPage(ctx, PageRequest{}); err == nil {
		t.Fatal("expected error")
	}
	if attempt.Load() != 1 {
		t.Errorf("attempts = %d, want 1", attempt.Load())
	}
}

// --- Session ---

type scriptedFetcher struct {
	mu       sync.Mutex
	requests []PageRequest
	pages    []Page
	block    chan struct{}
	started  chan struct{}

	inflight    int
	maxInflight int
}

func (f *scriptedFetcher) FetchPage(_ context.Context, req PageRequest) (Page, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	block, started := f.block, f.started
	f.inflight++
	f.maxInflight = max(f.maxInflight, f.inflight)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if n > len(f.pages) {
		return Page{NextCursor: nil}, nil
	}
	return f.pages[n-1], nil
}

func (f *scriptedFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func page(cursor *string, ids ...string) Page {
	p := Page{NextCursor: cursor}
	for _, id := range ids {
		p.Destinations = append(p.Destinations, Destination{ID: id})
	}
	return p
}

func TestSession_PaginatesUntilTerminal(t *testing.T) {
	f := &scriptedFetcher{pages: []Page{
		page(strptr("c2"), "a", "b"),
		page(nil, "c"),
	}}
	s := NewSession(f, "LHR")

	if n, err := s.LoadMore(ctx); err != nil || n != 2 {
		t.Fatalf("LoadMore = %d, %v", n, err)
	}
	s.MarkSeen("a")
	s.MarkSeen("b")
	s.MarkSeen("a")

	if n, _ := s.LoadMore(ctx); n != 1 {
		t.Fatalf("second LoadMore added %d, want 1", n)
	}
	if !s.Terminal() {
		t.Error("expected terminal after null cursor")
	}
	if n, _ := s.LoadMore(ctx); n != 0 || f.count() != 2 {
		t.Errorf("terminal session fetched again: added=%d requests=%d", n, f.count())
	}

	first, second := f.requests[0], f.requests[1]
	if first.Cursor != nil || len(first.Exclude) != 0 {
		t.Errorf("first request = %+v", first)
	}
	if *second.Cursor != "c2" || len(second.Exclude) != 2 || second.Exclude[0] != "a" {
		t.Errorf("second request = %+v", second)
	}
	if first.SessionID != second.SessionID || first.Origin != "LHR" {
		t.Error("session id must be stable across pages")
	}
}

func TestSession_SetFiltersResets(t *testing.T) {
	f := &scriptedFetcher{pages: []Page{page(strptr("c2"), "a"), page(strptr("x2"), "z")}}
	s := NewSession(f, "LHR")
	s.LoadMore(ctx)
	s.MarkSeen("a")
	oldID, oldGen := s.ID(), s.Generation()

	if s.SetFilters("", "") {
		t.Error("unchanged filters should not reset")
	}
	if !s.SetFilters("nightlife", "cheapest") {
		t.Fatal("changed filters should reset")
	}
	if s.ID() == oldID || s.Generation() == oldGen {
		t.Error("reset must mint a new session id and generation")
	}
	if s.Len() != 0 || len(s.Excluded()) != 0 {
		t.Error("reset must clear buffer and exclusion set")
	}

	s.LoadMore(ctx)
	req := f.requests[1]
	if req.Cursor != nil || len(req.Exclude) != 0 || req.Vibe != "nightlife" || req.Sort != "cheapest" {
		t.Errorf("post-reset request = %+v", req)
	}
}

func TestSession_DiscardsPageFromOldFilters(t *testing.T) {
	f := &scriptedFetcher{
		pages:   []Page{page(strptr("c2"), "stale")},
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	s := NewSession(f, "LHR")

	done := make(chan int)
	go func() {
		n, _ := s.LoadMore(ctx)
		done <- n
	}()
	<-f.started
	s.SetFilters("beach", "")
	close(f.block)

	if n := <-done; n != 0 {
		t.Errorf("stale page added %d cards", n)
	}
	if s.Len() != 0 {
		t.Error("stale page leaked into the buffer")
	}
}

func TestSession_OneRequestAcrossFilterChange(t *testing.T) {
	f := &scriptedFetcher{
		pages:   []Page{page(strptr("c2"), "stale"), page(strptr("n2"), "fresh")},
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	s := NewSession(f, "LHR")

	oldDone := make(chan int)
	go func() {
		n, _ := s.LoadMore(ctx)
		oldDone <- n
	}()
	<-f.started
	s.SetFilters("beach", "")

	newDone := make(chan int)
	go func() {
		n, _ := s.LoadMore(ctx)
		newDone <- n
	}()
	time.Sleep(20 * time.Millisecond)
	if got := f.count(); got != 1 {
		t.Fatalf("requests while the old page is pending = %d, want 1", got)
	}
	close(f.block)

	if n := <-oldDone; n != 0 {
		t.Errorf("old-filter load added %d cards", n)
	}
	if n := <-newDone; n != 1 {
		t.Errorf("new-filter load added %d cards, want 1", n)
	}
	if f.maxInflight != 1 {
		t.Errorf("max concurrent requests = %d, want 1", f.maxInflight)
	}
	buf := s.Buffer()
	if len(buf) != 1 || buf[0].ID != "fresh" {
		t.Errorf("buffer = %+v, want only the new-filter page", buf)
	}
	if f.requests[1].Vibe != "beach" {
		t.Errorf("second request vibe = %q, want beach", f.requests[1].Vibe)
	}
}

func TestSession_SingleFlight(t *testing.T) {
	f := &scriptedFetcher{
		pages:   []Page{page(strptr("c2"), "a", "b")},
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	s := NewSession(f, "LHR")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.LoadMore(ctx)
		}()
	}
	<-f.started
	time.Sleep(20 * time.Millisecond)
	close(f.block)
	wg.Wait()

	if f.count() != 1 {
		t.Errorf("requests = %d, want 1", f.count())
	}
	if s.Len() != 2 {
		t.Errorf("buffer = %d, want 2", s.Len())
	}
}

func TestSession_MaybePrefetch(t *testing.T) {
	f := &scriptedFetcher{pages: []Page{
		page(strptr("c2"), "a", "b", "c", "d", "e", "f"),
		page(nil, "g"),
	}}
	s := NewSession(f, "LHR")
	s.LoadMore(ctx)

	if s.MaybePrefetch(ctx, 1) {
		t.Error("prefetch started far from the end")
	}
	if !s.MaybePrefetch(ctx, 3) {
		t.Fatal("prefetch not started within window")
	}
	s.Wait()
	if s.Len() != 7 {
		t.Errorf("buffer = %d, want 7 after prefetch", s.Len())
	}
	if s.MaybePrefetch(ctx, 6) {
		t.Error("prefetch started on terminal feed")
	}
}

func TestDestination_IgnoresUnknownFields(t *testing.T) {
	var d Destination
	if err := json.Unmarshal([]byte(`{"id":"x","imageUrl":"http://img","itinerary":[1,2]}`), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.ID != "x" {
		t.Errorf("id = %q", d.ID)
	}
}
