package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// PrefetchWindow is how close to the end of the buffer the active position
// must be before the next page is requested.
const PrefetchWindow = 3

// Fetcher is implemented by Client.
type Fetcher interface {
	FetchPage(ctx context.Context, req PageRequest) (Page, error)
}

// Session owns one feed session: its id, cursor, exclusion set, buffered
// cards and filters. Changing filters restarts pagination.
type Session struct {
	fetcher Fetcher
	origin  string
	logger  *slog.Logger

	pages    singleflight.Group
	inflight sync.WaitGroup

	mu         sync.Mutex
	id         string
	cursor     *string
	terminal   bool
	exclude    []string
	seen       map[string]struct{}
	buffer     []Destination
	vibe       string
	sort       string
	generation uint64
}

// NewSession starts a session for the given origin code.
func NewSession(f Fetcher, origin string) *Session {
	s := &Session{fetcher: f, origin: origin, logger: slog.Default()}
	s.resetLocked()
	return s
}

func (s *Session) resetLocked() {
	s.id = uuid.NewString()
	s.cursor = nil
	s.terminal = false
	s.exclude = nil
	s.seen = make(map[string]struct{})
	s.buffer = nil
	s.generation++
}

// ID returns the current session id.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Generation increases every time the session is reset.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Buffer returns a copy of the buffered destinations.
func (s *Session) Buffer() []Destination {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Destination(nil), s.buffer...)
}

// Len returns the number of buffered destinations.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Terminal reports whether the ranker signalled the end of the feed.
func (s *Session) Terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal
}

// Excluded returns the exclusion set in the order ids were seen.
func (s *Session) Excluded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.exclude...)
}

// SetFilters applies a vibe filter and sort preset. When either changes the
// session restarts from the first page with a fresh id and an empty
// exclusion set, and pages still in flight are discarded. It reports
// whether a reset happened.
func (s *Session) SetFilters(vibe, sort string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if vibe == s.vibe && sort == s.sort {
		return false
	}
	s.vibe, s.sort = vibe, sort
	s.resetLocked()
	return true
}

// MarkSeen adds id to the exclusion set.
func (s *Session) MarkSeen(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[id]; ok {
		return
	}
	s.seen[id] = struct{}{}
	s.exclude = append(s.exclude, id)
}

// pageLoad is the shared result of one page request.
type pageLoad struct {
	gen   uint64
	added int
}

// LoadMore fetches the next page and appends it to the buffer. Concurrent
// callers share one request, and at most one request is outstanding even
// across filter changes. It returns the number of cards added.
func (s *Session) LoadMore(ctx context.Context) (int, error) {
	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()

	for {
		v, err, _ := s.pages.Do("page", func() (any, error) {
			s.mu.Lock()
			flightGen := s.generation
			s.mu.Unlock()
			added, err := s.loadPage(ctx, flightGen)
			return pageLoad{gen: flightGen, added: added}, err
		})
		if err != nil {
			return 0, err
		}
		res := v.(pageLoad)
		// A caller that joined a request made for older filters waits for
		// it to settle, then fetches for its own filters.
		if res.gen >= gen {
			if res.gen > gen {
				return 0, nil
			}
			return res.added, nil
		}
	}
}

func (s *Session) loadPage(ctx context.Context, gen uint64) (int, error) {
	s.mu.Lock()
	if s.terminal || s.generation != gen {
		s.mu.Unlock()
		return 0, nil
	}
	req := PageRequest{
		Origin:    s.origin,
		Cursor:    s.cursor,
		SessionID: s.id,
		Exclude:   append([]string(nil), s.exclude...),
		Vibe:      s.vibe,
		Sort:      s.sort,
	}
	s.mu.Unlock()

	page, err := s.fetcher.FetchPage(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("loading feed page: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		s.logger.Debug("discarding feed page from previous filters", "session_id", req.SessionID)
		return 0, nil
	}

	buffered := make(map[string]struct{}, len(s.buffer))
	for _, d := range s.buffer {
		buffered[d.ID] = struct{}{}
	}
	added := 0
	for _, d := range page.Destinations {
		if _, dup := buffered[d.ID]; dup {
			continue
		}
		buffered[d.ID] = struct{}{}
		s.buffer = append(s.buffer, d)
		added++
	}
	s.cursor = page.NextCursor
	s.terminal = page.NextCursor == nil
	return added, nil
}

// MaybePrefetch starts a background LoadMore when position is within
// PrefetchWindow items of the end of the buffer. It never blocks and
// reports whether a fetch was started.
func (s *Session) MaybePrefetch(ctx context.Context, position int) bool {
	s.mu.Lock()
	due := !s.terminal && len(s.buffer)-position <= PrefetchWindow
	s.mu.Unlock()
	if !due {
		return false
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if _, err := s.LoadMore(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("feed prefetch failed", "error", err)
		}
	}()
	return true
}

// Wait blocks until background prefetches have finished.
func (s *Session) Wait() {
	s.inflight.Wait()
}
