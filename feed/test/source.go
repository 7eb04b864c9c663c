package test

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/tidepool-org/cdc-worker/cdc"
	"github.com/tidepool-org/cdc-worker/feed"
)

// Entry is either a change record or a fault delivered by the feed.
// Faults are delivered only once, subsequent subscriptions skip them.
type Entry struct {
	Record *cdc.RawChangeRecord
	Err    error

	fired bool
}

type Subscription struct {
	ResumeFrom bson.Raw
	Options    feed.SubscribeOptions
}

const cursorPrefix = "cursor-"

// CursorPosition is the position reported by a handle which hasn't returned a record yet
func CursorPosition(cursor int) bson.Raw {
	return cdc.NewResumeToken(fmt.Sprintf("%s%d", cursorPrefix, cursor))
}

// Source is an in-memory change feed. Subscribing with a resume token starts after the record
// with the matching position, subscribing without one starts at the first entry which
// has never been delivered. Live sources start subscriptions without a resume token after
// the last entry, like a change stream opened at the current point in time.
type Source struct {
	mu sync.Mutex

	entries       []*Entry
	head          int
	subscribeErrs []error
	appended      chan struct{}
	live          bool

	subscriptions []Subscription
	handles       []*Handle
}

func NewSource(entries ...Entry) *Source {
	s := &Source{appended: make(chan struct{})}
	s.Append(entries...)
	return s
}

func NewLiveSource() *Source {
	s := NewSource()
	s.live = true
	return s
}

// Append adds entries to the end of the feed and wakes up idle handles
func (s *Source) Append(entries ...Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range entries {
		entry := entries[i]
		s.entries = append(s.entries, &entry)
	}
	close(s.appended)
	s.appended = make(chan struct{})
}

// FailSubscribe makes the next subscriptions fail with the given errors
func (s *Source) FailSubscribe(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribeErrs = append(s.subscribeErrs, errs...)
}

func (s *Source) Subscribe(_ context.Context, resumeFrom bson.Raw, opts feed.SubscribeOptions) (feed.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions = append(s.subscriptions, Subscription{ResumeFrom: resumeFrom, Options: opts})
	if len(s.subscribeErrs) > 0 {
		err := s.subscribeErrs[0]
		s.subscribeErrs = s.subscribeErrs[1:]
		return nil, err
	}

	cursor := s.head
	if len(resumeFrom) > 0 {
		cursor = s.indexAfter(resumeFrom)
	} else if s.live {
		cursor = len(s.entries)
	}

	handle := &Handle{source: s, cursor: cursor, closed: make(chan struct{})}
	s.handles = append(s.handles, handle)
	return handle, nil
}

func (s *Source) SubscriptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscriptions)
}

// Subscriptions returns a copy of the subscriptions requested so far
func (s *Source) Subscriptions() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Subscription(nil), s.subscriptions...)
}

// Handle returns the i-th handle opened by the source
func (s *Source) Handle(i int) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.handles) {
		return nil
	}
	return s.handles[i]
}

func (s *Source) LastHandle() *Handle {
	return s.Handle(s.HandleCount() - 1)
}

func (s *Source) HandleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// AllClosed returns true if every handle opened so far was closed
func (s *Source) AllClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.handles {
		if !h.IsClosed() {
			return false
		}
	}
	return true
}

func (s *Source) indexAfter(position bson.Raw) int {
	if data, ok := position.Lookup("_data").StringValueOK(); ok && strings.HasPrefix(data, cursorPrefix) {
		if cursor, err := strconv.Atoi(strings.TrimPrefix(data, cursorPrefix)); err == nil {
			return cursor
		}
	}
	for i, entry := range s.entries {
		if entry.Record != nil && bytes.Equal(entry.Record.Position(), position) {
			return i + 1
		}
	}
	return s.head
}

// next returns the entry at or after cursor, or a channel which is closed when entries are appended
func (s *Source) next(cursor int) (int, *Entry, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for cursor < len(s.entries) {
		entry := s.entries[cursor]
		cursor++
		if entry.Err != nil && entry.fired {
			continue
		}
		if entry.Err != nil {
			entry.fired = true
		}
		if cursor > s.head {
			s.head = cursor
		}
		return cursor, entry, nil
	}
	return cursor, nil, s.appended
}

type Handle struct {
	source *Source
	cursor int
	// position of the last returned record
	position bson.Raw

	closeOnce sync.Once
	closed    chan struct{}
}

// Next returns the next entry. When the feed is drained it blocks like an idle change stream.
func (h *Handle) Next(ctx context.Context) (cdc.RawChangeRecord, error) {
	if h.IsClosed() {
		return cdc.RawChangeRecord{}, cdc.ErrFeedExhausted
	}

	for {
		cursor, entry, appended := h.source.next(h.cursor)
		h.cursor = cursor
		if entry != nil {
			if entry.Err != nil {
				return cdc.RawChangeRecord{}, entry.Err
			}
			h.position = entry.Record.Position()
			return *entry.Record, nil
		}

		select {
		case <-ctx.Done():
			return cdc.RawChangeRecord{}, ctx.Err()
		case <-h.closed:
			return cdc.RawChangeRecord{}, cdc.ErrFeedExhausted
		case <-appended:
		}
	}
}

func (h *Handle) Position() bson.Raw {
	if len(h.position) > 0 {
		return h.position
	}
	return CursorPosition(h.cursor)
}

func (h *Handle) Close(_ context.Context) error {
	h.closeOnce.Do(func() {
		close(h.closed)
	})
	return nil
}

func (h *Handle) IsClosed() bool {
	select {
	case <-h.closed:
		return true
	default:
		return false
	}
}

var _ feed.Handle = &Handle{}
var _ feed.Source = &Source{}
