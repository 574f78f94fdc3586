package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFetcher serves scripted pages and can hold fetches open until
// released, so tests can overlap loads with live traffic.
type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]HistoryPage
	err     error
	calls   int32
	cursors []string
	block   chan struct{}
}

func (f *fakeFetcher) FetchHistory(ctx context.Context, conversationID, cursor string) (HistoryPage, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.cursors = append(f.cursors, cursor)
	block := f.block
	err := f.err
	page := f.pages[conversationID]
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return HistoryPage{}, ctx.Err()
		}
	}
	if err != nil {
		return HistoryPage{}, err
	}
	return page, nil
}

func (f *fakeFetcher) callCount() int { return int(atomic.LoadInt32(&f.calls)) }

func TestLoadMergesPageIntoStore(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	fetcher := &fakeFetcher{pages: map[string]HistoryPage{
		"c-1": {
			Messages: []Message{
				{ID: "m-1", CreatedAt: base},
				{ID: "m-2", CreatedAt: base.Add(time.Second)},
			},
			NextCursor: "m-1",
		},
	}}
	store := NewStore("me", nil)
	loader := NewHistoryLoader(store, fetcher, time.Second, nil)

	require.NoError(t, loader.Load(context.Background(), "c-1"))

	msgs := store.Messages("c-1")
	require.Len(t, msgs, 2)
	conv, _ := store.Get("c-1")
	assert.Equal(t, "m-1", conv.HistoryCursor)
	assert.False(t, conv.Loading)
}

func TestLoadFailureLeavesCacheUntouched(t *testing.T) {
	store := NewStore("me", nil)
	store.ApplyInbound(WireMessage{ID: "m-1", ConversationID: "c-1", SenderID: "other", CreatedAt: time.Now()})
	fetcher := &fakeFetcher{err: errors.New("gateway down")}
	loader := NewHistoryLoader(store, fetcher, time.Second, nil)

	err := loader.Load(context.Background(), "c-1")

	var loadErr *HistoryLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "c-1", loadErr.ConversationID)

	msgs := store.Messages("c-1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "m-1", msgs[0].ID)
	conv, _ := store.Get("c-1")
	assert.False(t, conv.Loading)
}

func TestConcurrentLoadsAreSingleFlight(t *testing.T) {
	fetcher := &fakeFetcher{
		pages: map[string]HistoryPage{"c-1": {Messages: []Message{{ID: "m-1", CreatedAt: time.Now()}}}},
		block: make(chan struct{}),
	}
	store := NewStore("me", nil)
	loader := NewHistoryLoader(store, fetcher, time.Second, nil)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	start := make(chan struct{})
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = loader.Load(context.Background(), "c-1")
		}(i)
	}
	close(start)

	require.Eventually(t, func() bool { return fetcher.callCount() >= 1 }, time.Second, time.Millisecond)
	close(fetcher.block)
	wg.Wait()

	assert.Equal(t, 1, fetcher.callCount())
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, store.Messages("c-1"), 1)
}

func TestLoadUnionsWithLiveArrivals(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	fetcher := &fakeFetcher{
		pages: map[string]HistoryPage{"c-1": {Messages: []Message{
			{ID: "m-1", CreatedAt: base},
			{ID: "m-2", CreatedAt: base.Add(time.Second)},
		}}},
		block: make(chan struct{}),
	}
	store := NewStore("me", nil)
	loader := NewHistoryLoader(store, fetcher, time.Second, nil)

	done := make(chan error, 1)
	go func() { done <- loader.Load(context.Background(), "c-1") }()

	require.Eventually(t, func() bool { return fetcher.callCount() == 1 }, time.Second, time.Millisecond)
	// live message lands mid-fetch
	store.ApplyInbound(WireMessage{ID: "m-3", ConversationID: "c-1", SenderID: "other", CreatedAt: base.Add(2 * time.Second)})
	close(fetcher.block)
	require.NoError(t, <-done)

	msgs := store.Messages("c-1")
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"m-1", "m-2", "m-3"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestLoadOlderFollowsCursor(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	fetcher := &fakeFetcher{pages: map[string]HistoryPage{
		"c-1": {Messages: []Message{{ID: "m-1", CreatedAt: base}}, NextCursor: "m-0"},
	}}
	store := NewStore("me", nil)
	loader := NewHistoryLoader(store, fetcher, time.Second, nil)
	require.NoError(t, loader.Load(context.Background(), "c-1"))

	require.NoError(t, loader.LoadOlder(context.Background(), "c-1"))

	require.Len(t, fetcher.cursors, 2)
	assert.Equal(t, "", fetcher.cursors[0])
	assert.Equal(t, "m-0", fetcher.cursors[1])
}

func TestLoadOlderWithoutCursorIsNoOp(t *testing.T) {
	fetcher := &fakeFetcher{}
	store := NewStore("me", nil)
	loader := NewHistoryLoader(store, fetcher, time.Second, nil)

	require.NoError(t, loader.LoadOlder(context.Background(), "c-1"))
	assert.Equal(t, 0, fetcher.callCount())
}

func TestHTTPHistoryFetcher(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/conversations/c-1/messages", r.URL.Path)
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		assert.Equal(t, "m-0", r.URL.Query().Get("cursor"))
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []WireMessage{
				{ID: "m-1", ConversationID: "c-1", Content: "hi", CreatedAt: base},
			},
			"next_cursor": "m-1",
		})
	}))
	defer srv.Close()

	fetcher := HTTPHistoryFetcher{BaseURL: srv.URL, Credential: "token", PageSize: 25}
	page, err := fetcher.FetchHistory(context.Background(), "c-1", "m-0")

	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "m-1", page.Messages[0].ID)
	assert.Equal(t, StatusConfirmed, page.Messages[0].Status)
	assert.Equal(t, "m-1", page.NextCursor)
}

func TestHTTPHistoryFetcherRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	fetcher := HTTPHistoryFetcher{BaseURL: srv.URL}
	_, err := fetcher.FetchHistory(context.Background(), "c-1", "")
	assert.Error(t, err)
}
