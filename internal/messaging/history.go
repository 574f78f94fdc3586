package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// HistoryPage is one page of durable messages, oldest first.
type HistoryPage struct {
	Messages   []Message
	NextCursor string
}

// HistoryFetcher retrieves durable message pages. The production
// implementation talks to the gateway's HTTP API; tests use a fake.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, conversationID, cursor string) (HistoryPage, error)
}

// HistoryLoader fetches pages and merges them into the store. Loads
// for a conversation are single-flight: concurrent callers share the
// in-flight fetch instead of issuing duplicates.
type HistoryLoader struct {
	store   *Store
	fetcher HistoryFetcher
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	inflight map[string]*historyWait
}

type historyWait struct {
	done chan struct{}
	err  error
}

// NewHistoryLoader builds a loader. timeout bounds each fetch.
func NewHistoryLoader(store *Store, fetcher HistoryFetcher, timeout time.Duration, logger *slog.Logger) *HistoryLoader {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryLoader{
		store:    store,
		fetcher:  fetcher,
		timeout:  timeout,
		logger:   logger,
		inflight: make(map[string]*historyWait),
	}
}

// Load fetches the newest history page for a conversation and merges
// it by id into whatever is already cached. A failed load returns
// *HistoryLoadError and leaves the cache untouched.
func (l *HistoryLoader) Load(ctx context.Context, conversationID string) error {
	return l.load(ctx, conversationID, "")
}

// LoadOlder follows the conversation's pagination cursor to fetch the
// next older page. Without a cursor the conversation is fully loaded
// and the call is a no-op.
func (l *HistoryLoader) LoadOlder(ctx context.Context, conversationID string) error {
	conv, ok := l.store.Get(conversationID)
	if !ok || conv.HistoryCursor == "" {
		return nil
	}
	return l.load(ctx, conversationID, conv.HistoryCursor)
}

func (l *HistoryLoader) load(ctx context.Context, conversationID, cursor string) error {
	l.mu.Lock()
	if w, ok := l.inflight[conversationID]; ok {
		l.mu.Unlock()
		select {
		case <-w.done:
			return w.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	w := &historyWait{done: make(chan struct{})}
	l.inflight[conversationID] = w
	l.mu.Unlock()

	l.store.beginHistoryLoad(conversationID)
	w.err = l.fetchAndMerge(ctx, conversationID, cursor)
	l.store.endHistoryLoad(conversationID)

	l.mu.Lock()
	delete(l.inflight, conversationID)
	l.mu.Unlock()
	close(w.done)
	return w.err
}

func (l *HistoryLoader) fetchAndMerge(ctx context.Context, conversationID, cursor string) error {
	fetchCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	page, err := l.fetcher.FetchHistory(fetchCtx, conversationID, cursor)
	if err != nil {
		l.logger.Warn("history load failed", "conversation_id", conversationID, "error", err)
		return &HistoryLoadError{ConversationID: conversationID, Err: err}
	}
	l.store.MergeHistory(conversationID, page.Messages, page.NextCursor)
	return nil
}

// HTTPHistoryFetcher reads history pages from the gateway's REST API.
type HTTPHistoryFetcher struct {
	BaseURL    string
	Credential string
	PageSize   int
	Client     *http.Client
}

type historyResponse struct {
	Items      []WireMessage `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// FetchHistory implements HistoryFetcher.
func (f HTTPHistoryFetcher) FetchHistory(ctx context.Context, conversationID, cursor string) (HistoryPage, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	query := url.Values{}
	query.Set("limit", fmt.Sprintf("%d", pageSize))
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	endpoint := fmt.Sprintf("%s/api/v1/conversations/%s/messages?%s", f.BaseURL, url.PathEscape(conversationID), query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return HistoryPage{}, err
	}
	if f.Credential != "" {
		req.Header.Set("Authorization", "Bearer "+f.Credential)
	}
	resp, err := client.Do(req)
	if err != nil {
		return HistoryPage{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return HistoryPage{}, fmt.Errorf("history fetch: gateway returned %s", resp.Status)
	}
	var body historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return HistoryPage{}, fmt.Errorf("history fetch: decode: %w", err)
	}
	page := HistoryPage{NextCursor: body.NextCursor}
	for _, item := range body.Items {
		page.Messages = append(page.Messages, fromWire(item))
	}
	return page, nil
}

var _ HistoryFetcher = HTTPHistoryFetcher{}
