package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuboski/watchstate/internal/backend"
)

type recordedCall struct {
	method string
	id     string
	date   int64
}

type fakeClient struct {
	name string
	kind backend.Kind

	mu    sync.Mutex
	calls []recordedCall
	err   error
}

func (f *fakeClient) Name() string           { return f.name }
func (f *fakeClient) Kind() backend.Kind     { return f.kind }
func (f *fakeClient) Discover(context.Context) (string, error) { return f.name, nil }
func (f *fakeClient) ListItems(context.Context) ([]backend.Item, error) { return nil, nil }
func (f *fakeClient) GetItem(context.Context, string) (backend.Item, error) {
	return backend.Item{}, backend.ErrNotFound
}

func (f *fakeClient) MarkPlayed(_ context.Context, id string, date int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{method: "played", id: id, date: date})
	return f.err
}

func (f *fakeClient) MarkUnplayed(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{method: "unplayed", id: id})
	return f.err
}

func (f *fakeClient) recorded() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func awaitCalls(t *testing.T, f *fakeClient, n int) []recordedCall {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if calls := f.recorded(); len(calls) >= n {
			return calls
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d calls, got %d", n, len(f.recorded()))
	return nil
}

func TestDispatchesMarkPlayed(t *testing.T) {
	plex := &fakeClient{name: "plex", kind: backend.Plex}
	q := New([]backend.Client{plex}, 2)
	defer q.Close()

	err := q.Add(context.Background(), Request{
		Backend:  "plex",
		ItemID:   "123",
		Action:   ActionMarkPlayed,
		Date:     1000,
		UserData: UserData{Title: "The Matrix", Type: "movie"},
	})
	require.NoError(t, err)

	calls := awaitCalls(t, plex, 1)
	assert.Equal(t, "played", calls[0].method)
	assert.Equal(t, "123", calls[0].id)
	assert.EqualValues(t, 1000, calls[0].date)
}

func TestDispatchesMarkUnplayed(t *testing.T) {
	jf := &fakeClient{name: "jellyfin", kind: backend.Jellyfin}
	q := New([]backend.Client{jf}, 1)
	defer q.Close()

	require.NoError(t, q.Add(context.Background(), Request{
		Backend: "jellyfin",
		ItemID:  "abc",
		Action:  ActionMarkUnplayed,
	}))

	calls := awaitCalls(t, jf, 1)
	assert.Equal(t, "unplayed", calls[0].method)
}

func TestAddRejectsUnknownBackend(t *testing.T) {
	q := New(nil, 1)
	defer q.Close()

	err := q.Add(context.Background(), Request{Backend: "sonarr", ItemID: "1", Action: ActionMarkPlayed})
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestAddAssignsCorrelationIDWhenEmpty(t *testing.T) {
	plex := &fakeClient{name: "plex", kind: backend.Plex}
	// No workers: the enqueued request stays on the channel for inspection.
	q := &WorkerQueue{
		clients: map[string]backend.Client{"plex": plex},
		pending: make(chan dispatch, 1),
	}

	require.NoError(t, q.Add(context.Background(), Request{Backend: "plex", ItemID: "1", Action: ActionMarkPlayed}))
	d := <-q.pending
	assert.NotEmpty(t, d.req.CorrelationID)
}

func TestDispatchSurvivesClientError(t *testing.T) {
	plex := &fakeClient{name: "plex", kind: backend.Plex, err: errors.New("boom")}
	q := New([]backend.Client{plex}, 1)
	defer q.Close()

	require.NoError(t, q.Add(context.Background(), Request{Backend: "plex", ItemID: "1", Action: ActionMarkPlayed}))
	require.NoError(t, q.Add(context.Background(), Request{Backend: "plex", ItemID: "2", Action: ActionMarkUnplayed}))

	awaitCalls(t, plex, 2)
}

func TestAddRespectsContextCancellation(t *testing.T) {
	plex := &fakeClient{name: "plex", kind: backend.Plex}
	q := New([]backend.Client{plex}, 0, WithCapacity(0))
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// worker pool of size 1 (New floors to 1) will likely drain immediately,
	// so fill the pipeline with a cancelled context to exercise the select.
	err := q.Add(ctx, Request{Backend: "plex", ItemID: "1", Action: ActionMarkPlayed})
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}
