package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeStore struct {
	mu        sync.Mutex
	pending   []Message
	processed []string
	failed    map[string]string
	claimErr  error
	claims    int
}

func newFakeStore(msgs ...Message) *fakeStore {
	return &fakeStore{pending: msgs, failed: map[string]string{}}
}

func (f *fakeStore) Claim(_ context.Context, limit int) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims++
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	n := min(limit, len(f.pending))
	out := f.pending[:n]
	f.pending = f.pending[n:]
	return out, nil
}

func (f *fakeStore) MarkProcessed(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, id)
	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, id string, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = cause.Error()
	return nil
}

func (f *fakeStore) FailStale(context.Context, time.Duration) (int64, error) { return 0, nil }

func TestDispatchOnceRoutesByTopic(t *testing.T) {
	store := newFakeStore(
		Message{ID: "1", Topic: "match.created", Payload: json.RawMessage(`{"match_id":"m1"}`)},
		Message{ID: "2", Topic: "match.created", Payload: json.RawMessage(`{"match_id":"m2"}`)},
		Message{ID: "3", Topic: "mystery"},
	)

	var delivered []string
	d := NewDispatcher(store).WithBatchSize(10)
	d.Register("match.created", HandlerFunc(func(_ context.Context, msg Message) error {
		var body struct {
			MatchID string `json:"match_id"`
		}
		if err := json.Unmarshal(msg.Payload, &body); err != nil {
			return err
		}
		if body.MatchID == "m2" {
			return errors.New("webhook returned 503")
		}
		delivered = append(delivered, body.MatchID)
		return nil
	}))

	n, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"m1"}, delivered)
	assert.Equal(t, []string{"1"}, store.processed)
	assert.Equal(t, "webhook returned 503", store.failed["2"])
	assert.Contains(t, store.failed["3"], "no handler")
}

func TestDispatchOnceRespectsBatchSize(t *testing.T) {
	store := newFakeStore(Message{ID: "a", Topic: "t"}, Message{ID: "b", Topic: "t"}, Message{ID: "c", Topic: "t"})
	d := NewDispatcher(store).WithBatchSize(2)
	d.Register("t", HandlerFunc(func(context.Context, Message) error { return nil }))

	n, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDispatchOnceSurfacesClaimError(t *testing.T) {
	store := newFakeStore()
	store.claimErr = errors.New("connection reset")

	_, err := NewDispatcher(store).DispatchOnce(context.Background())
	assert.ErrorContains(t, err, "connection reset")
}

func TestRunStopsOnCancel(t *testing.T) {
	store := newFakeStore(Message{ID: "x", Topic: "t"})
	d := NewDispatcher(store).WithInterval(5 * time.Millisecond)

	done := make(chan struct{})
	d.Register("t", HandlerFunc(func(context.Context, Message) error {
		close(done)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher never delivered")
	}
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

type recordingExecer struct {
	sql  string
	args []any
	err  error
}

func (r *recordingExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.sql, r.args = sql, args
	return pgconn.CommandTag{}, r.err
}

func TestEnqueueMarshalsPayload(t *testing.T) {
	tx := &recordingExecer{}
	require.NoError(t, Enqueue(context.Background(), tx, "match.created", map[string]string{"match_id": "m9"}))

	assert.True(t, strings.Contains(tx.sql, "INSERT INTO outbox"))
	require.Len(t, tx.args, 2)
	assert.Equal(t, "match.created", tx.args[0])
	assert.JSONEq(t, `{"match_id":"m9"}`, tx.args[1].(string))

	tx.err = errors.New("tx aborted")
	assert.ErrorIs(t, Enqueue(context.Background(), tx, "t", struct{}{}), tx.err)

	assert.Error(t, Enqueue(context.Background(), &recordingExecer{}, "t", make(chan int)))
}
