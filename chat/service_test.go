package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/LewisZett/parts-connect-pro/match"
)

type memRepo struct {
	mu   sync.Mutex
	rows []Message
	seq  int64
	err  error
}

func (r *memRepo) Insert(_ context.Context, m Message) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return Message{}, r.err
	}
	r.seq++
	m.ID = fmt.Sprintf("msg-%d", r.seq)
	m.Seq = r.seq
	m.CreatedAt = time.Now()
	r.rows = append(r.rows, m)
	return m, nil
}

func (r *memRepo) GetByID(_ context.Context, id string) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.rows {
		if m.ID == id {
			return m, nil
		}
	}
	return Message{}, ErrMessageNotFound
}

func (r *memRepo) ListByMatch(_ context.Context, matchID string) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.rows {
		if m.MatchID == matchID {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeMatches map[string]match.Match

func (f fakeMatches) Get(_ context.Context, id string) (match.Match, error) {
	m, ok := f[id]
	if !ok {
		return match.Match{}, match.ErrNotFound
	}
	return m, nil
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, Message) error { return errors.New("broker down") }

func newTestService() (*Service, *memRepo, *Hub) {
	repo := &memRepo{}
	hub := NewHub(16)
	matches := fakeMatches{"m1": {ID: "m1", SupplierID: "alice", RequesterID: "bob", Status: match.StatusPending}}
	return NewService(repo, matches, hub), repo, hub
}

func TestSendThenList(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	before := time.Now()

	sent, err := svc.SendMessage(ctx, "m1", "alice", "hello")
	require.NoError(t, err)
	assert.Equal(t, "bob", sent.ReceiverID)

	msgs, err := svc.ListMessages(ctx, "m1", "bob")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice", msgs[0].SenderID)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.False(t, msgs[0].CreatedAt.Before(before))
	assert.False(t, msgs[0].CreatedAt.After(time.Now()))
}

func TestSendTrimsAndRejectsEmpty(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	for _, body := range []string{"", "   ", "\n\t "} {
		_, err := svc.SendMessage(ctx, "m1", "alice", body)
		assert.ErrorIs(t, err, ErrEmptyBody)
	}
	assert.Empty(t, repo.rows, "empty bodies leave no trace")

	sent, err := svc.SendMessage(ctx, "m1", "bob", "  is it still available?  ")
	require.NoError(t, err)
	assert.Equal(t, "is it still available?", sent.Content)

	_, err = svc.SendMessage(ctx, "m1", "bob", strings.Repeat("x", MaxBodyLen+1))
	assert.ErrorIs(t, err, ErrBodyTooLong)
}

func TestOnlyParticipantsMayReadOrWrite(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	_, err := svc.SendMessage(ctx, "m1", "mallory", "hi")
	assert.ErrorIs(t, err, ErrNotParticipant)
	_, err = svc.ListMessages(ctx, "m1", "mallory")
	assert.ErrorIs(t, err, ErrNotParticipant)
	_, err = svc.Subscribe(ctx, "m1", "mallory")
	assert.ErrorIs(t, err, ErrNotParticipant)
	_, err = svc.SendMessage(ctx, "nope", "alice", "hi")
	assert.ErrorIs(t, err, match.ErrNotFound)
	assert.Empty(t, repo.rows)
}

func TestSubscribeReceivesLaterMessagesAndCancelsWithContext(t *testing.T) {
	svc, _, hub := newTestService()

	_, err := svc.SendMessage(context.Background(), "m1", "alice", "before")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := svc.Subscribe(ctx, "m1", "bob")
	require.NoError(t, err)

	_, err = svc.SendMessage(context.Background(), "m1", "alice", "after")
	require.NoError(t, err)

	select {
	case got := <-sub.Messages():
		assert.Equal(t, "after", got.Content)
	case <-time.After(time.Second):
		t.Fatal("no push delivery")
	}

	cancel()
	require.Eventually(t, func() bool { return hub.Subscribers("m1") == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-sub.Messages()
	assert.False(t, open)
}

func TestPublishFailureIsLoggedNotSurfaced(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	svc, repo, _ := newTestService()
	svc.WithPublisher(failingPublisher{}).WithLogger(zap.New(core))

	sent, err := svc.SendMessage(context.Background(), "m1", "alice", "durable")
	require.NoError(t, err)
	assert.Len(t, repo.rows, 1)
	assert.Equal(t, 1, logs.FilterMessage("chat publish failed").Len())
	assert.Equal(t, sent.ID, repo.rows[0].ID)
}

func TestStoreFailureSurfaces(t *testing.T) {
	svc, repo, hub := newTestService()
	repo.err = errors.New("disk full")
	sub := hub.Subscribe("m1")
	defer sub.Cancel()

	_, err := svc.SendMessage(context.Background(), "m1", "alice", "lost")
	assert.ErrorIs(t, err, repo.err)
	assert.Len(t, sub.Messages(), 0, "nothing is pushed for a failed write")
}

// stallingRepo holds the first insert after its row is numbered until release
// is closed.
type stallingRepo struct {
	*memRepo
	once     sync.Once
	numbered chan struct{}
	release  chan struct{}
}

func (r *stallingRepo) Insert(ctx context.Context, m Message) (Message, error) {
	saved, err := r.memRepo.Insert(ctx, m)
	stall := false
	r.once.Do(func() { stall = true })
	if stall {
		close(r.numbered)
		<-r.release
	}
	return saved, err
}

func TestLiveOrderFollowsInsertOrder(t *testing.T) {
	repo := &stallingRepo{memRepo: &memRepo{}, numbered: make(chan struct{}), release: make(chan struct{})}
	hub := NewHub(16)
	matches := fakeMatches{"m1": {ID: "m1", SupplierID: "alice", RequesterID: "bob", Status: match.StatusPending}}
	svc := NewService(repo, matches, hub)

	sub := hub.Subscribe("m1")
	defer sub.Cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := svc.SendMessage(context.Background(), "m1", "alice", "first")
		assert.NoError(t, err)
	}()
	<-repo.numbered
	go func() {
		defer wg.Done()
		_, err := svc.SendMessage(context.Background(), "m1", "bob", "second")
		assert.NoError(t, err)
	}()

	time.Sleep(50 * time.Millisecond)
	repo.mu.Lock()
	assert.Len(t, repo.rows, 1, "second send waits for the first to publish")
	repo.mu.Unlock()

	close(repo.release)
	wg.Wait()

	var live []string
	for range 2 {
		select {
		case got := <-sub.Messages():
			live = append(live, fmt.Sprintf("%d:%s", got.Seq, got.Content))
		case <-time.After(time.Second):
			t.Fatal("missing push delivery")
		}
	}
	assert.Equal(t, []string{"1:first", "2:second"}, live)
}

func TestMatchLocksAreReleased(t *testing.T) {
	var l matchLocks
	unlock := l.lock("m1")
	unlock()
	l.lock("m2")()
	assert.Empty(t, l.locks)
}
