package lending

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"liblend/pkg/domain"
	"liblend/pkg/store"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type sentNotification struct {
	Kind    string
	Payload map[string]any
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *fakeNotifier) Enqueue(_ context.Context, kind string, payload map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{Kind: kind, Payload: payload})
	return nil
}

func (n *fakeNotifier) Sent() []sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]sentNotification, len(n.sent))
	copy(out, n.sent)
	return out
}

// newTestService builds a service over the in-memory store with a
// controllable clock, seeded with one available book and three users.
func newTestService(t *testing.T) (*Service, *store.MemoryStore, *testClock, *fakeNotifier) {
	t.Helper()
	st := store.NewMemoryStore()
	st.SeedBook(domain.Book{ID: "b1", Title: "The Go Programming Language", ISBN: "978-0134190440", Availability: domain.Available})
	st.SeedUser(domain.User{ID: "u1", Name: "Alice", Email: "alice@example.com"})
	st.SeedUser(domain.User{ID: "u2", Name: "Bob", Email: "bob@example.com"})
	st.SeedUser(domain.User{ID: "u3", Name: "Carol", Email: "carol@example.com"})
	clock := &testClock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	notifier := &fakeNotifier{}
	svc, err := New(Config{
		Store:    st,
		Notifier: notifier,
		Clock:    clock,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc, st, clock, notifier
}

// reservationFor fetches the single reservation a user holds.
func reservationFor(t *testing.T, st *store.MemoryStore, userID string) domain.ReservationRequest {
	t.Helper()
	list, err := st.ListReservationsForUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("ListReservationsForUser(%s): %v", userID, err)
	}
	if len(list) != 1 {
		t.Fatalf("user %s has %d reservations, want 1", userID, len(list))
	}
	return list[0]
}

func bookAvailability(t *testing.T, st *store.MemoryStore, bookID string) domain.Availability {
	t.Helper()
	book, ok, err := st.GetBook(context.Background(), bookID)
	if err != nil || !ok {
		t.Fatalf("GetBook(%s): ok=%v err=%v", bookID, ok, err)
	}
	return book.Availability
}
