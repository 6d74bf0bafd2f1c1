package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"liblend/pkg/domain"
)

// MemoryStore keeps lending state in-process. It backs the engine and
// scheduler tests; transactions are serialized on one mutex and rolled back
// by restoring a snapshot, which gives the same all-or-nothing visibility
// the Postgres store provides.
type MemoryStore struct {
	mu           sync.Mutex
	books        map[string]domain.Book
	users        map[string]domain.User
	records      map[string]domain.BorrowRecord
	reservations map[string]domain.ReservationRequest
	watermarks   map[string]time.Time
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		books:        make(map[string]domain.Book),
		users:        make(map[string]domain.User),
		records:      make(map[string]domain.BorrowRecord),
		reservations: make(map[string]domain.ReservationRequest),
		watermarks:   make(map[string]time.Time),
	}
}

// SeedBook inserts or replaces a book.
func (m *MemoryStore) SeedBook(b domain.Book) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[b.ID] = b
}

// SeedUser inserts or replaces a user.
func (m *MemoryStore) SeedUser(u domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// WithinTx serializes fn against all other store access and restores the
// previous state when fn returns an error.
func (m *MemoryStore) WithinTx(_ context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.snapshotLocked()
	if err := fn(&memoryTx{store: m}); err != nil {
		m.restoreLocked(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	books        map[string]domain.Book
	records      map[string]domain.BorrowRecord
	reservations map[string]domain.ReservationRequest
}

func (m *MemoryStore) snapshotLocked() memorySnapshot {
	s := memorySnapshot{
		books:        make(map[string]domain.Book, len(m.books)),
		records:      make(map[string]domain.BorrowRecord, len(m.records)),
		reservations: make(map[string]domain.ReservationRequest, len(m.reservations)),
	}
	for k, v := range m.books {
		s.books[k] = v
	}
	for k, v := range m.records {
		s.records[k] = v
	}
	for k, v := range m.reservations {
		s.reservations[k] = v
	}
	return s
}

func (m *MemoryStore) restoreLocked(s memorySnapshot) {
	m.books = s.books
	m.records = s.records
	m.reservations = s.reservations
}

// GetBook retrieves a book by ID.
func (m *MemoryStore) GetBook(_ context.Context, id string) (domain.Book, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	return b, ok, nil
}

// GetUser retrieves a user by ID.
func (m *MemoryStore) GetUser(_ context.Context, id string) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// ListOpenBorrowRecords returns unreturned borrowed/overdue loans.
func (m *MemoryStore) ListOpenBorrowRecords(_ context.Context) ([]domain.BorrowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []domain.BorrowRecord
	for _, r := range m.records {
		if r.Audit.DeletedAt == nil && r.ReturnDate == nil && r.Active() {
			res = append(res, r)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].DueDate.Equal(res[j].DueDate) {
			return res[i].DueDate.Before(res[j].DueDate)
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

// ListBorrowRecordsForUser returns a user's borrow history, newest first.
func (m *MemoryStore) ListBorrowRecordsForUser(_ context.Context, userID string) ([]domain.BorrowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []domain.BorrowRecord
	for _, r := range m.records {
		if r.Audit.DeletedAt == nil && r.UserID == userID {
			res = append(res, r)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].BorrowDate.Equal(res[j].BorrowDate) {
			return res[i].BorrowDate.After(res[j].BorrowDate)
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

// ListExpiredApprovedReservations returns approved requests past their claim
// deadline.
func (m *MemoryStore) ListExpiredApprovedReservations(_ context.Context, now time.Time) ([]domain.ReservationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []domain.ReservationRequest
	for _, r := range m.reservations {
		if r.Audit.DeletedAt == nil && r.Status == domain.RequestApproved &&
			r.ActiveUntil != nil && r.ActiveUntil.Before(now) {
			res = append(res, r)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].ActiveUntil.Equal(*res[j].ActiveUntil) {
			return res[i].ActiveUntil.Before(*res[j].ActiveUntil)
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

// ListReservations returns all reservation requests in request order.
func (m *MemoryStore) ListReservations(_ context.Context) ([]domain.ReservationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listReservationsLocked(func(domain.ReservationRequest) bool { return true }), nil
}

// ListReservationsForUser returns a user's reservation requests.
func (m *MemoryStore) ListReservationsForUser(_ context.Context, userID string) ([]domain.ReservationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listReservationsLocked(func(r domain.ReservationRequest) bool { return r.UserID == userID }), nil
}

func (m *MemoryStore) listReservationsLocked(match func(domain.ReservationRequest) bool) []domain.ReservationRequest {
	var res []domain.ReservationRequest
	for _, r := range m.reservations {
		if r.Audit.DeletedAt == nil && match(r) {
			res = append(res, r)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].RequestDate.Equal(res[j].RequestDate) {
			return res[i].RequestDate.Before(res[j].RequestDate)
		}
		return res[i].ID < res[j].ID
	})
	return res
}

// GetJobWatermark reads a job's last successful run time.
func (m *MemoryStore) GetJobWatermark(_ context.Context, jobName string) (domain.JobWatermark, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.watermarks[jobName]
	if !ok {
		return domain.JobWatermark{}, false, nil
	}
	return domain.JobWatermark{JobName: jobName, LastRunAt: t}, true, nil
}

// SetJobWatermark upserts a job's last successful run time.
func (m *MemoryStore) SetJobWatermark(_ context.Context, jobName string, lastRunAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watermarks[jobName] = lastRunAt
	return nil
}

// memoryTx mutates the store directly; WithinTx holds the lock and handles
// rollback.
type memoryTx struct {
	store *MemoryStore
}

func (t *memoryTx) GetBookForUpdate(id string) (domain.Book, bool, error) {
	b, ok := t.store.books[id]
	return b, ok, nil
}

func (t *memoryTx) SetBookAvailability(id string, availability domain.Availability) error {
	b, ok := t.store.books[id]
	if !ok {
		return nil
	}
	b.Availability = availability
	t.store.books[id] = b
	return nil
}

func (t *memoryTx) CreateBorrowRecord(rec domain.BorrowRecord) error {
	t.store.records[rec.ID] = rec
	return nil
}

func (t *memoryTx) GetActiveBorrowRecord(bookID, userID string) (domain.BorrowRecord, bool, error) {
	return t.findBorrowRecord(bookID, userID, true)
}

func (t *memoryTx) GetBorrowedRecord(bookID, userID string) (domain.BorrowRecord, bool, error) {
	return t.findBorrowRecord(bookID, userID, false)
}

func (t *memoryTx) findBorrowRecord(bookID, userID string, includeOverdue bool) (domain.BorrowRecord, bool, error) {
	for _, r := range t.store.records {
		if r.Audit.DeletedAt != nil || r.BookID != bookID || r.UserID != userID {
			continue
		}
		if r.Status == domain.StatusBorrowed || (includeOverdue && r.Status == domain.StatusOverdue) {
			return r, true, nil
		}
	}
	return domain.BorrowRecord{}, false, nil
}

func (t *memoryTx) SaveBorrowRecord(rec domain.BorrowRecord) error {
	t.store.records[rec.ID] = rec
	return nil
}

func (t *memoryTx) CreateReservation(req domain.ReservationRequest) error {
	t.store.reservations[req.ID] = req
	return nil
}

func (t *memoryTx) GetReservation(id string) (domain.ReservationRequest, bool, error) {
	r, ok := t.store.reservations[id]
	if !ok || r.Audit.DeletedAt != nil {
		return domain.ReservationRequest{}, false, nil
	}
	return r, true, nil
}

func (t *memoryTx) FindOpenReservation(bookID, userID string) (domain.ReservationRequest, bool, error) {
	for _, r := range t.store.reservations {
		if r.Audit.DeletedAt == nil && r.BookID == bookID && r.UserID == userID && r.Open() {
			return r, true, nil
		}
	}
	return domain.ReservationRequest{}, false, nil
}

func (t *memoryTx) NextPendingReservation(bookID string) (domain.ReservationRequest, bool, error) {
	var best domain.ReservationRequest
	found := false
	for _, r := range t.store.reservations {
		if r.Audit.DeletedAt != nil || r.BookID != bookID || r.Status != domain.RequestPending {
			continue
		}
		if !found || earlier(r, best) {
			best = r
			found = true
		}
	}
	return best, found, nil
}

// earlier orders requests by request date ascending with ID as tie-breaker.
func earlier(a, b domain.ReservationRequest) bool {
	if !a.RequestDate.Equal(b.RequestDate) {
		return a.RequestDate.Before(b.RequestDate)
	}
	return a.ID < b.ID
}

func (t *memoryTx) SaveReservation(req domain.ReservationRequest) error {
	t.store.reservations[req.ID] = req
	return nil
}
