package store

import (
	"context"
	"time"

	"liblend/pkg/domain"
)

// Store is the durable storage for everything the lending engine touches:
// book availability, borrow records, reservation requests, and job
// watermarks. All state-changing operations run inside WithinTx; the reads on
// Store itself are plain snapshot reads used by sweeps and listings.
type Store interface {
	// WithinTx runs fn inside one all-or-nothing transaction. Everything fn
	// does through the Tx either commits together or has no effect.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	// catalog reads
	GetBook(ctx context.Context, id string) (domain.Book, bool, error)
	GetUser(ctx context.Context, id string) (domain.User, bool, error)

	// sweep and listing reads
	ListOpenBorrowRecords(ctx context.Context) ([]domain.BorrowRecord, error)
	ListBorrowRecordsForUser(ctx context.Context, userID string) ([]domain.BorrowRecord, error)
	ListExpiredApprovedReservations(ctx context.Context, now time.Time) ([]domain.ReservationRequest, error)
	ListReservations(ctx context.Context) ([]domain.ReservationRequest, error)
	ListReservationsForUser(ctx context.Context, userID string) ([]domain.ReservationRequest, error)

	// scheduler watermarks
	GetJobWatermark(ctx context.Context, jobName string) (domain.JobWatermark, bool, error)
	SetJobWatermark(ctx context.Context, jobName string, lastRunAt time.Time) error
}

// Tx exposes the row operations available inside a transaction. Methods that
// return (value, false, nil) found no matching row.
type Tx interface {
	// GetBookForUpdate reads the book row under a row-level write lock, so
	// two concurrent checkouts of the same book serialize on it.
	GetBookForUpdate(id string) (domain.Book, bool, error)
	SetBookAvailability(id string, availability domain.Availability) error

	CreateBorrowRecord(rec domain.BorrowRecord) error
	// GetActiveBorrowRecord finds the open loan (borrowed or overdue) for a
	// (book, user) pair.
	GetActiveBorrowRecord(bookID, userID string) (domain.BorrowRecord, bool, error)
	// GetBorrowedRecord finds the open loan in status borrowed only.
	GetBorrowedRecord(bookID, userID string) (domain.BorrowRecord, bool, error)
	SaveBorrowRecord(rec domain.BorrowRecord) error

	CreateReservation(req domain.ReservationRequest) error
	GetReservation(id string) (domain.ReservationRequest, bool, error)
	// FindOpenReservation finds a pending or approved request for the
	// (book, user) pair.
	FindOpenReservation(bookID, userID string) (domain.ReservationRequest, bool, error)
	// NextPendingReservation returns the oldest pending request for the book,
	// ordered by request date ascending with ID as tie-breaker, locked for
	// update. Ordering is enforced by the query, not by callers.
	NextPendingReservation(bookID string) (domain.ReservationRequest, bool, error)
	SaveReservation(req domain.ReservationRequest) error
}
