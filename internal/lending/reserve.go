package lending

import (
	"context"
	"fmt"

	"liblend/internal/util"
	"liblend/pkg/domain"
	"liblend/pkg/store"
)

// Reserve enqueues a pending reservation for an unavailable book. A user
// holds at most one open request per book and cannot reserve a book they
// currently have on loan.
func (s *Service) Reserve(ctx context.Context, bookID, userID string) (domain.ReservationRequest, error) {
	if _, ok, err := s.store.GetUser(ctx, userID); err != nil {
		return domain.ReservationRequest{}, fmt.Errorf("get user: %w", err)
	} else if !ok {
		return domain.ReservationRequest{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}

	var req domain.ReservationRequest
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		book, ok, err := tx.GetBookForUpdate(bookID)
		if err != nil {
			return fmt.Errorf("get book: %w", err)
		}
		if !ok {
			return fmt.Errorf("book %s: %w", bookID, ErrNotFound)
		}
		if book.Availability == domain.Available {
			return fmt.Errorf("book %q is available for borrowing: %w", book.Title, ErrConflict)
		}
		if _, ok, err := tx.FindOpenReservation(bookID, userID); err != nil {
			return fmt.Errorf("find open reservation: %w", err)
		} else if ok {
			return fmt.Errorf("reservation already exists for this book and user: %w", ErrConflict)
		}
		if _, ok, err := tx.GetActiveBorrowRecord(bookID, userID); err != nil {
			return fmt.Errorf("get borrow record: %w", err)
		} else if ok {
			return fmt.Errorf("cannot reserve a book already borrowed: %w", ErrConflict)
		}
		now := s.clock.Now()
		req = domain.ReservationRequest{
			ID:          util.NewID(),
			BookID:      bookID,
			UserID:      userID,
			RequestDate: now,
			Status:      domain.RequestPending,
			Audit: domain.Audit{
				CreatedAt: now,
				UpdatedAt: now,
				CreatedBy: userID,
			},
		}
		if err := tx.CreateReservation(req); err != nil {
			return fmt.Errorf("create reservation: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.ReservationRequest{}, err
	}
	s.log.Info("reservation created", "reservationId", req.ID, "bookId", bookID, "userId", userID)
	return req, nil
}

// CancelReservation withdraws a pending or approved request. Cancelling an
// approved request frees its claim slot by promoting the next request in the
// same transaction.
func (s *Service) CancelReservation(ctx context.Context, reservationID string) (domain.ReservationRequest, error) {
	var (
		req      domain.ReservationRequest
		promoted *domain.ReservationRequest
	)
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		found, ok, err := tx.GetReservation(reservationID)
		if err != nil {
			return fmt.Errorf("get reservation: %w", err)
		}
		if !ok {
			return fmt.Errorf("reservation %s: %w", reservationID, ErrNotFound)
		}
		if !found.Open() {
			return fmt.Errorf("reservation %s is %s: %w", reservationID, found.Status, ErrConflict)
		}
		wasApproved := found.Status == domain.RequestApproved
		found.Status = domain.RequestCancelled
		found.Audit.UpdatedAt = s.clock.Now()
		if err := tx.SaveReservation(found); err != nil {
			return fmt.Errorf("save reservation: %w", err)
		}
		req = found
		if wasApproved {
			promoted, err = s.promote(tx, found.BookID)
			return err
		}
		return nil
	})
	if err != nil {
		return domain.ReservationRequest{}, err
	}
	s.log.Info("reservation cancelled", "reservationId", reservationID)
	if promoted != nil {
		s.notifyReservationApproved(ctx, *promoted)
	}
	return req, nil
}
