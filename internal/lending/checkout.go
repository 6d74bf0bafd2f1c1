package lending

import (
	"context"
	"fmt"

	"liblend/internal/util"
	"liblend/pkg/domain"
	"liblend/pkg/store"
)

// Checkout lends an available book to a user for the given number of days
// (policy default when zero). The availability flip and the new borrow
// record commit together; a concurrent checkout of the same book loses with
// ErrConflict.
func (s *Service) Checkout(ctx context.Context, bookID, userID string, days int) (domain.BorrowRecord, error) {
	days, err := s.validLoanDays(days)
	if err != nil {
		return domain.BorrowRecord{}, err
	}
	if _, ok, err := s.store.GetUser(ctx, userID); err != nil {
		return domain.BorrowRecord{}, fmt.Errorf("get user: %w", err)
	} else if !ok {
		return domain.BorrowRecord{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}

	var rec domain.BorrowRecord
	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		book, ok, err := tx.GetBookForUpdate(bookID)
		if err != nil {
			return fmt.Errorf("get book: %w", err)
		}
		if !ok {
			return fmt.Errorf("book %s: %w", bookID, ErrNotFound)
		}
		if book.Availability == domain.Unavailable {
			return fmt.Errorf("book %q unavailable: %w", book.Title, ErrConflict)
		}
		if err := tx.SetBookAvailability(bookID, domain.Unavailable); err != nil {
			return fmt.Errorf("set availability: %w", err)
		}
		rec = s.newBorrowRecord(bookID, userID, days)
		if err := tx.CreateBorrowRecord(rec); err != nil {
			return fmt.Errorf("create borrow record: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.BorrowRecord{}, err
	}
	s.log.Info("book checked out", "bookId", bookID, "userId", userID, "dueDate", rec.DueDate)
	return rec, nil
}

// ClaimReservation converts an approved, unexpired reservation into a loan.
// The borrow record creation and the fulfilled flip commit together; the
// book stays unavailable throughout.
func (s *Service) ClaimReservation(ctx context.Context, reservationID string, days int) (domain.BorrowRecord, error) {
	days, err := s.validLoanDays(days)
	if err != nil {
		return domain.BorrowRecord{}, err
	}

	var rec domain.BorrowRecord
	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		res, ok, err := tx.GetReservation(reservationID)
		if err != nil {
			return fmt.Errorf("get reservation: %w", err)
		}
		if !ok {
			return fmt.Errorf("reservation %s: %w", reservationID, ErrNotFound)
		}
		now := s.clock.Now()
		if res.Status != domain.RequestApproved || res.ActiveUntil == nil || !res.ActiveUntil.After(now) {
			return fmt.Errorf("reservation not found or expired: %w", ErrConflict)
		}
		rec = s.newBorrowRecord(res.BookID, res.UserID, days)
		if err := tx.CreateBorrowRecord(rec); err != nil {
			return fmt.Errorf("create borrow record: %w", err)
		}
		res.Status = domain.RequestFulfilled
		res.Audit.UpdatedAt = now
		if err := tx.SaveReservation(res); err != nil {
			return fmt.Errorf("save reservation: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.BorrowRecord{}, err
	}
	s.log.Info("reservation claimed", "reservationId", reservationID, "bookId", rec.BookID, "userId", rec.UserID)
	return rec, nil
}

func (s *Service) newBorrowRecord(bookID, userID string, days int) domain.BorrowRecord {
	now := s.clock.Now()
	borrowDate := domain.StartOfDay(now)
	return domain.BorrowRecord{
		ID:         util.NewID(),
		BookID:     bookID,
		UserID:     userID,
		BorrowDate: borrowDate,
		DueDate:    borrowDate.AddDate(0, 0, days),
		Status:     domain.StatusBorrowed,
		Audit: domain.Audit{
			CreatedAt: now,
			UpdatedAt: now,
			CreatedBy: userID,
		},
	}
}
