package lending

import (
	"context"
	"fmt"

	"liblend/pkg/domain"
	"liblend/pkg/queue"
	"liblend/pkg/store"
)

// Return closes the open loan for (bookID, userID) and hands the book to the
// next reservation in line, or frees it when the queue is empty. The record
// update and the promotion commit in one transaction; the approval
// notification is enqueued only after commit.
func (s *Service) Return(ctx context.Context, bookID, userID string) (domain.BorrowRecord, error) {
	var (
		rec      domain.BorrowRecord
		promoted *domain.ReservationRequest
	)
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		found, ok, err := tx.GetActiveBorrowRecord(bookID, userID)
		if err != nil {
			return fmt.Errorf("get borrow record: %w", err)
		}
		if !ok {
			return fmt.Errorf("no borrow record for book %s and user %s: %w", bookID, userID, ErrNotFound)
		}
		now := s.clock.Now()
		returnDate := domain.StartOfDay(now)
		found.ReturnDate = &returnDate
		found.Status = domain.StatusReturned
		found.PenaltyPaid = true
		found.Audit.UpdatedAt = now
		if err := tx.SaveBorrowRecord(found); err != nil {
			return fmt.Errorf("save borrow record: %w", err)
		}
		rec = found
		promoted, err = s.promote(tx, bookID)
		return err
	})
	if err != nil {
		return domain.BorrowRecord{}, err
	}
	s.log.Info("book returned", "bookId", bookID, "userId", userID)
	if promoted != nil {
		s.notifyReservationApproved(ctx, *promoted)
	}
	return rec, nil
}

// promote advances the oldest pending reservation for the book to approved
// with a fresh claim deadline, or marks the book available when the queue is
// empty. It acts only on a reservation found pending inside the current
// transaction, so re-running it after a concurrent state change is a no-op.
func (s *Service) promote(tx store.Tx, bookID string) (*domain.ReservationRequest, error) {
	next, ok, err := tx.NextPendingReservation(bookID)
	if err != nil {
		return nil, fmt.Errorf("next pending reservation: %w", err)
	}
	if !ok {
		if err := tx.SetBookAvailability(bookID, domain.Available); err != nil {
			return nil, fmt.Errorf("set availability: %w", err)
		}
		return nil, nil
	}
	now := s.clock.Now()
	activeUntil := now.Add(s.policy.ClaimWindow)
	next.Status = domain.RequestApproved
	next.ActiveUntil = &activeUntil
	next.Audit.UpdatedAt = now
	if err := tx.SaveReservation(next); err != nil {
		return nil, fmt.Errorf("save reservation: %w", err)
	}
	// The book stays unavailable while the claim window is open.
	return &next, nil
}

// notifyReservationApproved enqueues the approval message. Delivery is
// at-least-once and fire-and-forget; a failed enqueue is logged, never
// propagated.
func (s *Service) notifyReservationApproved(ctx context.Context, res domain.ReservationRequest) {
	payload := map[string]any{
		"reservationId": res.ID,
		"bookId":        res.BookID,
		"userId":        res.UserID,
	}
	if res.ActiveUntil != nil {
		payload["activeUntil"] = res.ActiveUntil
	}
	if user, ok, err := s.store.GetUser(ctx, res.UserID); err == nil && ok {
		payload["email"] = user.Email
		payload["userName"] = user.Name
	}
	if book, ok, err := s.store.GetBook(ctx, res.BookID); err == nil && ok {
		payload["bookTitle"] = book.Title
	}
	if err := s.notifier.Enqueue(ctx, queue.KindReservationApproved, payload); err != nil {
		s.log.Error("enqueue reservation-approved notification", "reservationId", res.ID, "err", err)
	}
}
