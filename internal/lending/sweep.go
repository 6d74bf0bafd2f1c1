package lending

import (
	"context"
	"fmt"

	"liblend/pkg/domain"
	"liblend/pkg/queue"
	"liblend/pkg/store"
)

// OverdueSweep marks every unreturned loan past its due date overdue and
// recomputes its penalty from scratch, so re-running the sweep never
// compounds penalties. Each record is its own transaction; a failing record
// is logged and skipped.
func (s *Service) OverdueSweep(ctx context.Context) (int, error) {
	records, err := s.store.ListOpenBorrowRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("list open borrow records: %w", err)
	}
	today := domain.StartOfDay(s.clock.Now())
	updated := 0
	for _, rec := range records {
		overdueDays := domain.CalendarDaysBetween(domain.StartOfDay(rec.DueDate), today)
		if overdueDays <= 0 {
			continue
		}
		changed := false
		err := s.store.WithinTx(ctx, func(tx store.Tx) error {
			// Re-read inside the transaction: the record may have been
			// returned since the listing.
			current, ok, err := tx.GetActiveBorrowRecord(rec.BookID, rec.UserID)
			if err != nil {
				return err
			}
			if !ok || current.ID != rec.ID {
				return nil
			}
			current.Status = domain.StatusOverdue
			current.Penalty = overdueDays * s.policy.PenaltyPerDay
			current.Audit.UpdatedAt = s.clock.Now()
			changed = true
			return tx.SaveBorrowRecord(current)
		})
		if err != nil {
			s.log.Error("overdue sweep: record failed", "recordId", rec.ID, "err", err)
			continue
		}
		if !changed {
			continue
		}
		updated++
		s.log.Info("penalty updated", "recordId", rec.ID, "userId", rec.UserID,
			"penalty", overdueDays*s.policy.PenaltyPerDay)
	}
	return updated, nil
}

// ReminderSweep enqueues a due-date reminder for every unreturned loan due
// today or overdue. It mutates no lending state.
func (s *Service) ReminderSweep(ctx context.Context) (int, error) {
	records, err := s.store.ListOpenBorrowRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("list open borrow records: %w", err)
	}
	today := domain.StartOfDay(s.clock.Now())
	sent := 0
	for _, rec := range records {
		daysDiff := domain.CalendarDaysBetween(today, domain.StartOfDay(rec.DueDate))
		if daysDiff > 0 {
			continue
		}
		payload := map[string]any{
			"recordId": rec.ID,
			"bookId":   rec.BookID,
			"userId":   rec.UserID,
			"daysDiff": daysDiff,
			"dueDate":  rec.DueDate,
		}
		if user, ok, err := s.store.GetUser(ctx, rec.UserID); err == nil && ok {
			payload["email"] = user.Email
			payload["userName"] = user.Name
		}
		if book, ok, err := s.store.GetBook(ctx, rec.BookID); err == nil && ok {
			payload["bookTitle"] = book.Title
		}
		if err := s.notifier.Enqueue(ctx, queue.KindReminder, payload); err != nil {
			s.log.Error("reminder sweep: enqueue failed", "recordId", rec.ID, "err", err)
			continue
		}
		sent++
	}
	return sent, nil
}

// ReservationExpirySweep expires approved reservations whose claim window
// has closed and promotes the next request for each affected book, one
// transaction per reservation.
func (s *Service) ReservationExpirySweep(ctx context.Context) (int, error) {
	now := s.clock.Now()
	expired, err := s.store.ListExpiredApprovedReservations(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired reservations: %w", err)
	}
	processed := 0
	for _, res := range expired {
		var promoted *domain.ReservationRequest
		err := s.store.WithinTx(ctx, func(tx store.Tx) error {
			current, ok, err := tx.GetReservation(res.ID)
			if err != nil {
				return err
			}
			// Only act on a reservation still approved and still expired;
			// a concurrent claim or cancel makes this a no-op.
			if !ok || current.Status != domain.RequestApproved ||
				current.ActiveUntil == nil || !current.ActiveUntil.Before(now) {
				return nil
			}
			current.Status = domain.RequestExpired
			current.Audit.UpdatedAt = s.clock.Now()
			if err := tx.SaveReservation(current); err != nil {
				return err
			}
			promoted, err = s.promote(tx, current.BookID)
			return err
		})
		if err != nil {
			s.log.Error("expiry sweep: reservation failed", "reservationId", res.ID, "err", err)
			continue
		}
		processed++
		s.log.Info("reservation expired", "reservationId", res.ID, "bookId", res.BookID)
		if promoted != nil {
			s.notifyReservationApproved(ctx, *promoted)
		}
	}
	return processed, nil
}
