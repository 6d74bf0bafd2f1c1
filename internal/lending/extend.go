package lending

import (
	"context"
	"fmt"

	"liblend/pkg/domain"
	"liblend/pkg/store"
)

// Extend pushes a loan's due date out by extraDays. It is granted only while
// at least MinDaysBeforeDue full days remain before the due date and the
// loan has extensions left.
func (s *Service) Extend(ctx context.Context, bookID, userID string, extraDays int) (domain.BorrowRecord, error) {
	if extraDays < s.policy.MinExtendDays || extraDays > s.policy.MaxExtendDays {
		return domain.BorrowRecord{}, fmt.Errorf("extension days %d out of range [%d, %d]: %w",
			extraDays, s.policy.MinExtendDays, s.policy.MaxExtendDays, ErrValidation)
	}

	var rec domain.BorrowRecord
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		found, ok, err := tx.GetBorrowedRecord(bookID, userID)
		if err != nil {
			return fmt.Errorf("get borrow record: %w", err)
		}
		if !ok {
			return fmt.Errorf("no borrow record for book %s and user %s: %w", bookID, userID, ErrNotFound)
		}
		now := s.clock.Now()
		today := domain.StartOfDay(now)
		dueDate := domain.StartOfDay(found.DueDate)
		overdueDays := domain.CalendarDaysBetween(dueDate, today)
		if overdueDays > -s.policy.MinDaysBeforeDue || found.ExtensionCount >= s.policy.MaxExtensions {
			return fmt.Errorf("extension not allowed (too close to due date or max extensions reached): %w", ErrConflict)
		}
		found.DueDate = dueDate.AddDate(0, 0, extraDays)
		found.ExtensionCount++
		found.Audit.UpdatedAt = now
		if err := tx.SaveBorrowRecord(found); err != nil {
			return fmt.Errorf("save borrow record: %w", err)
		}
		rec = found
		return nil
	})
	if err != nil {
		return domain.BorrowRecord{}, err
	}
	s.log.Info("loan extended", "bookId", bookID, "userId", userID, "dueDate", rec.DueDate, "extensionCount", rec.ExtensionCount)
	return rec, nil
}
