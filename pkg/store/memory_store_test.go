package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"liblend/pkg/domain"
)

func TestWithinTxRollsBackOnError(t *testing.T) {
	st := NewMemoryStore()
	st.SeedBook(domain.Book{ID: "b1", Availability: domain.Available})
	ctx := context.Background()

	boom := errors.New("boom")
	err := st.WithinTx(ctx, func(tx Tx) error {
		if err := tx.SetBookAvailability("b1", domain.Unavailable); err != nil {
			return err
		}
		if err := tx.CreateBorrowRecord(domain.BorrowRecord{ID: "r1", BookID: "b1", UserID: "u1", Status: domain.StatusBorrowed}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithinTx err = %v, want boom", err)
	}

	book, _, err := st.GetBook(ctx, "b1")
	if err != nil {
		t.Fatalf("GetBook: %v", err)
	}
	if book.Availability != domain.Available {
		t.Errorf("availability = %s, want rollback to available", book.Availability)
	}
	records, err := st.ListBorrowRecordsForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ListBorrowRecordsForUser: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("records = %d, want creation rolled back", len(records))
	}
}

func TestNextPendingReservationOrdersByDateThenID(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	seed := []domain.ReservationRequest{
		{ID: "res-c", BookID: "b1", UserID: "u3", RequestDate: base.Add(time.Hour), Status: domain.RequestPending},
		{ID: "res-b", BookID: "b1", UserID: "u2", RequestDate: base, Status: domain.RequestPending},
		{ID: "res-a", BookID: "b1", UserID: "u1", RequestDate: base, Status: domain.RequestPending},
	}
	err := st.WithinTx(ctx, func(tx Tx) error {
		for _, r := range seed {
			if err := tx.CreateReservation(r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Equal request dates fall back to ID order.
	err = st.WithinTx(ctx, func(tx Tx) error {
		next, ok, err := tx.NextPendingReservation("b1")
		if err != nil {
			return err
		}
		if !ok || next.ID != "res-a" {
			t.Fatalf("next = %+v, want res-a first", next)
		}
		next.Status = domain.RequestApproved
		return tx.SaveReservation(next)
	})
	if err != nil {
		t.Fatalf("first pick: %v", err)
	}

	err = st.WithinTx(ctx, func(tx Tx) error {
		next, ok, err := tx.NextPendingReservation("b1")
		if err != nil {
			return err
		}
		if !ok || next.ID != "res-b" {
			t.Fatalf("next = %+v, want res-b second", next)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("second pick: %v", err)
	}
}

func TestListExpiredApprovedReservations(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	err := st.WithinTx(ctx, func(tx Tx) error {
		for _, r := range []domain.ReservationRequest{
			{ID: "expired", BookID: "b1", UserID: "u1", Status: domain.RequestApproved, ActiveUntil: &past},
			{ID: "live", BookID: "b2", UserID: "u2", Status: domain.RequestApproved, ActiveUntil: &future},
			{ID: "pending", BookID: "b3", UserID: "u3", Status: domain.RequestPending},
		} {
			if err := tx.CreateReservation(r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	expired, err := st.ListExpiredApprovedReservations(ctx, now)
	if err != nil {
		t.Fatalf("ListExpiredApprovedReservations: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "expired" {
		t.Fatalf("expired = %+v, want only the lapsed approval", expired)
	}
}
