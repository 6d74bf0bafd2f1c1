package lending

import (
	"context"
	"errors"
	"testing"
	"time"

	"liblend/pkg/domain"
)

func TestCheckoutCreatesLoan(t *testing.T) {
	svc, st, clock, _ := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Checkout(ctx, "b1", "u1", 0)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	wantBorrow := domain.StartOfDay(clock.Now())
	if !rec.BorrowDate.Equal(wantBorrow) {
		t.Errorf("BorrowDate = %v, want %v", rec.BorrowDate, wantBorrow)
	}
	if want := wantBorrow.AddDate(0, 0, 14); !rec.DueDate.Equal(want) {
		t.Errorf("DueDate = %v, want default 14 days %v", rec.DueDate, want)
	}
	if rec.Status != domain.StatusBorrowed {
		t.Errorf("Status = %s, want %s", rec.Status, domain.StatusBorrowed)
	}
	if got := bookAvailability(t, st, "b1"); got != domain.Unavailable {
		t.Errorf("availability = %s, want unavailable after checkout", got)
	}
}

func TestCheckoutUnavailableBookConflicts(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Checkout(ctx, "b1", "u1", 7); err != nil {
		t.Fatalf("first Checkout: %v", err)
	}
	_, err := svc.Checkout(ctx, "b1", "u2", 7)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("second Checkout err = %v, want ErrConflict", err)
	}
}

func TestCheckoutUnknownBookAndUser(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Checkout(ctx, "nope", "u1", 7); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown book err = %v, want ErrNotFound", err)
	}
	if _, err := svc.Checkout(ctx, "b1", "nope", 7); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown user err = %v, want ErrNotFound", err)
	}
}

func TestCheckoutRejectsLoanDaysOutOfRange(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	for _, days := range []int{-1, 15, 30} {
		if _, err := svc.Checkout(ctx, "b1", "u1", days); !errors.Is(err, ErrValidation) {
			t.Errorf("Checkout(days=%d) err = %v, want ErrValidation", days, err)
		}
	}
}

func TestClaimReservation(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Checkout(ctx, "b1", "u1", 14); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if _, err := svc.Reserve(ctx, "b1", "u2"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := svc.Return(ctx, "b1", "u1"); err != nil {
		t.Fatalf("Return: %v", err)
	}
	res := reservationFor(t, st, "u2")
	if res.Status != domain.RequestApproved {
		t.Fatalf("reservation status = %s, want approved", res.Status)
	}

	rec, err := svc.ClaimReservation(ctx, res.ID, 7)
	if err != nil {
		t.Fatalf("ClaimReservation: %v", err)
	}
	if rec.BookID != "b1" || rec.UserID != "u2" {
		t.Errorf("claimed record = (%s, %s), want (b1, u2)", rec.BookID, rec.UserID)
	}
	if got := reservationFor(t, st, "u2").Status; got != domain.RequestFulfilled {
		t.Errorf("reservation status = %s, want fulfilled", got)
	}
	// The book never became available in between.
	if got := bookAvailability(t, st, "b1"); got != domain.Unavailable {
		t.Errorf("availability = %s, want unavailable", got)
	}
}

func TestClaimExpiredReservationConflicts(t *testing.T) {
	svc, st, clock, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Checkout(ctx, "b1", "u1", 14); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if _, err := svc.Reserve(ctx, "b1", "u2"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := svc.Return(ctx, "b1", "u1"); err != nil {
		t.Fatalf("Return: %v", err)
	}
	res := reservationFor(t, st, "u2")

	clock.Advance(25 * time.Hour)
	if _, err := svc.ClaimReservation(ctx, res.ID, 7); !errors.Is(err, ErrConflict) {
		t.Fatalf("ClaimReservation past window err = %v, want ErrConflict", err)
	}
}

func TestClaimPendingReservationConflicts(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Checkout(ctx, "b1", "u1", 14); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if _, err := svc.Reserve(ctx, "b1", "u2"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	res := reservationFor(t, st, "u2")
	if _, err := svc.ClaimReservation(ctx, res.ID, 7); !errors.Is(err, ErrConflict) {
		t.Fatalf("claiming pending reservation err = %v, want ErrConflict", err)
	}
}

func TestClaimUnknownReservation(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	if _, err := svc.ClaimReservation(context.Background(), "nope", 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
