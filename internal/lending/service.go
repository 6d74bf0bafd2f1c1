package lending

import (
	"context"
	"fmt"
	"log/slog"

	"liblend/pkg/domain"
	"liblend/pkg/queue"
	"liblend/pkg/store"
)

// Service is the lending lifecycle engine: checkout, return, extend,
// reserve, cancel, claim, and the three scheduled sweeps. Every
// state-changing operation runs as one all-or-nothing transaction against
// the store; notifications are enqueued only after the transaction commits.
type Service struct {
	store    store.Store
	notifier queue.Notifier
	clock    domain.Clock
	policy   Policy
	log      *slog.Logger
}

// Config wires the engine's collaborators.
type Config struct {
	Store    store.Store
	Notifier queue.Notifier
	Clock    domain.Clock
	Policy   Policy
	Logger   *slog.Logger
}

// New constructs the engine.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = domain.SystemClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    cfg.Store,
		notifier: cfg.Notifier,
		clock:    clock,
		policy:   cfg.Policy.normalized(),
		log:      logger,
	}, nil
}

// BorrowHistory returns a user's borrow records, newest first.
func (s *Service) BorrowHistory(ctx context.Context, userID string) ([]domain.BorrowRecord, error) {
	return s.store.ListBorrowRecordsForUser(ctx, userID)
}

// ListReservations returns all reservation requests in request order.
func (s *Service) ListReservations(ctx context.Context) ([]domain.ReservationRequest, error) {
	return s.store.ListReservations(ctx)
}

// ListReservationsForUser returns a user's reservation requests.
func (s *Service) ListReservationsForUser(ctx context.Context, userID string) ([]domain.ReservationRequest, error) {
	return s.store.ListReservationsForUser(ctx, userID)
}

// PenaltySummary is a user's accrued unpaid penalty across open loans.
type PenaltySummary struct {
	UserID       string `json:"userId"`
	OpenRecords  int    `json:"openRecords"`
	TotalPenalty int    `json:"totalPenalty"`
}

// PenaltyForUser totals the unpaid penalty on a user's open loans.
func (s *Service) PenaltyForUser(ctx context.Context, userID string) (PenaltySummary, error) {
	records, err := s.store.ListBorrowRecordsForUser(ctx, userID)
	if err != nil {
		return PenaltySummary{}, err
	}
	summary := PenaltySummary{UserID: userID}
	for _, rec := range records {
		if !rec.Active() || rec.PenaltyPaid {
			continue
		}
		summary.OpenRecords++
		summary.TotalPenalty += rec.Penalty
	}
	return summary, nil
}

// validLoanDays applies the loan-length bounds, substituting the default for
// zero.
func (s *Service) validLoanDays(days int) (int, error) {
	if days == 0 {
		return s.policy.DefaultLoanDays, nil
	}
	if days < s.policy.MinLoanDays || days > s.policy.MaxLoanDays {
		return 0, fmt.Errorf("loan days %d out of range [%d, %d]: %w",
			days, s.policy.MinLoanDays, s.policy.MaxLoanDays, ErrValidation)
	}
	return days, nil
}
