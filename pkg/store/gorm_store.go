package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"liblend/pkg/domain"
)

const migrateLockID int64 = 54125412

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		return tx.AutoMigrate(
			&BookModel{},
			&UserModel{},
			&BorrowRecordModel{},
			&ReservationRequestModel{},
			&JobWatermarkModel{},
		)
	}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// withMigrationLock serializes schema migration across concurrently starting
// instances with a Postgres advisory lock.
func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// WithinTx runs fn inside a single database transaction.
func (s *GormStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

// GetBook retrieves a book by ID.
func (s *GormStore) GetBook(ctx context.Context, id string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// GetUser retrieves a user by ID.
func (s *GormStore) GetUser(ctx context.Context, id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListOpenBorrowRecords returns unreturned loans in borrowed or overdue
// status, oldest due date first.
func (s *GormStore) ListOpenBorrowRecords(ctx context.Context) ([]domain.BorrowRecord, error) {
	var models []BorrowRecordModel
	err := s.db.WithContext(ctx).
		Where("return_date IS NULL AND status IN ? AND deleted_at IS NULL",
			[]string{string(domain.StatusBorrowed), string(domain.StatusOverdue)}).
		Order("due_date ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return borrowRecordsFromModels(models), nil
}

// ListBorrowRecordsForUser returns a user's borrow history, newest first.
func (s *GormStore) ListBorrowRecordsForUser(ctx context.Context, userID string) ([]domain.BorrowRecord, error) {
	var models []BorrowRecordModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND deleted_at IS NULL", userID).
		Order("borrow_date DESC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return borrowRecordsFromModels(models), nil
}

// ListExpiredApprovedReservations returns approved requests whose claim
// window closed before now, oldest deadline first.
func (s *GormStore) ListExpiredApprovedReservations(ctx context.Context, now time.Time) ([]domain.ReservationRequest, error) {
	var models []ReservationRequestModel
	err := s.db.WithContext(ctx).
		Where("status = ? AND active_until < ? AND deleted_at IS NULL", string(domain.RequestApproved), now).
		Order("active_until ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return reservationsFromModels(models), nil
}

// ListReservations returns all reservation requests in request order.
func (s *GormStore) ListReservations(ctx context.Context) ([]domain.ReservationRequest, error) {
	return s.listReservations(ctx, "deleted_at IS NULL")
}

// ListReservationsForUser returns a user's reservation requests.
func (s *GormStore) ListReservationsForUser(ctx context.Context, userID string) ([]domain.ReservationRequest, error) {
	return s.listReservations(ctx, "user_id = ? AND deleted_at IS NULL", userID)
}

func (s *GormStore) listReservations(ctx context.Context, cond string, args ...any) ([]domain.ReservationRequest, error) {
	var models []ReservationRequestModel
	err := s.db.WithContext(ctx).
		Where(cond, args...).
		Order("request_date ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return reservationsFromModels(models), nil
}

// GetJobWatermark reads a job's last successful run time.
func (s *GormStore) GetJobWatermark(ctx context.Context, jobName string) (domain.JobWatermark, bool, error) {
	var model JobWatermarkModel
	if err := s.db.WithContext(ctx).First(&model, "job_name = ?", jobName).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.JobWatermark{}, false, nil
		}
		return domain.JobWatermark{}, false, err
	}
	return domain.JobWatermark{JobName: model.JobName, LastRunAt: model.LastRunAt}, true, nil
}

// SetJobWatermark upserts a job's last successful run time.
func (s *GormStore) SetJobWatermark(ctx context.Context, jobName string, lastRunAt time.Time) error {
	model := JobWatermarkModel{JobName: jobName, LastRunAt: lastRunAt, UpdatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_run_at", "updated_at"}),
	}).Create(&model).Error
}

// gormTx implements Tx on top of an open *gorm.DB transaction.
type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) GetBookForUpdate(id string) (domain.Book, bool, error) {
	var model BookModel
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&model, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

func (t *gormTx) SetBookAvailability(id string, availability domain.Availability) error {
	res := t.db.Model(&BookModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"availability": string(availability),
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (t *gormTx) CreateBorrowRecord(rec domain.BorrowRecord) error {
	model := borrowRecordToModel(rec)
	return t.db.Create(&model).Error
}

func (t *gormTx) GetActiveBorrowRecord(bookID, userID string) (domain.BorrowRecord, bool, error) {
	return t.findBorrowRecord(bookID, userID,
		[]string{string(domain.StatusBorrowed), string(domain.StatusOverdue)})
}

func (t *gormTx) GetBorrowedRecord(bookID, userID string) (domain.BorrowRecord, bool, error) {
	return t.findBorrowRecord(bookID, userID, []string{string(domain.StatusBorrowed)})
}

func (t *gormTx) findBorrowRecord(bookID, userID string, statuses []string) (domain.BorrowRecord, bool, error) {
	var model BorrowRecordModel
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("book_id = ? AND user_id = ? AND status IN ? AND deleted_at IS NULL",
			bookID, userID, statuses).
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.BorrowRecord{}, false, nil
		}
		return domain.BorrowRecord{}, false, err
	}
	return borrowRecordFromModel(model), true, nil
}

func (t *gormTx) SaveBorrowRecord(rec domain.BorrowRecord) error {
	model := borrowRecordToModel(rec)
	// Select("*") so zero-valued fields (penalty, flags) are written too.
	res := t.db.Model(&BorrowRecordModel{}).Where("id = ?", model.ID).
		Select("*").Omit("id", "created_at", "created_by").Updates(&model)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (t *gormTx) CreateReservation(req domain.ReservationRequest) error {
	model := reservationToModel(req)
	return t.db.Create(&model).Error
}

func (t *gormTx) GetReservation(id string) (domain.ReservationRequest, bool, error) {
	var model ReservationRequestModel
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.ReservationRequest{}, false, nil
		}
		return domain.ReservationRequest{}, false, err
	}
	return reservationFromModel(model), true, nil
}

func (t *gormTx) FindOpenReservation(bookID, userID string) (domain.ReservationRequest, bool, error) {
	var model ReservationRequestModel
	err := t.db.
		Where("book_id = ? AND user_id = ? AND status IN ? AND deleted_at IS NULL",
			bookID, userID, []string{string(domain.RequestPending), string(domain.RequestApproved)}).
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.ReservationRequest{}, false, nil
		}
		return domain.ReservationRequest{}, false, err
	}
	return reservationFromModel(model), true, nil
}

// NextPendingReservation locks and returns the head of the book's FIFO queue.
// The ordering lives in the query so concurrent promoters agree on the head.
func (t *gormTx) NextPendingReservation(bookID string) (domain.ReservationRequest, bool, error) {
	var model ReservationRequestModel
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("book_id = ? AND status = ? AND deleted_at IS NULL", bookID, string(domain.RequestPending)).
		Order("request_date ASC, id ASC").
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.ReservationRequest{}, false, nil
		}
		return domain.ReservationRequest{}, false, err
	}
	return reservationFromModel(model), true, nil
}

func (t *gormTx) SaveReservation(req domain.ReservationRequest) error {
	model := reservationToModel(req)
	res := t.db.Model(&ReservationRequestModel{}).Where("id = ?", model.ID).
		Select("*").Omit("id", "created_at", "created_by").Updates(&model)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func bookFromModel(m BookModel) domain.Book {
	var categories []string
	if len(m.Categories) > 0 {
		_ = json.Unmarshal(m.Categories, &categories)
	}
	return domain.Book{
		ID:           m.ID,
		Title:        m.Title,
		ISBN:         m.ISBN,
		Categories:   categories,
		Availability: domain.Availability(m.Availability),
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:    m.ID,
		Name:  m.Name,
		Email: m.Email,
	}
}

func borrowRecordToModel(r domain.BorrowRecord) BorrowRecordModel {
	return BorrowRecordModel{
		ID:             r.ID,
		BookID:         r.BookID,
		UserID:         r.UserID,
		BorrowDate:     r.BorrowDate,
		DueDate:        r.DueDate,
		ReturnDate:     r.ReturnDate,
		Penalty:        r.Penalty,
		PenaltyPaid:    r.PenaltyPaid,
		ExtensionCount: r.ExtensionCount,
		Status:         string(r.Status),
		CreatedAt:      r.Audit.CreatedAt,
		UpdatedAt:      r.Audit.UpdatedAt,
		DeletedAt:      r.Audit.DeletedAt,
		CreatedBy:      r.Audit.CreatedBy,
		DeletedBy:      r.Audit.DeletedBy,
	}
}

func borrowRecordFromModel(m BorrowRecordModel) domain.BorrowRecord {
	return domain.BorrowRecord{
		ID:             m.ID,
		BookID:         m.BookID,
		UserID:         m.UserID,
		BorrowDate:     m.BorrowDate,
		DueDate:        m.DueDate,
		ReturnDate:     m.ReturnDate,
		Penalty:        m.Penalty,
		PenaltyPaid:    m.PenaltyPaid,
		ExtensionCount: m.ExtensionCount,
		Status:         domain.BorrowStatus(m.Status),
		Audit: domain.Audit{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
			DeletedAt: m.DeletedAt,
			CreatedBy: m.CreatedBy,
			DeletedBy: m.DeletedBy,
		},
	}
}

func borrowRecordsFromModels(models []BorrowRecordModel) []domain.BorrowRecord {
	res := make([]domain.BorrowRecord, 0, len(models))
	for _, m := range models {
		res = append(res, borrowRecordFromModel(m))
	}
	return res
}

func reservationToModel(r domain.ReservationRequest) ReservationRequestModel {
	return ReservationRequestModel{
		ID:          r.ID,
		BookID:      r.BookID,
		UserID:      r.UserID,
		RequestDate: r.RequestDate,
		Status:      string(r.Status),
		ActiveUntil: r.ActiveUntil,
		CreatedAt:   r.Audit.CreatedAt,
		UpdatedAt:   r.Audit.UpdatedAt,
		DeletedAt:   r.Audit.DeletedAt,
		CreatedBy:   r.Audit.CreatedBy,
		DeletedBy:   r.Audit.DeletedBy,
	}
}

func reservationFromModel(m ReservationRequestModel) domain.ReservationRequest {
	return domain.ReservationRequest{
		ID:          m.ID,
		BookID:      m.BookID,
		UserID:      m.UserID,
		RequestDate: m.RequestDate,
		Status:      domain.RequestStatus(m.Status),
		ActiveUntil: m.ActiveUntil,
		Audit: domain.Audit{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
			DeletedAt: m.DeletedAt,
			CreatedBy: m.CreatedBy,
			DeletedBy: m.DeletedBy,
		},
	}
}

func reservationsFromModels(models []ReservationRequestModel) []domain.ReservationRequest {
	res := make([]domain.ReservationRequest, 0, len(models))
	for _, m := range models {
		res = append(res, reservationFromModel(m))
	}
	return res
}
