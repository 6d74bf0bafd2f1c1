package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type BookModel struct {
	ID           string         `gorm:"primaryKey"`
	Title        string         `gorm:"not null"`
	ISBN         string         `gorm:"uniqueIndex;not null"`
	Categories   datatypes.JSON `gorm:"type:jsonb"`
	Availability string         `gorm:"not null;index"`
	CreatedAt    time.Time      `gorm:"not null"`
	UpdatedAt    time.Time
}

type UserModel struct {
	ID        string    `gorm:"primaryKey"`
	Name      string    `gorm:"not null"`
	Email     string    `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

type BorrowRecordModel struct {
	ID             string    `gorm:"primaryKey"`
	BookID         string    `gorm:"not null;index"`
	UserID         string    `gorm:"not null;index"`
	BorrowDate     time.Time `gorm:"not null"`
	DueDate        time.Time `gorm:"not null;index"`
	ReturnDate     *time.Time
	Penalty        int        `gorm:"not null;default:0"`
	PenaltyPaid    bool       `gorm:"not null;default:false"`
	ExtensionCount int        `gorm:"not null;default:0"`
	Status         string     `gorm:"not null;index"`
	CreatedAt      time.Time  `gorm:"not null"`
	UpdatedAt      time.Time
	DeletedAt      *time.Time `gorm:"index"`
	CreatedBy      string
	DeletedBy      string
}

type ReservationRequestModel struct {
	ID          string     `gorm:"primaryKey"`
	BookID      string     `gorm:"not null;index"`
	UserID      string     `gorm:"not null;index"`
	RequestDate time.Time  `gorm:"not null;index"`
	Status      string     `gorm:"not null;index"`
	ActiveUntil *time.Time `gorm:"index"`
	CreatedAt   time.Time  `gorm:"not null"`
	UpdatedAt   time.Time
	DeletedAt   *time.Time `gorm:"index"`
	CreatedBy   string
	DeletedBy   string
}

type JobWatermarkModel struct {
	JobName   string    `gorm:"primaryKey"`
	LastRunAt time.Time `gorm:"not null"`
	UpdatedAt time.Time
}
