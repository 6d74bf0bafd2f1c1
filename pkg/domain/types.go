package domain

import "time"

type Availability string

const (
	Available   Availability = "available"
	Unavailable Availability = "unavailable"
)

type BorrowStatus string

const (
	StatusBorrowed BorrowStatus = "borrowed"
	StatusOverdue  BorrowStatus = "overdue"
	StatusReturned BorrowStatus = "returned"
)

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestApproved  RequestStatus = "approved"
	RequestFulfilled RequestStatus = "fulfilled"
	RequestCancelled RequestStatus = "cancelled"
	RequestExpired   RequestStatus = "expired"
)

// Audit carries creation/update/soft-delete metadata shared by lending rows.
// A row with a non-nil DeletedAt is invisible to every lending query.
type Audit struct {
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"-"`
	CreatedBy string     `json:"createdBy,omitempty"`
	DeletedBy string     `json:"-"`
}

type Book struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	ISBN         string       `json:"isbn"`
	Categories   []string     `json:"categories,omitempty"`
	Availability Availability `json:"availability"`
}

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// BorrowRecord is a single loan of a book to a user. Once Status is
// StatusReturned the record is never mutated again.
type BorrowRecord struct {
	ID             string       `json:"id"`
	BookID         string       `json:"bookId"`
	UserID         string       `json:"userId"`
	BorrowDate     time.Time    `json:"borrowDate"`
	DueDate        time.Time    `json:"dueDate"`
	ReturnDate     *time.Time   `json:"returnDate,omitempty"`
	Penalty        int          `json:"penalty"`
	PenaltyPaid    bool         `json:"penaltyPaid"`
	ExtensionCount int          `json:"extensionCount"`
	Status         BorrowStatus `json:"status"`
	Audit          Audit        `json:"audit"`
}

// Active reports whether the loan is still open.
func (r BorrowRecord) Active() bool {
	return r.Status == StatusBorrowed || r.Status == StatusOverdue
}

// ReservationRequest is a user's place in a book's FIFO queue. ActiveUntil is
// set only while the request is approved and names the claim deadline.
type ReservationRequest struct {
	ID          string        `json:"id"`
	BookID      string        `json:"bookId"`
	UserID      string        `json:"userId"`
	RequestDate time.Time     `json:"requestDate"`
	Status      RequestStatus `json:"status"`
	ActiveUntil *time.Time    `json:"activeUntil,omitempty"`
	Audit       Audit         `json:"audit"`
}

// Open reports whether the request still occupies a queue slot.
func (r ReservationRequest) Open() bool {
	return r.Status == RequestPending || r.Status == RequestApproved
}

// JobWatermark is the persisted timestamp of a scheduled job's last
// successful run.
type JobWatermark struct {
	JobName   string    `json:"jobName"`
	LastRunAt time.Time `json:"lastRunAt"`
}
