package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ===== Equipment =====

type EquipmentState string

const (
	StateAvailable   EquipmentState = "available"
	StateAssigned    EquipmentState = "assigned"
	StateBorrowed    EquipmentState = "borrowed"
	StateReserved    EquipmentState = "reserved"
	StateMaintenance EquipmentState = "maintenance"
	StateRetired     EquipmentState = "retired"
	StateLost        EquipmentState = "lost"
)

type HolderType string

const (
	HolderNone       HolderType = "none"
	HolderEmployee   HolderType = "employee"
	HolderDepartment HolderType = "department"
	HolderOther      HolderType = "other"
)

// Valid reports whether h is one of the known holder types.
func (h HolderType) Valid() bool {
	switch h {
	case HolderNone, HolderEmployee, HolderDepartment, HolderOther:
		return true
	}
	return false
}

// Valid reports whether st is one of the known equipment states.
func (st EquipmentState) Valid() bool {
	switch st {
	case StateAvailable, StateAssigned, StateBorrowed, StateReserved, StateMaintenance, StateRetired, StateLost:
		return true
	}
	return false
}

// Blocking states are kept when the holder changes.
func (st EquipmentState) Blocking() bool {
	switch st {
	case StateBorrowed, StateReserved, StateMaintenance, StateRetired, StateLost:
		return true
	}
	return false
}

// Equipment is a single tracked item. Barcode is what the scanner reads.
type Equipment struct {
	ID           string         `gorm:"primaryKey;size:36" json:"id"`
	Name         string         `gorm:"size:200;not null" json:"name"`
	Barcode      string         `gorm:"size:120;uniqueIndex;not null" json:"barcode"`
	SerialNumber string         `gorm:"size:120" json:"serial_number,omitempty"`
	Category     string         `gorm:"size:120;index" json:"category"`
	Location     string         `gorm:"size:200" json:"location"`
	HolderType   HolderType     `gorm:"size:20;not null;default:'none'" json:"holder_type"`
	Holder       string         `gorm:"size:200" json:"holder,omitempty"`
	State        EquipmentState `gorm:"size:20;not null;default:'available';index" json:"state"`
	Condition    string         `gorm:"size:20;default:'good'" json:"condition,omitempty"`
	Custodian    string         `gorm:"size:200" json:"custodian,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Cohere aligns State with the holder: assigned with one, available without,
// unless the item sits in a blocking state.
func (e *Equipment) Cohere() {
	if e.HolderType == "" {
		e.HolderType = HolderNone
	}
	if e.HolderType == HolderNone {
		e.Holder = ""
	}
	if e.State.Blocking() {
		return
	}
	if e.HolderType == HolderNone {
		e.State = StateAvailable
	} else {
		e.State = StateAssigned
	}
}

func (e *Equipment) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.HolderType == "" {
		e.HolderType = HolderNone
	}
	if e.State == "" {
		e.State = StateAvailable
	}
	return nil
}

// Category carries the borrowing policy shared by items of one kind.
type Category struct {
	Name          string    `gorm:"primaryKey;size:120" json:"name"`
	MaxBorrowDays int       `json:"max_borrow_days"`
	CreatedAt     time.Time `json:"created_at"`
}

// ===== Loans =====

type LoanState string

const (
	LoanIssued   LoanState = "issued"
	LoanOverdue  LoanState = "overdue"
	LoanReturned LoanState = "returned"
)

type Loan struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	Reference   string     `gorm:"size:40;uniqueIndex" json:"reference"`
	EquipmentID string     `gorm:"size:36;index;not null" json:"equipment_id"`
	Borrower    string     `gorm:"size:200;not null" json:"borrower"`
	BorrowDate  time.Time  `gorm:"index;not null" json:"borrow_date"`
	DueDate     time.Time  `gorm:"not null" json:"due_date"`
	ReturnDate  *time.Time `json:"return_date,omitempty"`
	ReturnedBy  string     `gorm:"size:200" json:"returned_by,omitempty"`
	State       LoanState  `gorm:"size:20;not null;index" json:"state"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (l *Loan) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}

// Active reports whether the loan still holds its equipment.
func (l *Loan) Active() bool {
	return l.State == LoanIssued || l.State == LoanOverdue
}

// Sequence hands out increasing numbers for generated references.
type Sequence struct {
	Code      string `gorm:"primaryKey;size:60"`
	NextValue int64  `gorm:"not null"`
}
