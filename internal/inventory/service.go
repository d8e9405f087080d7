package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/harrylevesque/equipscan/internal/auth"
	"github.com/harrylevesque/equipscan/internal/events"
	"github.com/harrylevesque/equipscan/internal/models"
	"github.com/harrylevesque/equipscan/internal/utils"
)

// lookupColumns are the columns a lookup projection may name.
var lookupColumns = map[string]bool{
	"id": true, "name": true, "state": true, "category": true, "location": true,
	"custodian": true, "barcode": true, "serial_number": true, "holder_type": true,
	"holder": true, "condition": true,
}

type Options struct {
	Publisher         events.Publisher
	Logger            *slog.Logger
	DefaultBorrowDays int
	// Now is overridable for tests.
	Now func() time.Time
}

// Service implements the inventory operations the scanner and the HTTP API use.
type Service struct {
	db                *gorm.DB
	publisher         events.Publisher
	logger            *slog.Logger
	defaultBorrowDays int
	now               func() time.Time
}

func NewService(db *gorm.DB, opts Options) *Service {
	s := &Service{
		db:                db,
		publisher:         opts.Publisher,
		logger:            utils.OrDefault(opts.Logger),
		defaultBorrowDays: opts.DefaultBorrowDays,
		now:               opts.Now,
	}
	if s.publisher == nil {
		s.publisher = events.Nop{}
	}
	if s.defaultBorrowDays <= 0 {
		s.defaultBorrowDays = 7
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// ===== Records =====

// Create stores a new item, generating a barcode when none is given.
func (s *Service) Create(ctx context.Context, e *models.Equipment) error {
	e.Name = strings.TrimSpace(e.Name)
	e.Barcode = strings.TrimSpace(e.Barcode)
	if e.Name == "" {
		return utils.BadRequest("Equipment name is required.")
	}
	if e.Barcode != "" && len(e.Barcode) < 3 {
		return utils.BadRequest("Barcode must be at least 3 characters long.")
	}
	if err := checkHolder(e.HolderType, e.Holder, true); err != nil {
		return err
	}
	if e.State != "" && !e.State.Valid() {
		return utils.BadRequest("unknown state: " + string(e.State))
	}
	if e.State == models.StateBorrowed {
		return utils.BadRequest("Equipment can only become borrowed through a loan.")
	}
	e.Cohere()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if e.Barcode == "" {
			code, err := s.freeBarcode(tx)
			if err != nil {
				return err
			}
			e.Barcode = code
		} else {
			var n int64
			if err := tx.Model(&models.Equipment{}).Where("barcode = ?", e.Barcode).Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return utils.Conflict("Barcode must be unique!")
			}
		}
		if e.Category != "" {
			cat := models.Category{Name: e.Category}
			if err := tx.Where(models.Category{Name: e.Category}).Attrs(models.Category{MaxBorrowDays: s.defaultBorrowDays}).FirstOrCreate(&cat).Error; err != nil {
				return fmt.Errorf("ensure category: %w", err)
			}
		}
		if err := tx.Create(e).Error; err != nil {
			return fmt.Errorf("create equipment: %w", err)
		}
		return nil
	})
}

// freeBarcode draws from the item sequence until it finds an unused code.
func (s *Service) freeBarcode(tx *gorm.DB) (string, error) {
	for {
		code, err := nextReference(tx, "equipment.item", "EQ-%04d")
		if err != nil {
			return "", err
		}
		var n int64
		if err := tx.Model(&models.Equipment{}).Where("barcode = ?", code).Count(&n).Error; err != nil {
			return "", err
		}
		if n == 0 {
			return code, nil
		}
	}
}

func (s *Service) Get(ctx context.Context, id string) (*models.Equipment, error) {
	var e models.Equipment
	if err := s.db.WithContext(ctx).First(&e, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NotFound("equipment not found")
		}
		return nil, err
	}
	return &e, nil
}

func (s *Service) List(ctx context.Context) ([]models.Equipment, error) {
	var items []models.Equipment
	if err := s.db.WithContext(ctx).Order("name, id").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Service) Loans(ctx context.Context, equipmentID string) ([]models.Loan, error) {
	var loans []models.Loan
	err := s.db.WithContext(ctx).
		Where("equipment_id = ?", equipmentID).
		Order("borrow_date desc, id desc").
		Find(&loans).Error
	return loans, err
}

// ===== Scanner lookup =====

// Lookup finds the single item whose barcode equals q.Code exactly,
// selecting only the projected columns.
func (s *Service) Lookup(ctx context.Context, q models.LookupQuery) (*models.LookupResult, error) {
	code := strings.TrimSpace(q.Code)
	if code == "" {
		return &models.LookupResult{}, nil
	}
	fields := q.Fields
	if len(fields) == 0 {
		fields = models.LookupFields
	}
	cols := []string{"id"}
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" || f == "id" {
			continue
		}
		if !lookupColumns[f] {
			return nil, utils.BadRequest("unknown field: " + f)
		}
		cols = append(cols, f)
	}

	var rows []models.Equipment
	err := s.db.WithContext(ctx).
		Model(&models.Equipment{}).
		Select(cols).
		Where("barcode = ?", code).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("lookup %q: %w", code, err)
	}
	if len(rows) == 0 {
		return &models.LookupResult{Found: false}, nil
	}
	return &models.LookupResult{Found: true, Record: models.Summarize(&rows[0])}, nil
}

// ===== Loans =====

// Borrow issues a loan of the item to the operator in ctx.
func (s *Service) Borrow(ctx context.Context, id string) (*models.Action, error) {
	operator := auth.Operator(ctx)
	var loan models.Loan
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item models.Equipment
		if err := tx.First(&item, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.NotFound("equipment not found")
			}
			return err
		}
		if item.HolderType != models.HolderNone && item.HolderType != "" {
			return utils.Conflict("This item is assigned. Unassign it before borrowing to someone else.")
		}
		if item.State != models.StateAvailable && item.State != models.StateReserved {
			return utils.Conflict("Equipment must be available or reserved to borrow.")
		}
		ref, err := nextReference(tx, "equipment.loan", "LOAN/%05d")
		if err != nil {
			return err
		}
		now := s.now().UTC()
		loan = models.Loan{
			Reference:   ref,
			EquipmentID: item.ID,
			Borrower:    operator,
			BorrowDate:  now,
			DueDate:     now.AddDate(0, 0, s.borrowDays(tx, item.Category)),
			State:       models.LoanIssued,
		}
		if err := tx.Create(&loan).Error; err != nil {
			return fmt.Errorf("create loan: %w", err)
		}
		return tx.Model(&item).Updates(map[string]any{
			"state":     models.StateBorrowed,
			"custodian": operator,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Equipment borrowed", "equipment_id", id, "loan", loan.Reference, "borrower", operator)
	s.publish(ctx, events.TopicLoanBorrowed, loan)
	return &models.Action{Type: models.ActionOpenRecord, Model: "loan", ID: loan.ID}, nil
}

// Return closes the active loan of a borrowed item.
func (s *Service) Return(ctx context.Context, id string) (*models.Action, error) {
	operator := auth.Operator(ctx)
	var loan models.Loan
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item models.Equipment
		if err := tx.First(&item, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.NotFound("equipment not found")
			}
			return err
		}
		if item.State != models.StateBorrowed {
			return utils.Conflict("Only borrowed equipment can be returned.")
		}
		err := tx.Where("equipment_id = ? AND state IN ?", id, []models.LoanState{models.LoanIssued, models.LoanOverdue}).
			Order("borrow_date desc").
			First(&loan).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Conflict("No active loan found for this equipment.")
		}
		if err != nil {
			return err
		}
		now := s.now().UTC()
		loan.State = models.LoanReturned
		loan.ReturnDate = &now
		loan.ReturnedBy = operator
		if err := tx.Save(&loan).Error; err != nil {
			return fmt.Errorf("close loan: %w", err)
		}
		return tx.Model(&item).Updates(map[string]any{
			"state":     models.StateAvailable,
			"custodian": "",
		}).Error
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Equipment returned", "equipment_id", id, "loan", loan.Reference, "by", operator)
	s.publish(ctx, events.TopicLoanReturned, loan)
	return &models.Action{Type: models.ActionOpenRecord, Model: "equipment", ID: id}, nil
}

// MarkOverdue moves issued loans whose due date has passed to overdue.
func (s *Service) MarkOverdue(ctx context.Context, now time.Time) (int, error) {
	var loans []models.Loan
	err := s.db.WithContext(ctx).
		Where("state = ? AND due_date < ?", models.LoanIssued, now.UTC()).
		Find(&loans).Error
	if err != nil {
		return 0, err
	}
	for i := range loans {
		loans[i].State = models.LoanOverdue
		if err := s.db.WithContext(ctx).Model(&loans[i]).Update("state", models.LoanOverdue).Error; err != nil {
			return i, fmt.Errorf("mark loan %s overdue: %w", loans[i].Reference, err)
		}
		s.publish(ctx, events.TopicLoanOverdue, loans[i])
	}
	return len(loans), nil
}

func (s *Service) borrowDays(tx *gorm.DB, category string) int {
	if category == "" {
		return s.defaultBorrowDays
	}
	var cat models.Category
	if err := tx.First(&cat, "name = ?", category).Error; err != nil || cat.MaxBorrowDays <= 0 {
		return s.defaultBorrowDays
	}
	return cat.MaxBorrowDays
}

func (s *Service) publish(ctx context.Context, topic string, payload any) {
	if err := s.publisher.Publish(ctx, topic, payload); err != nil {
		s.logger.Warn("Failed to publish event", "topic", topic, "error", err)
	}
}
