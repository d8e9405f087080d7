package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/harrylevesque/equipscan/internal/events"
	"github.com/harrylevesque/equipscan/internal/models"
	"github.com/harrylevesque/equipscan/internal/utils"
)

// ===== Holder =====

func checkHolder(ht models.HolderType, holder string, allowNone bool) error {
	if ht == "" {
		ht = models.HolderNone
	}
	if !ht.Valid() {
		return utils.BadRequest("unknown holder_type: " + string(ht))
	}
	if ht == models.HolderNone {
		if !allowNone {
			return utils.BadRequest("holder_type is required")
		}
		return nil
	}
	if strings.TrimSpace(holder) == "" {
		return utils.BadRequest("Holder is required for assigned equipment.")
	}
	return nil
}

// Assign hands the item to a holder (employee, department or other).
func (s *Service) Assign(ctx context.Context, id string, ht models.HolderType, holder string) (*models.Equipment, error) {
	holder = strings.TrimSpace(holder)
	if err := checkHolder(ht, holder, false); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, "assigned", func(item *models.Equipment) error {
		switch item.State {
		case models.StateBorrowed:
			return utils.Conflict("Return this item before assigning it.")
		case models.StateMaintenance, models.StateRetired, models.StateLost:
			return utils.Conflict("You cannot assign items while they are in maintenance/retired/lost state.")
		}
		item.HolderType = ht
		item.Holder = holder
		item.Cohere()
		return nil
	})
}

func (s *Service) Unassign(ctx context.Context, id string) (*models.Equipment, error) {
	return s.transition(ctx, id, "unassigned", func(item *models.Equipment) error {
		if item.HolderType == models.HolderNone || item.HolderType == "" {
			return utils.Conflict("This item is not assigned.")
		}
		if item.State == models.StateBorrowed {
			return utils.Conflict("Return this item before unassigning it.")
		}
		item.HolderType = models.HolderNone
		item.Cohere()
		return nil
	})
}

// ===== Status =====

func (s *Service) MarkLost(ctx context.Context, id string) (*models.Equipment, error) {
	return s.transition(ctx, id, "lost", func(item *models.Equipment) error {
		if item.State == models.StateBorrowed {
			return utils.Conflict("Return this item before marking it as lost.")
		}
		item.State = models.StateLost
		item.Custodian = ""
		return nil
	})
}

// MarkFound brings a lost item back; it is assigned again when it still has a holder.
func (s *Service) MarkFound(ctx context.Context, id string) (*models.Equipment, error) {
	return s.transition(ctx, id, "found", func(item *models.Equipment) error {
		if item.State != models.StateLost {
			return utils.Conflict("Only lost equipment can be marked as found.")
		}
		item.State = models.StateAvailable
		item.Cohere()
		return nil
	})
}

func (s *Service) Retire(ctx context.Context, id string) (*models.Equipment, error) {
	return s.transition(ctx, id, "retired", func(item *models.Equipment) error {
		if item.State == models.StateBorrowed {
			return utils.Conflict("Cannot retire borrowed equipment. Please return it first.")
		}
		item.State = models.StateRetired
		item.Custodian = ""
		return nil
	})
}

func (s *Service) StartMaintenance(ctx context.Context, id string) (*models.Equipment, error) {
	return s.transition(ctx, id, "maintenance_started", func(item *models.Equipment) error {
		switch item.State {
		case models.StateBorrowed:
			return utils.Conflict("Return this item before sending it to maintenance.")
		case models.StateRetired, models.StateLost:
			return utils.Conflict("Retired or lost equipment cannot go to maintenance.")
		}
		item.State = models.StateMaintenance
		return nil
	})
}

func (s *Service) CompleteMaintenance(ctx context.Context, id string) (*models.Equipment, error) {
	return s.transition(ctx, id, "maintenance_completed", func(item *models.Equipment) error {
		if item.State != models.StateMaintenance {
			return utils.Conflict("Equipment is not in maintenance.")
		}
		item.State = models.StateAvailable
		item.Cohere()
		return nil
	})
}

// StatusChange is published on every lifecycle transition.
type StatusChange struct {
	Change    string                `json:"change"`
	From      models.EquipmentState `json:"from"`
	Equipment *models.Equipment     `json:"equipment"`
}

// transition loads the item, applies change and saves the holder and status columns.
func (s *Service) transition(ctx context.Context, id, name string, change func(*models.Equipment) error) (*models.Equipment, error) {
	var item models.Equipment
	var from models.EquipmentState
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&item, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.NotFound("equipment not found")
			}
			return err
		}
		from = item.State
		if err := change(&item); err != nil {
			return err
		}
		err := tx.Model(&item).Updates(map[string]any{
			"state":       item.State,
			"holder_type": item.HolderType,
			"holder":      item.Holder,
			"custodian":   item.Custodian,
		}).Error
		if err != nil {
			return fmt.Errorf("%s equipment: %w", name, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Equipment status changed", "equipment_id", id, "change", name, "from", from, "to", item.State)
	s.publish(ctx, events.TopicEquipmentStatus, StatusChange{Change: name, From: from, Equipment: &item})
	return &item, nil
}
