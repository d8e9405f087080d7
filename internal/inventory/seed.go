package inventory

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/harrylevesque/equipscan/internal/models"
)

var demoCategories = []models.Category{
	{Name: "Laptops", MaxBorrowDays: 14},
	{Name: "Cameras", MaxBorrowDays: 3},
	{Name: "Tools", MaxBorrowDays: 7},
}

var demoEquipment = []models.Equipment{
	{Name: "ThinkPad T14", Barcode: "EQ-1001", SerialNumber: "PF3ABC01", Category: "Laptops", Location: "IT Storage"},
	{Name: "MacBook Air M2", Barcode: "EQ-1002", SerialNumber: "C02XYZ12", Category: "Laptops", Location: "IT Storage"},
	{Name: "Canon EOS R6", Barcode: "EQ-1003", SerialNumber: "CN778899", Category: "Cameras", Location: "Media Room"},
	{Name: "Bosch Drill GSR 18V", Barcode: "EQ-1004", Category: "Tools", Location: "Workshop"},
	{Name: "Fluke 87V Multimeter", Barcode: "EQ-1005", Category: "Tools", Location: "Workshop", State: models.StateMaintenance},
}

// Seed inserts demo categories and equipment. Rows whose barcode already
// exists are left alone, so Seed can run repeatedly. Returns how many
// items were created.
func (s *Service) Seed(ctx context.Context) (int, error) {
	created := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, c := range demoCategories {
			cat := c
			if err := tx.Where(models.Category{Name: cat.Name}).Attrs(models.Category{MaxBorrowDays: cat.MaxBorrowDays}).FirstOrCreate(&cat).Error; err != nil {
				return fmt.Errorf("seed category %s: %w", c.Name, err)
			}
		}
		for _, e := range demoEquipment {
			var n int64
			if err := tx.Model(&models.Equipment{}).Where("barcode = ?", e.Barcode).Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				continue
			}
			item := e
			if err := tx.Create(&item).Error; err != nil {
				return fmt.Errorf("seed %s: %w", e.Barcode, err)
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("Seeded demo inventory", "created", created)
	return created, nil
}
