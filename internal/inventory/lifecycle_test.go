package inventory

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrylevesque/equipscan/internal/events"
	"github.com/harrylevesque/equipscan/internal/models"
	"github.com/harrylevesque/equipscan/internal/utils"
)

func TestCreateHolderAndState(t *testing.T) {
	ctx := context.Background()

	t.Run("holder makes it assigned", func(t *testing.T) {
		svc, _ := newTestService(t)
		e := &models.Equipment{Name: "Desk phone", HolderType: models.HolderEmployee, Holder: "carol"}
		require.NoError(t, svc.Create(ctx, e))
		got, err := svc.Get(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StateAssigned, got.State)
		assert.Equal(t, "carol", got.Holder)
	})

	t.Run("holder cleared without holder type", func(t *testing.T) {
		svc, _ := newTestService(t)
		e := &models.Equipment{Name: "Monitor", Holder: "stale"}
		require.NoError(t, svc.Create(ctx, e))
		assert.Equal(t, models.StateAvailable, e.State)
		assert.Empty(t, e.Holder)
	})

	tests := []struct {
		name string
		e    models.Equipment
		want string
	}{
		{"unknown holder type", models.Equipment{Name: "X", HolderType: "bogus", Holder: "y"}, "unknown holder_type: bogus"},
		{"missing holder", models.Equipment{Name: "X", HolderType: models.HolderDepartment}, "Holder is required for assigned equipment."},
		{"unknown state", models.Equipment{Name: "X", State: "melted"}, "unknown state: melted"},
		{"borrowed without loan", models.Equipment{Name: "X", State: models.StateBorrowed}, "Equipment can only become borrowed through a loan."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			e := tt.e
			code, msg := utils.StatusOf(svc.Create(ctx, &e))
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, tt.want, msg)
		})
	}
}

func TestAssignUnassign(t *testing.T) {
	svc, pub := newTestService(t)
	ctx := context.Background()
	item := findByBarcode(t, svc, "EQ-1002")

	e, err := svc.Assign(ctx, item.ID, models.HolderDepartment, "Design")
	require.NoError(t, err)
	assert.Equal(t, models.StateAssigned, e.State)
	assert.Equal(t, models.HolderDepartment, e.HolderType)

	_, err = svc.Borrow(ctx, item.ID)
	assert.Equal(t, http.StatusConflict, statusOf(err))

	e, err = svc.Unassign(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateAvailable, e.State)
	assert.Empty(t, e.Holder)

	_, err = svc.Unassign(ctx, item.ID)
	_, msg := utils.StatusOf(err)
	assert.Equal(t, "This item is not assigned.", msg)

	_, err = svc.Assign(ctx, item.ID, models.HolderNone, "")
	assert.Equal(t, http.StatusBadRequest, statusOf(err))

	assert.Equal(t, []string{events.TopicEquipmentStatus, events.TopicEquipmentStatus}, pub.topics())
}

func TestAssignRules(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	laptop := findByBarcode(t, svc, "EQ-1001")
	_, err := svc.Borrow(ctx, laptop.ID)
	require.NoError(t, err)
	_, err = svc.Assign(ctx, laptop.ID, models.HolderEmployee, "dave")
	_, msg := utils.StatusOf(err)
	assert.Equal(t, "Return this item before assigning it.", msg)

	meter := findByBarcode(t, svc, "EQ-1005")
	_, err = svc.Assign(ctx, meter.ID, models.HolderEmployee, "dave")
	_, msg = utils.StatusOf(err)
	assert.Equal(t, "You cannot assign items while they are in maintenance/retired/lost state.", msg)

	_, err = svc.Assign(ctx, "missing", models.HolderEmployee, "dave")
	assert.Equal(t, http.StatusNotFound, statusOf(err))
}

func TestLostAndFound(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	item := findByBarcode(t, svc, "EQ-1003")

	_, err := svc.MarkFound(ctx, item.ID)
	assert.Equal(t, http.StatusConflict, statusOf(err))

	_, err = svc.Assign(ctx, item.ID, models.HolderEmployee, "erin")
	require.NoError(t, err)
	e, err := svc.MarkLost(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateLost, e.State)

	res, err := svc.Lookup(ctx, models.LookupQuery{Code: "EQ-1003"})
	require.NoError(t, err)
	assert.Equal(t, "lost", res.Record.Status)

	_, err = svc.Borrow(ctx, item.ID)
	assert.Equal(t, http.StatusConflict, statusOf(err))

	e, err = svc.MarkFound(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateAssigned, e.State, "still held by erin")
}

func TestRetire(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	drill := findByBarcode(t, svc, "EQ-1004")

	_, err := svc.Borrow(ctx, drill.ID)
	require.NoError(t, err)
	_, err = svc.Retire(ctx, drill.ID)
	_, msg := utils.StatusOf(err)
	assert.Equal(t, "Cannot retire borrowed equipment. Please return it first.", msg)

	_, err = svc.Return(ctx, drill.ID)
	require.NoError(t, err)
	e, err := svc.Retire(ctx, drill.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateRetired, e.State)

	_, err = svc.StartMaintenance(ctx, drill.ID)
	assert.Equal(t, http.StatusConflict, statusOf(err))
}

func TestMaintenance(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	meter := findByBarcode(t, svc, "EQ-1005")

	e, err := svc.CompleteMaintenance(ctx, meter.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateAvailable, e.State)

	_, err = svc.CompleteMaintenance(ctx, meter.ID)
	assert.Equal(t, http.StatusConflict, statusOf(err))

	e, err = svc.StartMaintenance(ctx, meter.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateMaintenance, e.State)

	_, err = svc.Borrow(ctx, meter.ID)
	assert.Equal(t, http.StatusConflict, statusOf(err))
}

func TestConcurrentWrites(t *testing.T) {
	ctx := context.Background()

	t.Run("borrows of different items", func(t *testing.T) {
		svc, _ := newTestService(t)
		ids := make([]string, 10)
		for i := range ids {
			e := &models.Equipment{Name: "Tablet"}
			require.NoError(t, svc.Create(ctx, e))
			ids[i] = e.ID
		}

		errs := make([]error, len(ids))
		var wg sync.WaitGroup
		for i, id := range ids {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = svc.Borrow(ctx, id)
			}()
		}
		wg.Wait()

		refs := map[string]bool{}
		for i, id := range ids {
			require.NoError(t, errs[i])
			loans, err := svc.Loans(ctx, id)
			require.NoError(t, err)
			require.Len(t, loans, 1)
			refs[loans[0].Reference] = true
		}
		assert.Len(t, refs, len(ids))
	})

	t.Run("creates with generated barcodes", func(t *testing.T) {
		svc, _ := newTestService(t)
		items := make([]*models.Equipment, 20)
		errs := make([]error, len(items))
		var wg sync.WaitGroup
		for i := range items {
			items[i] = &models.Equipment{Name: "Cable"}
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = svc.Create(ctx, items[i])
			}()
		}
		wg.Wait()

		codes := map[string]bool{}
		for i, e := range items {
			require.NoError(t, errs[i])
			codes[e.Barcode] = true
		}
		assert.Len(t, codes, len(items))
	})
}
