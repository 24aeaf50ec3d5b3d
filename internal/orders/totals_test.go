package orders

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mesa-system/internal/apperrors"
	"mesa-system/internal/database/models"
)

func TestCalcTotals(t *testing.T) {
	totals := calcTotals(18.00, 10, 5, 0, 0)
	assert.Equal(t, 18.00, totals.Subtotal)
	assert.Equal(t, 1.80, totals.Tax)
	assert.Equal(t, 0.90, totals.ServiceCharge)
	assert.Equal(t, 20.70, totals.FinalTotal)
}

func TestCalcTotalsDiscountAndTip(t *testing.T) {
	totals := calcTotals(100.00, 10, 5, 15.00, 3.50)
	assert.Equal(t, 10.00, totals.Tax)
	assert.Equal(t, 5.00, totals.ServiceCharge)
	assert.Equal(t, 103.50, totals.FinalTotal)
}

func TestCalcTotalsRounding(t *testing.T) {
	// 3 x 3.33 = 9.99; 10% tax = 0.999 -> 1.00, 5% service = 0.4995 -> 0.50
	totals := calcTotals(9.99, 10, 5, 0, 0)
	assert.Equal(t, 1.00, totals.Tax)
	assert.Equal(t, 0.50, totals.ServiceCharge)
	assert.Equal(t, 11.49, totals.FinalTotal)
}

func TestLineTotal(t *testing.T) {
	assert.Equal(t, 9.99, lineTotal(3.33, 3))
	assert.Equal(t, 0.30, lineTotal(0.1, 3))
}

func TestLoyaltyPoints(t *testing.T) {
	assert.Equal(t, 20, loyaltyPoints(20.70))
	assert.Equal(t, 0, loyaltyPoints(0.99))
	assert.Equal(t, 100, loyaltyPoints(100.00))
}

func TestRatesDefaults(t *testing.T) {
	taxRate, serviceRate := rates(models.BranchSettings{})
	assert.Equal(t, 10.0, taxRate)
	assert.Equal(t, 5.0, serviceRate)

	taxRate, serviceRate = rates(models.BranchSettings{TaxRate: 11, ServiceCharge: 7})
	assert.Equal(t, 11.0, taxRate)
	assert.Equal(t, 7.0, serviceRate)
}

func TestFormatOrderNumber(t *testing.T) {
	day := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "ORD-MAIN-20250314-0007", formatOrderNumber("MAIN", day, 7))
}

func TestValidateTransition(t *testing.T) {
	cases := []struct {
		current, next string
		conflict      bool
		validation    bool
	}{
		{models.OrderStatusPending, models.OrderStatusConfirmed, false, false},
		{models.OrderStatusPending, models.OrderStatusServed, false, false},
		{models.OrderStatusPreparing, models.OrderStatusCancelled, false, false},
		{models.OrderStatusServed, models.OrderStatusPreparing, true, false},
		{models.OrderStatusPending, models.OrderStatusPending, true, false},
		{models.OrderStatusCompleted, models.OrderStatusCancelled, true, false},
		{models.OrderStatusCancelled, models.OrderStatusPending, true, false},
		{models.OrderStatusPending, "bogus", false, true},
	}

	for _, tc := range cases {
		err := validateTransition(tc.current, tc.next)
		switch {
		case tc.conflict:
			require.Error(t, err, "%s -> %s", tc.current, tc.next)
			assert.True(t, apperrors.IsConflict(err), "%s -> %s", tc.current, tc.next)
		case tc.validation:
			require.Error(t, err, "%s -> %s", tc.current, tc.next)
			assert.True(t, apperrors.IsValidation(err), "%s -> %s", tc.current, tc.next)
		default:
			assert.NoError(t, err, "%s -> %s", tc.current, tc.next)
		}
	}
}

func TestKitchenStatusFor(t *testing.T) {
	assert.Equal(t, models.KitchenStatusPreparing, kitchenStatusFor(models.OrderStatusPreparing))
	assert.Equal(t, models.KitchenStatusServed, kitchenStatusFor(models.OrderStatusCompleted))
	assert.Equal(t, "", kitchenStatusFor(models.OrderStatusConfirmed))
}
