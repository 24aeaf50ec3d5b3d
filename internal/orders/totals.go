package orders

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"mesa-system/internal/apperrors"
	"mesa-system/internal/database/models"
)

// Branch settings fall back to these rates when unset.
const (
	defaultTaxRate       = 10.0
	defaultServiceCharge = 5.0
)

type Totals struct {
	Subtotal      float64
	Tax           float64
	ServiceCharge float64
	Discount      float64
	Tip           float64
	FinalTotal    float64
}

// calcTotals computes order totals with decimal arithmetic, rounding each
// component to two places. Rates are percentages.
func calcTotals(subtotal, taxRate, serviceRate, discount, tip float64) Totals {
	sub := decimal.NewFromFloat(subtotal).Round(2)
	tax := sub.Mul(decimal.NewFromFloat(taxRate)).Div(decimal.NewFromInt(100)).Round(2)
	svc := sub.Mul(decimal.NewFromFloat(serviceRate)).Div(decimal.NewFromInt(100)).Round(2)
	disc := decimal.NewFromFloat(discount).Round(2)
	tp := decimal.NewFromFloat(tip).Round(2)
	final := sub.Add(tax).Add(svc).Sub(disc).Add(tp).Round(2)

	return Totals{
		Subtotal:      sub.InexactFloat64(),
		Tax:           tax.InexactFloat64(),
		ServiceCharge: svc.InexactFloat64(),
		Discount:      disc.InexactFloat64(),
		Tip:           tp.InexactFloat64(),
		FinalTotal:    final.InexactFloat64(),
	}
}

func lineTotal(price float64, qty int) float64 {
	return decimal.NewFromFloat(price).
		Mul(decimal.NewFromInt(int64(qty))).
		Round(2).InexactFloat64()
}

// loyaltyPoints is one point per whole currency unit of the final total.
func loyaltyPoints(finalTotal float64) int {
	return int(decimal.NewFromFloat(finalTotal).Floor().IntPart())
}

func rates(settings models.BranchSettings) (taxRate, serviceRate float64) {
	taxRate = settings.TaxRate
	if taxRate == 0 {
		taxRate = defaultTaxRate
	}
	serviceRate = settings.ServiceCharge
	if serviceRate == 0 {
		serviceRate = defaultServiceCharge
	}
	return taxRate, serviceRate
}

func formatOrderNumber(branchCode string, day time.Time, seq int64) string {
	return fmt.Sprintf("ORD-%s-%s-%04d", branchCode, day.Format("20060102"), seq)
}

// Lifecycle ranks. A status update must move forward; cancelled is reachable
// from any non-terminal state.
var statusRank = map[string]int{
	models.OrderStatusPending:   0,
	models.OrderStatusConfirmed: 1,
	models.OrderStatusPreparing: 2,
	models.OrderStatusReady:     3,
	models.OrderStatusServed:    4,
	models.OrderStatusCompleted: 5,
}

func isTerminal(status string) bool {
	return status == models.OrderStatusCompleted || status == models.OrderStatusCancelled
}

func validateTransition(current, next string) error {
	if isTerminal(current) {
		return apperrors.Conflict("order is already %s", current)
	}
	if next == models.OrderStatusCancelled {
		return nil
	}
	nextRank, ok := statusRank[next]
	if !ok {
		return apperrors.Validation("status", "unknown status %q", next)
	}
	if nextRank <= statusRank[current] {
		return apperrors.Conflict("cannot move order from %s to %s", current, next)
	}
	return nil
}

// statusAtLeast reports whether current already reached the given rank.
func statusAtLeast(current, floor string) bool {
	return statusRank[current] >= statusRank[floor]
}

func validKitchenStatus(ks string) bool {
	switch ks {
	case models.KitchenStatusPending, models.KitchenStatusPreparing,
		models.KitchenStatusReady, models.KitchenStatusServed:
		return true
	}
	return false
}

// activeStatuses backs the virtual "active" listing filter: every order
// still in flight.
var activeStatuses = []string{
	models.OrderStatusPending,
	models.OrderStatusConfirmed,
	models.OrderStatusPreparing,
	models.OrderStatusReady,
}

// kitchenStatusFor derives the kitchen sub-state entered alongside a
// lifecycle transition, or "" when the kitchen state is untouched.
func kitchenStatusFor(status string) string {
	switch status {
	case models.OrderStatusPreparing:
		return models.KitchenStatusPreparing
	case models.OrderStatusReady:
		return models.KitchenStatusReady
	case models.OrderStatusServed, models.OrderStatusCompleted:
		return models.KitchenStatusServed
	default:
		return ""
	}
}

func validOrderType(t string) bool {
	switch t {
	case models.OrderTypeDineIn, models.OrderTypeTakeaway, models.OrderTypeDelivery:
		return true
	}
	return false
}
