package ledger

import "github.com/notifyhub/stock-alerts/internal/domain"

// Remaining derives the on-hand quantity. It may be negative.
func Remaining(totalIn, totalOut, totalReturn int) int {
	return totalIn - totalOut + totalReturn
}

// ResolveStatus derives the stock tier. The rules apply in order:
//
//	remaining <= 0                        -> low
//	safetyStock <= 0                      -> normal
//	remaining < safetyStock               -> low
//	remaining < ceil(safetyStock * 1.2)   -> warn
//	otherwise                             -> normal
func ResolveStatus(remaining, safetyStock int) domain.StockStatus {
	switch {
	case remaining <= 0:
		return domain.StatusLow
	case safetyStock <= 0:
		return domain.StatusNormal
	case remaining < safetyStock:
		return domain.StatusLow
	case remaining < warnThreshold(safetyStock):
		return domain.StatusWarn
	default:
		return domain.StatusNormal
	}
}

// warnThreshold is ceil(safetyStock * 1.2) in integer arithmetic.
func warnThreshold(safetyStock int) int {
	return (safetyStock*6 + 4) / 5
}

// apply recomputes the derived fields of p in place.
func apply(p *domain.Product) {
	p.Remaining = Remaining(p.TotalIn, p.TotalOut, p.TotalReturn)
	p.Status = ResolveStatus(p.Remaining, p.SafetyStock)
}
