package position

import (
	"github.com/yanun0323/logs"

	"main/internal/schema"
)

// Reported is one exchange-reported position, already parsed into scaled
// units.
type Reported struct {
	SymbolID   schema.SymbolID
	VenueID    schema.VenueID
	Direction  schema.Direction
	Qty        schema.Quantity
	EntryPrice schema.Price
}

// Mismatch describes one divergence between the local view and the
// exchange-reported truth.
type Mismatch struct {
	SymbolID schema.SymbolID
	Local    Position
	Reported Reported
	// Missing marks a side that has the position while the other does not.
	LocalOnly    bool
	ReportedOnly bool
}

// MismatchReport is the outcome of one reconciliation pass.
type MismatchReport struct {
	Mismatches []Mismatch
}

func (r MismatchReport) Clean() bool { return len(r.Mismatches) == 0 }

// Reconcile compares the local portfolio against the exchange-reported
// positions. Any divergence beyond qtyTolerance overwrites the local view
// with the reported truth and lands in the report; it is never silently
// dropped.
func (m *Manager) Reconcile(reported []Reported, qtyTolerance schema.Quantity) MismatchReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	var report MismatchReport
	seen := make(map[schema.SymbolID]bool, len(reported))

	for _, rep := range reported {
		seen[rep.SymbolID] = true
		local, ok := m.positions[rep.SymbolID]
		if !ok {
			if rep.Qty > qtyTolerance {
				report.Mismatches = append(report.Mismatches, Mismatch{
					SymbolID: rep.SymbolID, Reported: rep, ReportedOnly: true,
				})
				m.positions[rep.SymbolID] = positionFromReported(rep)
			}
			continue
		}
		if local.Direction != rep.Direction || diffQty(local.Qty, rep.Qty) > qtyTolerance {
			report.Mismatches = append(report.Mismatches, Mismatch{
				SymbolID: rep.SymbolID, Local: *local, Reported: rep,
			})
			m.positions[rep.SymbolID] = positionFromReported(rep)
		}
	}

	for id, local := range m.positions {
		if seen[id] {
			continue
		}
		if local.Qty > qtyTolerance {
			report.Mismatches = append(report.Mismatches, Mismatch{
				SymbolID: id, Local: *local, LocalOnly: true,
			})
			delete(m.positions, id)
		}
	}

	for _, mm := range report.Mismatches {
		logs.Warnf("position: reconciliation mismatch symbol=%d localOnly=%t reportedOnly=%t",
			mm.SymbolID, mm.LocalOnly, mm.ReportedOnly)
	}
	return report
}

func positionFromReported(rep Reported) *Position {
	return &Position{
		SymbolID:   rep.SymbolID,
		VenueID:    rep.VenueID,
		Direction:  rep.Direction,
		Qty:        rep.Qty,
		EntryPrice: rep.EntryPrice,
	}
}

func diffQty(a, b schema.Quantity) schema.Quantity {
	if a > b {
		return a - b
	}
	return b - a
}
