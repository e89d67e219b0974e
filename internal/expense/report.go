package expense

import (
	"cmp"
	"math"
	"slices"
	"time"

	"posapi/internal/domain"
)

// MonthPeriod returns the calendar month containing t, in t's location.
func MonthPeriod(t time.Time) domain.Period {
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return domain.Period{Start: start, End: start.AddDate(0, 1, 0)}
}

// PreviousMonth returns the calendar month before the one containing t.
func PreviousMonth(t time.Time) domain.Period {
	cur := MonthPeriod(t)
	return domain.Period{Start: cur.Start.AddDate(0, -1, 0), End: cur.Start}
}

func buildReport(storeID string, period domain.Period, expenses []domain.Expense, categoryNames map[string]string) domain.ExpenseReport {
	r := domain.ExpenseReport{
		StoreID:         storeID,
		Period:          period,
		ByCategory:      []domain.CategoryTotal{},
		ByPaymentMethod: []domain.PaymentMethodTotal{},
	}

	byCat := map[string]*domain.CategoryTotal{}
	byMethod := map[domain.PaymentMethod]*domain.PaymentMethodTotal{}

	for _, e := range expenses {
		r.Total += e.Amount
		r.Count++

		ct, ok := byCat[e.CategoryID]
		if !ok {
			name := uncategorizedName
			if n, found := categoryNames[e.CategoryID]; found {
				name = n
			}
			ct = &domain.CategoryTotal{CategoryID: e.CategoryID, Name: name}
			byCat[e.CategoryID] = ct
		}
		ct.Total += e.Amount
		ct.Count++

		mt, ok := byMethod[e.PaymentMethod]
		if !ok {
			mt = &domain.PaymentMethodTotal{PaymentMethod: e.PaymentMethod}
			byMethod[e.PaymentMethod] = mt
		}
		mt.Total += e.Amount
		mt.Count++
	}

	for _, ct := range byCat {
		ct.Total = round2(ct.Total)
		r.ByCategory = append(r.ByCategory, *ct)
	}
	for _, mt := range byMethod {
		mt.Total = round2(mt.Total)
		r.ByPaymentMethod = append(r.ByPaymentMethod, *mt)
	}

	// Largest first; ties broken by name so output is stable.
	slices.SortFunc(r.ByCategory, func(a, b domain.CategoryTotal) int {
		if c := cmp.Compare(b.Total, a.Total); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	slices.SortFunc(r.ByPaymentMethod, func(a, b domain.PaymentMethodTotal) int {
		if c := cmp.Compare(b.Total, a.Total); c != 0 {
			return c
		}
		return cmp.Compare(a.PaymentMethod, b.PaymentMethod)
	})

	if r.Count > 0 {
		r.Average = round2(r.Total / float64(r.Count))
	}
	r.Total = round2(r.Total)
	return r
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
