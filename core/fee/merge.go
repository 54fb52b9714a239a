package fee

import (
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/edupay/feeledger/core"
)

// Merge folds the duplicates of keep into keep and returns the result.
// Payment histories are unioned (identical entries once) and sorted by date;
// AmountPaid never drops below either keep's or the history total.
func Merge(keep Record, duplicates []Record, now time.Time) Record {
	seen := make(map[string]bool)
	history := make([]Payment, 0, len(keep.PaymentHistory))
	adjustments := append([]Adjustment{}, keep.Adjustments...)

	add := func(ps []Payment) {
		for _, p := range ps {
			k := paymentKey(p)
			if seen[k] {
				continue
			}
			seen[k] = true
			history = append(history, p)
		}
	}
	add(keep.PaymentHistory)
	for _, d := range duplicates {
		if d.ID == keep.ID {
			continue
		}
		add(d.PaymentHistory)
		adjustments = append(adjustments, d.Adjustments...)
	}
	sort.SliceStable(history, func(i, j int) bool { return history[i].Date.Before(history[j].Date) })

	total := decimal.Zero
	for _, p := range history {
		total = total.Add(p.Amount)
	}

	merged := keep
	merged.PaymentHistory = history
	merged.Adjustments = adjustments
	merged.AmountPaid = core.MaxDecimal(keep.AmountPaid, total)
	if n := len(history); n > 0 {
		last := history[n-1]
		date := last.Date
		merged.PaymentDate = &date
		if last.Method != "" {
			merged.PaymentMethod = last.Method
		}
		if last.ReceiptNumber != "" {
			merged.ReceiptNumber = last.ReceiptNumber
		}
	}
	merged.UpdatedAt = now
	merged.settle()
	return merged
}

func paymentKey(p Payment) string {
	return p.Amount.String() + "|" + strconv.FormatInt(p.Date.UnixNano(), 10) + "|" + p.Method + "|" + p.ReceiptNumber
}
