package shared

import "time"

// FiscalYear is one accounting year of the organisation. The year label is
// the calendar year in which the period begins.
type FiscalYear struct {
	Year  int
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the fiscal year.
func (fy FiscalYear) Contains(t time.Time) bool {
	return !t.Before(fy.Start) && t.Before(fy.End)
}

// FiscalYears derives fiscal years from the configured start month. The
// accounting year is not necessarily the calendar year.
type FiscalYears struct {
	startMonth time.Month
}

// NewFiscalYears builds a factory for the given start month (1..12).
func NewFiscalYears(startMonth int) FiscalYears {
	if startMonth < 1 || startMonth > 12 {
		startMonth = 1
	}
	return FiscalYears{startMonth: time.Month(startMonth)}
}

// For returns the fiscal year containing t.
func (f FiscalYears) For(t time.Time) FiscalYear {
	year := t.Year()
	start := time.Date(year, f.startMonth, 1, 0, 0, 0, 0, t.Location())
	if t.Before(start) {
		year--
		start = time.Date(year, f.startMonth, 1, 0, 0, 0, 0, t.Location())
	}
	return FiscalYear{
		Year:  year,
		Start: start,
		End:   start.AddDate(1, 0, 0),
	}
}

// Current returns the fiscal year containing now.
func (f FiscalYears) Current(now time.Time) FiscalYear {
	return f.For(now)
}
