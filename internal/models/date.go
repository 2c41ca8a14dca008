package models

import (
	"fmt"
	"time"
)

// SettlementDateLayout is the canonical format for settlement dates.
// A settlement date identifies one calendar day; it carries no time zone.
// The scheduler decides what "today" means before formatting.
const SettlementDateLayout = "2006-01-02"

// ParseSettlementDate validates a settlement date string and returns the
// normalized form. It rejects anything that is not a real calendar date in
// the canonical layout.
func ParseSettlementDate(date string) (string, error) {
	t, err := time.Parse(SettlementDateLayout, date)
	if err != nil {
		return "", fmt.Errorf("invalid settlement date %q: %w", date, err)
	}
	return t.Format(SettlementDateLayout), nil
}

// FormatSettlementDate renders t as a settlement date in t's location.
func FormatSettlementDate(t time.Time) string {
	return t.Format(SettlementDateLayout)
}
