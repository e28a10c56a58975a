package domain

import (
	"fmt"
	"math"
)

const (
	LabelFree             = "Free"
	LabelRSVP             = "RSVP"
	LabelGeneralAdmission = "General Admission"
	DisplayDateTimeLayout = "Mon, Jan 2, 2006 · 3:04 PM"
)

// CentsFromAmount converts a currency amount such as 15.5 to 1550.
func CentsFromAmount(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// PriceLabel renders cents as "$15.00", or "Free" when nothing was paid.
func PriceLabel(cents int64) string {
	if cents <= 0 {
		return LabelFree
	}
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
