package notify

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var amountPrinter = message.NewPrinter(language.English)

// FormatAmount renders a money amount with thousands separators for
// notification text, e.g. 1234567.5 -> "1,234,567.50".
func FormatAmount(v float64) string {
	return amountPrinter.Sprintf("%.2f", v)
}

// FormatQuantity renders a quantity without trailing decimals when whole.
func FormatQuantity(v float64) string {
	if v == float64(int64(v)) {
		return amountPrinter.Sprintf("%d", int64(v))
	}
	return amountPrinter.Sprintf("%.2f", v)
}
