package services

import (
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// moneyFormatter renders minor-unit amounts for customer-facing surfaces:
// the public tracking view and notifier payloads. Internal records stay int64.
type moneyFormatter struct {
	unit    currency.Unit
	printer *message.Printer
	// scale is 10^digits for the currency's minor unit.
	scale int64
}

func newMoneyFormatter(code string, tag language.Tag) moneyFormatter {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		unit = currency.INR
	}
	digits, _ := currency.Standard.Rounding(unit)
	scale := int64(1)
	for i := 0; i < digits; i++ {
		scale *= 10
	}
	return moneyFormatter{
		unit:    unit,
		printer: message.NewPrinter(tag),
		scale:   scale,
	}
}

// Format renders an amount like "₹2,444.00".
func (f moneyFormatter) Format(minorUnits int64) string {
	if f.printer == nil {
		return ""
	}
	major := float64(minorUnits) / float64(f.scale)
	return f.printer.Sprintf("%v", currency.NarrowSymbol(f.unit.Amount(major)))
}
