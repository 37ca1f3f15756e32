package app

import "github.com/FrankSpooren/HolidaiButler-sub005/internal/domain"

// ComputePricing builds the booking's monetary breakdown: base × quantity,
// plus tax, plus a fixed booking fee, minus an optional discount clamped at
// the subtotal. Commission is computed on the base amount and recorded for
// settlement; it is not added to the guest total. Each step rounds to 2
// decimals.
func ComputePricing(unitPrice float64, quantity int, taxRate, bookingFee, discount, commissionRate float64, currency string) domain.Pricing {
	base := domain.Round2(unitPrice * float64(quantity))
	tax := domain.Round2(base * taxRate)
	fee := domain.Round2(bookingFee)

	if discount < 0 {
		discount = 0
	}
	if discount > base {
		discount = base
	}
	disc := domain.Round2(discount)

	total := domain.Round2(base + tax + fee - disc)
	commission := domain.Round2(base * commissionRate)

	return domain.Pricing{
		BaseAmount:       base,
		TaxAmount:        tax,
		FeeAmount:        fee,
		DiscountAmount:   disc,
		TotalAmount:      total,
		CommissionAmount: commission,
		Currency:         currency,
	}
}
