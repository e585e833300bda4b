package whatsapp

import (
	"fmt"
	"math"

	"wadispatch/pkg/whatsapp/types"
)

// Fee rates in basis points
const (
	convenienceFeeBps    = 200
	convenienceFeeGSTBps = 1800
	minorUnitOffset      = 100
)

// PaymentBreakdown is the minor-unit arithmetic behind an interactive payment request.
type PaymentBreakdown struct {
	UnitPrice        int64 `json:"unitPrice"`
	Quantity         int   `json:"quantity"`
	ItemTotal        int64 `json:"itemTotal"`
	GST              int64 `json:"gst"`
	ConvBase         int64 `json:"convBase"`
	ConvGST          int64 `json:"convGst"`
	ConvTotal        int64 `json:"convTotal"`
	WhatsAppSubtotal int64 `json:"whatsappSubtotal"`
	Discount         int64 `json:"discount"`
	Shipping         int64 `json:"shipping"`
	Total            int64 `json:"total"`
}

// percentToBps converts a percentage such as 18 or 12.5 into basis points.
func percentToBps(percent float64) int64 {
	return int64(math.Round(percent * 100))
}

// applyBps multiplies by a basis-point rate with half-up rounding.
func applyBps(amount, bps int64) int64 {
	return (amount*bps + 5000) / 10000
}

// ComputePayment derives the payment breakdown. All inputs are minor units except gstRate,
// which is a percentage.
func ComputePayment(unitPrice int64, quantity int, gstRate float64, discount, shipping int64) (*PaymentBreakdown, error) {
	if unitPrice <= 0 {
		return nil, fmt.Errorf("unit price must be positive")
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}
	if gstRate < 0 || gstRate > 100 {
		return nil, fmt.Errorf("gst rate must be between 0 and 100")
	}
	if discount < 0 || shipping < 0 {
		return nil, fmt.Errorf("discount and shipping must not be negative")
	}

	p := &PaymentBreakdown{
		UnitPrice: unitPrice,
		Quantity:  quantity,
		Discount:  discount,
		Shipping:  shipping,
	}
	p.ItemTotal = unitPrice * int64(quantity)
	p.GST = applyBps(p.ItemTotal, percentToBps(gstRate))
	p.ConvBase = applyBps(p.ItemTotal, convenienceFeeBps)
	p.ConvGST = applyBps(p.ConvBase, convenienceFeeGSTBps)
	p.ConvTotal = p.ConvBase + p.ConvGST
	p.WhatsAppSubtotal = p.ItemTotal + p.ConvTotal
	p.Total = p.WhatsAppSubtotal - discount + shipping + p.GST

	if p.Total <= 0 {
		return nil, fmt.Errorf("discount exceeds payable amount")
	}
	return p, nil
}

// Amount wraps a minor-unit value with the standard two-decimal offset.
func Amount(value int64) types.Amount {
	return types.Amount{Value: value, Offset: minorUnitOffset}
}

// FormatRupees renders a minor-unit amount as "₹50.00".
func FormatRupees(amount types.Amount) string {
	offset := int64(amount.Offset)
	if offset <= 0 {
		offset = minorUnitOffset
	}
	sign := ""
	value := amount.Value
	if value < 0 {
		sign = "-"
		value = -value
	}
	return fmt.Sprintf("%s₹%d.%02d", sign, value/offset, (value%offset)*100/offset)
}
