package domain

import "sort"

// AdminMayReopenTerminal allows an administrator to move an order out of
// delivered or cancelled. Customer cancellation never may.
const AdminMayReopenTerminal = true

type StockEffect int

const (
	StockNone StockEffect = iota
	// StockRelease returns the ordered quantities to the products.
	StockRelease
	// StockReserve takes the ordered quantities from the products.
	StockReserve
)

func (e StockEffect) String() string {
	switch e {
	case StockRelease:
		return "release"
	case StockReserve:
		return "reserve"
	}
	return "none"
}

// StockEffectOf compares the current and requested status of an order. Only
// paid orders hold stock, and only crossing the cancelled boundary moves it,
// so repeating a transition has no further effect.
func StockEffectOf(o *Order, to OrderStatus) StockEffect {
	if !o.IsPaid() {
		return StockNone
	}
	from := o.OrderStatus
	switch {
	case from != StatusCancelled && to == StatusCancelled:
		return StockRelease
	case from == StatusCancelled && to != StatusCancelled:
		return StockReserve
	}
	return StockNone
}

type StockAdjustment struct {
	ProductID string
	Delta     int64
}

// Adjustments folds the order items into one signed delta per product,
// sorted by product id so concurrent transactions lock rows in the same order.
func Adjustments(items []OrderItem, effect StockEffect) []StockAdjustment {
	var sign int64
	switch effect {
	case StockRelease:
		sign = 1
	case StockReserve:
		sign = -1
	default:
		return nil
	}

	totals := make(map[string]int64, len(items))
	for _, it := range items {
		totals[it.ProductID] += it.Quantity
	}

	out := make([]StockAdjustment, 0, len(totals))
	for id, qty := range totals {
		if qty == 0 {
			continue
		}
		out = append(out, StockAdjustment{ProductID: id, Delta: sign * qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}
