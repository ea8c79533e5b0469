package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"
)

// Service codes emitted on rate quotes.
const (
	ServiceCodeReadyToShip  = "RTS_STD"
	ServiceCodePreOrder     = "PO_STD"
	ServiceCodeGiftCardFree = "GIFT_CARD_FREE"
)

// VariantID is an opaque catalog variant identifier. Numeric identifiers on the wire are stored as
// their decimal string form so that 123 and "123" address the same cache entry.
type VariantID string

// UnmarshalJSON accepts JSON strings and integers.
func (v *VariantID) UnmarshalJSON(data []byte) error {
	id, err := decodeID(data)
	if err != nil {
		return fmt.Errorf("variant id: %w", err)
	}
	*v = VariantID(id)
	return nil
}

// String returns the identifier as a plain string.
func (v VariantID) String() string { return string(v) }

// ProductID is an opaque catalog product identifier with the same wire forms as VariantID.
type ProductID string

// UnmarshalJSON accepts JSON strings and integers.
func (p *ProductID) UnmarshalJSON(data []byte) error {
	id, err := decodeID(data)
	if err != nil {
		return fmt.Errorf("product id: %w", err)
	}
	*p = ProductID(id)
	return nil
}

func decodeID(data []byte) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return "", nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return "", err
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return "", fmt.Errorf("%q is not an integer", n.String())
	}
	return n.String(), nil
}

// LineItem is a single cart row submitted for rating.
type LineItem struct {
	VariantID   VariantID
	UnitPrice   int64
	Quantity    int
	ProductType string
	Title       string
}

// Subtotal returns unit price multiplied by quantity, saturating at math.MaxInt64.
func (li LineItem) Subtotal() int64 {
	total, _ := li.CheckedSubtotal()
	return total
}

// CheckedSubtotal is Subtotal with ok=false when the product does not fit in an int64.
func (li LineItem) CheckedSubtotal() (int64, bool) {
	if li.Quantity <= 0 || li.UnitPrice <= 0 {
		return 0, true
	}
	hi, lo := bits.Mul64(uint64(li.UnitPrice), uint64(li.Quantity))
	if hi != 0 || lo > math.MaxInt64 {
		return math.MaxInt64, false
	}
	return int64(lo), true
}

// SumSubtotals totals the items, saturating at math.MaxInt64. ok is false when saturation occurred.
func SumSubtotals(items []LineItem) (total int64, ok bool) {
	ok = true
	for _, item := range items {
		sub, fits := item.CheckedSubtotal()
		if !fits || sub > math.MaxInt64-total {
			return math.MaxInt64, false
		}
		total += sub
	}
	return total, ok
}

// RateConfig holds the fee rules applied to both buckets.
type RateConfig struct {
	Threshold         int64  `json:"threshold" yaml:"threshold" firestore:"threshold"`
	FeeUnderThreshold int64  `json:"fee_under_threshold" yaml:"fee_under_threshold" firestore:"feeUnderThreshold"`
	ReadyToShipLabel  string `json:"ready_to_ship_label" yaml:"ready_to_ship_label" firestore:"readyToShipLabel"`
	PreOrderLabel     string `json:"pre_order_label" yaml:"pre_order_label" firestore:"preOrderLabel"`
	Currency          string `json:"currency" yaml:"currency" firestore:"currency"`
	Description       string `json:"description" yaml:"description" firestore:"description"`
	KillSwitch        bool   `json:"kill_switch" yaml:"kill_switch" firestore:"killSwitch"`
}

// RateQuote is a single shipping option returned to checkout.
type RateQuote struct {
	ServiceName string `json:"service_name"`
	ServiceCode string `json:"service_code"`
	TotalPrice  string `json:"total_price"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
}

// RateRequest is a normalised carrier-service request.
type RateRequest struct {
	Items    []LineItem
	Currency string
	Locale   string
}

// ProductChange notifies that a product's variants may have changed pre-order status.
type ProductChange struct {
	ProductID  ProductID   `json:"product_id"`
	VariantIDs []VariantID `json:"variant_ids"`
	Topic      string      `json:"topic,omitempty"`
	Origin     string      `json:"origin,omitempty"`
}

// CacheStats reports status cache state for observability.
type CacheStats struct {
	Backend   string `json:"backend"`
	Keys      int    `json:"keys"`
	Connected bool   `json:"connected"`
}
