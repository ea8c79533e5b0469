package services

import (
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	domain "github.com/lauragobrightly/ship-ship/internal/domain"
)

const (
	giftCardServiceName = "Free Shipping"
	giftCardTitleNeedle = "gift card"
)

var giftCardProductTypes = map[string]struct{}{
	"gift card":  {},
	"gift_card":  {},
	"gift-card":  {},
	"giftcard":   {},
	"gift cards": {},
}

// ComputeRates prices a cart. It performs no I/O and does not retain its arguments, so it is safe
// to call concurrently. Items absent from statuses are treated as ready to ship.
func ComputeRates(items []LineItem, statuses map[string]bool, cfg RateConfig) []RateQuote {
	quotes := make([]RateQuote, 0, 2)
	if cfg.KillSwitch || len(items) == 0 {
		return quotes
	}
	if AllGiftCards(items) {
		return append(quotes, RateQuote{
			ServiceName: giftCardServiceName,
			ServiceCode: domain.ServiceCodeGiftCardFree,
			TotalPrice:  "0",
			Currency:    cfg.Currency,
			Description: cfg.Description,
		})
	}

	readyToShip, preOrder := partitionItems(items, statuses)
	if q, ok := bucketQuote(sumSubtotals(readyToShip), cfg.ReadyToShipLabel, domain.ServiceCodeReadyToShip, cfg); ok {
		quotes = append(quotes, q)
	}
	if q, ok := bucketQuote(sumSubtotals(preOrder), cfg.PreOrderLabel, domain.ServiceCodePreOrder, cfg); ok {
		quotes = append(quotes, q)
	}
	return quotes
}

// AllGiftCards reports whether a non-empty cart holds only gift cards.
func AllGiftCards(items []LineItem) bool {
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		if !IsGiftCard(item) {
			return false
		}
	}
	return true
}

// IsGiftCard matches the product type tag exactly or the title by substring, both case-folded.
func IsGiftCard(item LineItem) bool {
	fold := cases.Fold()
	if productType := strings.TrimSpace(fold.String(item.ProductType)); productType != "" {
		if _, ok := giftCardProductTypes[productType]; ok {
			return true
		}
	}
	return strings.Contains(fold.String(item.Title), giftCardTitleNeedle)
}

func partitionItems(items []LineItem, statuses map[string]bool) (readyToShip, preOrder []LineItem) {
	for _, item := range items {
		if statuses[item.VariantID.String()] {
			preOrder = append(preOrder, item)
			continue
		}
		readyToShip = append(readyToShip, item)
	}
	return readyToShip, preOrder
}

func sumSubtotals(items []LineItem) int64 {
	total, _ := domain.SumSubtotals(items)
	return total
}

func bucketQuote(subtotal int64, label, code string, cfg RateConfig) (RateQuote, bool) {
	if subtotal <= 0 {
		return RateQuote{}, false
	}
	price := cfg.FeeUnderThreshold
	if subtotal >= cfg.Threshold {
		price = 0
	}
	return RateQuote{
		ServiceName: label,
		ServiceCode: code,
		TotalPrice:  strconv.FormatInt(price, 10),
		Currency:    cfg.Currency,
		Description: cfg.Description,
	}, true
}
