package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type CartItem struct {
	ProductID string           `json:"productId"`
	Qty       int              `json:"qty"`
	UnitPrice *decimal.Decimal `json:"unitPrice,omitempty"`
}

// CartSnapshot is the cart as captured at checkout. It is not mutated after capture.
type CartSnapshot struct {
	OwnerID    string     `json:"ownerId"`
	Items      []CartItem `json:"items"`
	CapturedAt time.Time  `json:"capturedAt"`
}

func (s CartSnapshot) Empty() bool {
	return len(s.Items) == 0
}

func (i CartItem) Validate() error {
	if strings.TrimSpace(i.ProductID) == "" {
		return &ValidationError{Field: "productId", Message: "is required"}
	}
	if err := validateQty("qty", i.Qty); err != nil {
		return err
	}
	return validatePrice("unitPrice", i.UnitPrice)
}
