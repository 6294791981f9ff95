package domain

import "time"

// StockStatus is the tier derived from remaining stock vs. safety stock.
type StockStatus string

const (
	StatusNormal StockStatus = "normal"
	StatusWarn   StockStatus = "warn"
	StatusLow    StockStatus = "low"
)

// Product carries the stock counters owned by the ledger.
// Remaining and Status are derived and rewritten on every counter mutation.
type Product struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	SKU         string      `json:"sku,omitempty"`
	TotalIn     int         `json:"total_in"`
	TotalOut    int         `json:"total_out"`
	TotalReturn int         `json:"total_return"`
	Remaining   int         `json:"remaining"`
	SafetyStock int         `json:"safety_stock"`
	Status      StockStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// StockDelta holds signed adjustments to the cumulative counters.
// A zero field leaves its counter untouched.
type StockDelta struct {
	Inbound  int `json:"inbound_delta,omitempty"`
	Outbound int `json:"outbound_delta,omitempty"`
	Return   int `json:"return_delta,omitempty"`
}

// MovementKind is the business record type that moves stock.
type MovementKind string

const (
	MovementInbound  MovementKind = "inbound"
	MovementOutbound MovementKind = "outbound"
	MovementReturn   MovementKind = "return"
)

func (k MovementKind) IsValid() bool {
	switch k {
	case MovementInbound, MovementOutbound, MovementReturn:
		return true
	}
	return false
}

// Delta returns the counter adjustment for moving qty units of this kind.
// Negative qty reverses a previous movement.
func (k MovementKind) Delta(qty int) StockDelta {
	switch k {
	case MovementInbound:
		return StockDelta{Inbound: qty}
	case MovementOutbound:
		return StockDelta{Outbound: qty}
	case MovementReturn:
		return StockDelta{Return: qty}
	}
	return StockDelta{}
}

// Movement is an inbound, outbound or return record against one product.
type Movement struct {
	ID        string       `json:"id"`
	ProductID string       `json:"product_id"`
	Kind      MovementKind `json:"kind"`
	Quantity  int          `json:"quantity"`
	Note      string       `json:"note,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// CreateProductRequest is the inbound payload for a new product.
type CreateProductRequest struct {
	Name        string `json:"name"`
	SKU         string `json:"sku"`
	SafetyStock int    `json:"safety_stock"`
}

func (r *CreateProductRequest) Validate() error {
	if r.Name == "" {
		return ErrInvalidProductName
	}
	if r.SafetyStock < 0 {
		return ErrInvalidSafetyStock
	}
	return nil
}

// CreateMovementRequest is the inbound payload for a stock movement.
type CreateMovementRequest struct {
	ProductID string       `json:"product_id"`
	Kind      MovementKind `json:"kind"`
	Quantity  int          `json:"quantity"`
	Note      string       `json:"note"`
}

func (r *CreateMovementRequest) Validate() error {
	if !r.Kind.IsValid() {
		return ErrInvalidMovementKind
	}
	if r.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	return nil
}
