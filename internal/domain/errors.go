package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidQuietHours   = errors.New("invalid quiet hours: expected HH-HH with hours 00-23")
	ErrInvalidQuantity     = errors.New("quantity must be greater than zero")
	ErrInvalidMovementKind = errors.New("invalid movement kind: must be inbound, outbound, or return")
	ErrInvalidSafetyStock  = errors.New("safety stock must not be negative")
	ErrInvalidProductName  = errors.New("product name must not be empty")
	ErrNegativeCounter     = errors.New("stock counter would become negative")
	ErrInvalidSettings     = errors.New("invalid notification settings")
	ErrInvalidChannel      = errors.New("invalid channel")
	ErrInvalidLevel        = errors.New("invalid level: must be info, warning, or critical")
	ErrEmptyMessage        = errors.New("message must not be empty")
)
