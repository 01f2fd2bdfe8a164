package common

import "errors"

var (
	// ErrInvalidQuantity rejects non-positive reservation quantities.
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	// ErrProductNotFound indicates an unknown product id.
	ErrProductNotFound = errors.New("product not found")
	// ErrReservationNotFound indicates an unknown reservation id.
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrInsufficientStock is returned when the requested quantity
	// exceeds the product's currently available stock.
	ErrInsufficientStock = errors.New("not enough stock available")
	// ErrReservationExpired is returned when completion is attempted on
	// a reservation whose active window has already closed.
	ErrReservationExpired = errors.New("reservation has already expired")
)
