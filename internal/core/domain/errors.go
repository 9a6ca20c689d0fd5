package domain

import "errors"

var (
	// Inventory
	ErrItemNotFound  = errors.New("item not found")
	ErrSoldOut       = errors.New("item sold out")
	ErrNegativeStock = errors.New("stock cannot be negative")
	ErrInvalidPrice  = errors.New("price cannot be negative")

	// Money
	ErrInsertRejected      = errors.New("insert rejected: limit exceeded")
	ErrUnknownDenomination = errors.New("denomination not accepted")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientChange  = errors.New("insufficient change")

	// Protocols
	ErrMalformedRecord      = errors.New("malformed sale record")
	ErrMalformedMessage     = errors.New("malformed sync message")
	ErrUnsupportedCommand   = errors.New("unsupported command")
	ErrUnsupportedSalesView = errors.New("unsupported sales view")
	ErrNotConnected         = errors.New("not connected")

	// Admin
	ErrUnauthorized = errors.New("unauthorized")
	ErrWeakPassword = errors.New("password must be at least 8 characters and contain a digit and a special character")
)
