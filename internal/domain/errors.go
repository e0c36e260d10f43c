package domain

import "errors"

var (
	ErrNotFound                 = errors.New("not found")
	ErrValidation               = errors.New("validation failed")
	ErrInsufficientStock        = errors.New("insufficient stock")
	ErrInsufficientPayment      = errors.New("insufficient payment")
	ErrPaymentMismatch          = errors.New("payment mismatch")
	ErrUnsupportedPaymentMethod = errors.New("unsupported payment method")
	ErrIllegalState             = errors.New("illegal transaction state")
	ErrPermissionDenied         = errors.New("permission denied")
)
