package errors

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOutOfStock        = errors.New("out of stock")
	ErrInvalidState      = errors.New("invalid state")
	ErrNotFound          = errors.New("not found")
	ErrExpired           = errors.New("expired")
	ErrUsageExceeded     = errors.New("discount code usage exceeded")
	ErrPlanMismatch      = errors.New("discount code not valid for this plan")

	ErrUserNotFound     = fmt.Errorf("user %w", ErrNotFound)
	ErrPlanNotFound     = fmt.Errorf("plan %w", ErrNotFound)
	ErrOrderNotFound    = fmt.Errorf("order %w", ErrNotFound)
	ErrReceiptNotFound  = fmt.Errorf("receipt %w", ErrNotFound)
	ErrUnitNotFound     = fmt.Errorf("inventory unit %w", ErrNotFound)
	ErrDiscountNotFound = fmt.Errorf("discount code %w", ErrNotFound)
	ErrTicketNotFound   = fmt.Errorf("ticket %w", ErrNotFound)

	ErrDiscountExpired = fmt.Errorf("discount code %w", ErrExpired)
	ErrOrderExpired    = fmt.Errorf("order payment window %w", ErrExpired)

	ErrUserBanned              = errors.New("user is banned")
	ErrPlanInactive            = errors.New("plan is not available")
	ErrBusy                    = errors.New("operation already in progress")
	ErrNilEntity               = errors.New("entity is nil")
	ErrInvalidInput            = errors.New("invalid input")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrInvalidCredentials      = errors.New("invalid credentials")
	ErrAlreadyExists           = errors.New("already exists")
	ErrRequestAlreadyProcessed = errors.New("request already processed")
)
