package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidSerials    = errors.New("invalid serial numbers")
	ErrAlreadyProcessed  = errors.New("request already processed")
	ErrValidation        = errors.New("validation error")
	ErrDuplicateRequest  = errors.New("duplicate request")
	ErrConflict          = errors.New("conflict")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
)
