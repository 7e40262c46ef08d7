package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/rl1809/inventory-requests/internal/core/domain"
)

// CreateRequestInput is what a caller submits to open a stock movement request.
type CreateRequestInput struct {
	MovementType    domain.MovementType    `validate:"required,oneof=ENTRY EXIT"`
	Domain          domain.InventoryDomain `validate:"required,oneof=INTERIOR EXTERIOR"`
	ItemID          string                 `validate:"required"`
	Quantity        int                    `validate:"gt=0"`
	ReasonRequested string                 `validate:"required"`
	SerialNumbers   []string               `validate:"omitempty,unique,dive,required"`

	// RequesterID is empty for anonymous submissions.
	RequesterID string
	// IdempotencyKey, when set, makes a repeated submission fail with ErrDuplicateRequest.
	IdempotencyKey string
}

// ItemInput carries the editable fields of an item.
type ItemInput struct {
	Brand         string
	Model         string
	Description   string `validate:"required"`
	Supplier      string
	Unit          string
	UnitPrice     string   `validate:"omitempty,numeric"`
	Quantity      int      `validate:"gte=0"`
	SerialNumbers []string `validate:"omitempty,unique,dive,required"`
	Categories    []string
}

func newValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

// validateStruct turns validator failures into a single ErrValidation.
func validateStruct(v *validator.Validate, s interface{}) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "unique":
		return fmt.Sprintf("%s must not contain duplicates", fe.Field())
	case "numeric":
		return fmt.Sprintf("%s must be a number", fe.Field())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}

// checkStock is the stock-sufficiency rule shared by creation and approval.
func checkStock(item *domain.Item, movement domain.MovementType, quantity int) error {
	if movement != domain.MovementExit {
		return nil
	}
	if quantity > item.Quantity {
		return fmt.Errorf("%w: item %s has %d, requested %d",
			domain.ErrInsufficientStock, item.ID, item.Quantity, quantity)
	}
	return nil
}

// checkSerials is all-or-nothing: EXIT serials must all be held by the item,
// ENTRY serials must all be new to it.
func checkSerials(item *domain.Item, movement domain.MovementType, serials []string) error {
	if len(serials) == 0 {
		return nil
	}

	if movement == domain.MovementExit {
		if missing := item.MissingSerials(serials); len(missing) > 0 {
			return fmt.Errorf("%w: not held by item %s: %s",
				domain.ErrInvalidSerials, item.ID, strings.Join(missing, ", "))
		}
		return nil
	}

	if held := item.HeldSerials(serials); len(held) > 0 {
		return fmt.Errorf("%w: already held by item %s: %s",
			domain.ErrInvalidSerials, item.ID, strings.Join(held, ", "))
	}
	return nil
}

// outcome maps an error to a metrics label.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrValidation):
		return "validation_error"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrInvalidSerials):
		return "invalid_serials"
	case errors.Is(err, domain.ErrAlreadyProcessed):
		return "already_processed"
	case errors.Is(err, domain.ErrDuplicateRequest):
		return "duplicate_request"
	default:
		return "error"
	}
}
