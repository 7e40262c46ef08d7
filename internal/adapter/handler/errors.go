package handler

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/rl1809/inventory-requests/internal/core/domain"
)

type errorKind struct {
	name     string
	sentinel error
	status   int
	code     codes.Code
}

// Checked in order; the first match wins.
var errorKinds = []errorKind{
	{"VALIDATION_ERROR", domain.ErrValidation, http.StatusBadRequest, codes.InvalidArgument},
	{"UNAUTHORIZED", domain.ErrUnauthorized, http.StatusUnauthorized, codes.Unauthenticated},
	{"FORBIDDEN", domain.ErrForbidden, http.StatusForbidden, codes.PermissionDenied},
	{"NOT_FOUND", domain.ErrNotFound, http.StatusNotFound, codes.NotFound},
	{"ALREADY_PROCESSED", domain.ErrAlreadyProcessed, http.StatusConflict, codes.FailedPrecondition},
	{"DUPLICATE_REQUEST", domain.ErrDuplicateRequest, http.StatusConflict, codes.AlreadyExists},
	{"CONFLICT", domain.ErrConflict, http.StatusConflict, codes.Aborted},
	{"INSUFFICIENT_STOCK", domain.ErrInsufficientStock, http.StatusUnprocessableEntity, codes.FailedPrecondition},
	{"INVALID_SERIALS", domain.ErrInvalidSerials, http.StatusUnprocessableEntity, codes.FailedPrecondition},
}

var internalKind = errorKind{"INTERNAL", nil, http.StatusInternalServerError, codes.Internal}

func classify(err error) errorKind {
	for _, k := range errorKinds {
		if errors.Is(err, k.sentinel) {
			return k
		}
	}
	return internalKind
}
