package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	// storefront domain codes
	CodeInvalidQuantity       Code = "INVALID_QUANTITY"
	CodeStockExceeded         Code = "STOCK_EXCEEDED"
	CodeQuantityLimitExceeded Code = "QUANTITY_LIMIT_EXCEEDED"
	CodePromoExpired          Code = "PROMO_EXPIRED"
	CodePromoNotApplicable    Code = "PROMO_NOT_APPLICABLE"
	CodePromoNotFound         Code = "PROMO_NOT_FOUND"
	CodeVerificationRequired  Code = "VERIFICATION_REQUIRED"
	CodeVerificationRejected  Code = "VERIFICATION_REJECTED"
	CodeAlreadyProcessed      Code = "ALREADY_PROCESSED"
)

// Metadata describes how a code is rendered to API callers.
// UserFacing codes surface the error's own message instead of PublicMessage.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
	UserFacing     bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation: {
		HTTPStatus:     http.StatusBadRequest,
		PublicMessage:  "validation failed",
		DetailsAllowed: true,
		UserFacing:     true,
	},
	CodeUnauthorized: {
		HTTPStatus:    http.StatusUnauthorized,
		PublicMessage: "authentication required",
		UserFacing:    true,
	},
	CodeForbidden: {
		HTTPStatus:    http.StatusForbidden,
		PublicMessage: "access denied",
		UserFacing:    true,
	},
	CodeNotFound: {
		HTTPStatus:    http.StatusNotFound,
		PublicMessage: "resource not found",
		UserFacing:    true,
	},
	CodeConflict: {
		HTTPStatus:    http.StatusConflict,
		PublicMessage: "conflict detected",
		UserFacing:    true,
	},
	CodeStateConflict: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		PublicMessage:  "state transition disallowed",
		DetailsAllowed: true,
		UserFacing:     true,
	},
	CodeIdempotency: {
		HTTPStatus:     http.StatusConflict,
		PublicMessage:  "idempotency key reused",
		DetailsAllowed: true,
		UserFacing:     true,
	},
	CodeRateLimit: {
		HTTPStatus:    http.StatusTooManyRequests,
		PublicMessage: "rate limit exceeded",
		UserFacing:    true,
	},
	CodeInternal: {
		HTTPStatus:    http.StatusInternalServerError,
		Retryable:     true,
		PublicMessage: "internal server error",
	},
	CodeDependency: {
		HTTPStatus:     http.StatusServiceUnavailable,
		Retryable:      true,
		PublicMessage:  "dependency unavailable",
		DetailsAllowed: true,
	},
	CodeInvalidQuantity: {
		HTTPStatus:     http.StatusBadRequest,
		PublicMessage:  "quantity must be greater than zero",
		DetailsAllowed: true,
		UserFacing:     true,
	},
	CodeStockExceeded: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		PublicMessage:  "requested quantity exceeds available stock",
		DetailsAllowed: true,
		UserFacing:     true,
	},
	CodeQuantityLimitExceeded: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		PublicMessage:  "requested quantity exceeds the per-order limit",
		DetailsAllowed: true,
		UserFacing:     true,
	},
	CodePromoExpired: {
		HTTPStatus:    http.StatusUnprocessableEntity,
		PublicMessage: "promo code has expired",
		UserFacing:    true,
	},
	CodePromoNotApplicable: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		PublicMessage:  "promo code cannot be applied",
		DetailsAllowed: true,
		UserFacing:     true,
	},
	CodePromoNotFound: {
		HTTPStatus:    http.StatusUnprocessableEntity,
		PublicMessage: "promo code not found",
		UserFacing:    true,
	},
	CodeVerificationRequired: {
		HTTPStatus:    http.StatusForbidden,
		PublicMessage: "complete the verification",
		UserFacing:    true,
	},
	CodeVerificationRejected: {
		HTTPStatus:    http.StatusUnprocessableEntity,
		PublicMessage: "verification failed, please try again",
		UserFacing:    true,
	},
	CodeAlreadyProcessed: {
		HTTPStatus:    http.StatusConflict,
		PublicMessage: "cart is already being processed",
		UserFacing:    true,
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the typed code carried by err, or CodeInternal.
func CodeOf(err error) Code {
	if typed := As(err); typed != nil {
		return typed.Code()
	}
	return CodeInternal
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	for err != nil {
		if typed, ok := err.(*Error); ok && typed.code == code {
			return true
		}
		err = stdErrors.Unwrap(err)
	}
	return false
}
