// Package apperr holds the error taxonomy shared by the order pipeline.
// Use errors.Is against the sentinels and errors.As to read the code.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrParseEmpty              = errors.New("no product or quantity found")
	ErrProductNotFound         = errors.New("product not found")
	ErrProductAmbiguous        = errors.New("product reference is ambiguous")
	ErrInvalidQuantity         = errors.New("invalid quantity")
	ErrDiscountCeilingExceeded = errors.New("discount ceiling exceeded")
	ErrNegotiationStale        = errors.New("negotiation expired")
	ErrCartMergeConflict       = errors.New("concurrent cart update")
	ErrInvalidTransition       = errors.New("invalid negotiation transition")
	ErrCartEmpty               = errors.New("cart is empty")
	ErrNotFound                = errors.New("not found")
)

type Code string

const (
	CodeParseEmpty              Code = "PARSE_EMPTY"
	CodeProductNotFound         Code = "PRODUCT_NOT_FOUND"
	CodeProductAmbiguous        Code = "PRODUCT_AMBIGUOUS"
	CodeInvalidQuantity         Code = "INVALID_QUANTITY"
	CodeDiscountCeilingExceeded Code = "DISCOUNT_CEILING_EXCEEDED"
	CodeNegotiationStale        Code = "NEGOTIATION_STALE"
	CodeCartMergeConflict       Code = "CART_MERGE_CONFLICT"
	CodeInvalidTransition       Code = "INVALID_TRANSITION"
	CodeCartEmpty               Code = "CART_EMPTY"
	CodeInternal                Code = "INTERNAL"
)

var sentinelByCode = map[Code]error{
	CodeParseEmpty:              ErrParseEmpty,
	CodeProductNotFound:         ErrProductNotFound,
	CodeProductAmbiguous:        ErrProductAmbiguous,
	CodeInvalidQuantity:         ErrInvalidQuantity,
	CodeDiscountCeilingExceeded: ErrDiscountCeilingExceeded,
	CodeNegotiationStale:        ErrNegotiationStale,
	CodeCartMergeConflict:       ErrCartMergeConflict,
	CodeInvalidTransition:       ErrInvalidTransition,
	CodeCartEmpty:               ErrCartEmpty,
}

// Error is a coded failure. Err is the wrapped cause and is matched by errors.Is.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an Error whose cause is the sentinel registered for code.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: sentinelByCode[code]}
}

// Wrap attaches a code to an underlying error.
func Wrap(code Code, err error, message string) *Error {
	if sentinel, ok := sentinelByCode[code]; ok && !errors.Is(err, sentinel) {
		err = fmt.Errorf("%w: %w", sentinel, err)
	}
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the taxonomy code of err, or CodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	for code, sentinel := range sentinelByCode {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeInternal
}

// Transient reports whether retrying the operation may succeed.
func Transient(err error) bool {
	return errors.Is(err, ErrCartMergeConflict)
}
