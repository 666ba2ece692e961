package order

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCode       = errors.New("empty scan code")
	ErrNotFound        = errors.New("code does not match a pending item on this order")
	ErrQuotaExceeded   = errors.New("scanned quantity would exceed the pending quantity")
	ErrNotScanned      = errors.New("row is not accepted by the backend yet")
	ErrRowNotFound     = errors.New("row not found")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrSessionClosed   = errors.New("order session is closed")
)

// NetworkError means a backend call did not complete: transport failure,
// non-2xx status or an unreadable body.
type NetworkError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *NetworkError) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op + ": network error"
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RejectionError is a completed call whose business payload says no,
// including success=true with result=false.
type RejectionError struct {
	Op      string
	Message string
}

func (e *RejectionError) Error() string {
	if e.Message == "" {
		return e.Op + ": rejected by backend"
	}
	return e.Op + ": " + e.Message
}

// asNetwork wraps anything that is not already a typed backend error.
func asNetwork(op string, err error) error {
	var ne *NetworkError
	var re *RejectionError
	if errors.As(err, &ne) || errors.As(err, &re) {
		return err
	}
	return &NetworkError{Op: op, Err: err}
}

// UserMessage returns the single message shown to the operator.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var re *RejectionError
	if errors.As(err, &re) {
		if re.Message != "" {
			return re.Message
		}
		return "Rejected by server"
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		if ne.Message != "" {
			return ne.Message
		}
		return "Server unreachable, please retry"
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return "Barcode does not belong to this order"
	case errors.Is(err, ErrQuotaExceeded):
		return "Item already fully scanned"
	case errors.Is(err, ErrNotScanned):
		return "Row has not passed scanning, quantity cannot be changed"
	case errors.Is(err, ErrInvalidQuantity):
		return "Quantity must be at least 1"
	case errors.Is(err, ErrSessionClosed):
		return "Order is closed"
	}
	return err.Error()
}
