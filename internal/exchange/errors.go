package exchange

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorKind classifies an operation failure so clients can render it and
// decide whether a retry makes sense.
type ErrorKind string

const (
	KindValidation            ErrorKind = "validation"
	KindNotFound              ErrorKind = "not_found"
	KindInvalidState          ErrorKind = "invalid_state"
	KindNotOwner              ErrorKind = "not_owner"
	KindSelfTrade             ErrorKind = "self_trade"
	KindInsufficientFunds     ErrorKind = "insufficient_funds"
	KindInsufficientRemainder ErrorKind = "insufficient_remainder"
	KindConflict              ErrorKind = "concurrency_conflict"
)

// Error is a structured operation failure carrying the kind and, when known,
// the order involved. errors.Is matches two Errors by kind, so the exported
// sentinels below work as targets for wrapped instances.
type Error struct {
	Kind    ErrorKind
	OrderID int64
	Msg     string
	cause   error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.cause != nil {
		msg = e.cause.Error()
	}
	if e.OrderID != 0 {
		return fmt.Sprintf("%s: order %d: %s", e.Kind, e.OrderID, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrValidation            = &Error{Kind: KindValidation, Msg: "invalid input"}
	ErrNotFound              = &Error{Kind: KindNotFound, Msg: "order not found"}
	ErrInvalidState          = &Error{Kind: KindInvalidState, Msg: "order is no longer available"}
	ErrNotOwner              = &Error{Kind: KindNotOwner, Msg: "order is not owned by caller"}
	ErrSelfTrade             = &Error{Kind: KindSelfTrade, Msg: "cannot accept own order"}
	ErrInsufficientFunds     = &Error{Kind: KindInsufficientFunds, Msg: "insufficient funds"}
	ErrInsufficientRemainder = &Error{Kind: KindInsufficientRemainder, Msg: "nothing left to fill"}
	ErrConflict              = &Error{Kind: KindConflict, Msg: "conflicting concurrent update, retry"}
)

func validationErr(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func orderErr(kind ErrorKind, orderID int64, msg string) error {
	return &Error{Kind: kind, OrderID: orderID, Msg: msg}
}

// wrapTxErr maps transient Postgres failures (serialization aborts,
// deadlocks) to ErrConflict so callers know the same request can be retried
// against the updated order state.
func wrapTxErr(err error, orderID int64) error {
	if err == nil {
		return nil
	}
	var opErr *Error
	if errors.As(err, &opErr) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return &Error{Kind: KindConflict, OrderID: orderID, Msg: "conflicting concurrent update, retry", cause: err}
	}
	return err
}
