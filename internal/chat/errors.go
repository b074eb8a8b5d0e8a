package chat

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"gorm.io/gorm"
)

var (
	// ErrInvalidChat rejects a request before it reaches the store.
	ErrInvalidChat = errors.New("chat: invalid chat")
	// ErrNotFound is only returned by store calls that need an existing row.
	// Service-level reads and deletes collapse it into an empty result.
	ErrNotFound = errors.New("chat: not found")
	// ErrConnectivity means the store could not be reached.
	ErrConnectivity = errors.New("chat: store unreachable")
	// ErrConstraint means a write was refused by a uniqueness or foreign key rule.
	ErrConstraint = errors.New("chat: constraint violation")
)

// StoreError is what every failed store call returns. errors.Is matches both the
// Kind sentinel and the underlying driver error.
type StoreError struct {
	Op   string
	Kind error
	Err  error
}

func (e *StoreError) Error() string {
	if e.Kind == nil {
		return fmt.Sprintf("chat store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("chat store %s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() []error {
	if e.Kind == nil {
		return []error{e.Err}
	}
	return []error{e.Kind, e.Err}
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidChat, fmt.Sprintf(format, args...))
}

func wrapStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Kind: classify(err), Err: err}
}

func classify(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), errors.Is(err, gorm.ErrForeignKeyViolated):
		return ErrConstraint
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, context.DeadlineExceeded):
		return ErrConnectivity
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrConnectivity
	}
	// drivers that don't go through TranslateError
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique constraint"), strings.Contains(msg, "duplicate"):
		return ErrConstraint
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "database is closed"):
		return ErrConnectivity
	}
	return nil
}
