package chat

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrGateway      = errors.New("gateway error")
	ErrStorage      = errors.New("storage error")
	ErrBusy         = errors.New("a reply is already in flight")
	ErrClosed       = errors.New("already closed")
)

// StorageError reports a failed or no-op write against the store.
type StorageError struct {
	Op  string
	ID  string
	Err error
}

func (e *StorageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("storage %s %s: no rows affected", e.Op, e.ID)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// GatewayError reports a failed or timed out generation.
type GatewayError struct {
	Model   string
	Timeout bool
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("model %s timed out: %v", e.Model, e.Err)
	}
	return fmt.Sprintf("model %s failed: %v", e.Model, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

// ErrorText renders any error value as the single-line text sent in an
// error fragment.
func ErrorText(v any) string {
	switch e := v.(type) {
	case nil:
		return "unknown error"
	case string:
		return e
	case error:
		return e.Error()
	default:
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Sprint(e)
		}
		return string(b)
	}
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func isUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
