package backup

import (
	"errors"
	"fmt"
)

var (
	// ErrDecryptionFailed means the ciphertext could not be opened: wrong
	// key, tampering or a foreign format.
	ErrDecryptionFailed = errors.New("backup decryption failed")

	// ErrInvalidBackup means the plaintext is not a usable backup.
	ErrInvalidBackup = errors.New("invalid backup")
)

// Error is a backup failure. Kind is ErrDecryptionFailed or
// ErrInvalidBackup; both match with errors.Is.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func decryptionFailed(op string, err error) error {
	return &Error{Kind: ErrDecryptionFailed, Op: op, Err: err}
}

func invalidBackup(op string, format string, args ...any) error {
	return &Error{Kind: ErrInvalidBackup, Op: op, Err: fmt.Errorf(format, args...)}
}
