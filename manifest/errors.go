package manifest

import (
	"errors"
	"fmt"
)

var (
	// ErrIO wraps underlying filesystem errors (disk full, permission denied, missing file).
	ErrIO = errors.New("manifest: i/o error")

	// ErrSerialization is returned when a JSON file cannot be encoded or decoded.
	ErrSerialization = errors.New("manifest: serialization error")

	// ErrInvalidFormat is returned for structurally valid data that violates an
	// invariant (duplicate segment ids, wrong segment type, stale version).
	ErrInvalidFormat = errors.New("manifest: invalid format")

	// ErrNotFound is returned when a requested version or tag does not exist.
	ErrNotFound = errors.New("manifest: not found")

	// ErrAlreadyExists is returned by Create on a directory that already holds a chain.
	ErrAlreadyExists = errors.New("manifest: already exists")

	// ErrCorrupt is returned when the current pointer names a manifest that is
	// missing or unreadable.
	ErrCorrupt = errors.New("manifest: corrupt database")

	// ErrInvalidArgument is returned when an argument is invalid
	// (e.g. deleting the current snapshot).
	ErrInvalidArgument = errors.New("manifest: invalid argument")
)

// Error carries the operation and path that failed together with the taxonomy
// kind. errors.Is matches both the kind sentinel and the wrapped cause.
type Error struct {
	Kind error  // One of the Err* sentinels above.
	Op   string // Operation, e.g. "commit", "open".
	Path string // File involved, if any.
	Err  error  // Underlying cause, may be nil.
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the kind sentinel of e.
func (e *Error) Is(target error) bool { return target == e.Kind }

func ioError(op, path string, err error) error {
	return &Error{Kind: ErrIO, Op: op, Path: path, Err: err}
}

func serializationError(op, path string, err error) error {
	return &Error{Kind: ErrSerialization, Op: op, Path: path, Err: err}
}

func invalidFormat(op string, format string, args ...any) error {
	return &Error{Kind: ErrInvalidFormat, Op: op, Err: fmt.Errorf(format, args...)}
}

func notFound(op string, format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Op: op, Err: fmt.Errorf(format, args...)}
}

func corrupt(op, path string, err error) error {
	return &Error{Kind: ErrCorrupt, Op: op, Path: path, Err: err}
}
