package resource

import (
	"errors"
	"fmt"
)

// Error classes shared by the host and the bridge. Handlers may use their own
// class strings as well; the guest only ever sees the rendered text.
const (
	ClassBadResource       = "BadResource"
	ClassTypeError         = "TypeError"
	ClassNotSupported      = "NotSupported"
	ClassProtocolViolation = "ProtocolViolation"
	ClassNotFound          = "NotFound"
	ClassPermissionDenied  = "PermissionDenied"
	ClassInvalidArgument   = "InvalidArgument"
	ClassInternal          = "Internal"
)

// ErrTableExhausted is returned by Add once every ID has been handed out.
var ErrTableExhausted = errors.New("resource table exhausted")

// Error carries a coarse class tag next to a free-form message so callers on
// either side of the boundary can recover the category without knowing the
// concrete error type.
type Error struct {
	Class   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("(%s)-%s", e.Class, e.Message)
}

// Is matches another *Error with the same class.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// NewError creates an error with a caller-chosen class.
func NewError(class, message string) error {
	return &Error{Class: class, Message: message}
}

// Errorf creates a classed error with a formatted message.
func Errorf(class, format string, args ...any) error {
	return &Error{Class: class, Message: fmt.Sprintf(format, args...)}
}

// BadResourceID is returned for absent IDs and type mismatches alike.
func BadResourceID() error {
	return &Error{Class: ClassBadResource, Message: "Bad resource ID"}
}

// TypeError reports a malformed argument.
func TypeError(message string) error {
	return &Error{Class: ClassTypeError, Message: message}
}

// NotSupported reports an operation the resource kind does not implement.
func NotSupported() error {
	return &Error{Class: ClassNotSupported, Message: "The operation is not supported"}
}

// ClassOf returns the class of the first *Error in err's chain, or "" if
// there is none.
func ClassOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsClass reports whether err carries the given class.
func IsClass(err error, class string) bool {
	return ClassOf(err) == class
}
