package composeerr

import (
	"errors"
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Error is an error carrying a Code, its format arguments and an optional cause.
type Error struct {
	Code  Code
	Args  []any
	Cause error
}

// Error renders "MSGCS-nnnn <machine message>".
func (e *Error) Error() string {
	msg := e.Code.String() + " " + fmt.Sprintf(e.Code.Message, e.Args...)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches a Code target, or another *Error with the same code number.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Code:
		return t.Number == e.Code.Number
	case *Error:
		return t.Code.Number == e.Code.Number
	}
	return false
}

// DisplayMessage returns the end-user message translated for lang.
func (e *Error) DisplayMessage(lang language.Tag) string {
	return message.NewPrinter(lang).Sprintf(e.Code.Display)
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) (Code, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	return Code{}, false
}

// Has reports whether err carries code c.
func Has(err error, c Code) bool {
	return errors.Is(err, c)
}
