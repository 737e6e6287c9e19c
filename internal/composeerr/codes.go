// Package composeerr enumerates the numbered, localizable error codes raised
// by composition space operations.
package composeerr

import "fmt"

// Prefix precedes every error code number.
const Prefix = "MSGCS"

// Category classifies an error for the caller.
type Category string

const (
	// CategoryError is an unexpected server-side failure.
	CategoryError Category = "ERROR"
	// CategoryUserInput is caused by invalid or conflicting input.
	CategoryUserInput Category = "USER_INPUT"
	// CategoryTryAgain is a transient condition.
	CategoryTryAgain Category = "TRY_AGAIN"
	// CategoryWarning is a non-fatal inconsistency.
	CategoryWarning Category = "WARNING"
)

// Code is a numbered error code with a machine message and a display message.
// Messages are format strings for the arguments given to New or Wrap.
type Code struct {
	Number   int
	Category Category
	Message  string
	Display  string
}

// String renders the code as MSGCS-nnnn.
func (c Code) String() string {
	return fmt.Sprintf("%s-%04d", Prefix, c.Number)
}

// Error lets a Code act as an errors.Is target.
func (c Code) Error() string {
	return c.String()
}

// New creates an error with this code.
func (c Code) New(args ...any) *Error {
	return &Error{Code: c, Args: args}
}

// Wrap creates an error with this code caused by err.
func (c Code) Wrap(err error, args ...any) *Error {
	return &Error{Code: c, Args: args, Cause: err}
}

// Error codes. Numbers are stable and must never be reused.
var (
	Unexpected = Code{1, CategoryError,
		"An error occurred: %s",
		"An error occurred. Please try again later."}
	SQLError = Code{2, CategoryError,
		"A SQL error occurred: %s",
		"An error occurred. Please try again later."}
	IOError = Code{3, CategoryError,
		"An I/O error occurred: %s",
		"An error occurred. Please try again later."}
	NoSuchCompositionSpace = Code{4, CategoryUserInput,
		"No such composition space: %s",
		"The requested message draft does not exist."}
	NoSuchAttachmentResource = Code{5, CategoryUserInput,
		"No such attachment resource: %s",
		"The requested attachment does not exist."}
	ConcurrentUpdate = Code{6, CategoryTryAgain,
		"Concurrent update of composition space %s",
		"The message draft has been changed in the meantime. Please try again."}
	MaxSpacesReached = Code{7, CategoryUserInput,
		"Max. number of composition spaces (%d) reached",
		"You reached the maximum number of open message drafts."}
	NoSuchAttachmentInCompositionSpace = Code{8, CategoryUserInput,
		"No such attachment %s in composition space %s",
		"The requested attachment does not exist."}
	FileStorageUnavailable = Code{9, CategoryTryAgain,
		"Attachment storage unavailable: %s",
		"Attachments cannot be stored at the moment. Please try again later."}
	MaxMessageSizeExceeded = Code{10, CategoryUserInput,
		"Max. mail size of %d bytes exceeded",
		"The message exceeds the maximum allowed size."}
	FieldTooLong = Code{11, CategoryUserInput,
		"Value for field %s exceeds the limit of %d characters",
		"A field of the message is too long."}
	MissingKey = Code{12, CategoryUserInput,
		"Missing key for %s",
		"No key is available to encrypt or sign the message."}
	NoKeyStorage = Code{13, CategoryError,
		"No key storage available",
		"Encrypting or signing messages is not available."}
	MissingSharedAttachmentsFolder = Code{14, CategoryWarning,
		"Missing shared attachments folder",
		"The folder for shared attachments is missing."}
	InconsistentSharedAttachmentsFolder = Code{15, CategoryWarning,
		"Inconsistent shared attachments folder %s",
		"The folder for shared attachments is inconsistent."}
	ClientTokenMismatch = Code{16, CategoryUserInput,
		"Client token mismatch for composition space %s",
		"The message draft is being edited elsewhere."}
	InvalidIdentifier = Code{17, CategoryUserInput,
		"Invalid identifier: %s",
		"The request contains an invalid identifier."}
	NoReplyFor = Code{18, CategoryUserInput,
		"Missing reference to the message to reply to",
		"The message to reply to is missing."}
	NoForwardFor = Code{19, CategoryUserInput,
		"Missing reference to the message(s) to forward",
		"The message to forward is missing."}
	TransportFailed = Code{20, CategoryTryAgain,
		"Message transport failed: %s",
		"The message could not be sent. Please try again later."}
)

// All lists every code, ordered by number.
var All = []Code{
	Unexpected, SQLError, IOError, NoSuchCompositionSpace, NoSuchAttachmentResource,
	ConcurrentUpdate, MaxSpacesReached, NoSuchAttachmentInCompositionSpace,
	FileStorageUnavailable, MaxMessageSizeExceeded, FieldTooLong, MissingKey,
	NoKeyStorage, MissingSharedAttachmentsFolder, InconsistentSharedAttachmentsFolder,
	ClientTokenMismatch, InvalidIdentifier, NoReplyFor, NoForwardFor, TransportFailed,
}
