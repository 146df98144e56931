package ldap

import (
	"errors"
	"fmt"
)

// LDAP protocol operation tags (APPLICATION class)
// Per RFC 4511 Section 4.2
const (
	ApplicationBindRequest           = 0  // [APPLICATION 0]
	ApplicationBindResponse          = 1  // [APPLICATION 1]
	ApplicationUnbindRequest         = 2  // [APPLICATION 2]
	ApplicationSearchRequest         = 3  // [APPLICATION 3]
	ApplicationSearchResultEntry     = 4  // [APPLICATION 4]
	ApplicationSearchResultDone      = 5  // [APPLICATION 5]
	ApplicationModifyRequest         = 6  // [APPLICATION 6]
	ApplicationModifyResponse        = 7  // [APPLICATION 7]
	ApplicationAddRequest            = 8  // [APPLICATION 8]
	ApplicationAddResponse           = 9  // [APPLICATION 9]
	ApplicationDelRequest            = 10 // [APPLICATION 10]
	ApplicationDelResponse           = 11 // [APPLICATION 11]
	ApplicationModifyDNRequest       = 12 // [APPLICATION 12]
	ApplicationModifyDNResponse      = 13 // [APPLICATION 13]
	ApplicationCompareRequest        = 14 // [APPLICATION 14]
	ApplicationCompareResponse       = 15 // [APPLICATION 15]
	ApplicationAbandonRequest        = 16 // [APPLICATION 16]
	ApplicationSearchResultReference = 19 // [APPLICATION 19]
	ApplicationExtendedRequest       = 23 // [APPLICATION 23]
	ApplicationExtendedResponse      = 24 // [APPLICATION 24]
	ApplicationIntermediateResponse  = 25 // [APPLICATION 25]
)

// OperationType represents the type of LDAP operation
type OperationType int

var operationNames = map[OperationType]string{
	ApplicationBindRequest:           "BindRequest",
	ApplicationBindResponse:          "BindResponse",
	ApplicationUnbindRequest:         "UnbindRequest",
	ApplicationSearchRequest:         "SearchRequest",
	ApplicationSearchResultEntry:     "SearchResultEntry",
	ApplicationSearchResultDone:      "SearchResultDone",
	ApplicationModifyRequest:         "ModifyRequest",
	ApplicationModifyResponse:        "ModifyResponse",
	ApplicationAddRequest:            "AddRequest",
	ApplicationAddResponse:           "AddResponse",
	ApplicationDelRequest:            "DelRequest",
	ApplicationDelResponse:           "DelResponse",
	ApplicationModifyDNRequest:       "ModifyDNRequest",
	ApplicationModifyDNResponse:      "ModifyDNResponse",
	ApplicationCompareRequest:        "CompareRequest",
	ApplicationCompareResponse:       "CompareResponse",
	ApplicationAbandonRequest:        "AbandonRequest",
	ApplicationSearchResultReference: "SearchResultReference",
	ApplicationExtendedRequest:       "ExtendedRequest",
	ApplicationExtendedResponse:      "ExtendedResponse",
	ApplicationIntermediateResponse:  "IntermediateResponse",
}

// String returns the string representation of the operation type
func (o OperationType) String() string {
	if name, ok := operationNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", int(o))
}

// IsRequest reports whether the tag is sent by clients.
func (o OperationType) IsRequest() bool {
	switch o {
	case ApplicationBindRequest, ApplicationUnbindRequest, ApplicationSearchRequest,
		ApplicationModifyRequest, ApplicationAddRequest, ApplicationDelRequest,
		ApplicationModifyDNRequest, ApplicationCompareRequest, ApplicationAbandonRequest,
		ApplicationExtendedRequest:
		return true
	}
	return false
}

// IsResponse reports whether the tag is sent by servers.
func (o OperationType) IsResponse() bool {
	_, known := operationNames[o]
	return known && !o.IsRequest()
}

// IsFinal reports whether a response of this type completes its operation.
// Search entries, search references and intermediate responses may be
// followed by more responses for the same message id.
func (o OperationType) IsFinal() bool {
	switch o {
	case ApplicationSearchResultEntry, ApplicationSearchResultReference, ApplicationIntermediateResponse:
		return false
	}
	return o.IsResponse()
}

// ResponseType returns the final response type a request is answered with.
// Unbind and Abandon have no response and report false.
func (o OperationType) ResponseType() (OperationType, bool) {
	switch o {
	case ApplicationBindRequest:
		return ApplicationBindResponse, true
	case ApplicationSearchRequest:
		return ApplicationSearchResultDone, true
	case ApplicationModifyRequest:
		return ApplicationModifyResponse, true
	case ApplicationAddRequest:
		return ApplicationAddResponse, true
	case ApplicationDelRequest:
		return ApplicationDelResponse, true
	case ApplicationModifyDNRequest:
		return ApplicationModifyDNResponse, true
	case ApplicationCompareRequest:
		return ApplicationCompareResponse, true
	case ApplicationExtendedRequest:
		return ApplicationExtendedResponse, true
	}
	return 0, false
}

// isConstructedOperation reports the constructed bit LDAP mandates for a tag.
func isConstructedOperation(tag int) bool {
	switch tag {
	case ApplicationUnbindRequest, ApplicationAbandonRequest, ApplicationDelRequest:
		// NULL, INTEGER and LDAPDN respectively
		return false
	default:
		return true
	}
}

// Context-specific tags for Controls
const (
	ContextTagControls = 0 // [0] Controls OPTIONAL
)

// MaxMessageID is the maximum valid message ID per RFC 4511
// MessageID ::= INTEGER (0 .. maxInt)
// maxInt INTEGER ::= 2147483647 -- (2^^31 - 1)
const MaxMessageID = 2147483647

// MinMessageID is the minimum valid message ID
const MinMessageID = 0

// RawOperation holds the tag and undecoded contents of a protocolOp.
// The proxy forwards most operations without ever looking inside Data.
type RawOperation struct {
	// Tag is the APPLICATION tag number identifying the operation type
	Tag int
	// Constructed is the constructed bit as received
	Constructed bool
	// Data contains the raw BER-encoded operation data (without tag and length)
	Data []byte
}

// LDAPMessage represents an LDAP protocol message envelope.
// Per RFC 4511 Section 4.1.1:
// LDAPMessage ::= SEQUENCE {
//
//	messageID       MessageID,
//	protocolOp      CHOICE { ... },
//	controls        [0] Controls OPTIONAL
//
// }
type LDAPMessage struct {
	// MessageID correlates requests and responses within a connection
	MessageID int
	// Operation holds the raw protocol operation
	Operation *RawOperation
	// Controls is the complete encoded [0] element, or nil when absent.
	// It is kept encoded so that forwarded messages carry it unchanged.
	Controls []byte
}

// OperationType returns the type of operation in this message
func (m *LDAPMessage) OperationType() OperationType {
	if m.Operation == nil {
		return -1
	}
	return OperationType(m.Operation.Tag)
}

// WithMessageID returns a shallow copy of m carrying a different message id.
// Operation data and controls are shared with m.
func (m *LDAPMessage) WithMessageID(id int) *LDAPMessage {
	c := *m
	c.MessageID = id
	return &c
}

// Errors for LDAP message parsing
var (
	// ErrIncomplete is returned by ReadMessage when the buffer holds only
	// part of a message. It is not a failure.
	ErrIncomplete = errors.New("ldap: incomplete message")

	// ErrMalformed marks input that can never become a valid message.
	ErrMalformed = errors.New("ldap: malformed message")

	// ErrMessageTooLarge is returned when a message exceeds the configured size limit.
	ErrMessageTooLarge = errors.New("ldap: message exceeds size limit")

	// ErrInvalidMessageID is returned when the message ID is out of valid range
	ErrInvalidMessageID = errors.New("ldap: message ID out of valid range (0 to 2147483647)")

	// ErrMissingOperation is returned when the protocol operation is missing
	ErrMissingOperation = errors.New("ldap: missing protocol operation")

	// ErrInvalidOperation is returned when the protocol operation has invalid tag class
	ErrInvalidOperation = errors.New("ldap: protocol operation must have APPLICATION tag class")

	// ErrInvalidControlSequence is returned when controls are malformed
	ErrInvalidControlSequence = errors.New("ldap: invalid control sequence")
)

// ParseError provides detailed information about a parsing failure
type ParseError struct {
	Offset  int
	Message string
	Err     error
}

// Error implements the error interface
func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ldap: parse error at offset %d: %s: %v", e.Offset, e.Message, e.Err)
	}
	return fmt.Sprintf("ldap: parse error at offset %d: %s", e.Offset, e.Message)
}

// Unwrap returns the underlying error
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is makes every ParseError match ErrMalformed.
func (e *ParseError) Is(target error) bool {
	return target == ErrMalformed
}

// NewParseError creates a new ParseError
func NewParseError(offset int, message string, err error) *ParseError {
	return &ParseError{
		Offset:  offset,
		Message: message,
		Err:     err,
	}
}
