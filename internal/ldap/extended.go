package ldap

import (
	"github.com/KilimcininKorOglu/lload/internal/ber"
)

// Extended operation OIDs the proxy understands.
const (
	// OIDStartTLS is the StartTLS extended operation (RFC 4511 Section 4.14).
	OIDStartTLS = "1.3.6.1.4.1.1466.20037"
	// OIDWhoAmI is the "Who am I?" extended operation (RFC 4532).
	OIDWhoAmI = "1.3.6.1.4.1.4203.1.11.3"
	// OIDNoticeOfDisconnection names the unsolicited notification sent before
	// a server closes a connection.
	OIDNoticeOfDisconnection = "1.3.6.1.4.1.1466.20036"
	// OIDVerifyCredentials checks a set of credentials without changing the
	// identity of the connection it is sent on.
	OIDVerifyCredentials = "1.3.6.1.4.1.4203.666.6.5"
)

// Context-specific tags in ExtendedRequest
const (
	ContextTagRequestName  = 0
	ContextTagRequestValue = 1
)

// ExtendedRequest represents an LDAP Extended Request.
// Per RFC 4511 Section 4.12:
// ExtendedRequest ::= [APPLICATION 23] SEQUENCE {
//
//	requestName      [0] LDAPOID,
//	requestValue     [1] OCTET STRING OPTIONAL
//
// }
type ExtendedRequest struct {
	Name string
	// Value is nil when requestValue is absent.
	Value []byte
}

// ParseExtendedRequest parses an ExtendedRequest from raw BER data.
func ParseExtendedRequest(data []byte) (*ExtendedRequest, error) {
	if len(data) == 0 {
		return nil, NewParseError(0, "empty extended request data", nil)
	}

	decoder := ber.NewBERDecoder(data)
	req := &ExtendedRequest{}

	if !decoder.IsContextTag(ContextTagRequestName) {
		return nil, NewParseError(0, "expected context tag [0] for requestName", ber.ErrTagMismatch)
	}
	_, _, oid, err := decoder.ReadTaggedValue()
	if err != nil {
		return nil, NewParseError(decoder.Offset(), "failed to read requestName", err)
	}
	req.Name = string(oid)

	if decoder.IsContextTag(ContextTagRequestValue) {
		_, _, value, err := decoder.ReadTaggedValue()
		if err != nil {
			return nil, NewParseError(decoder.Offset(), "failed to read requestValue", err)
		}
		req.Value = value
	}
	return req, nil
}

// Encode encodes the ExtendedRequest contents (without the APPLICATION tag).
func (r *ExtendedRequest) Encode() ([]byte, error) {
	encoder := ber.NewBEREncoder(32 + len(r.Value))
	if err := encoder.WriteTaggedValue(ContextTagRequestName, false, []byte(r.Name)); err != nil {
		return nil, err
	}
	if r.Value != nil {
		if err := encoder.WriteTaggedValue(ContextTagRequestValue, false, r.Value); err != nil {
			return nil, err
		}
	}
	return encoder.Bytes(), nil
}

// Message wraps the request in an LDAPMessage with the given id.
func (r *ExtendedRequest) Message(messageID int) (*LDAPMessage, error) {
	data, err := r.Encode()
	if err != nil {
		return nil, err
	}
	return NewMessage(messageID, ApplicationExtendedRequest, data), nil
}

// ParseAbandonRequest returns the message id an AbandonRequest targets.
// AbandonRequest ::= [APPLICATION 16] MessageID
func ParseAbandonRequest(data []byte) (int, error) {
	if len(data) == 0 || len(data) > 4 {
		return 0, NewParseError(0, "invalid abandon request length", ber.ErrInvalidInteger)
	}
	var id int64
	if data[0]&0x80 != 0 {
		id = -1
	}
	for _, b := range data {
		id = id<<8 | int64(b)
	}
	if id < MinMessageID || id > MaxMessageID {
		return 0, NewParseError(0, "abandon target out of range", ErrInvalidMessageID)
	}
	return int(id), nil
}

// NewAbandonMessage builds an AbandonRequest for target.
func NewAbandonMessage(messageID, target int) *LDAPMessage {
	encoder := ber.NewBEREncoder(8)
	_ = encoder.WriteInteger(int64(target))
	// Strip the universal INTEGER identifier and length: the APPLICATION tag
	// replaces them (implicit tagging).
	data := encoder.Bytes()[2:]
	return NewMessage(messageID, ApplicationAbandonRequest, data)
}

// NewUnbindMessage builds an UnbindRequest.
func NewUnbindMessage(messageID int) *LDAPMessage {
	return NewMessage(messageID, ApplicationUnbindRequest, nil)
}
