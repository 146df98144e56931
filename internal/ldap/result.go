package ldap

import (
	"github.com/KilimcininKorOglu/lload/internal/ber"
)

// Context-specific tags for response fields
const (
	// ContextTagReferral is the tag for referral URIs in LDAPResult [3]
	ContextTagReferral = 3
	// ContextTagServerSASLCreds is the tag for server SASL credentials in BindResponse [7]
	ContextTagServerSASLCreds = 7
	// ContextTagResponseName is the tag for responseName in ExtendedResponse [10]
	ContextTagResponseName = 10
	// ContextTagResponseValue is the tag for responseValue in ExtendedResponse [11]
	ContextTagResponseValue = 11
)

// LDAPResult represents the common result structure used in most LDAP responses.
// Per RFC 4511 Section 4.1.9:
// LDAPResult ::= SEQUENCE {
//
//	resultCode         ENUMERATED { ... },
//	matchedDN          LDAPDN,
//	diagnosticMessage  LDAPString,
//	referral           [3] Referral OPTIONAL
//
// }
type LDAPResult struct {
	ResultCode        ResultCode
	MatchedDN         string
	DiagnosticMessage string
	Referral          []string
}

// Encode writes the LDAPResult components (without an outer tag).
func (r *LDAPResult) Encode(encoder *ber.BEREncoder) error {
	if err := encoder.WriteEnumerated(int64(r.ResultCode)); err != nil {
		return err
	}
	if err := encoder.WriteOctetString([]byte(r.MatchedDN)); err != nil {
		return err
	}
	if err := encoder.WriteOctetString([]byte(r.DiagnosticMessage)); err != nil {
		return err
	}
	if len(r.Referral) > 0 {
		refPos := encoder.WriteContextTag(ContextTagReferral, true)
		for _, uri := range r.Referral {
			if err := encoder.WriteOctetString([]byte(uri)); err != nil {
				return err
			}
		}
		if err := encoder.EndContextTag(refPos); err != nil {
			return err
		}
	}
	return nil
}

// decode reads the LDAPResult components, leaving the decoder positioned at
// whatever the enclosing response appends.
func (r *LDAPResult) decode(decoder *ber.BERDecoder) error {
	code, err := decoder.ReadEnumerated()
	if err != nil {
		return NewParseError(decoder.Offset(), "failed to read resultCode", err)
	}
	r.ResultCode = ResultCode(code)

	matched, err := decoder.ReadOctetString()
	if err != nil {
		return NewParseError(decoder.Offset(), "failed to read matchedDN", err)
	}
	r.MatchedDN = string(matched)

	diag, err := decoder.ReadOctetString()
	if err != nil {
		return NewParseError(decoder.Offset(), "failed to read diagnosticMessage", err)
	}
	r.DiagnosticMessage = string(diag)

	if decoder.IsContextTag(ContextTagReferral) {
		refs, err := decoder.ReadContextTagContents(ContextTagReferral)
		if err != nil {
			return NewParseError(decoder.Offset(), "failed to read referral", err)
		}
		for refs.Remaining() > 0 {
			uri, err := refs.ReadOctetString()
			if err != nil {
				return NewParseError(decoder.Offset(), "failed to read referral URI", err)
			}
			r.Referral = append(r.Referral, string(uri))
		}
	}
	return nil
}

// ParseLDAPResult decodes the LDAPResult at the start of a response's contents.
// Any response-specific trailing fields are ignored.
func ParseLDAPResult(data []byte) (*LDAPResult, error) {
	r := &LDAPResult{}
	if err := r.decode(ber.NewBERDecoder(data)); err != nil {
		return nil, err
	}
	return r, nil
}

// BindResponse represents an LDAP Bind response.
// Per RFC 4511 Section 4.2.2:
// BindResponse ::= [APPLICATION 1] SEQUENCE {
//
//	COMPONENTS OF LDAPResult,
//	serverSaslCreds    [7] OCTET STRING OPTIONAL
//
// }
type BindResponse struct {
	LDAPResult
	ServerSASLCreds []byte
}

// Encode encodes the BindResponse contents (without the APPLICATION tag).
func (r *BindResponse) Encode() ([]byte, error) {
	encoder := ber.NewBEREncoder(64)
	if err := r.LDAPResult.Encode(encoder); err != nil {
		return nil, err
	}
	if r.ServerSASLCreds != nil {
		if err := encoder.WriteTaggedValue(ContextTagServerSASLCreds, false, r.ServerSASLCreds); err != nil {
			return nil, err
		}
	}
	return encoder.Bytes(), nil
}

// ParseBindResponse decodes BindResponse contents.
func ParseBindResponse(data []byte) (*BindResponse, error) {
	decoder := ber.NewBERDecoder(data)
	r := &BindResponse{}
	if err := r.LDAPResult.decode(decoder); err != nil {
		return nil, err
	}
	if decoder.IsContextTag(ContextTagServerSASLCreds) {
		_, _, creds, err := decoder.ReadTaggedValue()
		if err != nil {
			return nil, NewParseError(decoder.Offset(), "failed to read serverSaslCreds", err)
		}
		r.ServerSASLCreds = creds
	}
	return r, nil
}

// ExtendedResponse represents an LDAP Extended Response.
// Per RFC 4511 Section 4.12:
// ExtendedResponse ::= [APPLICATION 24] SEQUENCE {
//
//	COMPONENTS OF LDAPResult,
//	responseName     [10] LDAPOID OPTIONAL,
//	responseValue    [11] OCTET STRING OPTIONAL
//
// }
type ExtendedResponse struct {
	LDAPResult
	Name  string
	Value []byte
}

// Encode encodes the ExtendedResponse contents (without the APPLICATION tag).
func (r *ExtendedResponse) Encode() ([]byte, error) {
	encoder := ber.NewBEREncoder(64)
	if err := r.LDAPResult.Encode(encoder); err != nil {
		return nil, err
	}
	if r.Name != "" {
		if err := encoder.WriteTaggedValue(ContextTagResponseName, false, []byte(r.Name)); err != nil {
			return nil, err
		}
	}
	if r.Value != nil {
		if err := encoder.WriteTaggedValue(ContextTagResponseValue, false, r.Value); err != nil {
			return nil, err
		}
	}
	return encoder.Bytes(), nil
}

// ParseExtendedResponse decodes ExtendedResponse contents.
func ParseExtendedResponse(data []byte) (*ExtendedResponse, error) {
	decoder := ber.NewBERDecoder(data)
	r := &ExtendedResponse{}
	if err := r.LDAPResult.decode(decoder); err != nil {
		return nil, err
	}
	if decoder.IsContextTag(ContextTagResponseName) {
		_, _, name, err := decoder.ReadTaggedValue()
		if err != nil {
			return nil, NewParseError(decoder.Offset(), "failed to read responseName", err)
		}
		r.Name = string(name)
	}
	if decoder.IsContextTag(ContextTagResponseValue) {
		_, _, value, err := decoder.ReadTaggedValue()
		if err != nil {
			return nil, NewParseError(decoder.Offset(), "failed to read responseValue", err)
		}
		r.Value = value
	}
	return r, nil
}

// NewResultMessage synthesizes the final response to a request of the given
// type. It returns nil for requests that have no response (Unbind, Abandon).
func NewResultMessage(messageID int, request OperationType, code ResultCode, diagnostic string) *LDAPMessage {
	respType, ok := request.ResponseType()
	if !ok {
		return nil
	}
	result := LDAPResult{ResultCode: code, DiagnosticMessage: diagnostic}
	encoder := ber.NewBEREncoder(32 + len(diagnostic))
	// LDAPResult encoding into a fresh buffer cannot fail.
	_ = result.Encode(encoder)
	return NewMessage(messageID, int(respType), encoder.Bytes())
}

// NewBindResponseMessage wraps a BindResponse in a message.
func NewBindResponseMessage(messageID int, resp *BindResponse) (*LDAPMessage, error) {
	data, err := resp.Encode()
	if err != nil {
		return nil, err
	}
	return NewMessage(messageID, ApplicationBindResponse, data), nil
}

// NewExtendedResponseMessage wraps an ExtendedResponse in a message.
func NewExtendedResponseMessage(messageID int, resp *ExtendedResponse) (*LDAPMessage, error) {
	data, err := resp.Encode()
	if err != nil {
		return nil, err
	}
	return NewMessage(messageID, ApplicationExtendedResponse, data), nil
}

// NewNoticeOfDisconnection builds the unsolicited notification (message id 0)
// a server sends before closing a connection (RFC 4511 Section 4.4.1).
func NewNoticeOfDisconnection(code ResultCode, diagnostic string) *LDAPMessage {
	msg, _ := NewExtendedResponseMessage(0, &ExtendedResponse{
		LDAPResult: LDAPResult{ResultCode: code, DiagnosticMessage: diagnostic},
		Name:       OIDNoticeOfDisconnection,
	})
	return msg
}
