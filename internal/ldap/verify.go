package ldap

import (
	"github.com/KilimcininKorOglu/lload/internal/ber"
)

// Context tags inside Verify Credentials values.
const (
	vcTagCookie      = 0
	vcTagServerCreds = 1
)

// VerifyCredentialsRequest asks a server to check credentials without
// changing the identity bound to the connection carrying the request.
//
//	VCRequest ::= SEQUENCE {
//	    cookie          [0] OCTET STRING OPTIONAL,
//	    name            LDAPDN,
//	    authentication  AuthenticationChoice }
type VerifyCredentialsRequest struct {
	// Cookie continues a multi-step SASL exchange.
	Cookie          []byte
	Name            string
	AuthMethod      AuthMethod
	SimplePassword  []byte
	SASLCredentials *SASLCredentials
}

// NewVerifyCredentialsRequest builds a request carrying the credentials of a
// client BindRequest.
func NewVerifyCredentialsRequest(bind *BindRequest, cookie []byte) *VerifyCredentialsRequest {
	return &VerifyCredentialsRequest{
		Cookie:          cookie,
		Name:            bind.Name,
		AuthMethod:      bind.AuthMethod,
		SimplePassword:  bind.SimplePassword,
		SASLCredentials: bind.SASLCredentials,
	}
}

// Encode returns the requestValue of the extended operation.
func (r *VerifyCredentialsRequest) Encode() ([]byte, error) {
	encoder := ber.NewBEREncoder(64)
	pos := encoder.BeginSequence()
	if r.Cookie != nil {
		if err := encoder.WriteTaggedValue(vcTagCookie, false, r.Cookie); err != nil {
			return nil, err
		}
	}
	if err := encoder.WriteOctetString([]byte(r.Name)); err != nil {
		return nil, err
	}
	if err := encodeAuthChoice(encoder, r.AuthMethod, r.SimplePassword, r.SASLCredentials); err != nil {
		return nil, err
	}
	if err := encoder.EndSequence(pos); err != nil {
		return nil, err
	}
	return encoder.Bytes(), nil
}

// ParseVerifyCredentialsRequest decodes a requestValue.
func ParseVerifyCredentialsRequest(value []byte) (*VerifyCredentialsRequest, error) {
	decoder := ber.NewBERDecoder(value)
	seq, err := decoder.ReadSequenceContents()
	if err != nil {
		return nil, NewParseError(0, "expected SEQUENCE for verify credentials request", err)
	}
	r := &VerifyCredentialsRequest{}
	if seq.IsContextTag(vcTagCookie) {
		if _, _, r.Cookie, err = seq.ReadTaggedValue(); err != nil {
			return nil, NewParseError(seq.Offset(), "failed to read cookie", err)
		}
	}
	name, err := seq.ReadOctetString()
	if err != nil {
		return nil, NewParseError(seq.Offset(), "failed to read name", err)
	}
	r.Name = string(name)
	if err := decodeAuthChoice(seq, &r.AuthMethod, &r.SimplePassword, &r.SASLCredentials); err != nil {
		return nil, err
	}
	return r, nil
}

// Message wraps the request in an ExtendedRequest message.
func (r *VerifyCredentialsRequest) Message(messageID int) (*LDAPMessage, error) {
	value, err := r.Encode()
	if err != nil {
		return nil, err
	}
	ext := &ExtendedRequest{Name: OIDVerifyCredentials, Value: value}
	return ext.Message(messageID)
}

// VerifyCredentialsResponse carries the outcome of the verification. The
// enclosing ExtendedResponse reports whether the operation itself ran.
//
//	VCResponse ::= SEQUENCE {
//	    resultCode         ResultCode,
//	    diagnosticMessage  LDAPString,
//	    cookie             [0] OCTET STRING OPTIONAL,
//	    serverSaslCreds    [1] OCTET STRING OPTIONAL }
type VerifyCredentialsResponse struct {
	ResultCode        ResultCode
	DiagnosticMessage string
	Cookie            []byte
	ServerSASLCreds   []byte
}

// Encode returns the responseValue of the extended operation.
func (r *VerifyCredentialsResponse) Encode() ([]byte, error) {
	encoder := ber.NewBEREncoder(64)
	pos := encoder.BeginSequence()
	if err := encoder.WriteEnumerated(int64(r.ResultCode)); err != nil {
		return nil, err
	}
	if err := encoder.WriteOctetString([]byte(r.DiagnosticMessage)); err != nil {
		return nil, err
	}
	if r.Cookie != nil {
		if err := encoder.WriteTaggedValue(vcTagCookie, false, r.Cookie); err != nil {
			return nil, err
		}
	}
	if r.ServerSASLCreds != nil {
		if err := encoder.WriteTaggedValue(vcTagServerCreds, false, r.ServerSASLCreds); err != nil {
			return nil, err
		}
	}
	if err := encoder.EndSequence(pos); err != nil {
		return nil, err
	}
	return encoder.Bytes(), nil
}

// ParseVerifyCredentialsResponse decodes a responseValue.
func ParseVerifyCredentialsResponse(value []byte) (*VerifyCredentialsResponse, error) {
	decoder := ber.NewBERDecoder(value)
	seq, err := decoder.ReadSequenceContents()
	if err != nil {
		return nil, NewParseError(0, "expected SEQUENCE for verify credentials response", err)
	}
	r := &VerifyCredentialsResponse{}
	code, err := seq.ReadEnumerated()
	if err != nil {
		return nil, NewParseError(seq.Offset(), "failed to read resultCode", err)
	}
	r.ResultCode = ResultCode(code)
	diag, err := seq.ReadOctetString()
	if err != nil {
		return nil, NewParseError(seq.Offset(), "failed to read diagnosticMessage", err)
	}
	r.DiagnosticMessage = string(diag)
	for seq.Remaining() > 0 {
		tag, _, v, err := seq.ReadTaggedValue()
		if err != nil {
			return nil, NewParseError(seq.Offset(), "failed to read optional field", err)
		}
		switch tag {
		case vcTagCookie:
			r.Cookie = v
		case vcTagServerCreds:
			r.ServerSASLCreds = v
		}
	}
	return r, nil
}
