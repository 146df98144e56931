package ldap

import (
	"errors"

	"github.com/KilimcininKorOglu/lload/internal/ber"
)

// Authentication method tags (context-specific)
const (
	// AuthSimple is the tag for simple authentication [0]
	AuthSimple = 0
	// AuthSASL is the tag for SASL authentication [3]
	AuthSASL = 3
)

// AuthMethod represents the authentication method used in a BindRequest
type AuthMethod int

const (
	// AuthMethodSimple indicates simple (password) authentication
	AuthMethodSimple AuthMethod = iota
	// AuthMethodSASL indicates SASL authentication
	AuthMethodSASL
)

// String returns the string representation of the authentication method
func (a AuthMethod) String() string {
	switch a {
	case AuthMethodSimple:
		return "simple"
	case AuthMethodSASL:
		return "sasl"
	default:
		return "unknown"
	}
}

// SASLCredentials represents SASL authentication credentials
// SaslCredentials ::= SEQUENCE {
//
//	mechanism               LDAPString,
//	credentials             OCTET STRING OPTIONAL
//
// }
type SASLCredentials struct {
	Mechanism   string
	Credentials []byte
}

// BindRequest represents an LDAP Bind Request
// BindRequest ::= [APPLICATION 0] SEQUENCE {
//
//	version                 INTEGER (1 .. 127),
//	name                    LDAPDN,
//	authentication          AuthenticationChoice
//
// }
type BindRequest struct {
	Version         int
	Name            string
	AuthMethod      AuthMethod
	SimplePassword  []byte
	SASLCredentials *SASLCredentials
}

// Errors for BindRequest parsing
var (
	// ErrInvalidBindVersion is returned when the bind version is out of range
	ErrInvalidBindVersion = errors.New("ldap: bind version must be between 1 and 127")
	// ErrUnknownAuthMethod is returned when the authentication method is unknown
	ErrUnknownAuthMethod = errors.New("ldap: unknown authentication method")
	// ErrInvalidSASLCredentials is returned when SASL credentials are malformed
	ErrInvalidSASLCredentials = errors.New("ldap: invalid SASL credentials")
)

// NewSimpleBind returns a version 3 simple BindRequest. An empty name and
// password make an anonymous bind.
func NewSimpleBind(name string, password []byte) *BindRequest {
	return &BindRequest{
		Version:        3,
		Name:           name,
		AuthMethod:     AuthMethodSimple,
		SimplePassword: password,
	}
}

// ParseBindRequest parses a BindRequest from raw operation data.
func ParseBindRequest(data []byte) (*BindRequest, error) {
	if len(data) == 0 {
		return nil, NewParseError(0, "empty bind request data", nil)
	}

	decoder := ber.NewBERDecoder(data)
	req := &BindRequest{}

	version, err := decoder.ReadInteger()
	if err != nil {
		return nil, NewParseError(decoder.Offset(), "failed to read bind version", err)
	}
	if version < 1 || version > 127 {
		return nil, NewParseError(0, "bind version out of range", ErrInvalidBindVersion)
	}
	req.Version = int(version)

	name, err := decoder.ReadOctetString()
	if err != nil {
		return nil, NewParseError(decoder.Offset(), "failed to read bind name", err)
	}
	req.Name = string(name)

	if err := decodeAuthChoice(decoder, &req.AuthMethod, &req.SimplePassword, &req.SASLCredentials); err != nil {
		return nil, err
	}
	return req, nil
}

// decodeAuthChoice reads an AuthenticationChoice.
// AuthenticationChoice ::= CHOICE {
//
//	simple                  [0] OCTET STRING,
//	sasl                    [3] SaslCredentials
//
// }
func decodeAuthChoice(decoder *ber.BERDecoder, method *AuthMethod, password *[]byte, sasl **SASLCredentials) error {
	tagNum, constructed, authData, err := decoder.ReadTaggedValue()
	if err != nil {
		return NewParseError(decoder.Offset(), "failed to read authentication", err)
	}

	switch tagNum {
	case AuthSimple:
		*method = AuthMethodSimple
		*password = authData
	case AuthSASL:
		if !constructed {
			return NewParseError(decoder.Offset(), "SASL credentials must be constructed", ErrInvalidSASLCredentials)
		}
		saslDecoder := ber.NewBERDecoder(authData)
		creds := &SASLCredentials{}
		mech, err := saslDecoder.ReadOctetString()
		if err != nil {
			return NewParseError(decoder.Offset(), "failed to read SASL mechanism", err)
		}
		creds.Mechanism = string(mech)
		if saslDecoder.Remaining() > 0 {
			if creds.Credentials, err = saslDecoder.ReadOctetString(); err != nil {
				return NewParseError(decoder.Offset(), "failed to read SASL credentials", err)
			}
		}
		*method = AuthMethodSASL
		*sasl = creds
	default:
		return NewParseError(decoder.Offset(), "unknown authentication method tag", ErrUnknownAuthMethod)
	}
	return nil
}

// encodeAuthChoice writes an AuthenticationChoice.
func encodeAuthChoice(encoder *ber.BEREncoder, method AuthMethod, password []byte, sasl *SASLCredentials) error {
	switch method {
	case AuthMethodSimple:
		return encoder.WriteTaggedValue(AuthSimple, false, password)
	case AuthMethodSASL:
		if sasl == nil {
			return ErrInvalidSASLCredentials
		}
		pos := encoder.WriteContextTag(AuthSASL, true)
		if err := encoder.WriteOctetString([]byte(sasl.Mechanism)); err != nil {
			return err
		}
		if sasl.Credentials != nil {
			if err := encoder.WriteOctetString(sasl.Credentials); err != nil {
				return err
			}
		}
		return encoder.EndContextTag(pos)
	default:
		return ErrUnknownAuthMethod
	}
}

// Encode encodes the BindRequest to BER format (without the APPLICATION tag).
func (r *BindRequest) Encode() ([]byte, error) {
	encoder := ber.NewBEREncoder(64)
	if err := encoder.WriteInteger(int64(r.Version)); err != nil {
		return nil, err
	}
	if err := encoder.WriteOctetString([]byte(r.Name)); err != nil {
		return nil, err
	}
	if err := encodeAuthChoice(encoder, r.AuthMethod, r.SimplePassword, r.SASLCredentials); err != nil {
		return nil, err
	}
	return encoder.Bytes(), nil
}

// IsAnonymous returns true if this is an anonymous bind request.
// An anonymous bind has an empty name and empty simple password.
func (r *BindRequest) IsAnonymous() bool {
	return r.Name == "" && r.AuthMethod == AuthMethodSimple && len(r.SimplePassword) == 0
}

// Message wraps the request in an LDAPMessage with the given id.
func (r *BindRequest) Message(messageID int) (*LDAPMessage, error) {
	data, err := r.Encode()
	if err != nil {
		return nil, err
	}
	return NewMessage(messageID, ApplicationBindRequest, data), nil
}
