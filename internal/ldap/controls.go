package ldap

import (
	"github.com/KilimcininKorOglu/lload/internal/ber"
)

// Control OIDs the proxy generates or inspects.
const (
	// OIDProxiedAuthz is the Proxied Authorization control (RFC 4370).
	OIDProxiedAuthz = "2.16.840.1.113730.3.4.18"
)

// Control represents an LDAP control as defined in RFC 4511 Section 4.1.11
// Control ::= SEQUENCE {
//
//	controlType             LDAPOID,
//	criticality             BOOLEAN DEFAULT FALSE,
//	controlValue            OCTET STRING OPTIONAL
//
// }
type Control struct {
	// OID is the control type OID
	OID string
	// Criticality indicates whether the control is critical
	Criticality bool
	// Value is the optional control value
	Value []byte
}

// NewProxiedAuthzControl returns a critical Proxied Authorization control
// asserting the given authorization identity ("dn:..." or "" for anonymous).
func NewProxiedAuthzControl(authzID string) Control {
	return Control{
		OID:         OIDProxiedAuthz,
		Criticality: true,
		Value:       []byte(authzID),
	}
}

// ParsedControls decodes the message's controls.
func (m *LDAPMessage) ParsedControls() ([]Control, error) {
	if len(m.Controls) == 0 {
		return nil, nil
	}
	return parseControls(m.Controls)
}

// AddControl appends ctrl to the message's controls, re-encoding the [0] element.
func (m *LDAPMessage) AddControl(ctrl Control) error {
	controls, err := m.ParsedControls()
	if err != nil {
		return err
	}
	raw, err := encodeControls(append(controls, ctrl))
	if err != nil {
		return err
	}
	m.Controls = raw
	return nil
}

// parseControls decodes a complete [0] Controls element.
// Controls ::= SEQUENCE OF control Control
func parseControls(raw []byte) ([]Control, error) {
	decoder := ber.NewBERDecoder(raw)
	inner, err := decoder.ReadContextTagContents(ContextTagControls)
	if err != nil {
		return nil, err
	}

	var controls []Control
	for inner.Remaining() > 0 {
		ctrl, err := parseControl(inner)
		if err != nil {
			return nil, err
		}
		controls = append(controls, ctrl)
	}
	return controls, nil
}

func parseControl(decoder *ber.BERDecoder) (Control, error) {
	var ctrl Control

	seq, err := decoder.ReadSequenceContents()
	if err != nil {
		return ctrl, err
	}

	oid, err := seq.ReadOctetString()
	if err != nil {
		return ctrl, NewParseError(seq.Offset(), "failed to read control OID", err)
	}
	if len(oid) == 0 {
		return ctrl, NewParseError(seq.Offset(), "empty control OID", ErrInvalidControlSequence)
	}
	ctrl.OID = string(oid)

	if seq.IsUniversalTag(ber.TagBoolean) {
		if ctrl.Criticality, err = seq.ReadBoolean(); err != nil {
			return ctrl, NewParseError(seq.Offset(), "failed to read control criticality", err)
		}
	}
	if seq.IsUniversalTag(ber.TagOctetString) {
		if ctrl.Value, err = seq.ReadOctetString(); err != nil {
			return ctrl, NewParseError(seq.Offset(), "failed to read control value", err)
		}
	}
	if seq.Remaining() != 0 {
		return ctrl, NewParseError(seq.Offset(), "trailing data in control", ErrInvalidControlSequence)
	}
	return ctrl, nil
}

// encodeControls encodes a [0] element whose children are the Control
// SEQUENCEs themselves, as RFC 4511 requires.
func encodeControls(controls []Control) ([]byte, error) {
	if len(controls) == 0 {
		return nil, nil
	}
	encoder := ber.NewBEREncoder(64)
	ctxPos := encoder.WriteContextTag(ContextTagControls, true)
	for _, ctrl := range controls {
		seqPos := encoder.BeginSequence()
		if err := encoder.WriteOctetString([]byte(ctrl.OID)); err != nil {
			return nil, err
		}
		if ctrl.Criticality {
			if err := encoder.WriteBoolean(true); err != nil {
				return nil, err
			}
		}
		if ctrl.Value != nil {
			if err := encoder.WriteOctetString(ctrl.Value); err != nil {
				return nil, err
			}
		}
		if err := encoder.EndSequence(seqPos); err != nil {
			return nil, err
		}
	}
	if err := encoder.EndContextTag(ctxPos); err != nil {
		return nil, err
	}
	return encoder.Bytes(), nil
}
