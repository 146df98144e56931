package ldap

import (
	"errors"

	"github.com/KilimcininKorOglu/lload/internal/ber"
)

// ReadMessage frames and parses the first LDAP message in buf.
//
// It returns the message and the number of bytes it occupied. When buf ends
// before the message does, it returns ErrIncomplete and the caller should
// retry once more data has arrived. Any other error matches ErrMalformed (or
// ErrMessageTooLarge) and means the stream cannot be recovered. maxSize bounds
// the total encoded size of a message; zero disables the limit.
//
// ReadMessage never retains or modifies buf.
func ReadMessage(buf []byte, maxSize int) (*LDAPMessage, int, error) {
	h, err := ber.ParseHeader(buf)
	if err != nil {
		if errors.Is(err, ber.ErrUnexpectedEOF) {
			return nil, 0, ErrIncomplete
		}
		return nil, 0, NewParseError(0, "invalid LDAPMessage header", err)
	}
	if h.Class != ber.ClassUniversal || !h.Constructed || h.Number != ber.TagSequence {
		return nil, 0, NewParseError(0, "expected SEQUENCE for LDAPMessage", ber.ErrTagMismatch)
	}
	if maxSize > 0 && h.Total() > maxSize {
		return nil, 0, ErrMessageTooLarge
	}
	if len(buf) < h.Total() {
		return nil, 0, ErrIncomplete
	}

	msg, err := parseEnvelope(buf[h.Size:h.Total()], h.Size)
	if err != nil {
		return nil, 0, err
	}
	return msg, h.Total(), nil
}

// ParseLDAPMessage parses exactly one complete BER-encoded LDAP message.
func ParseLDAPMessage(data []byte) (*LDAPMessage, error) {
	msg, n, err := ReadMessage(data, 0)
	if errors.Is(err, ErrIncomplete) {
		return nil, NewParseError(len(data), "truncated LDAPMessage", ber.ErrUnexpectedEOF)
	}
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, NewParseError(n, "trailing data after LDAPMessage", nil)
	}
	return msg, nil
}

// parseEnvelope decodes the contents of the outer SEQUENCE. base is the
// offset of content within the original buffer, for error reporting.
func parseEnvelope(content []byte, base int) (*LDAPMessage, error) {
	decoder := ber.NewBERDecoder(content)

	msgID, err := decoder.ReadInteger()
	if err != nil {
		return nil, NewParseError(base+decoder.Offset(), "failed to read messageID", err)
	}
	if msgID < MinMessageID || msgID > MaxMessageID {
		return nil, NewParseError(base, "messageID out of range", ErrInvalidMessageID)
	}

	opStart := decoder.Offset()
	op, err := decoder.ReadHeader()
	if err != nil {
		return nil, NewParseError(base+opStart, "failed to read protocolOp", err)
	}
	if op.Class != ber.ClassApplication {
		return nil, NewParseError(base+opStart, "protocolOp must have APPLICATION tag class", ErrInvalidOperation)
	}
	if decoder.Remaining() < op.Length {
		return nil, NewParseError(base+opStart, "protocolOp overruns LDAPMessage", ber.ErrUnexpectedEOF)
	}

	dataStart := decoder.Offset()
	data := make([]byte, op.Length)
	copy(data, content[dataStart:dataStart+op.Length])
	decoder.SetOffset(dataStart + op.Length)

	msg := &LDAPMessage{
		MessageID: int(msgID),
		Operation: &RawOperation{
			Tag:         op.Number,
			Constructed: op.Constructed,
			Data:        data,
		},
	}

	if decoder.Remaining() == 0 {
		return msg, nil
	}

	ctrlStart := decoder.Offset()
	if !decoder.IsContextTag(ContextTagControls) {
		return nil, NewParseError(base+ctrlStart, "unexpected element after protocolOp", ErrInvalidControlSequence)
	}
	raw, err := decoder.ReadRawValue()
	if err != nil {
		return nil, NewParseError(base+ctrlStart, "failed to read controls", err)
	}
	if decoder.Remaining() != 0 {
		return nil, NewParseError(base+decoder.Offset(), "trailing data after controls", ErrInvalidControlSequence)
	}
	if _, err := parseControls(raw); err != nil {
		return nil, NewParseError(base+ctrlStart, "failed to parse controls", err)
	}
	msg.Controls = raw
	return msg, nil
}

// Encode encodes the LDAPMessage to BER format. Re-encoding a message read
// with ReadMessage yields the same bytes when the sender used minimal lengths.
func (m *LDAPMessage) Encode() ([]byte, error) {
	if m.MessageID < MinMessageID || m.MessageID > MaxMessageID {
		return nil, ErrInvalidMessageID
	}
	if m.Operation == nil {
		return nil, ErrMissingOperation
	}

	encoder := ber.NewBEREncoder(len(m.Operation.Data) + len(m.Controls) + 16)
	seqPos := encoder.BeginSequence()

	if err := encoder.WriteInteger(int64(m.MessageID)); err != nil {
		return nil, err
	}

	appPos := encoder.WriteApplicationTag(m.Operation.Tag, m.Operation.Constructed)
	encoder.WriteRaw(m.Operation.Data)
	if err := encoder.EndApplicationTag(appPos); err != nil {
		return nil, err
	}

	encoder.WriteRaw(m.Controls)

	if err := encoder.EndSequence(seqPos); err != nil {
		return nil, err
	}
	return encoder.Bytes(), nil
}

// NewMessage builds a message around already-encoded operation contents,
// using the constructed bit RFC 4511 assigns to the tag.
func NewMessage(messageID, tag int, data []byte) *LDAPMessage {
	return &LDAPMessage{
		MessageID: messageID,
		Operation: &RawOperation{
			Tag:         tag,
			Constructed: isConstructedOperation(tag),
			Data:        data,
		},
	}
}
