package ber

import (
	"errors"
)

// Errors returned by the encoder
var (
	ErrInvalidTagClass  = errors.New("ber: invalid tag class")
	ErrInvalidTagNumber = errors.New("ber: invalid tag number")
	ErrNegativeLength   = errors.New("ber: negative length not allowed")
	ErrUnbalanced       = errors.New("ber: end without matching begin")
)

// BEREncoder encodes ASN.1 values using BER (Basic Encoding Rules).
//
// Constructed values are written with a Begin/End pair: Begin reserves the
// identifier octet and returns its position, End back-patches the definite
// length once the content is known. Lengths always use the minimal form, so
// equal values always encode to equal bytes.
type BEREncoder struct {
	buf []byte
}

// NewBEREncoder creates a new BER encoder with an optional initial capacity.
func NewBEREncoder(capacity int) *BEREncoder {
	if capacity <= 0 {
		capacity = 64
	}
	return &BEREncoder{buf: make([]byte, 0, capacity)}
}

// Bytes returns the encoded bytes.
func (e *BEREncoder) Bytes() []byte {
	return e.buf
}

// Reset clears the encoder buffer for reuse.
func (e *BEREncoder) Reset() {
	e.buf = e.buf[:0]
}

// Len returns the current length of encoded data.
func (e *BEREncoder) Len() int {
	return len(e.buf)
}

// WriteTag writes a BER tag byte(s) to the buffer.
func (e *BEREncoder) WriteTag(class, constructed, number int) error {
	if class != ClassUniversal && class != ClassApplication &&
		class != ClassContextSpecific && class != ClassPrivate {
		return ErrInvalidTagClass
	}
	if number < 0 {
		return ErrInvalidTagNumber
	}

	if number < numberMask {
		e.buf = append(e.buf, byte(class)|byte(constructed)|byte(number))
		return nil
	}

	e.buf = append(e.buf, byte(class)|byte(constructed)|numberMask)
	e.writeBase128(number)
	return nil
}

// writeBase128 encodes an integer in base-128 format (high bit indicates continuation)
func (e *BEREncoder) writeBase128(value int) {
	var tmp [5]byte
	i := len(tmp) - 1
	tmp[i] = byte(value & 0x7F)
	for value >>= 7; value > 0; value >>= 7 {
		i--
		tmp[i] = byte(value&0x7F) | 0x80
	}
	e.buf = append(e.buf, tmp[i:]...)
}

// WriteLength writes a BER length value to the buffer.
// Uses short form for lengths 0-127, long form for larger values.
func (e *BEREncoder) WriteLength(length int) error {
	if length < 0 {
		return ErrNegativeLength
	}
	e.buf = appendLength(e.buf, length)
	return nil
}

func lengthSize(length int) int {
	if length <= MaxShortFormLength {
		return 1
	}
	n := 1
	for l := length; l > 0; l >>= 8 {
		n++
	}
	return n
}

func appendLength(buf []byte, length int) []byte {
	if length <= MaxShortFormLength {
		return append(buf, byte(length))
	}
	numBytes := lengthSize(length) - 1
	buf = append(buf, byte(LengthLongFormBit|numBytes))
	for i := numBytes - 1; i >= 0; i-- {
		buf = append(buf, byte(length>>(i*8)))
	}
	return buf
}

// WriteBoolean writes a BER-encoded boolean value (TRUE as 0xFF).
func (e *BEREncoder) WriteBoolean(v bool) error {
	var b byte
	if v {
		b = 0xFF
	}
	e.buf = append(e.buf, TagBoolean, 0x01, b)
	return nil
}

// WriteInteger writes a BER-encoded integer value.
// Uses the minimum number of octets with two's complement representation.
func (e *BEREncoder) WriteInteger(v int64) error {
	return e.writeIntegerTagged(ClassUniversal|TagInteger, v)
}

// WriteEnumerated writes a BER-encoded enumerated value.
func (e *BEREncoder) WriteEnumerated(v int64) error {
	return e.writeIntegerTagged(ClassUniversal|TagEnumerated, v)
}

func (e *BEREncoder) writeIntegerTagged(tag byte, v int64) error {
	encoded := encodeInteger(v)
	e.buf = append(e.buf, tag)
	e.buf = appendLength(e.buf, len(encoded))
	e.buf = append(e.buf, encoded...)
	return nil
}

// encodeInteger encodes an int64 as a minimal two's complement byte slice.
func encodeInteger(v int64) []byte {
	n := 8
	for n > 1 {
		top := byte(v >> ((n - 1) * 8))
		next := byte(v >> ((n - 2) * 8))
		if (top == 0x00 && next&0x80 == 0) || (top == 0xFF && next&0x80 != 0) {
			n--
			continue
		}
		break
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = byte(v >> ((n - 1 - i) * 8))
	}
	return out
}

// WriteOctetString writes a BER-encoded octet string.
func (e *BEREncoder) WriteOctetString(v []byte) error {
	e.buf = append(e.buf, TagOctetString)
	e.buf = appendLength(e.buf, len(v))
	e.buf = append(e.buf, v...)
	return nil
}

// WriteNull writes a BER-encoded null value.
func (e *BEREncoder) WriteNull() error {
	e.buf = append(e.buf, TagNull, 0x00)
	return nil
}

// WriteRaw writes raw bytes directly to the buffer.
func (e *BEREncoder) WriteRaw(data []byte) {
	e.buf = append(e.buf, data...)
}

// WriteTaggedValue writes a context-specific tagged value.
func (e *BEREncoder) WriteTaggedValue(tagNumber int, constructed bool, value []byte) error {
	flag := TypePrimitive
	if constructed {
		flag = TypeConstructed
	}
	if err := e.WriteTag(ClassContextSpecific, flag, tagNumber); err != nil {
		return err
	}
	e.buf = appendLength(e.buf, len(value))
	e.buf = append(e.buf, value...)
	return nil
}

// begin writes an identifier and returns the position of the first content
// octet, which is where the length will be inserted by end.
func (e *BEREncoder) begin(class, constructed, number int) int {
	_ = e.WriteTag(class, constructed, number)
	return len(e.buf)
}

// end inserts the length of everything written since pos.
func (e *BEREncoder) end(pos int) error {
	if pos < 0 || pos > len(e.buf) {
		return ErrUnbalanced
	}
	length := len(e.buf) - pos
	size := lengthSize(length)
	e.buf = append(e.buf, make([]byte, size)...)
	copy(e.buf[pos+size:], e.buf[pos:pos+length])
	appendLength(e.buf[pos:pos], length)
	return nil
}

// BeginSequence starts a SEQUENCE and returns the position to pass to EndSequence.
func (e *BEREncoder) BeginSequence() int {
	return e.begin(ClassUniversal, TypeConstructed, TagSequence)
}

// EndSequence completes a SEQUENCE started with BeginSequence.
func (e *BEREncoder) EndSequence(pos int) error {
	return e.end(pos)
}

// BeginSet starts a SET and returns the position to pass to EndSet.
func (e *BEREncoder) BeginSet() int {
	return e.begin(ClassUniversal, TypeConstructed, TagSet)
}

// EndSet completes a SET started with BeginSet.
func (e *BEREncoder) EndSet(pos int) error {
	return e.end(pos)
}

// WriteApplicationTag starts an APPLICATION-tagged element.
func (e *BEREncoder) WriteApplicationTag(number int, constructed bool) int {
	return e.begin(ClassApplication, constructedFlag(constructed), number)
}

// EndApplicationTag completes an element started with WriteApplicationTag.
func (e *BEREncoder) EndApplicationTag(pos int) error {
	return e.end(pos)
}

// WriteContextTag starts a context-specific element.
func (e *BEREncoder) WriteContextTag(number int, constructed bool) int {
	return e.begin(ClassContextSpecific, constructedFlag(constructed), number)
}

// EndContextTag completes an element started with WriteContextTag.
func (e *BEREncoder) EndContextTag(pos int) error {
	return e.end(pos)
}

func constructedFlag(c bool) int {
	if c {
		return TypeConstructed
	}
	return TypePrimitive
}
