package ber

// BERDecoder decodes ASN.1 values using BER (Basic Encoding Rules).
// It never modifies the slice it reads from.
type BERDecoder struct {
	data   []byte
	offset int
}

// NewBERDecoder creates a new BER decoder for the given data.
func NewBERDecoder(data []byte) *BERDecoder {
	return &BERDecoder{data: data}
}

// Offset returns the current read position in the data.
func (d *BERDecoder) Offset() int {
	return d.offset
}

// Remaining returns the number of bytes remaining to be read.
func (d *BERDecoder) Remaining() int {
	return len(d.data) - d.offset
}

// SetOffset sets the current read position.
func (d *BERDecoder) SetOffset(offset int) {
	d.offset = offset
}

// ParseHeader decodes the identifier and length octets at the start of data.
// It returns ErrUnexpectedEOF (wrapped) when data ends inside the header; the
// content octets themselves are not required to be present.
func ParseHeader(data []byte) (Header, error) {
	d := NewBERDecoder(data)
	return d.ReadHeader()
}

// ReadHeader reads a tag and a length and reports both, leaving the offset at
// the first content octet.
func (d *BERDecoder) ReadHeader() (Header, error) {
	start := d.offset
	class, constructed, number, err := d.ReadTag()
	if err != nil {
		return Header{}, err
	}
	length, err := d.ReadLength()
	if err != nil {
		d.offset = start
		return Header{}, err
	}
	return Header{
		Class:       class,
		Constructed: constructed == TypeConstructed,
		Number:      number,
		Length:      length,
		Size:        d.offset - start,
	}, nil
}

// ReadTag reads a BER tag from the current position.
// Returns the tag class, constructed flag, and tag number.
func (d *BERDecoder) ReadTag() (class, constructed, number int, err error) {
	start := d.offset
	if d.offset >= len(d.data) {
		return 0, 0, 0, NewDecodeError(start, "cannot read tag", ErrUnexpectedEOF)
	}

	first := d.data[d.offset]
	d.offset++

	class = int(first & classMask)
	constructed = int(first & constructedMask)
	number = int(first & numberMask)

	if number == numberMask {
		number, err = d.readBase128()
		if err != nil {
			d.offset = start
			return 0, 0, 0, NewDecodeError(start, "cannot read long form tag number", err)
		}
	}
	return class, constructed, number, nil
}

// readBase128 reads a base-128 encoded integer (used for long form tags).
func (d *BERDecoder) readBase128() (int, error) {
	result := 0
	for {
		if d.offset >= len(d.data) {
			return 0, ErrUnexpectedEOF
		}
		b := d.data[d.offset]
		d.offset++

		if result > (1 << 24) {
			return 0, NewDecodeError(d.offset-1, "tag number overflow", nil)
		}
		result = (result << 7) | int(b&0x7F)
		if b&0x80 == 0 {
			return result, nil
		}
	}
}

// ReadLength reads a definite BER length. Long-form lengths wider than four
// octets, or with the top bit of the value set, are rejected.
func (d *BERDecoder) ReadLength() (int, error) {
	start := d.offset
	if d.offset >= len(d.data) {
		return 0, NewDecodeError(start, "cannot read length", ErrUnexpectedEOF)
	}

	first := d.data[d.offset]
	d.offset++

	if first&LengthLongFormBit == 0 {
		return int(first), nil
	}

	numBytes := int(first & 0x7F)
	if numBytes == 0 {
		return 0, NewDecodeError(start, "indefinite length encoding", ErrIndefiniteLength)
	}
	if numBytes > maxLengthOctets {
		return 0, NewDecodeError(start, "length value overflow", ErrInvalidLength)
	}
	if d.offset+numBytes > len(d.data) {
		d.offset = start
		return 0, NewDecodeError(start, "truncated length encoding", ErrUnexpectedEOF)
	}

	length := 0
	for i := 0; i < numBytes; i++ {
		length = (length << 8) | int(d.data[d.offset])
		d.offset++
	}
	if length > 0x7FFFFFFF {
		return 0, NewDecodeError(start, "length value overflow", ErrInvalidLength)
	}
	return length, nil
}

// expect reads a header and verifies class, number and optionally the
// constructed bit. It also ensures the content octets are present.
func (d *BERDecoder) expect(class, number int, constructed *bool) (int, error) {
	start := d.offset
	h, err := d.ReadHeader()
	if err != nil {
		return 0, err
	}
	if h.Class != class || h.Number != number || (constructed != nil && h.Constructed != *constructed) {
		d.offset = start
		return 0, &TagMismatchError{
			Offset:         start,
			ExpectedClass:  class,
			ExpectedNumber: number,
			ActualClass:    h.Class,
			ActualNumber:   h.Number,
		}
	}
	if d.offset+h.Length > len(d.data) {
		d.offset = start
		return 0, NewDecodeError(start, "truncated value", ErrUnexpectedEOF)
	}
	return h.Length, nil
}

var (
	wantPrimitive   = false
	wantConstructed = true
)

// ReadBoolean reads a BER-encoded boolean value.
func (d *BERDecoder) ReadBoolean() (bool, error) {
	start := d.offset
	length, err := d.expect(ClassUniversal, TagBoolean, &wantPrimitive)
	if err != nil {
		return false, err
	}
	if length != 1 {
		return false, NewDecodeError(start, "boolean must have length 1", ErrInvalidBoolean)
	}
	v := d.data[d.offset]
	d.offset++
	return v != 0x00, nil
}

// ReadInteger reads a BER-encoded integer value.
func (d *BERDecoder) ReadInteger() (int64, error) {
	return d.readIntegerTagged(ClassUniversal, TagInteger)
}

// ReadEnumerated reads a BER-encoded enumerated value.
func (d *BERDecoder) ReadEnumerated() (int64, error) {
	return d.readIntegerTagged(ClassUniversal, TagEnumerated)
}

// ReadIntegerWithTag reads an integer value carried under a context tag.
func (d *BERDecoder) ReadIntegerWithTag(tag int) (int64, error) {
	return d.readIntegerTagged(ClassContextSpecific, tag)
}

func (d *BERDecoder) readIntegerTagged(class, number int) (int64, error) {
	start := d.offset
	length, err := d.expect(class, number, &wantPrimitive)
	if err != nil {
		return 0, err
	}
	if length == 0 {
		return 0, NewDecodeError(start, "integer must have at least 1 byte", ErrInvalidInteger)
	}
	if length > 8 {
		return 0, NewDecodeError(start, "integer too large for int64", ErrInvalidInteger)
	}
	return d.decodeInteger(length), nil
}

// decodeInteger decodes a two's complement integer from the current position.
func (d *BERDecoder) decodeInteger(length int) int64 {
	var result int64
	if d.data[d.offset]&0x80 != 0 {
		result = -1
	}
	for i := 0; i < length; i++ {
		result = (result << 8) | int64(d.data[d.offset])
		d.offset++
	}
	return result
}

// ReadOctetString reads a primitive BER-encoded octet string. The returned
// slice is a copy.
func (d *BERDecoder) ReadOctetString() ([]byte, error) {
	length, err := d.expect(ClassUniversal, TagOctetString, &wantPrimitive)
	if err != nil {
		return nil, err
	}
	return d.take(length), nil
}

// ReadNull reads a BER-encoded null value.
func (d *BERDecoder) ReadNull() error {
	start := d.offset
	length, err := d.expect(ClassUniversal, TagNull, &wantPrimitive)
	if err != nil {
		return err
	}
	if length != 0 {
		return NewDecodeError(start, "null must have length 0", ErrInvalidNull)
	}
	return nil
}

func (d *BERDecoder) take(length int) []byte {
	v := make([]byte, length)
	copy(v, d.data[d.offset:d.offset+length])
	d.offset += length
	return v
}

// PeekTag reads a tag without advancing the offset.
func (d *BERDecoder) PeekTag() (class, constructed, number int, err error) {
	saved := d.offset
	class, constructed, number, err = d.ReadTag()
	d.offset = saved
	return
}

// Skip skips the current TLV (Tag-Length-Value) element.
func (d *BERDecoder) Skip() error {
	_, err := d.ReadRawValue()
	return err
}

// ReadRawValue reads the raw bytes of the current TLV element (including tag and length).
func (d *BERDecoder) ReadRawValue() ([]byte, error) {
	start := d.offset
	h, err := d.ReadHeader()
	if err != nil {
		return nil, err
	}
	if d.offset+h.Length > len(d.data) {
		d.offset = start
		return nil, NewDecodeError(start, "truncated value", ErrUnexpectedEOF)
	}
	d.offset = start
	return d.take(h.Total()), nil
}

// ReadTaggedValue reads a context-specific tagged value.
// Returns the tag number and the raw value bytes.
func (d *BERDecoder) ReadTaggedValue() (tagNumber int, isConstructed bool, value []byte, err error) {
	start := d.offset
	h, err := d.ReadHeader()
	if err != nil {
		return 0, false, nil, err
	}
	if h.Class != ClassContextSpecific {
		d.offset = start
		return 0, false, nil, &TagMismatchError{
			Offset:         start,
			ExpectedClass:  ClassContextSpecific,
			ExpectedNumber: -1,
			ActualClass:    h.Class,
			ActualNumber:   h.Number,
		}
	}
	if d.offset+h.Length > len(d.data) {
		d.offset = start
		return 0, false, nil, NewDecodeError(start, "truncated tagged value", ErrUnexpectedEOF)
	}
	return h.Number, h.Constructed, d.take(h.Length), nil
}

// ExpectSequence reads and validates a SEQUENCE tag, returning the content length.
// The caller should read exactly 'length' bytes of content after this call.
func (d *BERDecoder) ExpectSequence() (int, error) {
	return d.expect(ClassUniversal, TagSequence, &wantConstructed)
}

// ExpectContextTag reads and validates a context-specific tag with the given number.
// Returns the content length.
func (d *BERDecoder) ExpectContextTag(num int) (int, error) {
	return d.expect(ClassContextSpecific, num, nil)
}

// ExpectApplicationTag reads and validates an application-specific tag with the given number.
// Returns the content length.
func (d *BERDecoder) ExpectApplicationTag(num int) (int, error) {
	return d.expect(ClassApplication, num, nil)
}

// IsContextTag checks if the next tag is a context-specific tag with the given number
// without consuming it.
func (d *BERDecoder) IsContextTag(num int) bool {
	class, _, number, err := d.PeekTag()
	return err == nil && class == ClassContextSpecific && number == num
}

// IsUniversalTag checks if the next tag is the given universal tag without consuming it.
func (d *BERDecoder) IsUniversalTag(num int) bool {
	class, _, number, err := d.PeekTag()
	return err == nil && class == ClassUniversal && number == num
}

// ReadSequenceContents reads the contents of a SEQUENCE into a sub-decoder.
func (d *BERDecoder) ReadSequenceContents() (*BERDecoder, error) {
	length, err := d.ExpectSequence()
	if err != nil {
		return nil, err
	}
	return d.sub(length), nil
}

// ReadContextTagContents reads the contents of a context-specific tag into a sub-decoder.
func (d *BERDecoder) ReadContextTagContents(num int) (*BERDecoder, error) {
	length, err := d.ExpectContextTag(num)
	if err != nil {
		return nil, err
	}
	return d.sub(length), nil
}

func (d *BERDecoder) sub(length int) *BERDecoder {
	contents := d.data[d.offset : d.offset+length]
	d.offset += length
	return NewBERDecoder(contents)
}
