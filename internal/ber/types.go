package ber

// Tag class constants (bits 7-8 of the tag byte)
const (
	ClassUniversal       = 0x00 // 00xxxxxx
	ClassApplication     = 0x40 // 01xxxxxx
	ClassContextSpecific = 0x80 // 10xxxxxx
	ClassPrivate         = 0xC0 // 11xxxxxx
)

// Constructed flag (bit 6 of the tag byte)
const (
	TypePrimitive   = 0x00 // xx0xxxxx
	TypeConstructed = 0x20 // xx1xxxxx
)

// Bit masks for splitting a short-form identifier octet.
const (
	classMask       = 0xC0
	constructedMask = 0x20
	numberMask      = 0x1F
)

// Universal tag numbers used by LDAP.
const (
	TagBoolean     = 0x01
	TagInteger     = 0x02
	TagOctetString = 0x04
	TagNull        = 0x05
	TagEnumerated  = 0x0A
	TagSequence    = 0x10
	TagSet         = 0x11
)

// Length encoding constants
const (
	// LengthLongFormBit indicates long form length encoding (bit 8 set)
	LengthLongFormBit = 0x80
	// MaxShortFormLength is the maximum length encodable in short form (0-127)
	MaxShortFormLength = 127
	// maxLengthOctets bounds long-form lengths to values that fit an int32.
	maxLengthOctets = 4
)

// Header describes the identifier and length octets of one TLV element.
type Header struct {
	Class       int
	Constructed bool
	Number      int
	// Length is the number of content octets.
	Length int
	// Size is the number of identifier and length octets.
	Size int
}

// Total returns the full encoded size of the element.
func (h Header) Total() int {
	return h.Size + h.Length
}
