// Package ber implements the subset of ASN.1 BER (ITU-T X.690) that LDAP
// uses on the wire.
//
// The proxy mostly moves PDUs around without looking inside them, so the
// package is built around two needs: framing a byte stream into complete
// elements, and reading or writing the handful of fields the proxy has to
// touch (message ids, bind names, result codes, extended operation names).
//
// # Framing
//
// ParseHeader inspects the identifier and length octets at the front of a
// buffer. A wrapped ErrUnexpectedEOF means more bytes are needed; every other
// error means the stream is not valid BER and cannot be resynchronised.
//
//	h, err := ber.ParseHeader(buf)
//	if errors.Is(err, ber.ErrUnexpectedEOF) || len(buf) < h.Total() {
//	    // wait for more data
//	}
//
// # Encoding
//
// Use BEREncoder to build BER-encoded data. Constructed values use
// Begin/End pairs that back-patch a minimal definite length:
//
//	enc := ber.NewBEREncoder(64)
//	pos := enc.BeginSequence()
//	enc.WriteInteger(1)
//	enc.WriteOctetString([]byte("cn=admin"))
//	enc.EndSequence(pos)
//
// # Decoding
//
// BERDecoder reads values sequentially and never mutates its input:
//
//	dec := ber.NewBERDecoder(data)
//	seq, err := dec.ReadSequenceContents()
//	id, err := seq.ReadInteger()
//
// # References
//
//   - ITU-T X.690: ASN.1 encoding rules
//   - RFC 4511 Section 5.1: LDAP's restrictions on BER
package ber
