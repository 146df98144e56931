// Package ldap implements the parts of the LDAP wire protocol (RFC 4511)
// that a load-balancing proxy needs.
//
// # Message Structure
//
// All LDAP messages follow the LDAPMessage envelope structure:
//
//	LDAPMessage ::= SEQUENCE {
//	    messageID       MessageID,
//	    protocolOp      CHOICE { ... },
//	    controls        [0] Controls OPTIONAL
//	}
//
// The proxy decodes the envelope and leaves protocolOp and controls as raw
// bytes, so a forwarded message differs from the received one only in its
// message id.
//
// # Framing
//
// ReadMessage is a pure function over a byte buffer:
//
//	msg, n, err := ldap.ReadMessage(buf, maxSize)
//	switch {
//	case errors.Is(err, ldap.ErrIncomplete):
//	    // keep buf, read more
//	case err != nil:
//	    // framing error, close the connection
//	default:
//	    buf = buf[n:]
//	}
//
// # Operations the proxy looks inside
//
// Bind requests and responses (identity tracking), Abandon requests (target
// message id), Extended requests and responses (StartTLS, Who am I?, Verify
// Credentials, Notice of Disconnection) and the LDAPResult of final responses.
// NewResultMessage synthesizes the matching response for any request type
// when the proxy must answer on a server's behalf.
package ldap
