package server

import (
	"github.com/KilimcininKorOglu/lload/internal/config"
	"github.com/KilimcininKorOglu/lload/internal/ldap"
)

// WhoAmIHandler implements the Who Am I extended operation (RFC 4532).
//
// The proxy knows the authorization identity of clients that are anonymous
// or authenticated through Verify Credentials and answers for them:
// an empty value for anonymous clients and "dn:<DN>" otherwise. A pinned
// client's identity lives on its upstream connection, so the request is
// forwarded there.
type WhoAmIHandler struct{}

// NewWhoAmIHandler creates a new WhoAmIHandler.
func NewWhoAmIHandler() *WhoAmIHandler {
	return &WhoAmIHandler{}
}

// OID returns the object identifier for the Who Am I extended operation.
func (h *WhoAmIHandler) OID() string {
	return ldap.OIDWhoAmI
}

// Handle answers or forwards the request.
func (h *WhoAmIHandler) Handle(c *ClientConn, op *Operation, msg *ldap.LDAPMessage, req *ldap.ExtendedRequest) {
	if c.pinned != nil {
		c.forward(op, msg)
		return
	}

	var authzID string
	if c.state == bindBound && c.boundVia == config.BindVerifyCredentials {
		authzID = "dn:" + c.identity
	}

	c.answerExtended(op, &ldap.ExtendedResponse{
		LDAPResult: ldap.LDAPResult{ResultCode: ldap.ResultSuccess},
		Value:      []byte(authzID),
	})
}
