package ldap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindRequestSimple(t *testing.T) {
	req := NewSimpleBind("cn=alice,dc=example,dc=com", []byte("secret"))
	msg, err := req.Message(1)
	require.NoError(t, err)

	out, err := msg.Encode()
	require.NoError(t, err)
	back, _, err := ReadMessage(out, 0)
	require.NoError(t, err)
	assert.Equal(t, OperationType(ApplicationBindRequest), back.OperationType())

	parsed, err := ParseBindRequest(back.Operation.Data)
	require.NoError(t, err)
	assert.Equal(t, 3, parsed.Version)
	assert.Equal(t, "cn=alice,dc=example,dc=com", parsed.Name)
	assert.Equal(t, AuthMethodSimple, parsed.AuthMethod)
	assert.Equal(t, []byte("secret"), parsed.SimplePassword)
	assert.False(t, parsed.IsAnonymous())

	assert.True(t, NewSimpleBind("", nil).IsAnonymous())
}

func TestBindRequestSASL(t *testing.T) {
	req := &BindRequest{
		Version:         3,
		AuthMethod:      AuthMethodSASL,
		SASLCredentials: &SASLCredentials{Mechanism: "PLAIN", Credentials: []byte("\x00alice\x00pw")},
	}
	data, err := req.Encode()
	require.NoError(t, err)

	parsed, err := ParseBindRequest(data)
	require.NoError(t, err)
	assert.Equal(t, AuthMethodSASL, parsed.AuthMethod)
	require.NotNil(t, parsed.SASLCredentials)
	assert.Equal(t, "PLAIN", parsed.SASLCredentials.Mechanism)
	assert.Equal(t, []byte("\x00alice\x00pw"), parsed.SASLCredentials.Credentials)
}

func TestParseBindRequestErrors(t *testing.T) {
	_, err := ParseBindRequest(nil)
	assert.Error(t, err)

	// version 0
	_, err = ParseBindRequest([]byte{0x02, 0x01, 0x00, 0x04, 0x00, 0x80, 0x00})
	assert.ErrorIs(t, err, ErrInvalidBindVersion)

	// auth choice [2] is not defined
	_, err = ParseBindRequest([]byte{0x02, 0x01, 0x03, 0x04, 0x00, 0x82, 0x00})
	assert.ErrorIs(t, err, ErrUnknownAuthMethod)
}

func TestNewResultMessage(t *testing.T) {
	msg := NewResultMessage(12, ApplicationSearchRequest, ResultUnavailable, "no backend available")
	require.NotNil(t, msg)
	assert.Equal(t, 12, msg.MessageID)
	assert.Equal(t, OperationType(ApplicationSearchResultDone), msg.OperationType())

	res, err := ParseLDAPResult(msg.Operation.Data)
	require.NoError(t, err)
	assert.Equal(t, ResultUnavailable, res.ResultCode)
	assert.Equal(t, "no backend available", res.DiagnosticMessage)
	assert.Empty(t, res.MatchedDN)

	assert.Nil(t, NewResultMessage(3, ApplicationAbandonRequest, ResultSuccess, ""))
	assert.Nil(t, NewResultMessage(3, ApplicationUnbindRequest, ResultSuccess, ""))
}

func TestBindResponseRoundTrip(t *testing.T) {
	msg, err := NewBindResponseMessage(4, &BindResponse{
		LDAPResult:      LDAPResult{ResultCode: ResultSASLBindInProgress},
		ServerSASLCreds: []byte("challenge"),
	})
	require.NoError(t, err)

	parsed, err := ParseBindResponse(msg.Operation.Data)
	require.NoError(t, err)
	assert.Equal(t, ResultSASLBindInProgress, parsed.ResultCode)
	assert.Equal(t, []byte("challenge"), parsed.ServerSASLCreds)
}

func TestLDAPResultReferral(t *testing.T) {
	resp := &ExtendedResponse{LDAPResult: LDAPResult{
		ResultCode: ResultReferral,
		Referral:   []string{"ldap://a.example.com/", "ldap://b.example.com/"},
	}}
	data, err := resp.Encode()
	require.NoError(t, err)

	parsed, err := ParseExtendedResponse(data)
	require.NoError(t, err)
	assert.Equal(t, resp.Referral, parsed.Referral)
	assert.Empty(t, parsed.Name)
	assert.Nil(t, parsed.Value)
}

func TestExtendedRequestRoundTrip(t *testing.T) {
	msg, err := (&ExtendedRequest{Name: OIDWhoAmI}).Message(2)
	require.NoError(t, err)
	req, err := ParseExtendedRequest(msg.Operation.Data)
	require.NoError(t, err)
	assert.Equal(t, OIDWhoAmI, req.Name)
	assert.Nil(t, req.Value)

	msg, err = (&ExtendedRequest{Name: "1.2.3.4", Value: []byte{}}).Message(2)
	require.NoError(t, err)
	req, err = ParseExtendedRequest(msg.Operation.Data)
	require.NoError(t, err)
	assert.NotNil(t, req.Value)
	assert.Empty(t, req.Value)

	_, err = ParseExtendedRequest([]byte{0x04, 0x00})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestNoticeOfDisconnection(t *testing.T) {
	msg := NewNoticeOfDisconnection(ResultProtocolError, "duplicate message id")
	assert.Equal(t, 0, msg.MessageID)
	assert.Equal(t, OperationType(ApplicationExtendedResponse), msg.OperationType())

	resp, err := ParseExtendedResponse(msg.Operation.Data)
	require.NoError(t, err)
	assert.Equal(t, OIDNoticeOfDisconnection, resp.Name)
	assert.Equal(t, ResultProtocolError, resp.ResultCode)
	assert.Equal(t, "duplicate message id", resp.DiagnosticMessage)
}

func TestVerifyCredentialsRequest(t *testing.T) {
	bind := NewSimpleBind("cn=bob", []byte("pw"))
	vc := NewVerifyCredentialsRequest(bind, []byte("cookie"))
	msg, err := vc.Message(77)
	require.NoError(t, err)

	ext, err := ParseExtendedRequest(msg.Operation.Data)
	require.NoError(t, err)
	assert.Equal(t, OIDVerifyCredentials, ext.Name)

	parsed, err := ParseVerifyCredentialsRequest(ext.Value)
	require.NoError(t, err)
	assert.Equal(t, []byte("cookie"), parsed.Cookie)
	assert.Equal(t, "cn=bob", parsed.Name)
	assert.Equal(t, AuthMethodSimple, parsed.AuthMethod)
	assert.Equal(t, []byte("pw"), parsed.SimplePassword)

	noCookie := NewVerifyCredentialsRequest(bind, nil)
	value, err := noCookie.Encode()
	require.NoError(t, err)
	parsed, err = ParseVerifyCredentialsRequest(value)
	require.NoError(t, err)
	assert.Nil(t, parsed.Cookie)
	assert.Equal(t, "cn=bob", parsed.Name)
}

func TestVerifyCredentialsResponse(t *testing.T) {
	in := &VerifyCredentialsResponse{
		ResultCode:        ResultInvalidCredentials,
		DiagnosticMessage: "bad password",
		ServerSASLCreds:   []byte("srv"),
	}
	value, err := in.Encode()
	require.NoError(t, err)

	out, err := ParseVerifyCredentialsResponse(value)
	require.NoError(t, err)
	assert.Equal(t, in.ResultCode, out.ResultCode)
	assert.Equal(t, in.DiagnosticMessage, out.DiagnosticMessage)
	assert.Nil(t, out.Cookie)
	assert.Equal(t, []byte("srv"), out.ServerSASLCreds)
}

func TestResultCodeString(t *testing.T) {
	assert.Equal(t, "unavailable", ResultUnavailable.String())
	assert.Equal(t, "adminLimitExceeded", ResultAdminLimitExceeded.String())
	assert.Equal(t, "resultCode(99)", ResultCode(99).String())
}
