package server

import (
	"crypto/tls"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/lload/internal/config"
	"github.com/KilimcininKorOglu/lload/internal/ldap"
)

func startTLSProxy(t *testing.T, dir *fakeDirectory) *testProxy {
	t.Helper()
	certFile, keyFile := writeTestCertificate(t)
	cfg := testConfig(testBackend("dir", dir.addr(), 1))
	cfg.TLS = config.TLSConfig{CertFile: certFile, KeyFile: keyFile}
	p := startProxy(t, cfg)
	p.waitReady(t, "dir", 1)
	return p
}

func TestStartTLS(t *testing.T) {
	dir := newFakeDirectory(t, nil)
	p := startTLSProxy(t, dir)

	c := dialClient(t, p.addr)
	resp := c.extended(1, ldap.OIDStartTLS, nil)
	require.Equal(t, ldap.ResultSuccess, resp.ResultCode)
	assert.Equal(t, ldap.OIDStartTLS, resp.Name)
	require.Empty(t, c.buf)

	tc := tls.Client(c.conn, &tls.Config{ServerName: "localhost", InsecureSkipVerify: true}) // #nosec G402 -- self-signed test certificate
	require.NoError(t, tc.Handshake())
	c.conn = tc

	c.search(2)

	// A second StartTLS on the protected connection is refused.
	resp = c.extended(3, ldap.OIDStartTLS, nil)
	assert.Equal(t, ldap.ResultOperationsError, resp.ResultCode)
	c.search(4)
}

func TestStartTLSWithoutCertificate(t *testing.T) {
	dir := newFakeDirectory(t, nil)
	p := startProxy(t, testConfig(testBackend("dir", dir.addr(), 1)))
	p.waitReady(t, "dir", 1)

	c := dialClient(t, p.addr)
	resp := c.extended(1, ldap.OIDStartTLS, nil)
	assert.Equal(t, ldap.ResultUnavailable, resp.ResultCode)

	// The connection carries on in the clear.
	c.search(2)
}

func TestStartTLSWithOutstandingOperations(t *testing.T) {
	dir := newFakeDirectory(t, nil)
	p := startTLSProxy(t, dir)
	dir.holdSearches()

	c := dialClient(t, p.addr)
	c.send(searchRequest(1, "dc=example,dc=com"))
	dir.waitRequests(t, ldap.ApplicationSearchRequest, 1)

	resp := c.extended(2, ldap.OIDStartTLS, nil)
	assert.Equal(t, ldap.ResultOperationsError, resp.ResultCode)

	dir.releaseSearches()
	c.read()
	c.expectResult(1, ldap.ApplicationSearchResultDone, ldap.ResultSuccess)
}

func TestStartTLSPipelinedDataIsRejected(t *testing.T) {
	dir := newFakeDirectory(t, nil)
	p := startTLSProxy(t, dir)

	c := dialClient(t, p.addr)
	req, err := (&ldap.ExtendedRequest{Name: ldap.OIDStartTLS}).Message(1)
	require.NoError(t, err)

	var pipelined []byte
	for _, msg := range []*ldap.LDAPMessage{req, searchRequest(2, "dc=example,dc=com")} {
		data, err := msg.Encode()
		require.NoError(t, err)
		pipelined = append(pipelined, data...)
	}
	c.sendRaw(pipelined)

	c.expectClosed()
	assert.Empty(t, dir.requests(ldap.ApplicationSearchRequest))
}

func TestStartTLSHandlerConfig(t *testing.T) {
	h := NewStartTLSHandler(nil)
	assert.Nil(t, h.GetTLSConfig())
	assert.Equal(t, ldap.OIDStartTLS, h.OID())

	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	h.SetTLSConfig(cfg)
	assert.Same(t, cfg, h.GetTLSConfig())
}
