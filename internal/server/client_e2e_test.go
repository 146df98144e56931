package server

import (
	"testing"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/lload/internal/ldap"
)

func dialGoLDAP(t *testing.T, addr string) *goldap.Conn {
	t.Helper()
	conn, err := goldap.DialURL("ldap://" + addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func baseSearch() *goldap.SearchRequest {
	return goldap.NewSearchRequest(
		"dc=example,dc=com",
		goldap.ScopeBaseObject,
		goldap.NeverDerefAliases,
		0, 0, false,
		"(objectClass=*)",
		nil,
		nil,
	)
}

func TestGoLDAPClientPinning(t *testing.T) {
	dir := newFakeDirectory(t, testUsers)
	p := startProxy(t, testConfig(testBackend("dir", dir.addr(), 2)))
	p.waitReady(t, "dir", 2)

	conn := dialGoLDAP(t, p.addr)
	require.NoError(t, conn.Bind("cn=alice,dc=example,dc=com", "secret"))

	res, err := conn.Search(baseSearch())
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, "cn=entry,dc=example,dc=com", res.Entries[0].DN)

	who, err := conn.WhoAmI(nil)
	require.NoError(t, err)
	assert.Equal(t, "dn:cn=alice,dc=example,dc=com", who.AuthzID)

	err = conn.Bind("cn=alice,dc=example,dc=com", "wrong")
	require.Error(t, err)
	assert.True(t, goldap.IsErrorWithCode(err, goldap.LDAPResultInvalidCredentials))
}

func TestGoLDAPClientVerifyCredentials(t *testing.T) {
	dir := newFakeDirectory(t, testUsers)
	p := startProxy(t, testConfig(vcBackend("dir", dir.addr(), 1)))
	p.waitReady(t, "dir", 1)

	conn := dialGoLDAP(t, p.addr)
	require.NoError(t, conn.Bind("cn=alice,dc=example,dc=com", "secret"))

	who, err := conn.WhoAmI(nil)
	require.NoError(t, err)
	assert.Equal(t, "dn:cn=alice,dc=example,dc=com", who.AuthzID)

	res, err := conn.Search(baseSearch())
	require.NoError(t, err)
	assert.Len(t, res.Entries, 1)

	assert.Len(t, dir.requests(ldap.ApplicationBindRequest), 1, "only the service identity binds upstream")
}

func TestGoLDAPClientConcurrentSearches(t *testing.T) {
	dir := newFakeDirectory(t, nil)
	p := startProxy(t, testConfig(testBackend("a", dir.addr(), 2), testBackend("b", dir.addr(), 2)))
	p.waitReady(t, "a", 2)
	p.waitReady(t, "b", 2)

	conn := dialGoLDAP(t, p.addr)
	errs := make(chan error, 20)
	for i := 0; i < cap(errs); i++ {
		go func() {
			res, err := conn.Search(baseSearch())
			if err == nil && len(res.Entries) != 1 {
				err = assert.AnError
			}
			errs <- err
		}()
	}
	for i := 0; i < cap(errs); i++ {
		assert.NoError(t, <-errs)
	}
}
