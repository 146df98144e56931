package ldap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// searchMessage is a SearchRequest(msgid=5) for base "dc=example,dc=com",
// scope base, filter (objectClass=*), no attributes.
var searchMessage = []byte{
	0x30, 0x36,
	0x02, 0x01, 0x05,
	0x63, 0x31,
	0x04, 0x11, 'd', 'c', '=', 'e', 'x', 'a', 'm', 'p', 'l', 'e', ',', 'd', 'c', '=', 'c', 'o', 'm',
	0x0A, 0x01, 0x00,
	0x0A, 0x01, 0x00,
	0x02, 0x01, 0x00,
	0x02, 0x01, 0x00,
	0x01, 0x01, 0x00,
	0x87, 0x0B, 'o', 'b', 'j', 'e', 'c', 't', 'C', 'l', 'a', 's', 's',
	0x30, 0x00,
}

func TestReadMessageSearch(t *testing.T) {
	msg, n, err := ReadMessage(searchMessage, 0)
	require.NoError(t, err)
	assert.Equal(t, len(searchMessage), n)
	assert.Equal(t, 5, msg.MessageID)
	assert.Equal(t, OperationType(ApplicationSearchRequest), msg.OperationType())
	assert.True(t, msg.Operation.Constructed)
	assert.Nil(t, msg.Controls)

	out, err := msg.Encode()
	require.NoError(t, err)
	assert.Equal(t, searchMessage, out)
}

func TestReadMessageIncomplete(t *testing.T) {
	for i := 0; i < len(searchMessage); i++ {
		_, _, err := ReadMessage(searchMessage[:i], 0)
		assert.ErrorIs(t, err, ErrIncomplete, "prefix of %d bytes", i)
	}
}

func TestReadMessageConsumesOnlyFirst(t *testing.T) {
	unbind := NewUnbindMessage(9)
	second, err := unbind.Encode()
	require.NoError(t, err)

	buf := append(append([]byte{}, searchMessage...), second...)
	msg, n, err := ReadMessage(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, msg.MessageID)

	msg, m, err := ReadMessage(buf[n:], 0)
	require.NoError(t, err)
	assert.Equal(t, 9, msg.MessageID)
	assert.Equal(t, OperationType(ApplicationUnbindRequest), msg.OperationType())
	assert.Equal(t, len(buf), n+m)
}

func TestReadMessageMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"not a sequence", []byte{0x04, 0x01, 0x00}},
		{"indefinite length", []byte{0x30, 0x80, 0x02, 0x01, 0x01, 0x42, 0x00, 0x00, 0x00}},
		{"negative message id", []byte{0x30, 0x05, 0x02, 0x01, 0xFF, 0x42, 0x00}},
		{"universal protocolOp", []byte{0x30, 0x05, 0x02, 0x01, 0x01, 0x04, 0x00}},
		{"protocolOp overruns envelope", []byte{0x30, 0x05, 0x02, 0x01, 0x01, 0x42, 0x05}},
		{"trailing garbage", []byte{0x30, 0x07, 0x02, 0x01, 0x01, 0x42, 0x00, 0x04, 0x00}},
		{"bad controls", []byte{0x30, 0x09, 0x02, 0x01, 0x01, 0x42, 0x00, 0xA0, 0x02, 0x04, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ReadMessage(tt.data, 0)
			require.Error(t, err)
			assert.False(t, errors.Is(err, ErrIncomplete))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestReadMessageTooLarge(t *testing.T) {
	_, _, err := ReadMessage(searchMessage, 16)
	assert.ErrorIs(t, err, ErrMessageTooLarge)

	// The limit applies before the body has arrived.
	_, _, err = ReadMessage(searchMessage[:4], 16)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestRewriteMessageIDPreservesBody(t *testing.T) {
	msg, _, err := ReadMessage(searchMessage, 0)
	require.NoError(t, err)

	rewritten := msg.WithMessageID(300)
	out, err := rewritten.Encode()
	require.NoError(t, err)

	back, _, err := ReadMessage(out, 0)
	require.NoError(t, err)
	assert.Equal(t, 300, back.MessageID)
	assert.Equal(t, msg.Operation.Data, back.Operation.Data)
	assert.Equal(t, 5, msg.MessageID, "original is unchanged")
}

func TestControlsForwardedVerbatim(t *testing.T) {
	msg := NewMessage(3, ApplicationDelRequest, []byte("cn=x"))
	require.NoError(t, msg.AddControl(Control{OID: "1.2.3", Value: []byte{0x01}}))
	require.NoError(t, msg.AddControl(NewProxiedAuthzControl("dn:cn=alice")))

	out, err := msg.Encode()
	require.NoError(t, err)

	back, _, err := ReadMessage(out, 0)
	require.NoError(t, err)
	assert.Equal(t, msg.Controls, back.Controls)
	assert.False(t, back.Operation.Constructed)

	controls, err := back.ParsedControls()
	require.NoError(t, err)
	require.Len(t, controls, 2)
	assert.Equal(t, "1.2.3", controls[0].OID)
	assert.False(t, controls[0].Criticality)
	assert.Equal(t, OIDProxiedAuthz, controls[1].OID)
	assert.True(t, controls[1].Criticality)
	assert.Equal(t, []byte("dn:cn=alice"), controls[1].Value)

	// [0] directly contains the Control SEQUENCEs.
	assert.Equal(t, byte(0xA0), back.Controls[0])
	assert.Equal(t, byte(0x30), back.Controls[2])
}

func TestOperationTypeClassification(t *testing.T) {
	final := []int{ApplicationBindResponse, ApplicationSearchResultDone, ApplicationModifyResponse,
		ApplicationAddResponse, ApplicationDelResponse, ApplicationModifyDNResponse,
		ApplicationCompareResponse, ApplicationExtendedResponse}
	for _, tag := range final {
		op := OperationType(tag)
		assert.True(t, op.IsResponse(), op.String())
		assert.True(t, op.IsFinal(), op.String())
		assert.False(t, op.IsRequest(), op.String())
	}

	for _, tag := range []int{ApplicationSearchResultEntry, ApplicationSearchResultReference, ApplicationIntermediateResponse} {
		op := OperationType(tag)
		assert.True(t, op.IsResponse(), op.String())
		assert.False(t, op.IsFinal(), op.String())
	}

	_, ok := OperationType(ApplicationAbandonRequest).ResponseType()
	assert.False(t, ok)
	_, ok = OperationType(ApplicationUnbindRequest).ResponseType()
	assert.False(t, ok)
	rt, ok := OperationType(ApplicationSearchRequest).ResponseType()
	assert.True(t, ok)
	assert.Equal(t, OperationType(ApplicationSearchResultDone), rt)

	assert.Equal(t, "Unknown(30)", OperationType(30).String())
	assert.False(t, OperationType(30).IsResponse())
}

func TestAbandonRoundTrip(t *testing.T) {
	for _, target := range []int{0, 5, 127, 128, 65535, MaxMessageID} {
		msg := NewAbandonMessage(7, target)
		out, err := msg.Encode()
		require.NoError(t, err)

		back, _, err := ReadMessage(out, 0)
		require.NoError(t, err)
		assert.False(t, back.Operation.Constructed)
		got, err := ParseAbandonRequest(back.Operation.Data)
		require.NoError(t, err)
		assert.Equal(t, target, got)
	}

	_, err := ParseAbandonRequest(nil)
	assert.Error(t, err)
	_, err = ParseAbandonRequest([]byte{0xFF})
	assert.ErrorIs(t, err, ErrInvalidMessageID)
}
