package server

import (
	"time"

	"github.com/KilimcininKorOglu/lload/internal/backend"
	"github.com/KilimcininKorOglu/lload/internal/ldap"
)

// OperationState is the lifecycle position of a client operation.
type OperationState int

const (
	// OpReceived operations are parsed but not yet sent upstream.
	OpReceived OperationState = iota
	// OpAwaiting operations were forwarded and wait for a final response.
	OpAwaiting
	// OpCompleted operations received their final response.
	OpCompleted
	// OpAbandoned operations were abandoned by the client or timed out.
	OpAbandoned
	// OpFailed operations were answered with an error by the proxy.
	OpFailed
)

// String returns the state name.
func (s OperationState) String() string {
	switch s {
	case OpReceived:
		return "received"
	case OpAwaiting:
		return "awaiting"
	case OpCompleted:
		return "completed"
	case OpAbandoned:
		return "abandoned"
	case OpFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// opKind says how the final response of an operation is handled.
type opKind int

const (
	// opForward responses go to the client unchanged apart from the id.
	opForward opKind = iota
	// opPinnedBind is a bind forwarded on the client's pinned connection.
	opPinnedBind
	// opVerify is a bind translated into a Verify Credentials request.
	opVerify
	// opProxied is answered by the proxy and never leaves it.
	opProxied
)

// Operation is one client request in flight. It lives in the client's
// operation table, keyed by the client message id, and is only touched on
// the client's task loop.
type Operation struct {
	// id is unique across the proxy and links the upstream side back to it
	id uint64
	// msgID is the client's message id
	msgID int
	// opType is the request type
	opType ldap.OperationType
	// kind decides how responses are handled
	kind opKind
	// state is the lifecycle position
	state OperationState
	// started is when the request was read
	started time.Time
	// entry is the upstream pool slot carrying the operation
	entry *backend.Entry
	// upstream is the connection behind entry
	upstream *UpstreamConn
	// bind is the parsed request of bind operations
	bind *ldap.BindRequest
}

// final reports whether the operation has left the table for good.
func (op *Operation) final() bool {
	return op.state == OpCompleted || op.state == OpAbandoned || op.state == OpFailed
}

// isBind reports whether the operation is a bind, however it is carried.
func (op *Operation) isBind() bool {
	return op.opType == ldap.OperationType(ldap.ApplicationBindRequest)
}

// backendName returns the name used in metrics.
func (op *Operation) backendName() string {
	if op.entry == nil {
		return "none"
	}
	return op.entry.Backend().Name()
}

// link is the upstream side of a forwarded operation, keyed by the
// upstream message id. Only the upstream task loop touches it.
type link struct {
	// opID is the proxy-wide operation id
	opID uint64
	// client receives the responses; nil for internal requests
	client *ClientConn
	// clientMsgID is the id responses are rewritten to
	clientMsgID int
	// reserved links hold one slot of the entry's capacity
	reserved bool
	// abandoned links swallow their remaining responses
	abandoned bool
	// abandonedAt starts the grace period for reclaiming the link
	abandonedAt time.Time
	// internal handles responses to requests issued by the proxy itself
	internal func(msg *ldap.LDAPMessage)
}

// forwardRequest carries a client PDU to an upstream task loop.
type forwardRequest struct {
	opID        uint64
	client      *ClientConn
	clientMsgID int
	msg         *ldap.LDAPMessage
}
