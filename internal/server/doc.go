// Package server implements the LDAP load-balancing proxy: client
// connections, upstream connections and the routing between them.
//
// # Overview
//
// A Proxy accepts LDAP clients on plain and LDAPS listeners and relays
// their operations to a pool of upstream directory servers managed by the
// backend package. Each forwarded request gets a fresh message id on the
// upstream connection it is sent on; responses are mapped back to the
// client's message id before being relayed.
//
//	p, err := server.New(cfg, server.Options{Logger: logger, Metrics: collector})
//	if err != nil {
//	    return err
//	}
//	p.Start()
//	err = p.ListenAndServe(ctx)
//
// # Connections
//
// Client and upstream connections share one runtime. A reader goroutine
// frames PDUs and posts them to the connection's task loop in bounded
// batches; a writer goroutine drains the outbound queue. All state of a
// connection, including its operation table, is owned by its task loop.
// Work that crosses connections, such as relaying a response, is posted to
// the target's loop. A reader does not read more while a peer it wrote to
// has more than writeQueueLimit bytes queued.
//
// # Binds
//
// Anonymous binds are answered by the proxy. Other binds follow the
// strategy of the backend they are routed to:
//
//   - pinning: the bind is forwarded on an upstream connection that is then
//     reserved for the client. When the client rebinds, unbinds or
//     disconnects, the connection is rebound as the service identity before
//     it is shared again.
//   - vc: the bind is translated into a Verify Credentials extended
//     operation on a shared connection; the client's identity is tracked by
//     the proxy and can be asserted upstream with Proxied Authorization.
//
// Requests arriving while a bind is in flight are queued and replayed in
// order once it completes.
//
// # Extended Operations
//
// StartTLS and Who Am I are handled by the proxy through an
// ExtendedDispatcher. Other extended operations are forwarded when the
// forwardUnknownExtended feature is enabled and rejected otherwise.
//
// # Timeouts
//
// A periodic sweep answers operations older than the operation timeout with
// adminLimitExceeded, closes idle clients with a Notice of Disconnection
// and reclaims abandoned upstream message ids after the grace period.
package server
