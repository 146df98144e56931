package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KilimcininKorOglu/lload/internal/ldap"
	"github.com/KilimcininKorOglu/lload/internal/logging"
)

// Connection errors
var (
	// ErrConnectionClosed is returned when the connection is closed
	ErrConnectionClosed = errors.New("server: connection closed")
	// ErrProtocolViolation is the close reason for peers breaking the LDAP protocol
	ErrProtocolViolation = errors.New("server: protocol violation")
)

const (
	// readBufferSize is the size of each socket read.
	readBufferSize = 32 * 1024
	// closeFlushTimeout bounds the final flush of a gracefully closed
	// connection when no write timeout is configured.
	closeFlushTimeout = 5 * time.Second
)

// ConnState is the lifecycle state of a connection.
type ConnState int

// Connection states. A connection is closing from closeWith until its task
// loop has run the teardown, and closed after that.
const (
	ConnActive ConnState = iota
	ConnBinding
	ConnClosing
	ConnClosed
)

// String returns the state name.
func (s ConnState) String() string {
	switch s {
	case ConnActive:
		return "active"
	case ConnBinding:
		return "binding"
	case ConnClosing:
		return "closing"
	case ConnClosed:
		return "closed"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// cycleResult is what a batch handler reports back to the reader goroutine.
type cycleResult struct {
	// blockers are peers whose write queues went over the limit while the
	// batch was handled. The reader waits for them before reading more.
	blockers []*conn
	// upgrade asks the reader to run a TLS handshake before reading more.
	upgrade bool
}

// batchHandler processes one read cycle worth of PDUs on the task loop.
type batchHandler func(msgs []*ldap.LDAPMessage) cycleResult

// conn is the machinery shared by client and upstream connections.
//
// Each connection runs three goroutines. The reader frames PDUs and hands
// them to the task loop in batches of at most maxPDUsPerCycle; it does not
// read again until the batch has been handled and every peer it produced
// output for is writable. The task loop owns all per-connection state:
// anything touching it, including work coming from other connections, is
// posted as a task. The writer drains the outbound queue.
type conn struct {
	// id is the unique identifier used in logs
	id string
	// proxy is the owning proxy instance
	proxy *Proxy
	// logger carries the connection fields
	logger logging.Logger
	// startTime is when the connection was established
	startTime time.Time

	// netMu guards netConn, which changes once on a TLS upgrade
	netMu   sync.Mutex
	netConn net.Conn
	// isTLS is set once the connection runs over TLS
	isTLS atomic.Bool

	// tasks feeds the task loop
	tasks *taskQueue
	// out feeds the writer
	out *outQueue

	closeOnce sync.Once
	// done is closed when the connection starts closing
	done chan struct{}
	// loopDone is closed after the task loop ran its teardown
	loopDone chan struct{}
	// flush and err are written before done is closed
	flush bool
	err   error
}

func newConn(p *Proxy, nc net.Conn, id string, logger logging.Logger) *conn {
	return &conn{
		id:        id,
		proxy:     p,
		logger:    logger,
		startTime: time.Now(),
		netConn:   nc,
		tasks:     newTaskQueue(),
		out:       newOutQueue(p.settings().writeQueueLimit),
		done:      make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *conn) ID() string {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *conn) RemoteAddr() net.Addr {
	return c.net().RemoteAddr()
}

// IsTLS reports whether the connection runs over TLS.
func (c *conn) IsTLS() bool {
	return c.isTLS.Load()
}

func (c *conn) net() net.Conn {
	c.netMu.Lock()
	defer c.netMu.Unlock()
	return c.netConn
}

// post queues fn on the task loop. It returns false once the loop has
// finished its teardown, in which case fn will never run.
func (c *conn) post(fn func()) bool {
	return c.tasks.push(fn)
}

// send encodes msg onto the outbound queue.
func (c *conn) send(msg *ldap.LDAPMessage) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	c.out.push(data)
	return nil
}

// closeWith starts closing the connection. With flush set, queued output
// is written before the socket closes; otherwise the socket closes now.
func (c *conn) closeWith(err error, flush bool) {
	c.closeOnce.Do(func() {
		c.err = err
		c.flush = flush
		close(c.done)
		if !flush {
			_ = c.net().Close()
		}
	})
}

// closing reports whether closeWith has been called.
func (c *conn) closing() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// lifecycle derives the state from the close channels. It never reports
// binding.
func (c *conn) lifecycle() ConnState {
	select {
	case <-c.loopDone:
		return ConnClosed
	default:
	}
	if c.closing() {
		return ConnClosing
	}
	return ConnActive
}

// run is the task loop. When the connection starts closing it runs the
// tasks already queued, then teardown, then rejects further posts and
// runs whatever raced in before the queue closed.
func (c *conn) run(teardown func()) {
	defer close(c.loopDone)
	for {
		select {
		case <-c.tasks.ready:
			for _, fn := range c.tasks.take() {
				fn()
			}
		case <-c.done:
			for _, fn := range c.tasks.take() {
				fn()
			}
			teardown()
			for _, fn := range c.tasks.closeAndTake() {
				fn()
			}
			return
		}
	}
}

// writeLoop drains the outbound queue onto the socket.
func (c *conn) writeLoop() {
	for {
		select {
		case <-c.out.ready:
			if err := c.flushOut(); err != nil {
				c.closeWith(err, false)
				return
			}
		case <-c.done:
			if c.flush {
				// Let the teardown queue its last PDUs.
				<-c.loopDone
				_ = c.flushOut()
			}
			_ = c.net().Close()
			return
		}
	}
}

func (c *conn) flushOut() error {
	bufs := c.out.take()
	if len(bufs) == 0 {
		return nil
	}

	total := 0
	for _, b := range bufs {
		total += len(b)
	}
	defer c.out.written(total)

	nc := c.net()
	timeout := c.proxy.settings().writeTimeout
	if timeout <= 0 && c.closing() {
		timeout = closeFlushTimeout
	}
	if timeout > 0 {
		_ = nc.SetWriteDeadline(time.Now().Add(timeout))
	}
	buffers := net.Buffers(bufs)
	_, err := buffers.WriteTo(nc)
	return err
}

// readLoop frames PDUs and hands them to handle in bounded batches.
// upgrade runs the TLS handshake when a batch asks for one; it is nil for
// connections that never upgrade.
func (c *conn) readLoop(handle batchHandler, maxSize int, upgrade func(leftover int) error) {
	buf := make([]byte, 0, readBufferSize)
	chunk := make([]byte, readBufferSize)

	for {
		for {
			batch, consumed, err := c.frame(buf, maxSize)
			buf = buf[consumed:]
			if len(batch) > 0 {
				res, ok := c.cycle(handle, batch)
				if !ok {
					return
				}
				for _, peer := range res.blockers {
					if !c.waitWritable(peer) {
						return
					}
				}
				if res.upgrade && upgrade != nil {
					if uerr := upgrade(len(buf)); uerr != nil {
						c.logger.Warn("TLS upgrade failed", "error", uerr.Error())
						c.closeWith(uerr, false)
						return
					}
				}
			}
			if err != nil {
				c.closeWith(err, false)
				return
			}
			if len(batch) == 0 {
				break
			}
		}

		n, err := c.net().Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			continue
		}
		if err != nil {
			if !c.closing() && !errors.Is(err, io.EOF) {
				c.logger.Debug("read failed", "error", err.Error())
			}
			c.closeWith(err, false)
			return
		}
	}
}

// frame parses up to maxPDUsPerCycle complete PDUs from buf. A framing
// error is returned together with the PDUs framed before it.
func (c *conn) frame(buf []byte, maxSize int) ([]*ldap.LDAPMessage, int, error) {
	limit := c.proxy.settings().maxPDUsPerCycle
	var batch []*ldap.LDAPMessage
	consumed := 0
	for len(batch) < limit {
		msg, n, err := ldap.ReadMessage(buf[consumed:], maxSize)
		if errors.Is(err, ldap.ErrIncomplete) {
			break
		}
		if err != nil {
			return batch, consumed, err
		}
		consumed += n
		batch = append(batch, msg)
	}
	return batch, consumed, nil
}

// cycle runs handle on the task loop and waits for it.
func (c *conn) cycle(handle batchHandler, batch []*ldap.LDAPMessage) (cycleResult, bool) {
	result := make(chan cycleResult, 1)
	if !c.post(func() { result <- handle(batch) }) {
		return cycleResult{}, false
	}
	select {
	case r := <-result:
		return r, true
	case <-c.done:
		return cycleResult{}, false
	}
}

// waitWritable blocks until peer is below its write limit or gone.
func (c *conn) waitWritable(peer *conn) bool {
	select {
	case <-peer.out.writable():
		return true
	case <-peer.done:
		return true
	case <-c.done:
		return false
	}
}

// blockedOn appends peer to blockers when its queue is congested.
func blockedOn(blockers []*conn, peer *conn) []*conn {
	if !peer.out.congested() {
		return blockers
	}
	for _, b := range blockers {
		if b == peer {
			return blockers
		}
	}
	return append(blockers, peer)
}
