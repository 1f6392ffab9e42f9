package provider

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/stratum-tools/sv2-template-provider/internal/noise"
	"github.com/stratum-tools/sv2-template-provider/internal/sv2"
)

// handshakeTimeout bounds how long a freshly accepted connection has to
// complete the Noise_NX handshake before it is dropped. Upstream has no
// equivalent (a blocking accept loop has no such budget); this guards a
// goroutine-per-connection design against a client that never sends act1.
const handshakeTimeout = 10 * time.Second

// client tracks one connected sv2 client's session and the per-connection
// state the FSM in fsm.go and the scheduler in scheduler.go read and mutate.
// Every field here is only ever touched from the single Provider.Run
// goroutine; the reader goroutine below only ever touches conn and sess
// through read-side calls, never mutates this struct directly.
type client struct {
	id   uint64
	conn net.Conn
	sess *noise.Session

	setupConfirmed bool
	cbsizeReceived bool

	coinbaseMaxAdditionalSize uint32
	latestTemplateFees        int64

	disconnectReason string
}

// inboundEvent is what a client's reader goroutine posts back to the
// Provider's single run loop: either a decoded frame or a terminal error
// (read failure, handshake failure, decode failure).
type inboundEvent struct {
	id      uint64
	hdr     sv2.Header
	payload []byte
	err     error
}

// readLoop performs the responder side of the Noise_NX handshake and then
// decodes frames until the connection fails, posting every outcome to ch.
// It never touches any Provider state directly: the single run loop is the
// sole mutator of client bookkeeping, templates, and the client map.
func (c *client) readLoop(ch chan<- inboundEvent) {
	if err := c.handshake(); err != nil {
		ch <- inboundEvent{id: c.id, err: fmt.Errorf("handshake: %w", err)}
		return
	}
	for {
		hdr, payload, err := sv2.ReadFrame(c.conn, c.sess)
		if err != nil {
			ch <- inboundEvent{id: c.id, err: err}
			return
		}
		ch <- inboundEvent{id: c.id, hdr: hdr, payload: payload}
	}
}

func (c *client) handshake() error {
	_ = c.conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer func() { _ = c.conn.SetDeadline(time.Time{}) }()

	act1 := make([]byte, noise.Act1Len)
	if _, err := io.ReadFull(c.conn, act1); err != nil {
		return fmt.Errorf("read act1: %w", err)
	}
	if err := c.sess.ReadHandshake(act1, time.Now()); err != nil {
		return fmt.Errorf("process act1: %w", err)
	}
	act2, err := c.sess.NextWrite()
	if err != nil {
		return fmt.Errorf("build act2: %w", err)
	}
	if _, err := c.conn.Write(act2); err != nil {
		return fmt.Errorf("write act2: %w", err)
	}
	return nil
}

// send encodes and writes one sv2 message to the client. Only called from
// the run loop, so no write-side locking is needed.
func (c *client) send(msgType sv2.MsgType, payload []byte) error {
	if err := sv2.WriteFrame(c.conn, c.sess, msgType, 0, payload); err != nil {
		return fmt.Errorf("client %d: write %v: %w", c.id, msgType, err)
	}
	return nil
}

func (c *client) close() {
	_ = c.conn.Close()
}
