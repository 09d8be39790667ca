package broadcast

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/cuemby/ripple/pkg/log"
)

// Message is one row-change notification fanned out to sibling processes.
type Message struct {
	Type      string `json:"type"` // "row-change"
	TableName string `json:"tableName"`
	RowID     string `json:"rowId,omitempty"`
	Source    string `json:"source"`
}

// Listener receives broadcast messages originating from other processes.
type Listener func(Message)

// Channel is a best-effort, same-host broadcast standing in for the
// browser's cross-tab BroadcastChannel: every participant binds its own
// receive socket inside a shared directory named after the channel, and
// Publish fans a datagram out to every sibling socket it finds there. A
// publisher with no live siblings drops its message silently; a receiver
// that falls behind drops messages rather than blocking the publisher.
type Channel struct {
	dir    string
	selfID string
	conn   net.PacketConn

	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
	stopCh    chan struct{}
}

// New opens (or joins) the named broadcast channel.  Failure to bind a
// receive socket is logged and degrades to a local-only channel: Publish
// still fans out to in-process listeners registered via Subscribe, it just
// cannot reach other processes.
func New(name string) *Channel {
	c := &Channel{listeners: make(map[int]Listener), stopCh: make(chan struct{}), selfID: newInstanceID()}

	dir := filepath.Join(os.TempDir(), "ripple-broadcast-"+name)
	if err := os.MkdirAll(dir, 0700); err != nil {
		log.Warn(fmt.Sprintf("broadcast channel %q running local-only: %v", name, err))
		return c
	}
	c.dir = dir

	conn, err := bindReceiveSocket(dir, c.selfID)
	if err != nil {
		log.Warn(fmt.Sprintf("broadcast channel %q running local-only: %v", name, err))
		return c
	}
	c.conn = conn

	go c.receiveLoop()
	return c
}

// newInstanceID generates a short identifier unique to one Channel, so that
// multiple channels in the same process (tests, or several managers) each
// get their own rendezvous file.
func newInstanceID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%d-%s", os.Getpid(), hex.EncodeToString(b[:]))
}

// bindReceiveSocket binds a uniquely-named socket inside dir: a Unix domain
// datagram socket on platforms that support one, a UDP loopback socket
// elsewhere (its address is recorded alongside the socket path via a
// sibling file so other participants can still find it).
func bindReceiveSocket(dir, selfID string) (net.PacketConn, error) {
	selfPath := filepath.Join(dir, selfID+".sock")

	if runtime.GOOS == "windows" {
		conn, err := net.ListenPacket("udp", "127.0.0.1:0")
		if err != nil {
			return nil, fmt.Errorf("failed to open loopback socket: %w", err)
		}
		if err := os.WriteFile(selfPath, []byte(conn.LocalAddr().String()), 0600); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to record loopback address: %w", err)
		}
		return conn, nil
	}

	_ = os.Remove(selfPath)
	addr, err := net.ResolveUnixAddr("unixgram", selfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve unix socket address: %w", err)
	}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind unix socket: %w", err)
	}
	return conn, nil
}

// siblings lists every receive address in dir other than self.
func (c *Channel) siblings() []string {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil
	}
	self := c.selfID + ".sock"

	var out []string
	for _, e := range entries {
		if e.Name() == self || e.IsDir() {
			continue
		}
		if runtime.GOOS == "windows" {
			data, err := os.ReadFile(filepath.Join(c.dir, e.Name()))
			if err != nil {
				continue
			}
			out = append(out, string(data))
			continue
		}
		out = append(out, filepath.Join(c.dir, e.Name()))
	}
	return out
}

// Subscribe registers a listener and returns an unsubscribe function.
func (c *Channel) Subscribe(l Listener) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Publish fans a message out to in-process listeners immediately, then to
// every sibling process's receive socket it can currently find.
func (c *Channel) Publish(msg Message) {
	c.notify(msg)

	if c.conn == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	for _, addr := range c.siblings() {
		var raddr net.Addr
		var err error
		if runtime.GOOS == "windows" {
			raddr, err = net.ResolveUDPAddr("udp", addr)
		} else {
			raddr, err = net.ResolveUnixAddr("unixgram", addr)
		}
		if err != nil {
			continue
		}
		// Best-effort: a missing or slow peer never blocks the publisher.
		_, _ = c.conn.WriteTo(data, raddr)
	}
}

func (c *Channel) notify(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.listeners {
		go l(msg)
	}
}

func (c *Channel) receiveLoop() {
	buf := make([]byte, 4096)
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		n, _, err := c.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(buf[:n], &msg); err != nil {
			continue
		}
		c.notify(msg)
	}
}

// Close releases the underlying socket and its rendezvous file.
func (c *Channel) Close() error {
	close(c.stopCh)
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	_ = os.Remove(filepath.Join(c.dir, c.selfID+".sock"))
	return err
}
