package workerproto

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Conn is a full-duplex JSON-RPC 2.0 connection over a worker's stdio pipes.
// It demultiplexes every inbound line into either a pending-request
// completion (a Response) or an inbound-call task pushed to Inbound (a
// Request carrying a Method), matching the read-loop shape this codebase
// uses elsewhere for subprocess transports, generalised to carry traffic in
// both directions instead of gateway-to-worker only.
type Conn struct {
	name string

	writeMu sync.Mutex
	stdin   io.WriteCloser

	pendMu  sync.Mutex
	pending map[string]chan *Message

	// Inbound carries requests the remote side sent us mid-call (storage.*
	// proxy calls). The owner must drain it and reply via Respond.
	Inbound chan *Request

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConn starts the read loop over stdout and returns a ready Conn. The
// caller owns stdin/stdout's lifecycle (closing stdin is what Close does).
func NewConn(name string, stdin io.WriteCloser, stdout io.Reader) *Conn {
	c := &Conn{
		name:    name,
		stdin:   stdin,
		pending: make(map[string]chan *Message),
		Inbound: make(chan *Request, 8),
		closed:  make(chan struct{}),
	}
	go c.readLoop(stdout)
	return c
}

// Call sends a request and blocks until a matching response arrives, ctx is
// done, or the connection closes. A fresh UUID is minted for every call (I7).
func (c *Conn) Call(ctx context.Context, method string, params any) (json.RawMessage, *RPCError, error) {
	id := uuid.NewString()
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, nil, fmt.Errorf("workerproto: marshal params: %w", err)
	}
	msg := Message{JSONRPC: "2.0", ID: id, Method: method, Params: raw}

	ch := make(chan *Message, 1)
	c.pendMu.Lock()
	c.pending[id] = ch
	c.pendMu.Unlock()

	if err := c.writeLine(msg); err != nil {
		c.pendMu.Lock()
		delete(c.pending, id)
		c.pendMu.Unlock()
		return nil, nil, fmt.Errorf("workerproto: write request: %w", err)
	}

	select {
	case <-ctx.Done():
		c.pendMu.Lock()
		delete(c.pending, id)
		c.pendMu.Unlock()
		return nil, nil, ctx.Err()
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error, nil
		}
		return resp.Result, nil, nil
	}
}

// Respond answers an inbound request previously received on Inbound.
func (c *Conn) Respond(id string, result any, rpcErr *RPCError) error {
	msg := Message{JSONRPC: "2.0", ID: id}
	if rpcErr != nil {
		msg.Error = rpcErr
	} else {
		raw, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("workerproto: marshal result: %w", err)
		}
		msg.Result = raw
	}
	return c.writeLine(msg)
}

func (c *Conn) writeLine(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = fmt.Fprintf(c.stdin, "%s\n", data)
	return err
}

// Close stops accepting new calls and closes stdin; it does not wait for the
// subprocess to exit (that is the owning Worker's job via cmd.Wait).
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return c.stdin.Close()
}

func (c *Conn) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			slog.Warn("workerproto: dropping unparseable line", "worker", c.name, "err", err)
			continue
		}

		if msg.Method != "" {
			select {
			case c.Inbound <- &Request{ID: msg.ID, Method: msg.Method, Params: msg.Params}:
			case <-c.closed:
				return
			}
			continue
		}

		c.pendMu.Lock()
		ch, ok := c.pending[msg.ID]
		if ok {
			delete(c.pending, msg.ID)
		}
		c.pendMu.Unlock()
		if !ok {
			slog.Warn("workerproto: response matches no pending request", "worker", c.name, "id", msg.ID)
			continue
		}
		m := msg
		ch <- &m
	}

	c.drainPending()
	close(c.Inbound)
}

// drainPending resolves every still-outstanding call with a synthetic
// channel-closed error once the worker's stdout hits EOF, satisfying I7's
// requirement that no pending request leaks past process exit.
func (c *Conn) drainPending() {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()
	for id, ch := range c.pending {
		ch <- &Message{ID: id, Error: &RPCError{Code: ErrChannelClosed, Message: "worker process closed"}}
	}
	c.pending = make(map[string]chan *Message)
}
