package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dshills/stormdbg/internal/frame"
)

// Client is the request/response client for one agent connection. Requests
// issued against one thread are serialized in issue order by the transport's
// send lock; the agent acknowledges a breakpoint set before acting on a
// later resume.
type Client struct {
	transport Transport
	sessionID string
	seq       int64
	pending   map[int]*pendingRequest
	pendingMu sync.RWMutex
	handlers  eventHandlers
	handlerMu sync.RWMutex
	done      chan struct{}
	closeOnce sync.Once
	err       error
	errMu     sync.RWMutex
	log       *slog.Logger
}

// pendingRequest tracks a request awaiting its response.
type pendingRequest struct {
	done      chan struct{}
	closeOnce sync.Once
	response  *Response
	err       error
}

// close safely closes the done channel.
func (p *pendingRequest) close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
}

// eventHandlers stores event handler functions.
type eventHandlers struct {
	onStopped func(StopEvent)
	onThread  func(ThreadEventBody)
	onExited  func(ExitedEventBody)
}

// NewClient creates a client over the given transport and starts its
// receive loop.
func NewClient(transport Transport, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	sessionID := uuid.NewString()
	c := &Client{
		transport: transport,
		sessionID: sessionID,
		pending:   make(map[int]*pendingRequest),
		done:      make(chan struct{}),
		log:       log.With("component", "agent", "session", sessionID),
	}
	go c.receiveLoop()
	return c
}

// SessionID returns the client-generated session identifier.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Close closes the client and underlying transport.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return c.transport.Close()
}

// Err returns any error that terminated the receive loop.
func (c *Client) Err() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.err
}

// OnStopped sets the handler for stop notifications.
func (c *Client) OnStopped(handler func(StopEvent)) {
	c.handlerMu.Lock()
	c.handlers.onStopped = handler
	c.handlerMu.Unlock()
}

// OnThread sets the handler for thread start/exit notifications.
func (c *Client) OnThread(handler func(ThreadEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onThread = handler
	c.handlerMu.Unlock()
}

// OnExited sets the handler for process exit notifications.
func (c *Client) OnExited(handler func(ExitedEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onExited = handler
	c.handlerMu.Unlock()
}

// Resume asks the agent to resume a thread.
func (c *Client) Resume(ctx context.Context, args ResumeArguments) error {
	_, err := c.sendRequest(ctx, "resume", args)
	if err != nil {
		return fmt.Errorf("resume thread %d: %w", args.ThreadID, err)
	}
	return nil
}

// SetBreakpoints places breakpoints at the given addresses under a new
// handle and returns the handle. Hit notifications carry the handle back.
func (c *Client) SetBreakpoints(ctx context.Context, addrs []uint64) (string, error) {
	if len(addrs) == 0 {
		return "", ErrNoAddresses
	}
	handle := uuid.NewString()
	args := SetBreakpointsArguments{Handle: handle, Addresses: addrs}
	if _, err := c.sendRequest(ctx, "setBreakpoints", args); err != nil {
		return "", fmt.Errorf("set breakpoints: %w", err)
	}
	return handle, nil
}

// RemoveBreakpoint removes the breakpoints under a handle.
func (c *Client) RemoveBreakpoint(ctx context.Context, handle string) error {
	args := RemoveBreakpointArguments{Handle: handle}
	if _, err := c.sendRequest(ctx, "removeBreakpoint", args); err != nil {
		return fmt.Errorf("remove breakpoint %s: %w", handle, err)
	}
	return nil
}

// Unwind requests a full stack unwind for a thread.
func (c *Client) Unwind(ctx context.Context, threadID int) ([]frame.Raw, error) {
	resp, err := c.sendRequest(ctx, "unwind", UnwindArguments{ThreadID: threadID})
	if err != nil {
		return nil, fmt.Errorf("unwind thread %d: %w", threadID, err)
	}

	var body UnwindResponseBody
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("decode unwind response: %w", err)
	}
	return rawsFromWire(body.Frames), nil
}

// receiveLoop continuously receives messages from the transport.
func (c *Client) receiveLoop() {
	for {
		msg, err := c.transport.Receive()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}

			c.errMu.Lock()
			c.err = err
			c.errMu.Unlock()

			c.pendingMu.Lock()
			for _, req := range c.pending {
				req.err = err
				req.close()
			}
			c.pending = make(map[int]*pendingRequest)
			c.pendingMu.Unlock()
			return
		}

		select {
		case <-c.done:
			return
		default:
		}

		c.handleMessage(msg)
	}
}

// handleMessage dispatches a received message.
func (c *Client) handleMessage(msg *Message) {
	var base ProtocolMessage
	if err := json.Unmarshal(msg.Content, &base); err != nil {
		c.log.Warn("undecodable message from agent", "error", err)
		return
	}

	switch base.Type {
	case "response":
		c.handleResponse(msg.Content)
	case "event":
		c.handleEvent(msg.Content)
	}
}

// handleResponse completes the pending request for a response.
func (c *Client) handleResponse(content []byte) {
	var resp Response
	if err := json.Unmarshal(content, &resp); err != nil {
		return
	}

	c.pendingMu.Lock()
	req, ok := c.pending[resp.RequestSeq]
	if ok {
		delete(c.pending, resp.RequestSeq)
	}
	c.pendingMu.Unlock()

	if ok {
		req.response = &resp
		req.close()
	}
}

// handleEvent decodes and dispatches an agent event.
func (c *Client) handleEvent(content []byte) {
	var evt Event
	if err := json.Unmarshal(content, &evt); err != nil {
		return
	}

	c.handlerMu.RLock()
	handlers := c.handlers
	c.handlerMu.RUnlock()

	switch evt.Event {
	case "stopped":
		if handlers.onStopped != nil {
			var body StoppedEventBody
			if err := json.Unmarshal(evt.Body, &body); err != nil {
				c.log.Warn("undecodable stopped event", "error", err)
				return
			}
			handlers.onStopped(StopEvent{
				ThreadID:    body.ThreadID,
				Cause:       stopCauseFromWire(body.Reason),
				Breakpoints: body.Breakpoints,
				Frames:      rawsFromWire(body.Frames),
			})
		}
	case "thread":
		if handlers.onThread != nil {
			var body ThreadEventBody
			if err := json.Unmarshal(evt.Body, &body); err == nil {
				handlers.onThread(body)
			}
		}
	case "exited":
		if handlers.onExited != nil {
			var body ExitedEventBody
			if err := json.Unmarshal(evt.Body, &body); err == nil {
				handlers.onExited(body)
			}
		}
	}
}

// sendRequest sends a request and waits for its response or context
// cancellation.
func (c *Client) sendRequest(ctx context.Context, command string, args any) (*Response, error) {
	seq := int(atomic.AddInt64(&c.seq, 1))

	var argsJSON json.RawMessage
	if args != nil {
		var err error
		argsJSON, err = json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("marshal arguments: %w", err)
		}
	}

	req := Request{
		ProtocolMessage: ProtocolMessage{Seq: seq, Type: "request"},
		Command:         command,
		Arguments:       argsJSON,
	}

	content, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	pending := &pendingRequest{done: make(chan struct{})}

	c.pendingMu.Lock()
	c.pending[seq] = pending
	c.pendingMu.Unlock()

	msg := &Message{ContentLength: len(content), Content: content}
	if err := c.transport.Send(msg); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, seq)
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("send request: %w", err)
	}

	select {
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, seq)
		c.pendingMu.Unlock()
		return nil, ctx.Err()
	case <-pending.done:
		if pending.err != nil {
			return nil, pending.err
		}
		if !pending.response.Success {
			return nil, fmt.Errorf("%w: %s: %s", ErrRequestFailed, command, pending.response.Message)
		}
		return pending.response, nil
	}
}
