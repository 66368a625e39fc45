package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// ConnState is the lifecycle state of a Client.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// NotificationObserver receives server-pushed diagnostic notifications
// (out-of-band log lines from the remote process). Notifications are
// forwarded, never buffered; with no observer registered they are
// dropped.
type NotificationObserver func(method string, params json.RawMessage)

// Client is the protocol client for exactly one MCP server. It owns
// the session handle, tracks connection state, and wraps every request
// in the effective timeout policy. All methods are safe for concurrent
// use; state transitions and session teardown are serialized so a
// request never races a concurrent Disconnect on the same handle.
type Client struct {
	name string
	dial SessionDialer

	mu      sync.Mutex
	config  ServerConfig
	state   ConnState
	lastErr error
	session Session
	caps    *Capabilities
	timeout TimeoutPolicy

	observer NotificationObserver

	progressMu sync.Mutex
	progress   map[chan struct{}]struct{}
}

// NewClient creates a client for the named server. The dialer is the
// transport factory; pass DialSession outside of tests. The timeout
// policy is the registry-wide default, overridden by cfg.Timeout when
// set.
func NewClient(name string, cfg ServerConfig, dial SessionDialer, timeout TimeoutPolicy) *Client {
	if cfg.Timeout != nil {
		timeout = *cfg.Timeout
	}
	return &Client{
		name:     name,
		config:   cfg,
		dial:     dial,
		timeout:  timeout,
		progress: make(map[chan struct{}]struct{}),
	}
}

// Name returns the server name this client serves.
func (c *Client) Name() string { return c.name }

// Config returns the config the client was constructed from.
func (c *Client) Config() ServerConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that moved the client into StateError, or nil.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Capabilities returns the negotiated capability set, or nil before a
// successful handshake.
func (c *Client) Capabilities() *Capabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.caps == nil {
		return nil
	}
	caps := *c.caps
	return &caps
}

// SetNotificationObserver registers the observer for server-pushed
// diagnostic notifications. Pass nil to drop them again.
func (c *Client) SetNotificationObserver(fn NotificationObserver) {
	c.mu.Lock()
	c.observer = fn
	c.mu.Unlock()
}

// ApplyTimeout replaces the effective timeout policy. Invoked by the
// Registry when broadcasting a config change to live clients; requests
// issued after the call use the new policy.
func (c *Client) ApplyTimeout(policy TimeoutPolicy) {
	c.mu.Lock()
	c.timeout = policy
	c.mu.Unlock()
}

// Connect dials the session and performs the protocol handshake.
// Calling Connect on a connected client is a no-op returning nil. A
// client in the error state is treated as a reconnect attempt: the old
// handle is discarded and a fresh session is dialed. A failed
// handshake leaves the client in StateError with the cause retained.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		c.mu.Unlock()
		return &ConnectionError{Server: c.name, Err: ErrConnecting}
	}
	stale := c.session
	c.session = nil
	c.state = StateConnecting
	dial := c.dial
	cfg := c.config
	policy := c.timeout
	c.mu.Unlock()

	if stale != nil {
		_ = stale.Close()
	}

	sess, err := dial(ctx, cfg)
	if err != nil {
		c.fail(err)
		return &ConnectionError{Server: c.name, Err: err}
	}
	sess.OnNotification(c.handleNotification)

	var caps *Capabilities
	err = runWithPolicy(ctx, policy, c.progressCh, func(ctx context.Context) error {
		var ierr error
		caps, ierr = sess.Initialize(ctx)
		return ierr
	})
	if err != nil {
		_ = sess.Close()
		c.fail(err)
		return &ConnectionError{Server: c.name, Err: err}
	}

	c.mu.Lock()
	c.session = sess
	c.caps = caps
	c.state = StateConnected
	c.lastErr = nil
	c.mu.Unlock()
	return nil
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	c.state = StateError
	c.lastErr = err
	c.mu.Unlock()
}

// Disconnect closes the owned session handle if present and moves the
// client to StateDisconnected. Idempotent; never returns an error.
func (c *Client) Disconnect() {
	c.mu.Lock()
	sess := c.session
	c.session = nil
	c.caps = nil
	c.state = StateDisconnected
	c.lastErr = nil
	c.mu.Unlock()

	if sess != nil {
		_ = sess.Close()
	}
}

// ListTools fetches the server's tool descriptors. Fails immediately
// with ErrNotConnected when the session is down.
func (c *Client) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	sess, policy, err := c.liveSession("tools/list")
	if err != nil {
		return nil, err
	}

	var tools []ToolDescriptor
	err = runWithPolicy(ctx, policy, c.progressCh, func(ctx context.Context) error {
		var lerr error
		tools, lerr = sess.ListTools(ctx)
		return lerr
	})
	if err != nil {
		return nil, c.requestErr("tools/list", err)
	}
	return tools, nil
}

// CallTool invokes a remote tool. Argument keys must be the original
// names from the server's schema, not sanitized ones.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	sess, policy, err := c.liveSession("tools/call")
	if err != nil {
		return nil, err
	}

	var result *ToolResult
	err = runWithPolicy(ctx, policy, c.progressCh, func(ctx context.Context) error {
		var cerr error
		result, cerr = sess.CallTool(ctx, name, args)
		return cerr
	})
	if err != nil {
		return nil, c.requestErr("tools/call", err)
	}
	return result, nil
}

// liveSession returns the session handle and effective policy, or a
// not-connected error when the client is in any other state.
func (c *Client) liveSession(op string) (Session, TimeoutPolicy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || c.session == nil {
		return nil, TimeoutPolicy{}, &RequestError{Server: c.name, Op: op, Err: ErrNotConnected}
	}
	return c.session, c.timeout, nil
}

func (c *Client) requestErr(op string, err error) error {
	if re, ok := err.(*RequestError); ok {
		re.Server = c.name
		re.Op = op
		return re
	}
	return &RequestError{Server: c.name, Op: op, Err: err}
}

// handleNotification fans server notifications out: progress events
// wake any in-flight request watchers, log messages go to the
// registered observer, everything else is dropped.
func (c *Client) handleNotification(n Notification) {
	switch n.Method {
	case methodProgress:
		c.progressMu.Lock()
		for ch := range c.progress {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
		c.progressMu.Unlock()
	case methodLogging:
		c.mu.Lock()
		obs := c.observer
		c.mu.Unlock()
		if obs != nil {
			obs(n.Method, n.Params)
		}
	}
}

// progressCh registers a watcher for progress notifications. The
// returned release func must be called when the request finishes.
func (c *Client) progressCh() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	c.progressMu.Lock()
	c.progress[ch] = struct{}{}
	c.progressMu.Unlock()
	return ch, func() {
		c.progressMu.Lock()
		delete(c.progress, ch)
		c.progressMu.Unlock()
	}
}

// runWithPolicy executes fn under the timeout policy: a per-request
// deadline that progress notifications may extend, capped overall by
// MaxTotal. On timeout the request context is cancelled and the call
// returns a timeout-tagged RequestError.
func runWithPolicy(ctx context.Context, policy TimeoutPolicy, subscribe func() (<-chan struct{}, func()), fn func(context.Context) error) error {
	if policy.PerRequest <= 0 {
		return fn(ctx)
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(reqCtx) }()

	var progress <-chan struct{}
	if policy.ResetOnProgress && subscribe != nil {
		ch, release := subscribe()
		defer release()
		progress = ch
	}

	timer := time.NewTimer(policy.PerRequest)
	defer timer.Stop()

	var totalC <-chan time.Time
	if policy.MaxTotal > 0 {
		total := time.NewTimer(policy.MaxTotal)
		defer total.Stop()
		totalC = total.C
	}

	for {
		select {
		case err := <-done:
			return err
		case <-progress:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(policy.PerRequest)
		case <-timer.C:
			cancel()
			<-done
			return &RequestError{Timeout: true, Err: context.DeadlineExceeded}
		case <-totalC:
			cancel()
			<-done
			return &RequestError{Timeout: true, Err: context.DeadlineExceeded}
		case <-ctx.Done():
			cancel()
			<-done
			return ctx.Err()
		}
	}
}
