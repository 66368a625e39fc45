package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSession implements Session for client tests.
type stubSession struct {
	mu       sync.Mutex
	notify   func(Notification)
	closed   int
	initErr  error
	tools    []ToolDescriptor
	listErr  error
	callFn   func(ctx context.Context, name string, args map[string]any) (*ToolResult, error)
	callArgs map[string]any
}

func (s *stubSession) Initialize(ctx context.Context) (*Capabilities, error) {
	if s.initErr != nil {
		return nil, s.initErr
	}
	return &Capabilities{Tools: true, ServerName: "stub", ServerVersion: "1.0"}, nil
}

func (s *stubSession) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.tools, nil
}

func (s *stubSession) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	s.mu.Lock()
	s.callArgs = args
	s.mu.Unlock()
	if s.callFn != nil {
		return s.callFn(ctx, name, args)
	}
	return &ToolResult{Content: "ok"}, nil
}

func (s *stubSession) OnNotification(fn func(Notification)) {
	s.mu.Lock()
	s.notify = fn
	s.mu.Unlock()
}

func (s *stubSession) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

func (s *stubSession) push(n Notification) {
	s.mu.Lock()
	fn := s.notify
	s.mu.Unlock()
	if fn != nil {
		fn(n)
	}
}

func (s *stubSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func sseConfig() ServerConfig {
	return ServerConfig{Transport: TransportSSE, URL: "http://localhost:9999/sse"}
}

func countingDialer(sess Session, dials *atomic.Int32) SessionDialer {
	return func(ctx context.Context, cfg ServerConfig) (Session, error) {
		dials.Add(1)
		return sess, nil
	}
}

func TestConnectIsNoOpWhenConnected(t *testing.T) {
	var dials atomic.Int32
	c := NewClient("srv", sseConfig(), countingDialer(&stubSession{}, &dials), TimeoutPolicy{})

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))

	assert.Equal(t, int32(1), dials.Load())
	assert.Equal(t, StateConnected, c.State())

	caps := c.Capabilities()
	require.NotNil(t, caps)
	assert.True(t, caps.Tools)
	assert.Equal(t, "stub", caps.ServerName)
}

func TestConnectDialFailure(t *testing.T) {
	dialErr := errors.New("connection refused")
	c := NewClient("srv", sseConfig(), func(ctx context.Context, cfg ServerConfig) (Session, error) {
		return nil, dialErr
	}, TimeoutPolicy{})

	err := c.Connect(context.Background())
	require.Error(t, err)

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "srv", connErr.Server)
	assert.ErrorIs(t, err, dialErr)

	assert.Equal(t, StateError, c.State())
	assert.ErrorIs(t, c.Err(), dialErr)
	assert.Nil(t, c.Capabilities())
}

func TestConnectHandshakeFailureClosesSession(t *testing.T) {
	sess := &stubSession{initErr: errors.New("unsupported protocol version")}
	var dials atomic.Int32
	c := NewClient("srv", sseConfig(), countingDialer(sess, &dials), TimeoutPolicy{})

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateError, c.State())
	assert.Equal(t, 1, sess.closeCount())
}

func TestReconnectAfterError(t *testing.T) {
	fail := true
	sess := &stubSession{}
	c := NewClient("srv", sseConfig(), func(ctx context.Context, cfg ServerConfig) (Session, error) {
		if fail {
			return nil, errors.New("transient")
		}
		return sess, nil
	}, TimeoutPolicy{})

	require.Error(t, c.Connect(context.Background()))
	require.Equal(t, StateError, c.State())

	fail = false
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, StateConnected, c.State())
	assert.NoError(t, c.Err())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	sess := &stubSession{}
	var dials atomic.Int32
	c := NewClient("srv", sseConfig(), countingDialer(sess, &dials), TimeoutPolicy{})
	require.NoError(t, c.Connect(context.Background()))

	c.Disconnect()
	c.Disconnect()

	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, 1, sess.closeCount())
	assert.Nil(t, c.Capabilities())
}

func TestRequestsFailWhenNotConnected(t *testing.T) {
	c := NewClient("srv", sseConfig(), countingDialer(&stubSession{}, new(atomic.Int32)), TimeoutPolicy{})

	_, err := c.ListTools(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConnected)

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "srv", reqErr.Server)
	assert.Equal(t, "tools/list", reqErr.Op)

	_, err = c.CallTool(context.Background(), "x", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestCallToolTimeout(t *testing.T) {
	sess := &stubSession{
		callFn: func(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	policy := TimeoutPolicy{PerRequest: 20 * time.Millisecond}
	c := NewClient("srv", sseConfig(), countingDialer(sess, new(atomic.Int32)), policy)
	require.NoError(t, c.Connect(context.Background()))

	_, err := c.CallTool(context.Background(), "slow", nil)
	require.Error(t, err)

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.True(t, reqErr.Timeout)
	assert.Equal(t, "tools/call", reqErr.Op)
}

func TestProgressExtendsDeadline(t *testing.T) {
	done := make(chan struct{})
	sess := &stubSession{}
	sess.callFn = func(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
		select {
		case <-done:
			return &ToolResult{Content: "finished"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	policy := TimeoutPolicy{PerRequest: 60 * time.Millisecond, ResetOnProgress: true}
	c := NewClient("srv", sseConfig(), countingDialer(sess, new(atomic.Int32)), policy)
	require.NoError(t, c.Connect(context.Background()))

	// Emit progress every 20ms for 150ms, then let the call finish. The
	// call outlives PerRequest only because each progress notification
	// resets the deadline.
	go func() {
		for i := 0; i < 8; i++ {
			time.Sleep(20 * time.Millisecond)
			sess.push(Notification{Method: "notifications/progress"})
		}
		close(done)
	}()

	result, err := c.CallTool(context.Background(), "slow", nil)
	require.NoError(t, err)
	assert.Equal(t, "finished", result.Content)
}

func TestMaxTotalCapsProgressExtensions(t *testing.T) {
	sess := &stubSession{}
	sess.callFn = func(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	policy := TimeoutPolicy{
		PerRequest:      50 * time.Millisecond,
		ResetOnProgress: true,
		MaxTotal:        120 * time.Millisecond,
	}
	c := NewClient("srv", sseConfig(), countingDialer(sess, new(atomic.Int32)), policy)
	require.NoError(t, c.Connect(context.Background()))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sess.push(Notification{Method: "notifications/progress"})
			case <-stop:
				return
			}
		}
	}()

	start := time.Now()
	_, err := c.CallTool(context.Background(), "slow", nil)
	elapsed := time.Since(start)

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.True(t, reqErr.Timeout)
	assert.Less(t, elapsed, 400*time.Millisecond, "MaxTotal must cap the request despite steady progress")
}

func TestLoggingNotificationsReachObserver(t *testing.T) {
	sess := &stubSession{}
	c := NewClient("srv", sseConfig(), countingDialer(sess, new(atomic.Int32)), TimeoutPolicy{})
	require.NoError(t, c.Connect(context.Background()))

	var mu sync.Mutex
	var got []string
	c.SetNotificationObserver(func(method string, params json.RawMessage) {
		mu.Lock()
		got = append(got, method+":"+string(params))
		mu.Unlock()
	})

	sess.push(Notification{Method: "notifications/message", Params: json.RawMessage(`{"level":"info"}`)})
	sess.push(Notification{Method: "notifications/other", Params: json.RawMessage(`{}`)})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1, "only logging notifications are forwarded")
	assert.Equal(t, `notifications/message:{"level":"info"}`, got[0])
}

func TestConfigTimeoutOverridesDefault(t *testing.T) {
	sess := &stubSession{
		callFn: func(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	cfg := sseConfig()
	cfg.Timeout = &TimeoutPolicy{PerRequest: 20 * time.Millisecond}

	// The registry-wide default would wait much longer.
	c := NewClient("srv", cfg, countingDialer(sess, new(atomic.Int32)), TimeoutPolicy{PerRequest: 10 * time.Second})
	require.NoError(t, c.Connect(context.Background()))

	start := time.Now()
	_, err := c.CallTool(context.Background(), "slow", nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
