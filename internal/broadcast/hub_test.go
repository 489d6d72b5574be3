package broadcast

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chiwei-platform/deployd/internal/domain"
)

type stubConn struct {
	id      string
	mu      sync.Mutex
	events  []domain.LogEvent
	closed  bool
	sendErr error
}

func newStubConn(id string) *stubConn { return &stubConn{id: id} }

func (c *stubConn) ID() string { return c.id }

func (c *stubConn) Send(e domain.LogEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.events = append(c.events, e)
	return nil
}

func (c *stubConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *stubConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *stubConn) received() []domain.LogEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.LogEvent(nil), c.events...)
}

func TestPublish_OnlySubscribers(t *testing.T) {
	hub := NewHub()
	fixed := time.Date(2024, 5, 1, 20, 0, 0, 0, time.FixedZone("CST", 8*3600))
	hub.now = func() time.Time { return fixed }

	a, b, c := newStubConn("a"), newStubConn("b"), newStubConn("c")
	hub.Register(a)
	hub.Register(b)
	hub.Register(c)
	hub.Subscribe(a, "demo-1")
	hub.Subscribe(b, "demo-2")
	hub.Subscribe(c, "demo-1")
	hub.Subscribe(c, "demo-2")

	hub.Publish("demo-1", domain.LevelInfo, "hello")

	if got := len(a.received()); got != 1 {
		t.Errorf("a received %d events, want 1", got)
	}
	if got := len(b.received()); got != 0 {
		t.Errorf("b received %d events, want 0", got)
	}
	if got := len(c.received()); got != 1 {
		t.Errorf("c received %d events, want 1", got)
	}

	e := a.received()[0]
	if e.JobID != "demo-1" || e.Level != domain.LevelInfo || e.Message != "hello" {
		t.Errorf("event = %+v", e)
	}
	if e.Timestamp.Location() != time.UTC || !e.Timestamp.Equal(fixed) {
		t.Errorf("timestamp = %v, want UTC %v", e.Timestamp, fixed)
	}
}

func TestPublish_NoSubscribersDropped(t *testing.T) {
	hub := NewHub()
	a := newStubConn("a")
	hub.Register(a)

	// 订阅之前发布的事件不会补发
	hub.Publish("demo-1", domain.LevelInfo, "early")
	hub.Subscribe(a, "demo-1")
	hub.Publish("demo-1", domain.LevelInfo, "late")

	got := a.received()
	if len(got) != 1 || got[0].Message != "late" {
		t.Errorf("received = %+v, want only the late event", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	hub := NewHub()
	a := newStubConn("a")
	hub.Register(a)
	hub.Subscribe(a, "demo-1")
	hub.Unsubscribe(a, "demo-1")

	hub.Publish("demo-1", domain.LevelInfo, "hello")
	if got := len(a.received()); got != 0 {
		t.Errorf("received %d events after unsubscribe", got)
	}
}

func TestUnregister(t *testing.T) {
	hub := NewHub()
	a := newStubConn("a")
	hub.Register(a)
	hub.Subscribe(a, "demo-1")
	hub.Unregister(a)

	hub.Publish("demo-1", domain.LevelInfo, "hello")
	if got := len(a.received()); got != 0 {
		t.Errorf("received %d events after unregister", got)
	}
	if hub.Subscribe(a, "demo-1") {
		t.Error("Subscribe on unregistered conn should fail")
	}
	if n := hub.Subscribers("demo-1"); n != 0 {
		t.Errorf("Subscribers = %d, want 0", n)
	}
}

func TestPublish_SkipsClosedAndFailingConns(t *testing.T) {
	hub := NewHub()
	closed, failing, ok := newStubConn("closed"), newStubConn("failing"), newStubConn("ok")
	failing.sendErr = errors.New("broken pipe")
	for _, c := range []*stubConn{closed, failing, ok} {
		hub.Register(c)
		hub.Subscribe(c, "demo-1")
	}
	closed.Close()

	hub.Publish("demo-1", domain.LevelError, "boom")

	if got := len(closed.received()); got != 0 {
		t.Errorf("closed conn received %d events", got)
	}
	if got := len(ok.received()); got != 1 {
		t.Errorf("healthy conn received %d events, want 1", got)
	}
}

func TestClose(t *testing.T) {
	hub := NewHub()
	a := newStubConn("a")
	hub.Register(a)
	hub.Close()

	if !a.Closed() {
		t.Error("Close should close registered conns")
	}
	late := newStubConn("late")
	hub.Register(late)
	if !late.Closed() {
		t.Error("Register after Close should close the conn")
	}
	if hub.Subscribe(late, "demo-1") {
		t.Error("late conn must not be registered")
	}
}

func TestPublish_Concurrent(t *testing.T) {
	hub := NewHub()
	var wg sync.WaitGroup
	conns := make([]*stubConn, 20)
	for i := range conns {
		conns[i] = newStubConn(fmt.Sprintf("c%d", i))
		hub.Register(conns[i])
		hub.Subscribe(conns[i], "demo-1")
	}

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			hub.Publish("demo-1", domain.LevelInfo, "tick")
		}()
		go func(i int) {
			defer wg.Done()
			c := newStubConn(fmt.Sprintf("tmp%d", i))
			hub.Register(c)
			hub.Subscribe(c, "demo-1")
			hub.Unregister(c)
		}(i)
	}
	wg.Wait()

	for _, c := range conns {
		if got := len(c.received()); got != 10 {
			t.Errorf("%s received %d events, want 10", c.ID(), got)
		}
	}
}
