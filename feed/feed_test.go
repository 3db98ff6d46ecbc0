package feed

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/samaelod/duoclock/clock"
	"github.com/samaelod/duoclock/types"
)

type recorder struct {
	ch chan Payload
}

func (r *recorder) Publish(_ context.Context, p Payload) error {
	r.ch <- p
	return nil
}

func TestNewPayload(t *testing.T) {
	c := clock.New(time.Minute, 2*time.Minute)
	c.StartSide(types.SideB)
	p := NewPayload(ClockSource{ID: "s1", Clock: c})

	if p.Session != "s1" || p.Running != "b" || p.Loser != "" {
		t.Errorf("payload = %+v", p)
	}
	if p.InitialAMs != 60000 || p.InitialBMs != 120000 || p.RemainingAMs != 60000 {
		t.Errorf("times = %+v", p)
	}
	if p.ReadOnly || p.Connected {
		t.Errorf("local clock reported read-only or connected")
	}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"remaining_a_ms"`, `"running":"b"`, `"loser":""`, `"read_only":false`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("JSON %s lacks %s", data, key)
		}
	}
}

func TestPollerPublishesChanges(t *testing.T) {
	fc := clockwork.NewFakeClock()
	c := clock.New(10*time.Second, 10*time.Second, clock.WithClock(fc))
	rec := &recorder{ch: make(chan Payload, 16)}
	p := &Poller{
		Source:     ClockSource{ID: "s", Clock: c},
		Interval:   100 * time.Millisecond,
		Clock:      fc,
		Publishers: []Publisher{rec},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	first := <-rec.ch
	if first.RemainingAMs != 10000 {
		t.Fatalf("first payload = %+v", first)
	}

	c.StartSide(types.SideA)
	var got Payload
	for i := 0; i < 200; i++ {
		fc.Advance(100 * time.Millisecond)
		select {
		case got = <-rec.ch:
		case <-time.After(5 * time.Millisecond):
			continue
		}
		break
	}
	if got.Running != "a" {
		t.Fatalf("change not published: %+v", got)
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}

func TestPayloadVisible(t *testing.T) {
	a := Payload{RemainingAMs: 5400, RemainingBMs: 7000}
	b := Payload{RemainingAMs: 5001, RemainingBMs: 7999}
	if a.visible() != b.visible() {
		t.Errorf("sub-second difference counted as visible")
	}
	b.RemainingAMs = 4999
	if a.visible() == b.visible() {
		t.Errorf("second boundary not counted as visible")
	}
}

func TestHub(t *testing.T) {
	hub := NewHub(DefaultHubConfig())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	hub.Publish(context.Background(), Payload{Session: "first"})

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func() Payload {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var p Payload
		if err := conn.ReadJSON(&p); err != nil {
			t.Fatalf("read: %v", err)
		}
		return p
	}

	if p := read(); p.Session != "first" {
		t.Errorf("late joiner got %+v, want the latest payload", p)
	}
	if hub.Count() != 1 {
		t.Errorf("Count = %d, want 1", hub.Count())
	}

	hub.Publish(context.Background(), Payload{Session: "second", Running: "a"})
	if p := read(); p.Session != "second" || p.Running != "a" {
		t.Errorf("got %+v", p)
	}
}

func TestNATSConnectFailure(t *testing.T) {
	cfg := DefaultNATSConfig()
	cfg.URL = "nats://127.0.0.1:1"
	if _, err := NewNATSPublisher(cfg); err == nil {
		t.Errorf("connected to a closed port")
	}
}
