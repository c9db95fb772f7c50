package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"prestic/internal/eventbus"
	logx "prestic/pkg/logx"
)

type fakeSink struct {
	mu   sync.Mutex
	sent []Message
	fail int // fail the first n sends
}

func (f *fakeSink) Name() string { return "fake" }

func (f *fakeSink) Send(ctx context.Context, m Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return errors.New("transient")
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeSink) messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.sent...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestNotifyDelivers(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	s := New(Config{Enabled: true, RatePerSec: 1000, OnSuccess: true}, logx.Nop(), sink)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Notify(context.Background(), Message{Profile: "home", Subject: "done"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(sink.messages()) == 1 })
	if got := sink.messages()[0].Subject; got != "done" {
		t.Fatalf("Subject = %q", got)
	}
}

func TestNotifySuccessFiltered(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	s := New(Config{Enabled: true, RatePerSec: 1000}, logx.Nop(), sink)
	s.Start(context.Background())

	if err := s.Notify(context.Background(), Message{Profile: "home", Subject: "ok"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Notify(context.Background(), Message{Profile: "home", Subject: "broken", Failure: true}); err != nil {
		t.Fatal(err)
	}
	s.Stop(context.Background())

	msgs := sink.messages()
	if len(msgs) != 1 || msgs[0].Subject != "broken" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestNotifyDedup(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	s := New(Config{Enabled: true, RatePerSec: 1000, OnSuccess: true, DedupWindow: time.Minute}, logx.Nop(), sink)
	s.Start(context.Background())

	for i := 0; i < 3; i++ {
		if err := s.Notify(context.Background(), Message{Profile: "home", Subject: "same"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Notify(context.Background(), Message{Profile: "home", Subject: "other"}); err != nil {
		t.Fatal(err)
	}
	s.Stop(context.Background())

	if got := len(sink.messages()); got != 2 {
		t.Fatalf("delivered %d messages, want 2", got)
	}
}

func TestNotifyRetry(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{fail: 2}
	s := New(Config{
		Enabled: true, RatePerSec: 1000, OnSuccess: true,
		RetryMax: 3, RetryBase: time.Millisecond,
	}, logx.Nop(), sink)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Notify(context.Background(), Message{Profile: "home", Subject: "eventually"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(sink.messages()) == 1 })
}

func TestNotifyDisabled(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), &fakeSink{})
	s.Start(context.Background())
	if err := s.Notify(context.Background(), Message{Subject: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestFromRunEvent(t *testing.T) {
	t.Parallel()
	ev := eventbus.RunEvent{
		Profile: "home", Command: "backup",
		Duration: 90 * time.Second, Tail: []string{"snapshot abc saved"},
	}

	m, ok := FromRunEvent(eventbus.TypeRunSucceeded, ev)
	if !ok || m.Failure || m.Body != "snapshot abc saved" {
		t.Fatalf("success message = %+v, ok=%v", m, ok)
	}

	ev.Warning = true
	m, ok = FromRunEvent(eventbus.TypeRunSucceeded, ev)
	if !ok || !m.Failure {
		t.Fatalf("warning message = %+v, ok=%v", m, ok)
	}

	ev.ExitCode = 1
	ev.Error = "exit status 1"
	m, ok = FromRunEvent(eventbus.TypeRunFailed, ev)
	if !ok || !m.Failure {
		t.Fatalf("failure message = %+v, ok=%v", m, ok)
	}

	if _, ok := FromRunEvent(eventbus.TypeRunStarted, ev); ok {
		t.Fatal("started event must not notify")
	}
}
