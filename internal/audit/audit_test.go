package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/guardian-auth/internal/model"
	"github.com/iliyamo/guardian-auth/internal/reqctx"
)

type recordingStore struct {
	mu   sync.Mutex
	rows []model.AuditLog
	err  error
}

func (s *recordingStore) Insert(_ context.Context, l model.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, l)
	return nil
}

func TestEventAttribution(t *testing.T) {
	rc := reqctx.Request{ID: "req-1", IP: "10.0.0.1", UserAgent: "curl/8", Actor: &reqctx.Actor{User: model.User{ID: 4}}}
	e := New(rc, ActionLogin, ResourceUser, ResultFailure).Because("invalid_credentials").On(9).With("email", "a@x.com")

	row := e.Log()
	if row.UserID == nil || *row.UserID != 4 || row.ResourceID == nil || *row.ResourceID != 9 {
		t.Fatalf("unexpected ids %+v", row)
	}
	if row.IPAddress != "10.0.0.1" || row.UserAgent != "curl/8" || row.RequestID != "req-1" {
		t.Fatalf("attribution columns not set: %+v", row)
	}
	for key, want := range map[string]any{
		"failure_reason": "invalid_credentials",
		"ip_address":     "10.0.0.1",
		"request_id":     "req-1",
		"email":          "a@x.com",
	} {
		if row.Metadata[key] != want {
			t.Errorf("metadata[%s] = %v, want %v", key, row.Metadata[key], want)
		}
	}
}

func TestEventWithDoesNotAlias(t *testing.T) {
	base := New(reqctx.Request{}, ActionUpdate, ResourceUser, ResultSuccess).With("a", 1)
	x := base.With("b", 2)
	if _, ok := base.Metadata["b"]; ok {
		t.Fatalf("With must copy metadata")
	}
	if x.Metadata["a"] != 1 || x.Metadata["b"] != 2 {
		t.Fatalf("unexpected metadata %v", x.Metadata)
	}
	if base.UserID != nil {
		t.Fatalf("anonymous request must not set a user")
	}
}

func TestStoreSinkSwallowsErrors(t *testing.T) {
	store := &recordingStore{err: errors.New("db down")}
	NewStoreSink(store, nil).Emit(context.Background(), Event{Action: ActionLogin, Result: ResultFailure})

	store.err = nil
	NewStoreSink(store, nil).Emit(context.Background(), Event{Action: ActionLogin, Result: ResultSuccess})
	if len(store.rows) != 1 || store.rows[0].CreatedAt.IsZero() {
		t.Fatalf("expected one stamped row, got %+v", store.rows)
	}
}

func TestDispatcherDeliversAndDrains(t *testing.T) {
	mem := &MemorySink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, mem)
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{Action: ActionLogin, Result: ResultSuccess})
	}
	d.Close()
	if got := len(mem.Events()); got != 10 {
		t.Fatalf("delivered %d events, want 10", got)
	}
	d.Emit(context.Background(), Event{Action: ActionLogin})
	if got := len(mem.Events()); got != 10 {
		t.Fatalf("closed dispatcher must drop events")
	}
	d.Close()
}

func TestDispatcherCloseDuringEmit(t *testing.T) {
	for _, dropIfFull := range []bool{false, true} {
		mem := &MemorySink{}
		d := NewDispatcher(Config{Enabled: true, BufferSize: 4, DropIfFull: dropIfFull}, mem)

		const emitters, perEmitter = 8, 200
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < emitters; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for j := 0; j < perEmitter; j++ {
					d.Emit(context.Background(), Event{Action: ActionLogin})
				}
			}()
		}
		close(start)
		time.Sleep(time.Millisecond)
		d.Close()
		wg.Wait()

		delivered := uint64(len(mem.Events()))
		if delivered+d.Dropped() != emitters*perEmitter {
			t.Fatalf("dropIfFull=%v: delivered %d + dropped %d != %d", dropIfFull, delivered, d.Dropped(), emitters*perEmitter)
		}
	}
}

type blockingSink struct {
	release chan struct{}
	mem     MemorySink
}

func (b *blockingSink) Emit(ctx context.Context, e Event) {
	<-b.release
	b.mem.Emit(ctx, e)
}

func TestDispatcherDropIfFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	deadline := time.Now().Add(2 * time.Second)
	for d.Dropped() == 0 && time.Now().Before(deadline) {
		d.Emit(context.Background(), Event{Action: ActionLogin})
	}
	if d.Dropped() == 0 {
		t.Fatalf("expected drops with a full buffer")
	}
	close(sink.release)
	d.Close()
}

func TestDisabledDispatcherIsSynchronous(t *testing.T) {
	mem := &MemorySink{}
	d := NewDispatcher(Config{}, mem)
	d.Emit(context.Background(), Event{Action: ActionRegister, Result: ResultSuccess})
	if _, ok := mem.Find(ActionRegister, ResultSuccess); !ok {
		t.Fatalf("event should be delivered inline")
	}
	d.Close()
}

func TestMultiSink(t *testing.T) {
	a, b := &MemorySink{}, &MemorySink{}
	MultiSink{a, b, NoOpSink{}}.Emit(context.Background(), Event{Action: ActionLogout})
	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Fatalf("fan-out failed")
	}
}
