package audit

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/store/memory"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, Event) {
	s.count.Add(1)
}

type gateSink struct {
	gate chan struct{}
}

func (s *gateSink) Emit(context.Context, Event) {
	<-s.gate
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, &countingSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{Action: ActionLogin})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

func TestDispatcherDeliversBeforeClose(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, sink)
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{Action: ActionLogin})
	}
	d.Close()
	if got := sink.count.Load(); got != 10 {
		t.Fatalf("expected 10 delivered events, got %d", got)
	}
	d.Emit(context.Background(), Event{Action: ActionLogin})
	if got := sink.count.Load(); got != 10 {
		t.Fatalf("emit after close must be dropped, got %d", got)
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 20; i++ {
		d.Emit(context.Background(), Event{Action: ActionLogin})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a blocked sink and a full buffer")
	}
	close(sink.gate)
	d.Close()
}

func TestStoreSinkPersistsRows(t *testing.T) {
	db := memory.New()
	sink := NewStoreSink(db, nil)
	at := time.Unix(1_700_000_000, 0)

	Emit(context.Background(), sink, at, Event{
		Action:    ActionBackupCodesLow,
		UserID:    "u1",
		SessionID: "s1",
		Success:   true,
		Metadata:  map[string]string{"remaining": "1"},
	})

	logs := db.AuditLogs()
	if len(logs) != 1 {
		t.Fatalf("expected 1 audit row, got %d", len(logs))
	}
	row := logs[0]
	if row.Action != ActionBackupCodesLow || row.UserID != "u1" || !row.CreatedAt.Equal(at) {
		t.Fatalf("unexpected row: %+v", row)
	}
	if row.Metadata["remaining"] != "1" || row.Metadata["session_id"] != "s1" {
		t.Fatalf("metadata not carried: %+v", row.Metadata)
	}
}

func TestLogSinkAndMulti(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	counter := &countingSink{}
	m := Multi{NewLogSink(zap.New(core)), nil, counter}

	m.Emit(context.Background(), Event{Action: ActionLogout, UserID: "u1", Success: true})

	if logs.Len() != 1 || counter.count.Load() != 1 {
		t.Fatalf("expected fan-out to both sinks, logs=%d count=%d", logs.Len(), counter.count.Load())
	}
	entry := logs.All()[0]
	if entry.ContextMap()["action"] != ActionLogout {
		t.Fatalf("missing action field: %v", entry.ContextMap())
	}
}

func TestEmitNilSink(t *testing.T) {
	Emit(context.Background(), nil, time.Now(), Event{Action: ActionLogin})
}
