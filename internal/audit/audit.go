package audit

import (
	"context"
	"time"

	"github.com/MrEthical07/authcore/model"
	"go.uber.org/zap"
)

// Event actions emitted by authcore services.
const (
	ActionLogin             = "auth.login"
	ActionLoginChallenge    = "auth.login_challenge"
	ActionLogout            = "auth.logout"
	ActionLogoutAll         = "auth.logout_all"
	ActionRefreshReuse      = "token.reuse_detected"
	ActionTwoFactorEnabled  = "twofactor.enabled"
	ActionTwoFactorDisabled = "twofactor.disabled"
	ActionTwoFactorVerified = "twofactor.verified"
	ActionTwoFactorFailed   = "twofactor.failed"
	ActionBackupCodesLow    = "twofactor.backup_codes_low"
	ActionBackupCodesReset  = "twofactor.backup_codes_regenerated"
	ActionOAuthLogin        = "oauth.login"
	ActionPasswordReset     = "auth.password_reset_requested"
	ActionPasswordChanged   = "auth.password_changed"
)

// Event is one security-relevant occurrence.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Action    string            `json:"action"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Log converts the event into the persisted row shape.
func (e Event) Log() model.AuditLog {
	meta := make(map[string]string, len(e.Metadata)+2)
	for k, v := range e.Metadata {
		meta[k] = v
	}
	if e.SessionID != "" {
		meta["session_id"] = e.SessionID
	}
	if e.Error != "" {
		meta["error"] = e.Error
	}
	return model.AuditLog{
		UserID:    e.UserID,
		Action:    e.Action,
		Success:   e.Success,
		IP:        e.IP,
		UserAgent: e.UserAgent,
		Metadata:  meta,
		CreatedAt: e.Timestamp,
	}
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("audit")}
}

func (s *LogSink) Emit(_ context.Context, event Event) {
	fields := []zap.Field{
		zap.String("action", event.Action),
		zap.String("user_id", event.UserID),
		zap.Bool("success", event.Success),
		zap.Time("at", event.Timestamp),
	}
	if event.SessionID != "" {
		fields = append(fields, zap.String("session_id", event.SessionID))
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error", event.Error))
	}
	for k, v := range event.Metadata {
		fields = append(fields, zap.String("meta."+k, v))
	}
	s.logger.Info("audit event", fields...)
}

// Inserter persists audit rows.
type Inserter interface {
	InsertAudit(ctx context.Context, entry model.AuditLog) error
}

// StoreSink persists events as AuditLog rows. Insert failures are logged
// and otherwise dropped; auditing never fails the audited operation.
type StoreSink struct {
	store  Inserter
	logger *zap.Logger
}

func NewStoreSink(store Inserter, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{store: store, logger: logger}
}

func (s *StoreSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.InsertAudit(ctx, event.Log()); err != nil {
		s.logger.Error("audit: insert failed", zap.String("action", event.Action), zap.Error(err))
	}
}

// Multi fans an event out to every sink in order.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}

// Emit stamps event with now and hands it to sink. A nil sink is a no-op.
func Emit(ctx context.Context, sink Sink, now time.Time, event Event) {
	if sink == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = now
	}
	sink.Emit(ctx, event)
}
