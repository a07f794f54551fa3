// Package audit buffers security events and delivers them to sinks.
//
// Services build an [Event] and hand it to a [Sink]. The [Dispatcher] makes
// delivery asynchronous; [StoreSink] persists events as model.AuditLog rows
// and [LogSink] writes them through zap. This package decides nothing about
// which events exist beyond the shared action names.
package audit
