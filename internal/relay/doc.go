// Package relay implements the mention relay pipeline.
//
// Slack events enter through Intake.OnEvent, which deduplicates by event id,
// appends accepted events to an in-memory FIFO Queue and returns an Ack right
// away. A single Dispatcher drains the queue, drops events that are not
// attributable mentions of the configured identity, resolves actor and
// channel names through a Directory, decorates the channel with a label from
// the LabelTable and hands a Notification to the Sink.
//
// Every failure in the per-event path is terminal for that event only: it is
// logged, counted and the dispatcher moves on.
package relay
