// Package notifier delivers relay notifications to one fixed Telegram chat.
//
// # Delivery
//
// Send is synchronous and makes a single attempt: the relay dispatcher
// handles one event at a time and drops it on failure, so there is no queue
// or retry here. Outbound calls pass through a token bucket so a burst of
// mentions cannot trip Telegram's per-chat flood limits.
//
// # History
//
// For debugging and the periodic stats report, the service keeps a small
// in-memory history of recent deliveries and, when storage is configured,
// appends every outcome to the delivery journal.
package notifier
