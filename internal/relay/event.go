package relay

import (
	"strings"
	"time"
)

// TypeMessage is the only event type the dispatcher relays.
const TypeMessage = "message"

// RawEvent is an event as delivered by the source.
type RawEvent struct {
	// EnvelopeID identifies the delivery; it is echoed back in the Ack.
	EnvelopeID string
	// ID is the client message id used for deduplication. May be empty.
	ID        string
	Type      string
	ActorID   string
	ChannelID string
	// Text is nil when the payload had no text field at all.
	Text *string
}

// TextValue returns the text or "" when absent.
func (e RawEvent) TextValue() string {
	if e.Text == nil {
		return ""
	}
	return *e.Text
}

// QueuedEvent is a RawEvent accepted into the pipeline.
type QueuedEvent struct {
	RawEvent
	Seq        uint64
	TraceID    string
	AcceptedAt time.Time
}

// Ack confirms receipt to the source. It says nothing about processing.
type Ack struct {
	EnvelopeID string
}

// Notification is the enriched, outbound form of a relayed event.
type Notification struct {
	EventID      string
	ChannelLabel string
	ActorName    string
	RawText      string
}

// Text renders the notification as a single line for the sink.
func (n Notification) Text() string {
	return "Channel: " + n.ChannelLabel + ", User: " + n.ActorName + ", Message: " + n.RawText
}

// MentionMarker returns the marker Slack embeds when a user is mentioned.
// An empty identity yields an empty marker, which never matches.
func MentionMarker(identity string) string {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return ""
	}
	return "<@" + identity + ">"
}

// ChannelDisplay joins a channel name and its label with a single space.
// The space is kept even when label is empty.
func ChannelDisplay(name, label string) string {
	return name + " " + label
}
