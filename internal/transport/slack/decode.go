package slack

import (
	"encoding/json"
	"errors"
	"fmt"

	"relaybot/internal/relay"
)

var errNotEventCallback = errors.New("slack: payload is not an event_callback")

// eventsAPIPayload is the subset of an Events API callback the relay reads.
// Slack sends many more fields; unknown ones are ignored.
type eventsAPIPayload struct {
	Type    string       `json:"type"`
	EventID string       `json:"event_id"`
	Event   payloadEvent `json:"event"`
}

type payloadEvent struct {
	Type        string  `json:"type"`
	Subtype     string  `json:"subtype"`
	ClientMsgID string  `json:"client_msg_id"`
	User        string  `json:"user"`
	Channel     string  `json:"channel"`
	Text        *string `json:"text"`
}

// decodeEventsAPI turns a socket mode events_api payload into a RawEvent.
// The dedup id is the event's client_msg_id, which stays the same across
// redeliveries; bot and system messages usually have none.
func decodeEventsAPI(envelopeID string, payload []byte) (relay.RawEvent, error) {
	var p eventsAPIPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return relay.RawEvent{EnvelopeID: envelopeID}, fmt.Errorf("decode events_api payload: %w", err)
	}
	if p.Type != "" && p.Type != "event_callback" {
		return relay.RawEvent{EnvelopeID: envelopeID}, fmt.Errorf("%w: %q", errNotEventCallback, p.Type)
	}
	return relay.RawEvent{
		EnvelopeID: envelopeID,
		ID:         p.Event.ClientMsgID,
		Type:       p.Event.Type,
		ActorID:    p.Event.User,
		ChannelID:  p.Event.Channel,
		Text:       p.Event.Text,
	}, nil
}
