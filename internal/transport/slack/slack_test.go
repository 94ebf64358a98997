package slack

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"relaybot/internal/relay"
	logx "relaybot/pkg/logx"
)

const messagePayload = `{
  "type": "event_callback",
  "event_id": "Ev01",
  "event": {
    "type": "message",
    "client_msg_id": "m1",
    "user": "U2",
    "channel": "C1",
    "text": "<@U1> ping"
  }
}`

func TestDecodeEventsAPI(t *testing.T) {
	raw, err := decodeEventsAPI("env-1", []byte(messagePayload))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if raw.EnvelopeID != "env-1" || raw.ID != "m1" || raw.Type != "message" || raw.ActorID != "U2" || raw.ChannelID != "C1" {
		t.Fatalf("unexpected event: %+v", raw)
	}
	if raw.Text == nil || *raw.Text != "<@U1> ping" {
		t.Fatalf("unexpected text: %v", raw.Text)
	}
}

func TestDecodeEventsAPIAbsentText(t *testing.T) {
	raw, err := decodeEventsAPI("env", []byte(`{"type":"event_callback","event":{"type":"reaction_added","user":"U2"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if raw.Text != nil {
		t.Fatalf("absent text must stay nil")
	}
	if raw.ID != "" {
		t.Fatalf("id = %q, want empty", raw.ID)
	}
}

func TestDecodeEventsAPIRejects(t *testing.T) {
	if _, err := decodeEventsAPI("env", []byte(`{`)); err == nil {
		t.Fatalf("expected error for broken json")
	}
	_, err := decodeEventsAPI("env", []byte(`{"type":"app_rate_limited"}`))
	if !errors.Is(err, errNotEventCallback) {
		t.Fatalf("err = %v, want errNotEventCallback", err)
	}
}

type recordingHandler struct{ got []relay.RawEvent }

func (h *recordingHandler) OnEvent(raw relay.RawEvent) relay.Ack {
	h.got = append(h.got, raw)
	return relay.Ack{EnvelopeID: raw.EnvelopeID}
}

type recordingAcker struct{ envelopes []string }

func (a *recordingAcker) Ack(req socketmode.Request, _ ...interface{}) {
	a.envelopes = append(a.envelopes, req.EnvelopeID)
}

func TestSourceHandleAcksEveryEnvelope(t *testing.T) {
	h := &recordingHandler{}
	a := &recordingAcker{}
	s := NewSource(nil, h, logx.NewWriter(io.Discard, "debug"))

	s.handle(socketmode.Event{Type: socketmode.EventTypeConnected}, a)
	if !s.Connected() {
		t.Fatalf("expected connected after EventTypeConnected")
	}

	s.handle(socketmode.Event{
		Type:    socketmode.EventTypeEventsAPI,
		Request: &socketmode.Request{EnvelopeID: "env-1", Payload: json.RawMessage(messagePayload)},
	}, a)
	s.handle(socketmode.Event{
		Type:    socketmode.EventTypeEventsAPI,
		Request: &socketmode.Request{EnvelopeID: "env-2", Payload: json.RawMessage(`{`)},
	}, a)
	s.handle(socketmode.Event{
		Type:    socketmode.EventTypeSlashCommand,
		Request: &socketmode.Request{EnvelopeID: "env-3"},
	}, a)

	if len(h.got) != 1 || h.got[0].ID != "m1" {
		t.Fatalf("handler got %+v", h.got)
	}
	if strings.Join(a.envelopes, ",") != "env-1,env-2,env-3" {
		t.Fatalf("acked envelopes = %v", a.envelopes)
	}
	if rec, rej := s.Counters(); rec != 1 || rej != 1 {
		t.Fatalf("counters = %d/%d, want 1/1", rec, rej)
	}

	s.handle(socketmode.Event{Type: socketmode.EventTypeConnectionError}, a)
	if s.Connected() {
		t.Fatalf("expected disconnected after connection error")
	}
}

func newDirectoryServer(t *testing.T) *Directory {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/users.info"):
			switch r.Form.Get("user") {
			case "U1":
				_, _ = io.WriteString(w, `{"ok":true,"user":{"id":"U1","name":"ann","real_name":"Ann"}}`)
			case "U2":
				_, _ = io.WriteString(w, `{"ok":true,"user":{"id":"U2","name":"bob","profile":{"display_name":"Bobby"}}}`)
			default:
				_, _ = io.WriteString(w, `{"ok":false,"error":"user_not_found"}`)
			}
		case strings.HasSuffix(r.URL.Path, "/conversations.info"):
			if r.Form.Get("channel") == "C1" {
				_, _ = io.WriteString(w, `{"ok":true,"channel":{"id":"C1","name":"general"}}`)
				return
			}
			_, _ = io.WriteString(w, `{"ok":false,"error":"channel_not_found"}`)
		case strings.HasSuffix(r.URL.Path, "/auth.test"):
			_, _ = io.WriteString(w, `{"ok":true,"user_id":"U1","team":"acme"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	api := slackapi.New("xoxp-test", slackapi.OptionAPIURL(srv.URL+"/"))
	return NewDirectory(api, logx.NewWriter(io.Discard, "debug"))
}

func TestDirectoryResolve(t *testing.T) {
	d := newDirectoryServer(t)
	ctx := context.Background()

	if name, err := d.ResolveActor(ctx, "U1"); err != nil || name != "Ann" {
		t.Fatalf("U1 = %q, %v", name, err)
	}
	if name, err := d.ResolveActor(ctx, "U2"); err != nil || name != "Bobby" {
		t.Fatalf("U2 = %q, %v", name, err)
	}
	if _, err := d.ResolveActor(ctx, "U404"); err == nil || !strings.Contains(err.Error(), `"U404"`) {
		t.Fatalf("expected wrapped error naming the id, got %v", err)
	}
	if name, err := d.ResolveChannel(ctx, "C1"); err != nil || name != "general" {
		t.Fatalf("C1 = %q, %v", name, err)
	}
	if _, err := d.ResolveChannel(ctx, "C404"); err == nil {
		t.Fatalf("expected error for unknown channel")
	}
	if id := d.WhoAmI(ctx); id != "U1" {
		t.Fatalf("WhoAmI = %q", id)
	}
}

func TestActorNameFallbacks(t *testing.T) {
	u := &slackapi.User{Name: "handle"}
	if actorName(u) != "handle" {
		t.Fatalf("expected handle fallback")
	}
	u.Profile.DisplayName = "Display"
	if actorName(u) != "Display" {
		t.Fatalf("expected display name fallback")
	}
	u.RealName = "Real"
	if actorName(u) != "Real" {
		t.Fatalf("expected real name first")
	}
	if actorName(nil) != "" {
		t.Fatalf("nil user must have no name")
	}
}

func TestNewClientValidatesTokens(t *testing.T) {
	if _, err := NewClient(Config{AppToken: "xapp-1"}); err == nil {
		t.Fatalf("expected error for missing user token")
	}
	if _, err := NewClient(Config{UserToken: "xoxp-1", AppToken: "xoxb-1"}); err == nil {
		t.Fatalf("expected error for non app-level token")
	}
	if _, err := NewClient(Config{UserToken: "xoxp-1", AppToken: "xapp-1"}); err != nil {
		t.Fatalf("valid tokens rejected: %v", err)
	}
}
