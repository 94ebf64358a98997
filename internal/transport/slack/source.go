// Package slack connects the relay to a Slack workspace: Socket Mode as the
// event source and the Web API as the user/channel directory.
package slack

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"relaybot/internal/relay"
	logx "relaybot/pkg/logx"
)

type Config struct {
	// UserToken (xoxp-) is used for Web API calls and identifies the user
	// whose mentions are relayed.
	UserToken string
	// AppToken (xapp-) opens the Socket Mode connection.
	AppToken string
	Debug    bool
}

// NewClient builds the Web API client shared by Source and Directory.
func NewClient(cfg Config) (*slackapi.Client, error) {
	if strings.TrimSpace(cfg.UserToken) == "" {
		return nil, errors.New("slack user token is empty")
	}
	if !strings.HasPrefix(strings.TrimSpace(cfg.AppToken), "xapp-") {
		return nil, errors.New("slack app token must start with xapp-")
	}
	return slackapi.New(strings.TrimSpace(cfg.UserToken),
		slackapi.OptionAppLevelToken(strings.TrimSpace(cfg.AppToken)),
		slackapi.OptionDebug(cfg.Debug),
	), nil
}

// Handler receives decoded events. It must return quickly.
type Handler interface {
	OnEvent(raw relay.RawEvent) relay.Ack
}

// acker is the part of socketmode.Client used to confirm a delivery.
type acker interface {
	Ack(req socketmode.Request, payload ...interface{})
}

// Source reads Socket Mode deliveries and hands them to a Handler.
type Source struct {
	api *slackapi.Client
	h   Handler
	log logx.Logger

	connected atomic.Bool
	received  atomic.Uint64
	rejected  atomic.Uint64
}

func NewSource(api *slackapi.Client, h Handler, log logx.Logger) *Source {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Source{api: api, h: h, log: log}
}

// Connected reports whether the socket is currently up.
func (s *Source) Connected() bool { return s.connected.Load() }

// Counters returns how many deliveries were handed to the Handler and how
// many payloads could not be decoded.
func (s *Source) Counters() (received, rejected uint64) {
	return s.received.Load(), s.rejected.Load()
}

// Run opens one Socket Mode session and serves it until ctx is done (nil) or
// the connection fails for good (error). A fresh client is created on each
// call so Run can be restarted by a supervisor.
func (s *Source) Run(ctx context.Context) error {
	sm := socketmode.New(s.api)
	runErr := make(chan error, 1)
	go func() { runErr <- sm.RunContext(ctx) }()
	defer s.connected.Store(false)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErr:
			if ctx.Err() != nil {
				return nil
			}
			if err == nil {
				err = errors.New("socket mode session ended")
			}
			return err
		case evt, ok := <-sm.Events:
			if !ok {
				return errors.New("socket mode events closed")
			}
			s.handle(evt, sm)
		}
	}
}

func (s *Source) handle(evt socketmode.Event, a acker) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		s.log.Info("connecting to slack socket mode")
	case socketmode.EventTypeConnectionError:
		s.connected.Store(false)
		s.log.Warn("slack socket mode connection failed; retrying", logx.Any("data", evt.Data))
	case socketmode.EventTypeConnected:
		s.connected.Store(true)
		s.log.Info("connected to slack socket mode")
	case socketmode.EventTypeDisconnect:
		s.connected.Store(false)
		s.log.Warn("slack requested disconnect")
	case socketmode.EventTypeHello:
		s.log.Debug("slack hello")
	case socketmode.EventTypeEventsAPI:
		if evt.Request == nil {
			return
		}
		raw, err := decodeEventsAPI(evt.Request.EnvelopeID, evt.Request.Payload)
		if err != nil {
			s.rejected.Add(1)
			s.log.Warn("undecodable events_api payload acked and skipped", logx.String("envelope", evt.Request.EnvelopeID), logx.Err(err))
			a.Ack(*evt.Request)
			return
		}
		s.received.Add(1)
		ack := s.h.OnEvent(raw)
		a.Ack(socketmode.Request{EnvelopeID: ack.EnvelopeID})
	default:
		// Interactive payloads and slash commands are not relayed, but Slack
		// still expects an ack for every enveloped request.
		if evt.Request != nil && evt.Request.EnvelopeID != "" {
			a.Ack(*evt.Request)
		}
		s.log.Debug("slack event ignored", logx.String("type", string(evt.Type)))
	}
}
