package wecom

import (
	"encoding/xml"
	"fmt"
)

// Event is the closed set of decrypted callback shapes. New platform
// message kinds require a new variant here and an explicit branch in
// every consumer, rather than a silent no-op.
type Event interface {
	// Sender returns the platform user id the event is attributed to.
	Sender() string
	isEvent()
}

// TextEvent is a plain text message.
type TextEvent struct {
	From     string
	OpenKfID string
	Content  string
}

// MediaEvent is an image, voice, video or file message referencing a
// platform-hosted media asset.
type MediaEvent struct {
	From     string
	OpenKfID string
	Kind     string
	MediaID  string
}

// SessionEvent is a customer-service session notification. The webhook
// delivers it with a sync token; session message pulls also yield
// enter_session children as SessionEvents without a token.
type SessionEvent struct {
	From      string
	EventType string
	Token     string
	OpenKfID  string
}

// MergedEvent bundles the messages pulled for one session sync in their
// original order.
type MergedEvent struct {
	Events []Event
}

// UnsupportedEvent is a message kind the pipeline cannot reason about
// (location, link, ...). It is answered with a fixed apology without
// entering the reasoning loop.
type UnsupportedEvent struct {
	From    string
	MsgType string
}

func (e TextEvent) Sender() string        { return e.From }
func (e MediaEvent) Sender() string       { return e.From }
func (e SessionEvent) Sender() string     { return e.From }
func (e UnsupportedEvent) Sender() string { return e.From }

// Sender of a merged bundle is the first attributable child.
func (e MergedEvent) Sender() string {
	for _, child := range e.Events {
		if s := child.Sender(); s != "" {
			return s
		}
	}
	return ""
}

func (TextEvent) isEvent()        {}
func (MediaEvent) isEvent()       {}
func (SessionEvent) isEvent()     {}
func (MergedEvent) isEvent()      {}
func (UnsupportedEvent) isEvent() {}

// EventKfMsgOrEvent is the customer-service notification event type
// carrying a session sync token.
const EventKfMsgOrEvent = "kf_msg_or_event"

// EventEnterSession marks a user entering a customer-service session.
const EventEnterSession = "enter_session"

type rawMessage struct {
	XMLName      xml.Name `xml:"xml"`
	ToUserName   string   `xml:"ToUserName"`
	FromUserName string   `xml:"FromUserName"`
	CreateTime   int64    `xml:"CreateTime"`
	MsgType      string   `xml:"MsgType"`
	Content      string   `xml:"Content"`
	MediaID      string   `xml:"MediaId"`
	Event        string   `xml:"Event"`
	Token        string   `xml:"Token"`
	OpenKfID     string   `xml:"OpenKfId"`
}

// ParseEvent converts a decrypted callback XML document into an Event.
func ParseEvent(data []byte) (Event, error) {
	var raw rawMessage
	if err := xml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse message: %v", ErrDecode, err)
	}

	switch raw.MsgType {
	case "text":
		return TextEvent{From: raw.FromUserName, Content: raw.Content}, nil
	case "image", "voice", "video", "file":
		return MediaEvent{From: raw.FromUserName, Kind: raw.MsgType, MediaID: raw.MediaID}, nil
	case "event":
		return SessionEvent{
			From:      raw.FromUserName,
			EventType: raw.Event,
			Token:     raw.Token,
			OpenKfID:  raw.OpenKfID,
		}, nil
	case "":
		return nil, fmt.Errorf("%w: missing MsgType", ErrDecode)
	default:
		return UnsupportedEvent{From: raw.FromUserName, MsgType: raw.MsgType}, nil
	}
}
