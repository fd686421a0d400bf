// Package handlers contains the HTTP route groups: the encrypted
// webhook, health, metrics and ping.
package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/roadbotai/roadbot/internal/channel"
	"github.com/roadbotai/roadbot/internal/dispatch"
	"github.com/roadbotai/roadbot/internal/wecom"
)

// Dispatcher accepts background tasks. Submit never blocks.
type Dispatcher interface {
	Submit(task dispatch.Task)
}

// WebhookHandler terminates the WeCom callback: GET is the URL
// provisioning handshake, POST is an encrypted event. The response is
// sent before any model or network work happens; everything slow runs
// in a dispatched task.
type WebhookHandler struct {
	crypto     *wecom.Crypto
	dispatcher Dispatcher
	path       string
	logger     *slog.Logger
}

func NewWebhookHandler(log *slog.Logger, crypto *wecom.Crypto, dispatcher Dispatcher, path string) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	if path == "" {
		path = "/wechat-agent-callback"
	}
	return &WebhookHandler{
		crypto:     crypto,
		dispatcher: dispatcher,
		path:       path,
		logger:     log.With(slog.String("handler", "webhook")),
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.GET(h.path, h.Verify)
	e.POST(h.path, h.Receive)
}

// Verify answers the provisioning handshake with the decrypted echo
// string.
func (h *WebhookHandler) Verify(c echo.Context) error {
	echostr, err := h.crypto.VerifyURL(
		c.QueryParam("msg_signature"),
		c.QueryParam("timestamp"),
		c.QueryParam("nonce"),
		c.QueryParam("echostr"),
	)
	if err != nil {
		h.logger.Warn("url verification failed", slog.Any("error", err))
		return h.statusFor(c, err)
	}
	return c.String(http.StatusOK, echostr)
}

// Receive decrypts and routes one event, acknowledging immediately.
func (h *WebhookHandler) Receive(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.String(http.StatusBadRequest, "bad request")
	}

	plain, err := h.crypto.DecryptMessage(body,
		c.QueryParam("msg_signature"),
		c.QueryParam("timestamp"),
		c.QueryParam("nonce"),
	)
	if err != nil {
		h.logger.Warn("message decrypt failed", slog.Any("error", err))
		return h.statusFor(c, err)
	}

	ev, err := wecom.ParseEvent(plain)
	if err != nil {
		h.logger.Warn("event parse failed", slog.Any("error", err))
		return h.statusFor(c, err)
	}

	h.route(ev)
	return c.String(http.StatusOK, "success")
}

// route decides what task, if any, an event spawns. Session
// notifications without a sync token and unknown session event types
// are acknowledged and dropped.
func (h *WebhookHandler) route(ev wecom.Event) {
	switch e := ev.(type) {
	case wecom.UnsupportedEvent:
		h.logger.Info("unsupported message kind", slog.String("msg_type", e.MsgType))
		h.dispatcher.Submit(dispatch.Task{
			StaticReply: channel.UnsupportedReply,
			ToUser:      e.From,
		})

	case wecom.SessionEvent:
		if e.EventType != wecom.EventKfMsgOrEvent || e.Token == "" {
			h.logger.Debug("session event ignored", slog.String("event", e.EventType))
			return
		}
		h.dispatcher.Submit(dispatch.Task{Event: e, ToUser: e.From, OpenKfID: e.OpenKfID})

	default:
		h.dispatcher.Submit(dispatch.Task{Event: ev, ToUser: ev.Sender()})
	}
}

func (h *WebhookHandler) statusFor(c echo.Context, err error) error {
	switch {
	case errors.Is(err, wecom.ErrInvalidSignature):
		return c.String(http.StatusUnauthorized, "invalid signature")
	case errors.Is(err, wecom.ErrDecode):
		return c.String(http.StatusBadRequest, "decode failed")
	default:
		return c.String(http.StatusInternalServerError, "internal error")
	}
}
