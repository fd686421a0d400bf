package wecom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/roadbotai/roadbot/internal/faults"
)

// Client talks to the WeCom server-side API. The access token is cached
// and refreshed on demand; the cache is the only mutable state and is
// mutex-guarded, so one Client is shared by all tasks.
type Client struct {
	httpClient *http.Client
	apiBase    string
	corpID     string
	secret     string
	agentID    int64
	logger     *slog.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient creates an outbound API client.
func NewClient(log *slog.Logger, apiBase, corpID, secret string, agentID int64) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		apiBase:    apiBase,
		corpID:     corpID,
		secret:     secret,
		agentID:    agentID,
		logger:     log.With(slog.String("service", "wecom_client")),
	}
}

type apiError struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// AccessToken returns the cached token, refreshing it when it is within
// a minute of expiry.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Until(c.tokenExpiry) > time.Minute {
		return c.token, nil
	}

	endpoint := fmt.Sprintf("%s/cgi-bin/gettoken?corpid=%s&corpsecret=%s",
		c.apiBase, url.QueryEscape(c.corpID), url.QueryEscape(c.secret))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", faults.New(faults.CodeNetwork, fmt.Errorf("get access token: %w", err))
	}
	defer resp.Body.Close()

	var body struct {
		apiError
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", faults.New(faults.CodeWecomAPI, fmt.Errorf("parse token response: %w", err))
	}
	if body.ErrCode != 0 {
		return "", faults.Newf(faults.CodeWecomAPI, "gettoken failed: %d %s", body.ErrCode, body.ErrMsg)
	}

	c.token = body.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	c.logger.Debug("access token refreshed", slog.Time("expires", c.tokenExpiry))
	return c.token, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s%s?access_token=%s", c.apiBase, path, url.QueryEscape(token))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return faults.New(faults.CodeNetwork, fmt.Errorf("post %s: %w", path, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return faults.New(faults.CodeNetwork, fmt.Errorf("read %s response: %w", path, err))
	}

	var status apiError
	if err := json.Unmarshal(raw, &status); err != nil {
		return faults.New(faults.CodeWecomAPI, fmt.Errorf("parse %s response: %w", path, err))
	}
	if status.ErrCode != 0 {
		return faults.Newf(faults.CodeWecomAPI, "%s failed: %d %s", path, status.ErrCode, status.ErrMsg)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return faults.New(faults.CodeWecomAPI, fmt.Errorf("parse %s response: %w", path, err))
		}
	}
	return nil
}

// SendText delivers a text reply over the application message API
// (direct message channel).
func (c *Client) SendText(ctx context.Context, toUser, content string) error {
	payload := map[string]any{
		"touser":  toUser,
		"msgtype": "text",
		"agentid": c.agentID,
		"text":    map[string]string{"content": content},
	}
	return c.post(ctx, "/cgi-bin/message/send", payload, nil)
}

// SendSessionText delivers a text reply through the customer-service
// session channel.
func (c *Client) SendSessionText(ctx context.Context, openKfID, externalUserID, content string) error {
	payload := map[string]any{
		"touser":    externalUserID,
		"open_kfid": openKfID,
		"msgtype":   "text",
		"text":      map[string]string{"content": content},
	}
	return c.post(ctx, "/cgi-bin/kf/send_msg", payload, nil)
}

// MediaURL resolves a media id to a fetchable (short-lived) URL.
func (c *Client) MediaURL(ctx context.Context, mediaID string) (string, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/cgi-bin/media/get?access_token=%s&media_id=%s",
		c.apiBase, url.QueryEscape(token), url.QueryEscape(mediaID)), nil
}

type syncMsgItem struct {
	MsgType        string `json:"msgtype"`
	ExternalUserID string `json:"external_userid"`
	OpenKfID       string `json:"open_kfid"`
	Text           struct {
		Content string `json:"content"`
	} `json:"text"`
	Image struct {
		MediaID string `json:"media_id"`
	} `json:"image"`
	Voice struct {
		MediaID string `json:"media_id"`
	} `json:"voice"`
	Video struct {
		MediaID string `json:"media_id"`
	} `json:"video"`
	File struct {
		MediaID string `json:"media_id"`
	} `json:"file"`
	Event struct {
		EventType      string `json:"event_type"`
		ExternalUserID string `json:"external_userid"`
		OpenKfID       string `json:"open_kfid"`
	} `json:"event"`
}

// SyncSessionMessages pulls the messages behind a session sync token
// and bundles them, in delivery order, as a MergedEvent.
func (c *Client) SyncSessionMessages(ctx context.Context, token, openKfID string) (MergedEvent, error) {
	payload := map[string]any{
		"token":     token,
		"open_kfid": openKfID,
	}
	var body struct {
		MsgList []syncMsgItem `json:"msg_list"`
	}
	if err := c.post(ctx, "/cgi-bin/kf/sync_msg", payload, &body); err != nil {
		return MergedEvent{}, err
	}

	merged := MergedEvent{Events: make([]Event, 0, len(body.MsgList))}
	for _, item := range body.MsgList {
		merged.Events = append(merged.Events, item.toEvent())
	}
	return merged, nil
}

func (m syncMsgItem) toEvent() Event {
	switch m.MsgType {
	case "text":
		return TextEvent{From: m.ExternalUserID, OpenKfID: m.OpenKfID, Content: m.Text.Content}
	case "image":
		return MediaEvent{From: m.ExternalUserID, OpenKfID: m.OpenKfID, Kind: "image", MediaID: m.Image.MediaID}
	case "voice":
		return MediaEvent{From: m.ExternalUserID, OpenKfID: m.OpenKfID, Kind: "voice", MediaID: m.Voice.MediaID}
	case "video":
		return MediaEvent{From: m.ExternalUserID, OpenKfID: m.OpenKfID, Kind: "video", MediaID: m.Video.MediaID}
	case "file":
		return MediaEvent{From: m.ExternalUserID, OpenKfID: m.OpenKfID, Kind: "file", MediaID: m.File.MediaID}
	case "event":
		return SessionEvent{
			From:      m.Event.ExternalUserID,
			EventType: m.Event.EventType,
			OpenKfID:  m.Event.OpenKfID,
		}
	default:
		return UnsupportedEvent{From: m.ExternalUserID, MsgType: m.MsgType}
	}
}
