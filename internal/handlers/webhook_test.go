package handlers

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/roadbotai/roadbot/internal/channel"
	"github.com/roadbotai/roadbot/internal/dispatch"
	"github.com/roadbotai/roadbot/internal/wecom"
)

const (
	testToken  = "callback-token"
	testCorpID = "wwtestcorp"
)

type fakeDispatcher struct {
	tasks []dispatch.Task
}

func (f *fakeDispatcher) Submit(task dispatch.Task) {
	f.tasks = append(f.tasks, task)
}

func newTestWebhook(t *testing.T) (*echo.Echo, *wecom.Crypto, *fakeDispatcher) {
	t.Helper()
	raw := bytes.Repeat([]byte{0x42}, 32)
	encodingKey := base64.StdEncoding.EncodeToString(raw)[:43]
	crypto, err := wecom.NewCrypto(testToken, encodingKey, testCorpID)
	if err != nil {
		t.Fatalf("NewCrypto: %v", err)
	}

	dispatcher := &fakeDispatcher{}
	e := echo.New()
	NewWebhookHandler(nil, crypto, dispatcher, "/wechat-agent-callback").Register(e)
	return e, crypto, dispatcher
}

func signedQuery(crypto *wecom.Crypto, ciphertext string) string {
	q := url.Values{}
	q.Set("msg_signature", crypto.Sign("1693900000", "nonce1", ciphertext))
	q.Set("timestamp", "1693900000")
	q.Set("nonce", "nonce1")
	return q.Encode()
}

func postEvent(t *testing.T, e *echo.Echo, crypto *wecom.Crypto, plaintext string) *httptest.ResponseRecorder {
	t.Helper()
	ciphertext, err := crypto.Encrypt([]byte(plaintext))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	body := fmt.Sprintf("<xml><Encrypt><![CDATA[%s]]></Encrypt></xml>", ciphertext)

	req := httptest.NewRequest(http.MethodPost,
		"/wechat-agent-callback?"+signedQuery(crypto, ciphertext),
		strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestVerifyEchoesDecryptedChallenge(t *testing.T) {
	t.Parallel()

	e, crypto, _ := newTestWebhook(t)
	echostr, err := crypto.Encrypt([]byte("challenge-plain"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	q := url.Values{}
	q.Set("msg_signature", crypto.Sign("1693900000", "nonce1", echostr))
	q.Set("timestamp", "1693900000")
	q.Set("nonce", "nonce1")
	q.Set("echostr", echostr)

	req := httptest.NewRequest(http.MethodGet, "/wechat-agent-callback?"+q.Encode(), nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "challenge-plain" {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	t.Parallel()

	e, crypto, _ := newTestWebhook(t)
	echostr, _ := crypto.Encrypt([]byte("challenge"))

	q := url.Values{}
	q.Set("msg_signature", "deadbeef")
	q.Set("timestamp", "1693900000")
	q.Set("nonce", "nonce1")
	q.Set("echostr", echostr)

	req := httptest.NewRequest(http.MethodGet, "/wechat-agent-callback?"+q.Encode(), nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401", rec.Code)
	}
}

func TestReceiveTextEventSpawnsTask(t *testing.T) {
	t.Parallel()

	e, crypto, dispatcher := newTestWebhook(t)
	plaintext := `<xml><ToUserName>` + testCorpID + `</ToUserName><FromUserName>user1</FromUserName><CreateTime>1693900000</CreateTime><MsgType>text</MsgType><Content>限速多少</Content></xml>`

	rec := postEvent(t, e, crypto, plaintext)
	if rec.Code != http.StatusOK || rec.Body.String() != "success" {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}

	if len(dispatcher.tasks) != 1 {
		t.Fatalf("tasks = %+v", dispatcher.tasks)
	}
	task := dispatcher.tasks[0]
	ev, ok := task.Event.(wecom.TextEvent)
	if !ok || ev.Content != "限速多少" || task.ToUser != "user1" {
		t.Fatalf("task = %+v", task)
	}
}

func TestReceiveUnsupportedKindSpawnsStaticReply(t *testing.T) {
	t.Parallel()

	e, crypto, dispatcher := newTestWebhook(t)
	plaintext := `<xml><FromUserName>user1</FromUserName><MsgType>location</MsgType></xml>`

	rec := postEvent(t, e, crypto, plaintext)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
	if len(dispatcher.tasks) != 1 || dispatcher.tasks[0].StaticReply != channel.UnsupportedReply {
		t.Fatalf("tasks = %+v", dispatcher.tasks)
	}
}

func TestReceiveSessionNotificationSpawnsSyncTask(t *testing.T) {
	t.Parallel()

	e, crypto, dispatcher := newTestWebhook(t)
	plaintext := `<xml><FromUserName>corp</FromUserName><MsgType>event</MsgType><Event>kf_msg_or_event</Event><Token>sync-tok</Token><OpenKfId>kf1</OpenKfId></xml>`

	rec := postEvent(t, e, crypto, plaintext)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
	if len(dispatcher.tasks) != 1 {
		t.Fatalf("tasks = %+v", dispatcher.tasks)
	}
	task := dispatcher.tasks[0]
	ev, ok := task.Event.(wecom.SessionEvent)
	if !ok || ev.Token != "sync-tok" || task.OpenKfID != "kf1" {
		t.Fatalf("task = %+v", task)
	}
}

func TestReceiveSessionEventWithoutTokenIsDropped(t *testing.T) {
	t.Parallel()

	e, crypto, dispatcher := newTestWebhook(t)
	plaintext := `<xml><FromUserName>user1</FromUserName><MsgType>event</MsgType><Event>enter_session</Event></xml>`

	rec := postEvent(t, e, crypto, plaintext)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
	if len(dispatcher.tasks) != 0 {
		t.Fatalf("dropped event spawned tasks: %+v", dispatcher.tasks)
	}
}

func TestReceiveTamperedSignature(t *testing.T) {
	t.Parallel()

	e, crypto, dispatcher := newTestWebhook(t)
	ciphertext, _ := crypto.Encrypt([]byte(`<xml><MsgType>text</MsgType></xml>`))
	body := fmt.Sprintf("<xml><Encrypt><![CDATA[%s]]></Encrypt></xml>", ciphertext)

	q := url.Values{}
	q.Set("msg_signature", "0000000000000000000000000000000000000000")
	q.Set("timestamp", "1693900000")
	q.Set("nonce", "nonce1")

	req := httptest.NewRequest(http.MethodPost, "/wechat-agent-callback?"+q.Encode(), strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401", rec.Code)
	}
	if len(dispatcher.tasks) != 0 {
		t.Fatalf("tampered request spawned tasks: %+v", dispatcher.tasks)
	}
}

func TestReceiveWellSignedGarbageIsDecodeError(t *testing.T) {
	t.Parallel()

	e, crypto, dispatcher := newTestWebhook(t)
	garbage := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x11}, 64))
	body := fmt.Sprintf("<xml><Encrypt><![CDATA[%s]]></Encrypt></xml>", garbage)

	req := httptest.NewRequest(http.MethodPost,
		"/wechat-agent-callback?"+signedQuery(crypto, garbage),
		strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}
	if len(dispatcher.tasks) != 0 {
		t.Fatalf("garbage spawned tasks: %+v", dispatcher.tasks)
	}
}
