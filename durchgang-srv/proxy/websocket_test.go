package proxy

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/durchgang/durchgang-srv/config"
)

var testUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func startWebsocketEchoServer(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() {
			_ = ws.Close()
		}()
		for {
			msgType, msg, readErr := ws.ReadMessage()
			if readErr != nil {
				return
			}
			if writeErr := ws.WriteMessage(msgType, msg); writeErr != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWebsocketThroughProxy(t *testing.T) {
	wsURL := startWebsocketEchoServer(t)
	_, proxyAddr := startTestProxy(t, testConfig())

	proxyURL, err := url.Parse("http://" + proxyAddr)
	require.NoError(t, err)
	dialer := websocket.Dialer{
		Proxy:            http.ProxyURL(proxyURL),
		HandshakeTimeout: 5 * time.Second,
	}

	ws, resp, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close()
		_ = ws.Close()
	}()

	for _, msg := range []string{"first", "second", "third"} {
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(msg)))
		msgType, echoed, readErr := ws.ReadMessage()
		require.NoError(t, readErr)
		assert.Equal(t, websocket.TextMessage, msgType)
		assert.Equal(t, msg, string(echoed))
	}
}

func TestWebsocketThroughAuthenticatedProxy(t *testing.T) {
	wsURL := startWebsocketEchoServer(t)
	cfg := testConfig()
	cfg.Auth = &config.AuthConfig{Username: "wsuser", Password: "wspass"}
	_, proxyAddr := startTestProxy(t, cfg)

	proxyURL, err := url.Parse("http://wsuser:wspass@" + proxyAddr)
	require.NoError(t, err)
	dialer := websocket.Dialer{
		Proxy:            http.ProxyURL(proxyURL),
		HandshakeTimeout: 5 * time.Second,
	}

	ws, resp, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close()
		_ = ws.Close()
	}()

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("authed")))
	_, echoed, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "authed", string(echoed))
}
