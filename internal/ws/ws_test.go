package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubPublishFansOut(t *testing.T) {
	h := NewHub()
	a, b := h.Subscribe(), h.Subscribe()
	h.Publish("state", map[string]string{"state": "Capturing"})

	for _, ch := range []chan []byte{a, b} {
		var ev Event
		require.NoError(t, json.Unmarshal(<-ch, &ev))
		assert.Equal(t, "state", ev.Type)
		assert.JSONEq(t, `{"state":"Capturing"}`, string(ev.Data))
	}

	h.Unsubscribe(a)
	h.Unsubscribe(a)
	assert.Equal(t, 1, h.Subscribers())
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe()
	for i := 0; i < subscriberBuffer+10; i++ {
		h.Publish("level", i)
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestNilHubPublish(t *testing.T) {
	var h *Hub
	assert.NotPanics(t, func() { h.Publish("state", nil) })
}

func TestHandlerSendsHelloThenEvents(t *testing.T) {
	h := NewHub()
	hello, err := Encode("snapshot", time.Unix(0, 0), map[string]string{"state": "Idle"})
	require.NoError(t, err)
	srv := httptest.NewServer(NewHandler(h, func() []byte { return hello }))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, first, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, hello, first)

	require.Eventually(t, func() bool { return h.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	h.Publish("state", map[string]string{"state": "Capturing"})

	_, next, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(next, &ev))
	assert.Equal(t, "state", ev.Type)

	conn.Close()
	require.Eventually(t, func() bool { return h.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}
