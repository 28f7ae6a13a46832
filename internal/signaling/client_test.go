package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer answers register with registered, then relays whatever the
// test pushes on out.
func fakeServer(t *testing.T, in chan<- Message, out <-chan Message) string {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		go func() {
			for msg := range out {
				if conn.WriteJSON(msg) != nil {
					return
				}
			}
		}()
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == TypeRegister {
				conn.WriteJSON(Message{Type: TypeRegistered})
			}
			in <- msg
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClient_RegisterAndDispatch(t *testing.T) {
	in := make(chan Message, 16)
	out := make(chan Message, 16)
	url := fakeServer(t, in, out)

	registered := make(chan struct{}, 1)
	offers := make(chan string, 1)
	hosts := make(chan []HostInfo, 1)
	c := NewClient(url, "host-1", ClientTypeHost, Handler{
		OnRegistered: func() { registered <- struct{}{} },
		OnOffer: func(from string, payload json.RawMessage) {
			offers <- from + ":" + string(payload)
		},
		OnHostsUpdated: func(h []HostInfo) { hosts <- h },
	}, Options{})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	reg := <-in
	assert.Equal(t, TypeRegister, reg.Type)
	assert.Equal(t, "host-1", reg.ID)
	assert.Equal(t, ClientTypeHost, reg.ClientType)

	select {
	case <-registered:
	case <-time.After(2 * time.Second):
		t.Fatal("no registered callback")
	}

	out <- Message{Type: TypeOffer, From: "ctrl-1", Payload: json.RawMessage(`{"sdp":"x"}`)}
	assert.Equal(t, `ctrl-1:{"sdp":"x"}`, <-offers)

	out <- Message{Type: TypeHosts, List: []HostInfo{{ID: "host-1", Online: true}}}
	assert.Equal(t, []HostInfo{{ID: "host-1", Online: true}}, <-hosts)

	require.NoError(t, c.SendAnswer("ctrl-1", json.RawMessage(`{"sdp":"y"}`)))
	ans := <-in
	assert.Equal(t, TypeAnswer, ans.Type)
	assert.Equal(t, "ctrl-1", ans.Target)
	assert.JSONEq(t, `{"sdp":"y"}`, string(ans.Payload))
}

func TestClient_Ping(t *testing.T) {
	in := make(chan Message, 16)
	url := fakeServer(t, in, make(chan Message))

	c := NewClient(url, "ctrl-1", ClientTypeController, Handler{}, Options{PingInterval: 10 * time.Millisecond})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	<-in // register
	select {
	case msg := <-in:
		assert.Equal(t, TypePing, msg.Type)
		assert.NotZero(t, msg.Timestamp)
	case <-time.After(2 * time.Second):
		t.Fatal("no ping")
	}
}

func TestClient_ServerHangupClosesDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var msg Message
		conn.ReadJSON(&msg)
		conn.Close()
	}))
	defer srv.Close()

	c := NewClient("ws"+strings.TrimPrefix(srv.URL, "http"), "h", ClientTypeHost, Handler{}, Options{})
	require.NoError(t, c.Connect(context.Background()))

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not notice the hangup")
	}
	assert.ErrorIs(t, c.RequestHostList(), ErrNotConnected)
}

func TestClient_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	c := NewClient(url, "h", ClientTypeHost, Handler{}, Options{DialTimeout: 50 * time.Millisecond})
	assert.Error(t, c.Connect(context.Background()))
}

func TestClient_SendBeforeConnect(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1", "h", ClientTypeHost, Handler{}, Options{})
	assert.ErrorIs(t, c.SendOffer("x", nil), ErrNotConnected)
	c.Close()
	c.Close()
}

func TestMessageType_Relayed(t *testing.T) {
	assert.True(t, TypeOffer.Relayed())
	assert.True(t, TypeICECandidate.Relayed())
	assert.False(t, TypeRegister.Relayed())
	assert.False(t, TypePong.Relayed())
}

func TestClient_DropsRelayedWithoutSender(t *testing.T) {
	called := false
	c := NewClient("ws://127.0.0.1:1", "h", ClientTypeHost, Handler{
		OnOffer: func(string, json.RawMessage) { called = true },
	}, Options{})
	c.dispatch(Message{Type: TypeOffer, Payload: json.RawMessage(`{}`)})
	assert.False(t, called)
	c.dispatch(Message{Type: TypeOffer, From: "ctrl-1", Payload: json.RawMessage(`{}`)})
	assert.True(t, called)
}
