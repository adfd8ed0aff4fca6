package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairchat/internal/domain"
)

var upgrader = websocket.Upgrader{}

func TestBuildSessionURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "ws://127.0.0.1:8787", want: "ws://127.0.0.1:8787/session"},
		{in: "http://localhost:8787/", want: "ws://localhost:8787/session"},
		{in: "https://relay.example.com/api", want: "wss://relay.example.com/api/session"},
		{in: "wss://relay.example.com", want: "wss://relay.example.com/session"},
		{in: "", wantErr: true},
		{in: "ftp://relay.example.com", wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()

			got, err := buildSessionURL(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClientPairsAndSends(t *testing.T) {
	t.Parallel()

	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	received := make(chan frame, 1)
	hello := make(chan frame, 1)

	client := connectClient(t, Config{PairingCode: "PAIR-7"}, func(conn *websocket.Conn) {
		hello <- readFrame(conn)
		writeFrame(conn, frame{
			Type:        framePaired,
			PairingCode: "PAIR-7",
			Certificate: &certificateFrame{Subject: "peer", ExpiresAt: expires},
		})
		for {
			var incoming frame
			if err := conn.ReadJSON(&incoming); err != nil {
				return
			}
			if incoming.Type == frameMessage {
				received <- incoming
				writeFrame(conn, frame{Type: frameAck, ID: incoming.ID, OK: true})
			}
		}
	})

	greeting := <-hello
	assert.Equal(t, frameHello, greeting.Type)
	assert.Equal(t, "PAIR-7", greeting.PairingCode)

	require.Eventually(t, client.IsPaired, 2*time.Second, 5*time.Millisecond)

	code, ok := client.PairingCode()
	assert.True(t, ok)
	assert.Equal(t, "PAIR-7", code)
	cert, ok := client.Certificate()
	require.True(t, ok)
	assert.Equal(t, "peer", cert.Subject)
	assert.True(t, cert.ExpiresAt.Equal(expires))

	require.NoError(t, client.SendMessage(context.Background(), "hello", domain.MessageKindText))
	message := <-received
	assert.Equal(t, "hello", message.Content)
	assert.Equal(t, domain.MessageKindText, message.Kind)
	assert.NotEmpty(t, message.ID)
}

func TestClientSendRejected(t *testing.T) {
	t.Parallel()

	client := connectClient(t, Config{}, func(conn *websocket.Conn) {
		readFrame(conn)
		writeFrame(conn, frame{Type: framePaired})
		for {
			var incoming frame
			if err := conn.ReadJSON(&incoming); err != nil {
				return
			}
			writeFrame(conn, frame{Type: frameAck, ID: incoming.ID, Error: "too large"})
		}
	})
	require.Eventually(t, client.IsPaired, 2*time.Second, 5*time.Millisecond)

	err := client.SendMessage(context.Background(), "data:image/png;base64,AA==", domain.MessageKindImage)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "too large")
}

func TestClientSendWhileUnpaired(t *testing.T) {
	t.Parallel()

	client := connectClient(t, Config{}, func(conn *websocket.Conn) {
		readFrame(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	err := client.SendMessage(context.Background(), "hello", domain.MessageKindText)
	assert.ErrorIs(t, err, ErrNotPaired)
}

func TestClientSendWithoutConnection(t *testing.T) {
	t.Parallel()

	client := NewClient(Config{URL: "ws://127.0.0.1:1"}, nil)
	err := client.SendMessage(context.Background(), "hello", domain.MessageKindText)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, client.IsPaired())
	_, ok := client.PairingCode()
	assert.False(t, ok)
}

func TestClientSendTimesOutWithoutAck(t *testing.T) {
	t.Parallel()

	client := connectClient(t, Config{SendTimeout: 30 * time.Millisecond}, func(conn *websocket.Conn) {
		readFrame(conn)
		writeFrame(conn, frame{Type: framePaired})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	require.Eventually(t, client.IsPaired, 2*time.Second, 5*time.Millisecond)

	err := client.SendMessage(context.Background(), "hello", domain.MessageKindText)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClientPeerLeft(t *testing.T) {
	t.Parallel()

	trigger := make(chan struct{})
	client := connectClient(t, Config{}, func(conn *websocket.Conn) {
		readFrame(conn)
		writeFrame(conn, frame{Type: framePaired, Certificate: &certificateFrame{Subject: "peer"}})
		<-trigger
		writeFrame(conn, frame{Type: frameLeft})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	require.Eventually(t, client.IsPaired, 2*time.Second, 5*time.Millisecond)
	_, ok := client.Certificate()
	require.True(t, ok)

	close(trigger)
	require.Eventually(t, func() bool { return !client.IsPaired() }, 2*time.Second, 5*time.Millisecond)
	_, ok = client.Certificate()
	assert.False(t, ok)
}

func TestClientLeaveChat(t *testing.T) {
	t.Parallel()

	leave := make(chan frame, 1)
	client := connectClient(t, Config{}, func(conn *websocket.Conn) {
		readFrame(conn)
		writeFrame(conn, frame{Type: framePaired})
		for {
			var incoming frame
			if err := conn.ReadJSON(&incoming); err != nil {
				return
			}
			if incoming.Type == frameLeave {
				select {
				case leave <- incoming:
				default:
				}
			}
		}
	})
	require.Eventually(t, client.IsPaired, 2*time.Second, 5*time.Millisecond)

	client.LeaveChat()

	select {
	case <-leave:
	case <-time.After(2 * time.Second):
		t.Fatalf("relay did not receive leave frame")
	}
	assert.False(t, client.IsPaired())
	assert.ErrorIs(t, client.SendMessage(context.Background(), "hello", domain.MessageKindText), ErrNotConnected)
}

func TestConnectFailsForUnreachableRelay(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(Config{URL: url}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, client.Connect(ctx))
}

func TestClientRunReconnectsAfterDrop(t *testing.T) {
	t.Parallel()

	var hellos atomic.Int32
	drop := make(chan struct{})
	url := startRelay(t, func(conn *websocket.Conn) {
		readFrame(conn)
		n := hellos.Add(1)
		writeFrame(conn, frame{Type: framePaired})
		if n == 1 {
			<-drop
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	client := NewClient(Config{URL: url, InitialBackoff: 5 * time.Millisecond}, nil)
	stopped := runClient(t, client)

	require.Eventually(t, client.IsPaired, 2*time.Second, 5*time.Millisecond)
	close(drop)
	require.Eventually(t, func() bool { return hellos.Load() == 2 && client.IsPaired() }, 2*time.Second, 5*time.Millisecond)

	client.LeaveChat()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop after leaving the chat")
	}
	assert.Equal(t, int32(2), hellos.Load())
}

func TestClientRunRetriesUntilRelayIsUp(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		readFrame(conn)
		writeFrame(conn, frame{Type: framePaired})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	client := NewClient(Config{URL: srv.URL, InitialBackoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}, nil)
	require.Error(t, client.Connect(context.Background()))

	runClient(t, client)
	require.Eventually(t, client.IsPaired, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, attempts.Load(), int32(3))
}

func TestClientRunStopsAfterLeaveChat(t *testing.T) {
	t.Parallel()

	client := NewClient(Config{URL: "ws://127.0.0.1:1", InitialBackoff: time.Hour}, nil)
	client.LeaveChat()

	stopped := runClient(t, client)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("run kept going after leaving the chat")
	}
	assert.ErrorIs(t, client.Connect(context.Background()), ErrSessionLeft)
}

func TestClientRunStopsWithContext(t *testing.T) {
	t.Parallel()

	client := NewClient(Config{URL: "ws://127.0.0.1:1", InitialBackoff: time.Hour}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		client.Run(ctx)
	}()

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop on context cancellation")
	}
}

func TestJitteredStaysNearBackoff(t *testing.T) {
	t.Parallel()

	for i := 0; i < 100; i++ {
		got := jittered(time.Second)
		assert.GreaterOrEqual(t, got, 700*time.Millisecond)
		assert.LessOrEqual(t, got, 1300*time.Millisecond)
	}
}

func startRelay(t *testing.T, handle func(conn *websocket.Conn)) string {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func runClient(t *testing.T, client *Client) <-chan struct{} {
	t.Helper()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		client.Run(context.Background())
	}()
	t.Cleanup(func() {
		client.LeaveChat()
		<-stopped
	})
	return stopped
}

func connectClient(t *testing.T, cfg Config, handle func(conn *websocket.Conn)) *Client {
	t.Helper()

	cfg.URL = startRelay(t, handle)
	client := NewClient(cfg, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	t.Cleanup(client.LeaveChat)
	return client
}

func readFrame(conn *websocket.Conn) frame {
	var incoming frame
	_ = conn.ReadJSON(&incoming)
	return incoming
}

func writeFrame(conn *websocket.Conn, f frame) {
	_ = conn.WriteJSON(f)
}
