package rosbridge

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeServer is a rosbridge server that records the operations it receives and lets tests send
// operations to the single connected client.
type fakeServer struct {
	*httptest.Server
	URL  string
	ops  chan Operation
	conn chan *websocket.Conn
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	s := &fakeServer{
		ops:  make(chan Operation, 64),
		conn: make(chan *websocket.Conn, 1),
	}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		s.conn <- conn

		defer close(s.ops)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var op Operation
			if err := json.Unmarshal(data, &op); err != nil {
				t.Errorf("undecodable message %s: %v", data, err)
				return
			}
			s.ops <- op
		}
	}))
	s.URL = "ws" + strings.TrimPrefix(s.Server.URL, "http")
	t.Cleanup(s.Close)

	return s
}

// accept returns the connection of the client.
func (s *fakeServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()

	select {
	case conn := <-s.conn:
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("no client connected")
		return nil
	}
}

// expect returns the next received operation, which must be of kind op.
func (s *fakeServer) expect(t *testing.T, op string) Operation {
	t.Helper()

	select {
	case got, ok := <-s.ops:
		if !ok {
			t.Fatalf("connection closed while waiting for %q", op)
		}
		if got.Op != op {
			t.Fatalf("got op %+v, expected %q", got, op)
		}
		return got
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for %q", op)
		return Operation{}
	}
}

// send writes op to the client.
func send(t *testing.T, conn *websocket.Conn, op Operation) {
	t.Helper()

	data, err := json.Marshal(op)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatal(err)
	}
}

// publish sends msg on topic to the client.
func publish(t *testing.T, conn *websocket.Conn, topic, msg string) {
	t.Helper()
	send(t, conn, Operation{Op: "publish", Topic: topic, Msg: []byte(msg)})
}
