package ws

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/remote-agent-terminal/tabmux/internal/codec"
	"github.com/remote-agent-terminal/tabmux/internal/terminal"
)

func newTestServer(t *testing.T, terms *fakeTerminals) (*Service, string) {
	t.Helper()
	svc := NewService(terms, nil, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		index := strings.TrimPrefix(r.URL.Path, "/attach/")
		if err := svc.Handler().HandleConnection(w, r, index); err != nil {
			t.Logf("attach failed: %v", err)
		}
	}))
	t.Cleanup(func() {
		svc.Close()
		srv.Close()
	})
	return svc, "ws" + strings.TrimPrefix(srv.URL, "http") + "/attach/"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return msg
}

func waitClients(t *testing.T, svc *Service, index string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for svc.ClientCount(index) != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, got %d", n, svc.ClientCount(index))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandler_UnknownTab(t *testing.T) {
	_, url := newTestServer(t, newFakeTerminals("tab-1"))
	_, resp, err := websocket.DefaultDialer.Dial(url+"missing", nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %v", resp)
	}
}

func TestHandler_HistoryThenLive(t *testing.T) {
	terms := newFakeTerminals("tab-1")
	terms.append("tab-1", []byte("previous \x1b[1mbold\x1b[0m"))
	svc, url := newTestServer(t, terms)

	conn := dial(t, url+"tab-1")

	history := readMessage(t, conn)
	if history.Type != MessageTypeHistory {
		t.Fatalf("expected history first, got %s", history.Type)
	}
	if data, _ := codec.Decode(history.Data); string(data) != "previous \x1b[1mbold\x1b[0m" {
		t.Errorf("unexpected history %q", data)
	}
	status := readMessage(t, conn)
	if status.Type != MessageTypeStatus || status.State != terminal.StateConnected.String() {
		t.Errorf("unexpected status %+v", status)
	}

	waitClients(t, svc, "tab-1", 1)
	terms.produce(svc, "tab-1", []byte("live"))
	svc.TabState("tab-1", terminal.StateIdle)

	out := readMessage(t, conn)
	if data, _ := codec.Decode(out.Data); out.Type != MessageTypeStdout || string(data) != "live" {
		t.Errorf("unexpected stdout %+v", out)
	}
	if st := readMessage(t, conn); st.State != terminal.StateIdle.String() {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestHandler_OutputDuringAttachIsDelivered(t *testing.T) {
	terms := newFakeTerminals("tab-1")
	terms.append("tab-1", []byte("HIST"))
	svc, url := newTestServer(t, terms)

	produced := make(chan struct{})
	terms.onScrollback = func() {
		go func() {
			terms.produce(svc, "tab-1", []byte("LIVE"))
			close(produced)
		}()
		select {
		case <-produced:
		case <-time.After(50 * time.Millisecond):
		}
	}

	conn := dial(t, url+"tab-1")

	history := readMessage(t, conn)
	if data, _ := codec.Decode(history.Data); history.Type != MessageTypeHistory || string(data) != "HIST" {
		t.Fatalf("unexpected history %+v", history)
	}
	if status := readMessage(t, conn); status.Type != MessageTypeStatus {
		t.Fatalf("expected status, got %+v", status)
	}
	out := readMessage(t, conn)
	if data, _ := codec.Decode(out.Data); out.Type != MessageTypeStdout || string(data) != "LIVE" {
		t.Fatalf("output produced during attach was lost, got %+v", out)
	}
}

func TestHandler_OutputInHistoryIsNotRepeated(t *testing.T) {
	terms := newFakeTerminals("tab-1")
	end := terms.append("tab-1", []byte("HIST"))
	svc, url := newTestServer(t, terms)

	conn := dial(t, url+"tab-1")
	readMessage(t, conn) // history
	readMessage(t, conn) // status
	waitClients(t, svc, "tab-1", 1)

	// The chunk's broadcast arrives after the client already got it as history.
	svc.TabOutput("tab-1", []byte("HIST"), end)
	terms.produce(svc, "tab-1", []byte("next"))

	out := readMessage(t, conn)
	if data, _ := codec.Decode(out.Data); out.Type != MessageTypeStdout || string(data) != "next" {
		t.Fatalf("expected only the new chunk, got %+v", out)
	}
}

func TestHandler_RejectsForeignOrigin(t *testing.T) {
	_, url := newTestServer(t, newFakeTerminals("tab-1"))

	header := http.Header{"Origin": {"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url+"tab-1", header)
	if err == nil {
		t.Fatal("expected upgrade from a foreign origin to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %v", resp)
	}

	header = http.Header{"Origin": {"http://localhost:5173"}}
	conn, _, err := websocket.DefaultDialer.Dial(url+"tab-1", header)
	if err != nil {
		t.Fatalf("loopback origin rejected: %v", err)
	}
	conn.Close()
}

func TestHandler_ClientMessages(t *testing.T) {
	terms := newFakeTerminals("tab-1")
	svc, url := newTestServer(t, terms)
	conn := dial(t, url+"tab-1")
	readMessage(t, conn) // status
	waitClients(t, svc, "tab-1", 1)

	conn.WriteJSON(Message{Type: MessageTypeStdin, Data: codec.EncodeString("ls -la\r")})
	conn.WriteJSON(Message{Type: MessageTypeResize, Cols: 120, Rows: 40})
	conn.WriteJSON(Message{Type: MessageTypeResize, Cols: 0, Rows: 40})
	conn.WriteJSON(Message{Type: MessageTypePing})

	if pong := readMessage(t, conn); pong.Type != MessageTypePong {
		t.Fatalf("expected pong, got %s", pong.Type)
	}
	if got := terms.inputOf("tab-1"); got != "ls -la\r" {
		t.Errorf("unexpected input %q", got)
	}
	if terms.resizeCount() != 1 {
		t.Errorf("expected 1 accepted resize, got %d", terms.resizeCount())
	}
}

func TestHandler_StdinWhileIdleReportsError(t *testing.T) {
	terms := newFakeTerminals("tab-1")
	terms.tabs["tab-1"] = terminal.StateIdle
	_, url := newTestServer(t, terms)
	conn := dial(t, url+"tab-1")
	readMessage(t, conn)

	conn.WriteJSON(Message{Type: MessageTypeStdin, Data: codec.EncodeString("x")})
	if msg := readMessage(t, conn); msg.Type != MessageTypeError || msg.Error == "" {
		t.Errorf("expected error message, got %+v", msg)
	}
}

func TestService_TabClosedDisconnects(t *testing.T) {
	terms := newFakeTerminals("tab-1")
	svc, url := newTestServer(t, terms)
	conn := dial(t, url+"tab-1")
	readMessage(t, conn)
	waitClients(t, svc, "tab-1", 1)

	svc.TabClosed("tab-1")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the connection to close")
	}
	if svc.ClientCount("tab-1") != 0 {
		t.Error("hub survived tab close")
	}
}

// **Feature: tabmux, Property 5: terminal bytes survive the WebSocket hop**
// *For any* output chunk, including ANSI escapes and invalid UTF-8, an
// attached client decodes exactly the bytes the tab produced.
func TestProperty_StdoutIsBinarySafe(t *testing.T) {
	terms := newFakeTerminals("tab-1")
	svc, url := newTestServer(t, terms)
	conn := dial(t, url+"tab-1")
	readMessage(t, conn)
	waitClients(t, svc, "tab-1", 1)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("stdout round trip", prop.ForAll(
		func(chunk []byte) bool {
			payload := append([]byte("\x1b[31m"), chunk...)
			terms.produce(svc, "tab-1", payload)

			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return false
			}
			var msg Message
			if err := json.Unmarshal(raw, &msg); err != nil {
				return false
			}
			data, err := codec.Decode(msg.Data)
			return err == nil && bytes.Equal(data, payload)
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
