package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialEvents(t *testing.T, srv *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/" + id + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial %s: %v (status %d)", url, err, status)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readViewUntil(t *testing.T, conn *websocket.Conn, match func(viewResponse) bool) viewResponse {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		var v viewResponse
		if err := json.Unmarshal(data, &v); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if match(v) {
			return v
		}
	}
}

func TestHandler_Events_StreamsViews(t *testing.T) {
	ts := newTestServer(t, &mockWeatherClient{}, 0, nil)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	id := decodeView(t, ts.do(t, http.MethodPost, "/sessions", "")).ID
	conn := dialEvents(t, srv, id)

	loadedDefault := func(v viewResponse) bool {
		return v.State.Status == "loaded" && v.State.City == "Kozhikode"
	}
	// The first event is the current view, which may already be loaded.
	first := readViewUntil(t, conn, func(viewResponse) bool { return true })
	if first.ID != id {
		t.Errorf("first event id = %q, want %q", first.ID, id)
	}
	if !loadedDefault(first) {
		readViewUntil(t, conn, loadedDefault)
	}

	if w := ts.do(t, http.MethodPost, "/sessions/"+id+"/select", `{"city":"Kochi"}`); w.Code != http.StatusAccepted {
		t.Fatalf("select status = %d", w.Code)
	}
	readViewUntil(t, conn, func(v viewResponse) bool {
		return v.State.Status == "loaded" && v.State.City == "Kochi"
	})
}

func TestHandler_Events_ClosedWithSession(t *testing.T) {
	ts := newTestServer(t, &mockWeatherClient{}, 0, nil)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	id := decodeView(t, ts.do(t, http.MethodPost, "/sessions", "")).ID
	conn := dialEvents(t, srv, id)
	readViewUntil(t, conn, func(viewResponse) bool { return true })

	if w := ts.do(t, http.MethodDelete, "/sessions/"+id, ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
			t.Errorf("read error = %v, want going-away close", err)
		}
		return
	}
}

func TestHandler_Events_UnknownSession(t *testing.T) {
	ts := newTestServer(t, &mockWeatherClient{}, 0, nil)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/missing/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial succeeded for unknown session")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("response = %v, want 404", resp)
	}
}
