package status

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jfhorsma/sdrscand/internal/logger"
	"github.com/jfhorsma/sdrscand/internal/scanner"
)

func testHub(t *testing.T) *Hub {
	t.Helper()
	l, err := logger.New(logger.Config{Level: "error"})
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return NewHub(l)
}

func TestHub_BroadcastsDetectionUpdatedToClient(t *testing.T) {
	h := testHub(t)
	stop := make(chan struct{})
	go h.Run(stop)
	defer close(stop)

	srv := httptest.NewServer(http.HandlerFunc(h.ServeHTTP))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// give the hub a moment to process registration before publishing.
	time.Sleep(20 * time.Millisecond)

	h.DetectionUpdated(scanner.Detection{FreqMHz: 162.4, Label: "WX1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if !strings.Contains(string(data), EventDetectionUpdated) {
		t.Errorf("expected message to contain %q, got %s", EventDetectionUpdated, data)
	}
	if !strings.Contains(string(data), "162.4") {
		t.Errorf("expected message to contain freq_mhz 162.4, got %s", data)
	}
}

func TestHub_RecordingEventsPublish(t *testing.T) {
	h := testHub(t)
	stop := make(chan struct{})
	go h.Run(stop)
	defer close(stop)

	srv := httptest.NewServer(http.HandlerFunc(h.ServeHTTP))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	time.Sleep(20 * time.Millisecond)
	h.RecordingStarted(100.0, "test")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if !strings.Contains(string(data), EventRecordingStarted) {
		t.Errorf("expected %q, got %s", EventRecordingStarted, data)
	}
}

func TestHub_NoClientsDoesNotBlockPublish(t *testing.T) {
	h := testHub(t)
	stop := make(chan struct{})
	go h.Run(stop)
	defer close(stop)

	done := make(chan struct{})
	go func() {
		h.DetectionUpdated(scanner.Detection{FreqMHz: 1})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked with no subscribers")
	}
}
