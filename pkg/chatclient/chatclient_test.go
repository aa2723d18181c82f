package chatclient

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/docplus/portal/internal/realtime"
)

type memoryStore struct {
	mu       sync.Mutex
	messages map[string]*realtime.ChatMessage
}

func newMemoryStore() *memoryStore {
	return &memoryStore{messages: make(map[string]*realtime.ChatMessage)}
}

func (s *memoryStore) CreateMessage(_ context.Context, m *realtime.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *m
	s.messages[m.ID] = &copied
	return nil
}

func (s *memoryStore) GetMessagesByIDs(_ context.Context, ids []string) ([]*realtime.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found []*realtime.ChatMessage
	for _, id := range ids {
		if m, ok := s.messages[id]; ok {
			found = append(found, m)
		}
	}
	return found, nil
}

func (s *memoryStore) UpdateMessageStatus(_ context.Context, ids []string, status realtime.MessageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if m, ok := s.messages[id]; ok {
			m.Status = status
		}
	}
	return nil
}

func startServer(t *testing.T) string {
	t.Helper()
	e := echo.New()
	hub := realtime.NewHub(newMemoryStore(), zerolog.Nop())
	realtime.NewHandler(hub, nil, zerolog.Nop()).RegisterRoutes(e.Group(""))
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dialAs(t *testing.T, url, userID, role string, cb Callbacks) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, Options{
		URL:    url,
		UserID: userID,
		Role:   role,
	}, cb)
	if err != nil {
		t.Fatalf("dial as %s: %v", userID, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDial_ConnectsAndReportsState(t *testing.T) {
	url := startServer(t)

	var mu sync.Mutex
	var states []State
	client := dialAs(t, url, "p1", "patient", Callbacks{
		OnState: func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})

	if client.State() != StateConnected {
		t.Fatalf("expected connected, got %s", client.State())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(states) < 2 || states[0] != StateConnecting || states[len(states)-1] != StateConnected {
		t.Errorf("unexpected state sequence: %v", states)
	}
}

func TestDial_FailsAfterAttempts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	_, err := Dial(ctx, Options{
		URL:               "ws://127.0.0.1:1/ws", // nothing listens here
		UserID:            "p1",
		Role:              "patient",
		ReconnectAttempts: 3,
		ReconnectDelay:    20 * time.Millisecond,
	}, Callbacks{})
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	// Two waits between three attempts.
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("expected fixed delays between attempts, finished in %v", elapsed)
	}
}

func TestSendMessage_EchoAndDelivery(t *testing.T) {
	url := startServer(t)

	var mu sync.Mutex
	var echoes, received []realtime.ChatMessage
	var echoLocalIDs []string

	patient := dialAs(t, url, "p1", "patient", Callbacks{
		OnEcho: func(localID string, m realtime.ChatMessage) {
			mu.Lock()
			echoes = append(echoes, m)
			echoLocalIDs = append(echoLocalIDs, localID)
			mu.Unlock()
		},
	})
	dialAs(t, url, "d1", "doctor", Callbacks{
		OnMessage: func(m realtime.ChatMessage) {
			mu.Lock()
			received = append(received, m)
			mu.Unlock()
		},
	}).JoinRoom("p1", "d1")
	if err := patient.JoinRoom("p1", "d1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	time.Sleep(50 * time.Millisecond) // let the joins land

	localID, err := patient.SendMessage(realtime.ChatMessage{
		ReceiverID: "d1",
		Content:    "hello doctor",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if localID == "" {
		t.Fatal("expected a local id for the optimistic copy")
	}

	waitFor(t, "doctor to receive the message", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})
	waitFor(t, "patient to receive the echo", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(echoes) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if received[0].SenderID != "p1" || received[0].Content != "hello doctor" {
		t.Errorf("unexpected delivery: %+v", received[0])
	}
	if echoes[0].ID == "" || echoes[0].Timestamp.IsZero() {
		t.Error("expected server-stamped id and timestamp on the echo")
	}
	if echoes[0].Status != realtime.StatusSent {
		t.Errorf("expected SENT on the echo, got %s", echoes[0].Status)
	}
	if echoLocalIDs[0] != localID {
		t.Errorf("echo reconciled to %q, want %q", echoLocalIDs[0], localID)
	}
}

func TestTyping_DebouncesStops(t *testing.T) {
	url := startServer(t)

	var mu sync.Mutex
	var started, stopped int

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	patient, err := Dial(ctx, Options{
		URL:            url,
		UserID:         "p1",
		Role:           "patient",
		TypingDebounce: 100 * time.Millisecond,
	}, Callbacks{})
	if err != nil {
		t.Fatalf("dial as p1: %v", err)
	}
	t.Cleanup(func() { patient.Close() })

	doctor := dialAs(t, url, "d1", "doctor", Callbacks{
		OnTypingStarted: func(realtime.TypingStartedPayload) {
			mu.Lock()
			started++
			mu.Unlock()
		},
		OnTypingStopped: func(realtime.TypingStoppedPayload) {
			mu.Lock()
			stopped++
			mu.Unlock()
		},
	})

	if err := doctor.JoinRoom("p1", "d1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := patient.JoinRoom("p1", "d1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	// Many keystrokes, one start signal.
	for i := 0; i < 5; i++ {
		if err := patient.Typing("p1", "d1"); err != nil {
			t.Fatalf("typing: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	waitFor(t, "typing started", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return started == 1
	})
	waitFor(t, "debounced typing stop", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return stopped == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if started != 1 {
		t.Errorf("expected exactly one start signal, got %d", started)
	}
}

func TestTyping_FlushedBySend(t *testing.T) {
	url := startServer(t)

	var mu sync.Mutex
	var stopped int

	// Debounce far longer than the test, so only the send can flush it.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	patient, err := Dial(ctx, Options{
		URL:            url,
		UserID:         "p1",
		Role:           "patient",
		TypingDebounce: time.Minute,
	}, Callbacks{})
	if err != nil {
		t.Fatalf("dial as p1: %v", err)
	}
	t.Cleanup(func() { patient.Close() })

	doctor := dialAs(t, url, "d1", "doctor", Callbacks{
		OnTypingStopped: func(realtime.TypingStoppedPayload) {
			mu.Lock()
			stopped++
			mu.Unlock()
		},
	})
	if err := doctor.JoinRoom("p1", "d1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := patient.JoinRoom("p1", "d1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := patient.Typing("p1", "d1"); err != nil {
		t.Fatalf("typing: %v", err)
	}
	if _, err := patient.SendMessage(realtime.ChatMessage{ReceiverID: "d1", Content: "done typing"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, "send to flush the typing stop", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return stopped == 1
	})
}

func TestMarkRead_Confirms(t *testing.T) {
	url := startServer(t)

	var mu sync.Mutex
	var confirmed []realtime.ReadConfirmedPayload
	var delivered []realtime.ChatMessage

	patient := dialAs(t, url, "p1", "patient", Callbacks{
		OnReadConfirmed: func(p realtime.ReadConfirmedPayload) {
			mu.Lock()
			confirmed = append(confirmed, p)
			mu.Unlock()
		},
	})
	doctor := dialAs(t, url, "d1", "doctor", Callbacks{
		OnMessage: func(m realtime.ChatMessage) {
			mu.Lock()
			delivered = append(delivered, m)
			mu.Unlock()
		},
	})
	patient.JoinRoom("p1", "d1")
	doctor.JoinRoom("p1", "d1")
	time.Sleep(50 * time.Millisecond)

	if _, err := patient.SendMessage(realtime.ChatMessage{ReceiverID: "d1", Content: "read me"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "delivery", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) == 1
	})

	mu.Lock()
	msgID := delivered[0].ID
	mu.Unlock()

	if err := doctor.MarkRead([]string{msgID}, "p1", "d1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	waitFor(t, "read confirmation", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(confirmed) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if confirmed[0].MessageID != msgID || confirmed[0].ReadBy != "d1" {
		t.Errorf("unexpected confirmation: %+v", confirmed[0])
	}
}

func TestEmergency_ReachesDoctorsEverywhere(t *testing.T) {
	url := startServer(t)

	var mu sync.Mutex
	var alerts []realtime.EmergencyPayload

	patient := dialAs(t, url, "p1", "patient", Callbacks{})
	// The doctor joins no rooms at all.
	dialAs(t, url, "d2", "doctor", Callbacks{
		OnEmergency: func(p realtime.EmergencyPayload) {
			mu.Lock()
			alerts = append(alerts, p)
			mu.Unlock()
		},
	})
	time.Sleep(50 * time.Millisecond)

	if _, err := patient.SendMessage(realtime.ChatMessage{
		ReceiverID:  "d1",
		Content:     "severe chest pain",
		IsEmergency: true,
	}); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, "emergency alert", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(alerts) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if alerts[0].PatientID != "p1" {
		t.Errorf("expected alert from p1, got %+v", alerts[0])
	}
}

func TestClose_StopsSession(t *testing.T) {
	url := startServer(t)
	client := dialAs(t, url, "p1", "patient", Callbacks{})

	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if client.State() != StateDisconnected {
		t.Errorf("expected disconnected, got %s", client.State())
	}
	if _, err := client.SendMessage(realtime.ChatMessage{ReceiverID: "d1", Content: "late"}); err == nil {
		t.Error("expected send after close to fail")
	}
}
