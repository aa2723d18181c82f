package realtime

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func decodePresence(t *testing.T, env *Envelope) PresencePayload {
	t.Helper()
	var p PresencePayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		t.Fatalf("unmarshal presence payload: %v", err)
	}
	return p
}

func TestHub_AuthenticateAnnouncesOnline(t *testing.T) {
	h := NewHub(newMockMessageStore(), zerolog.Nop())

	observer := authedConn(t, h, "d1", RoleDoctor)
	drain(observer)

	authedConn(t, h, "p1", RolePatient)

	env := receive(t, observer)
	if env == nil || env.Event != EventUserOnline {
		t.Fatalf("expected user:online, got %+v", env)
	}
	p := decodePresence(t, env)
	if p.UserID != "p1" || p.Role != RolePatient {
		t.Errorf("expected p1/patient, got %s/%s", p.UserID, p.Role)
	}
}

func TestHub_DisconnectAnnouncesOffline(t *testing.T) {
	h := NewHub(newMockMessageStore(), zerolog.Nop())

	observer := authedConn(t, h, "d1", RoleDoctor)
	patient := authedConn(t, h, "p1", RolePatient)
	drain(observer)

	h.Disconnect(patient)

	env := receive(t, observer)
	if env == nil || env.Event != EventUserOffline {
		t.Fatalf("expected user:offline, got %+v", env)
	}
	if p := decodePresence(t, env); p.UserID != "p1" {
		t.Errorf("expected p1, got %s", p.UserID)
	}
	if h.Registry.IsOnline("p1") {
		t.Error("expected p1 offline after disconnect")
	}
}

func TestHub_SupersededDisconnectStaysSilent(t *testing.T) {
	h := NewHub(newMockMessageStore(), zerolog.Nop())

	observer := authedConn(t, h, "d1", RoleDoctor)
	old := authedConn(t, h, "p1", RolePatient)
	replacement := authedConn(t, h, "p1", RolePatient)
	drain(observer)

	// The older socket closes after being replaced; no offline event.
	h.Disconnect(old)

	if env := receive(t, observer); env != nil {
		t.Fatalf("expected no presence event for superseded disconnect, got %s", env.Event)
	}
	if !h.Registry.IsOnline("p1") {
		t.Error("expected p1 to stay online through the replacement")
	}
	if h.Registry.Resolve("p1") != replacement {
		t.Error("expected the replacement connection to stay registered")
	}
}

func TestHub_AuthenticateRejectsInvalidIdentity(t *testing.T) {
	h := NewHub(newMockMessageStore(), zerolog.Nop())

	conn := NewConnection()
	h.Connect(conn)
	if err := h.Authenticate(conn, Identity{UserID: "", Role: RolePatient}); err != ErrInvalidPayload {
		t.Errorf("expected ErrInvalidPayload for empty user id, got %v", err)
	}
	if err := h.Authenticate(conn, Identity{UserID: "p1", Role: Role("intruder")}); err != ErrInvalidPayload {
		t.Errorf("expected ErrInvalidPayload for unknown role, got %v", err)
	}
}

func TestHub_AuthenticateIsOneShot(t *testing.T) {
	h := NewHub(newMockMessageStore(), zerolog.Nop())

	conn := authedConn(t, h, "p1", RolePatient)
	if err := h.Authenticate(conn, Identity{UserID: "p2", Role: RolePatient}); err != ErrForbidden {
		t.Errorf("expected ErrForbidden for re-authentication, got %v", err)
	}
	if conn.Identity().UserID != "p1" {
		t.Error("expected the original identity to stand")
	}
}

func TestHub_JoinChatEnforcesParticipation(t *testing.T) {
	h := NewHub(newMockMessageStore(), zerolog.Nop())

	unauth := NewConnection()
	h.Connect(unauth)
	if err := h.JoinChat(unauth, "p1", "d1"); err != ErrUnauthenticated {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}

	stranger := authedConn(t, h, "p2", RolePatient)
	if err := h.JoinChat(stranger, "p1", "d1"); err != ErrForbidden {
		t.Errorf("expected ErrForbidden for non-participant, got %v", err)
	}

	admin := authedConn(t, h, "a1", RoleAdmin)
	if err := h.JoinChat(admin, "p1", "d1"); err != nil {
		t.Errorf("expected admin to join any room, got %v", err)
	}

	patient := authedConn(t, h, "p1", RolePatient)
	if err := h.JoinChat(patient, "p1", "d1"); err != nil {
		t.Errorf("expected participant to join, got %v", err)
	}
}

func TestHub_AuthenticateJoinsRoleAndUserRooms(t *testing.T) {
	h := NewHub(newMockMessageStore(), zerolog.Nop())

	conn := authedConn(t, h, "d1", RoleDoctor)

	if !h.Rooms.IsMember(conn, RoleRoomID(RoleDoctor)) {
		t.Error("expected membership in the doctor role room")
	}
	if !h.Rooms.IsMember(conn, UserRoomID("d1")) {
		t.Error("expected membership in the per-user room")
	}
}
