package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mossy-p/p2p-call-signaling/internal/models"
)

func wsURL(server *httptest.Server, query string) string {
	u := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/signal"
	if query != "" {
		u += "?" + query
	}
	return u
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg models.SignalMessage) {
	t.Helper()
	data, err := models.Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
}

func readRaw(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	return data
}

func read(t *testing.T, conn *websocket.Conn, want models.SignalType) models.SignalMessage {
	t.Helper()
	data := readRaw(t, conn)
	var msg models.SignalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Unmarshal(%s): %v", data, err)
	}
	if msg.Type != want {
		t.Fatalf("got %s, want %s: %s", msg.Type, want, data)
	}
	return msg
}

func TestSignalingOverWebSocket(t *testing.T) {
	router, _ := newTestRouter(t, testConfig())
	server := httptest.NewServer(router)
	defer server.Close()

	alice := dial(t, wsURL(server, ""))
	bob := dial(t, wsURL(server, ""))

	send(t, alice, models.SignalMessage{Type: models.SignalTypeEnterRoom, UserID: "alice", RoomID: "R1"})
	if res := read(t, alice, models.SignalTypeEnterRoomRes); res.Role != models.RoleInitiator {
		t.Fatalf("alice role = %s", res.Role)
	}

	send(t, bob, models.SignalMessage{Type: models.SignalTypeEnterRoom, UserID: "bob", RoomID: "R1"})
	if res := read(t, bob, models.SignalTypeEnterRoomRes); res.Role != models.RoleResponder {
		t.Fatalf("bob role = %s", res.Role)
	}
	read(t, bob, models.SignalTypeReady)
	read(t, alice, models.SignalTypeParticipate)
	read(t, alice, models.SignalTypeReady)

	send(t, alice, models.SignalMessage{Type: models.SignalTypeOffer, SDP: "v=0 offer"})
	if offer := read(t, bob, models.SignalTypeOffer); offer.SDP != "v=0 offer" || offer.UserID != "alice" {
		t.Fatalf("offer = %+v", offer)
	}

	send(t, bob, models.SignalMessage{Type: models.SignalTypeAnswer, SDP: "v=0 answer"})
	if answer := read(t, alice, models.SignalTypeAnswer); answer.SDP != "v=0 answer" || answer.UserID != "bob" {
		t.Fatalf("answer = %+v", answer)
	}

	// Candidates arrive in order and with their fields untouched.
	payloads := []string{
		"candidate:1 1 udp 2122260223 192.168.1.5 54321 typ host generation 0",
		"candidate:2 1 udp 1686052607 203.0.113.7 40000 typ srflx raddr 192.168.1.5 rport 54321 ufrag <&>",
	}
	for i, p := range payloads {
		send(t, alice, models.SignalMessage{Type: models.SignalTypeCandidate, Label: models.IntPtr(i), Mid: "video", Candidate: p})
	}
	for i, p := range payloads {
		raw := readRaw(t, bob)
		if !bytes.Contains(raw, []byte(p)) {
			t.Fatalf("candidate %d altered: %s", i, raw)
		}
		var msg models.SignalMessage
		json.Unmarshal(raw, &msg)
		if msg.Label == nil || *msg.Label != i || msg.Mid != "video" || msg.Candidate != p {
			t.Fatalf("candidate %d = %+v", i, msg)
		}
	}

	// Dropping the transport is an implicit hangup.
	bob.Close()
	if hangup := read(t, alice, models.SignalTypeHangup); hangup.UserID != "bob" {
		t.Fatalf("hangup = %+v", hangup)
	}
}

func TestSignalingRejectsBeforeJoinAndMalformed(t *testing.T) {
	router, _ := newTestRouter(t, testConfig())
	server := httptest.NewServer(router)
	defer server.Close()

	conn := dial(t, wsURL(server, ""))

	send(t, conn, models.SignalMessage{Type: models.SignalTypeCandidate, Candidate: "candidate:1"})
	read(t, conn, models.SignalTypeError)

	conn.WriteMessage(websocket.TextMessage, []byte(`{"sdp":"no type"}`))
	read(t, conn, models.SignalTypeError)
}

func TestSignalingRequiresToken(t *testing.T) {
	cfg := testConfig()
	cfg.RequireAuth = true
	router, _ := newTestRouter(t, cfg)
	server := httptest.NewServer(router)
	defer server.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(server, ""), nil)
	if err == nil {
		t.Fatal("dial without token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %+v", resp)
	}

	token := login(t, router, "carol")
	conn := dial(t, wsURL(server, "token="+token))

	send(t, conn, models.SignalMessage{Type: models.SignalTypeEnterRoom, RoomID: "R1"})
	if res := read(t, conn, models.SignalTypeEnterRoomRes); res.UserID != "carol" || res.Error != "" {
		t.Fatalf("pinned join = %+v", res)
	}

	send(t, conn, models.SignalMessage{Type: models.SignalTypeEnterRoom, UserID: "mallory", RoomID: "R1"})
	if res := read(t, conn, models.SignalTypeEnterRoomRes); res.Error == "" {
		t.Fatalf("impersonation accepted: %+v", res)
	}
}

func TestDeleteRoomHangsUpMembers(t *testing.T) {
	router, _ := newTestRouter(t, testConfig())
	server := httptest.NewServer(router)
	defer server.Close()

	token := login(t, router, "alice")
	w := doJSON(router, http.MethodPost, "/api/rooms", nil, token)
	var created models.CreateRoomResponse
	json.Unmarshal(w.Body.Bytes(), &created)

	conn := dial(t, wsURL(server, ""))
	send(t, conn, models.SignalMessage{Type: models.SignalTypeEnterRoom, UserID: "alice", RoomID: created.RoomID})
	read(t, conn, models.SignalTypeEnterRoomRes)

	if w := doJSON(router, http.MethodDelete, "/api/rooms/"+created.RoomID, nil, token); w.Code != http.StatusOK {
		t.Fatalf("delete status = %d: %s", w.Code, w.Body)
	}
	if hangup := read(t, conn, models.SignalTypeHangup); hangup.Error != "room closed" {
		t.Fatalf("hangup = %+v", hangup)
	}
}
