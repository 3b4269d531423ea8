package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pairpad/hub/internal/metrics"
	"github.com/pairpad/hub/internal/protocol"
)

// recorder captures every event delivered to one connection, decoded into a
// generic map keyed by the wire field names.
type recorder struct {
	mu     sync.Mutex
	events []map[string]any
}

func (r *recorder) Send(data []byte) bool {
	var ev map[string]any
	if err := json.Unmarshal(data, &ev); err != nil {
		panic(fmt.Sprintf("recorder: bad event %s: %v", data, err))
	}
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return true
}

func (r *recorder) byType(t protocol.EventType) []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []map[string]any
	for _, ev := range r.events {
		if ev["type"] == string(t) {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) last(t *testing.T, kind protocol.EventType) map[string]any {
	t.Helper()
	evs := r.byType(kind)
	if len(evs) == 0 {
		t.Fatalf("no %s event recorded", kind)
	}
	return evs[len(evs)-1]
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	return New(Options{
		Metrics: metrics.New(),
		Now:     func() time.Time { return time.Unix(1700000000, 0) },
	})
}

func connect(t *testing.T, h *Hub, id string) *recorder {
	t.Helper()
	r := &recorder{}
	h.Register(id, r)
	return r
}

func userNames(ev map[string]any) []string {
	var out []string
	for _, u := range ev["users"].([]any) {
		out = append(out, u.(map[string]any)["userName"].(string))
	}
	return out
}

func TestCreateRoomAddsCreator(t *testing.T) {
	h := newTestHub(t)
	x := connect(t, h, "conn-x")

	roomID, err := h.CreateRoom(context.Background(), "conn-x", "algorithms", "x", "cat.png")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if len(roomID) != RoomIDLength {
		t.Fatalf("room id %q: want length %d", roomID, RoomIDLength)
	}
	if roomID != NormalizeRoomID(roomID) {
		t.Fatalf("room id %q is not normalized", roomID)
	}

	room, ok := h.Registry().Get(roomID)
	if !ok {
		t.Fatalf("room %s not in registry", roomID)
	}
	if room.Name != "algorithms" || room.CreatedBy != "x" {
		t.Fatalf("room metadata: got %q/%q", room.Name, room.CreatedBy)
	}
	if room.Language() != DefaultLanguage {
		t.Fatalf("language: got %q want %q", room.Language(), DefaultLanguage)
	}

	created := x.last(t, protocol.EventRoomCreated)
	if created["roomId"] != roomID {
		t.Fatalf("room-created roomId: got %v", created["roomId"])
	}
	if got := userNames(created); len(got) != 1 || got[0] != "x" {
		t.Fatalf("room-created users: got %v", got)
	}
}

func TestJoinUnknownRoomIsPure(t *testing.T) {
	h := newTestHub(t)
	x := connect(t, h, "conn-x")

	_, err := h.JoinRoom("conn-x", "ZZZZZZZZ", "x", "")
	if !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("join unknown room: got %v want ErrRoomNotFound", err)
	}
	if h.Registry().Len() != 0 {
		t.Fatalf("registry mutated by failed join")
	}
	if len(x.byType(protocol.EventJoinError)) != 1 {
		t.Fatalf("expected exactly one join-error, got %d", len(x.byType(protocol.EventJoinError)))
	}
}

func TestJoinIsCaseInsensitive(t *testing.T) {
	h := newTestHub(t)
	connect(t, h, "conn-x")
	y := connect(t, h, "conn-y")

	roomID, err := h.CreateRoom(context.Background(), "conn-x", "room", "x", "")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	if _, err := h.JoinRoom("conn-y", "  "+lower(roomID)+" ", "y", ""); err != nil {
		t.Fatalf("join with sloppy casing: %v", err)
	}
	if h.Registry().Len() != 1 {
		t.Fatalf("shadow room created: %d rooms", h.Registry().Len())
	}
	if y.last(t, protocol.EventJoinSuccess)["roomId"] != roomID {
		t.Fatalf("join-success roomId mismatch")
	}
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

func TestJoinBroadcastsPresenceInJoinOrder(t *testing.T) {
	h := newTestHub(t)
	x := connect(t, h, "conn-x")
	y := connect(t, h, "conn-y")

	roomID, _ := h.CreateRoom(context.Background(), "conn-x", "room", "x", "")
	users, err := h.JoinRoom("conn-y", roomID, "y", "")
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if len(users) != 2 || users[0].UserName != "x" || users[1].UserName != "y" {
		t.Fatalf("membership snapshot: got %+v", users)
	}

	for _, rec := range []*recorder{x, y} {
		got := userNames(rec.last(t, protocol.EventUsersUpdate))
		if len(got) != 2 || got[0] != "x" || got[1] != "y" {
			t.Fatalf("users-update: got %v", got)
		}
	}
}

func TestRejoinSameConnectionIsIdempotent(t *testing.T) {
	h := newTestHub(t)
	connect(t, h, "conn-x")

	roomID, _ := h.CreateRoom(context.Background(), "conn-x", "room", "x", "")
	users, err := h.JoinRoom("conn-x", roomID, "x", "")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("rejoin duplicated participant: %+v", users)
	}
}

func TestEmptyNamesRejected(t *testing.T) {
	h := newTestHub(t)
	x := connect(t, h, "conn-x")

	if _, err := h.CreateRoom(context.Background(), "conn-x", "room", "   ", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty user name: got %v", err)
	}
	if _, err := h.CreateRoom(context.Background(), "conn-x", " ", "x", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty room name: got %v", err)
	}
	if h.Registry().Len() != 0 {
		t.Fatalf("registry mutated by rejected create")
	}
	if len(x.byType(protocol.EventJoinError)) != 2 {
		t.Fatalf("expected two join-error events, got %d", len(x.byType(protocol.EventJoinError)))
	}
}

func TestCodeChangeLastWriterWinsAndExcludesSender(t *testing.T) {
	h := newTestHub(t)
	x := connect(t, h, "conn-x")
	y := connect(t, h, "conn-y")

	roomID, _ := h.CreateRoom(context.Background(), "conn-x", "room", "x", "")
	if _, err := h.JoinRoom("conn-y", roomID, "y", ""); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	if err := h.CodeChange("conn-x", roomID, `print(1)`); err != nil {
		t.Fatalf("CodeChange: %v", err)
	}

	got := y.last(t, protocol.EventCodeUpdate)
	if got["code"] != "print(1)" || got["userId"] != "conn-x" {
		t.Fatalf("code-update at y: got %v", got)
	}
	if len(x.byType(protocol.EventCodeUpdate)) != 0 {
		t.Fatalf("code-update echoed back to sender")
	}

	room, _ := h.Registry().Get(roomID)
	if room.Code() != "print(1)" {
		t.Fatalf("stored document: got %q", room.Code())
	}

	// A later write fully replaces the document.
	if err := h.CodeChange("conn-y", roomID, "print(2)"); err != nil {
		t.Fatalf("CodeChange: %v", err)
	}
	if room.Code() != "print(2)" {
		t.Fatalf("last writer should win, got %q", room.Code())
	}
}

func TestLanguageChangeReachesEveryone(t *testing.T) {
	h := newTestHub(t)
	x := connect(t, h, "conn-x")
	y := connect(t, h, "conn-y")

	roomID, _ := h.CreateRoom(context.Background(), "conn-x", "room", "x", "")
	if _, err := h.JoinRoom("conn-y", roomID, "y", ""); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	if err := h.LanguageChange("conn-y", roomID, "python"); err != nil {
		t.Fatalf("LanguageChange: %v", err)
	}

	for _, rec := range []*recorder{x, y} {
		if rec.last(t, protocol.EventLanguageUpdate)["language"] != "python" {
			t.Fatalf("language-update missing")
		}
	}
	room, _ := h.Registry().Get(roomID)
	if room.Language() != "python" {
		t.Fatalf("stored language: got %q", room.Language())
	}
}

func TestChatMessageEchoesToEveryoneExactlyOnce(t *testing.T) {
	h := newTestHub(t)
	x := connect(t, h, "conn-x")
	y := connect(t, h, "conn-y")

	roomID, _ := h.CreateRoom(context.Background(), "conn-x", "room", "x", "")
	if _, err := h.JoinRoom("conn-y", roomID, "y", ""); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	if err := h.ChatMessage("conn-x", roomID, "hello"); err != nil {
		t.Fatalf("ChatMessage: %v", err)
	}
	if err := h.ChatMessage("conn-y", roomID, "hi"); err != nil {
		t.Fatalf("ChatMessage: %v", err)
	}

	seen := make(map[string]int)
	for _, rec := range []*recorder{x, y} {
		msgs := rec.byType(protocol.EventNewMessage)
		if len(msgs) != 2 {
			t.Fatalf("expected 2 chat messages, got %d", len(msgs))
		}
		perConn := make(map[string]bool)
		for _, m := range msgs {
			id := m["id"].(string)
			if perConn[id] {
				t.Fatalf("message id %s observed twice by one member", id)
			}
			perConn[id] = true
			seen[id]++
		}
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 distinct message ids, got %d", len(seen))
	}
	for id, n := range seen {
		if n != 2 {
			t.Fatalf("message %s delivered %d times, want once per member", id, n)
		}
	}

	first := x.byType(protocol.EventNewMessage)[0]
	if first["senderConnectionId"] != "conn-x" || first["message"] != "hello" {
		t.Fatalf("chat payload: got %v", first)
	}
	if first["timestamp"].(float64) <= 0 {
		t.Fatalf("chat timestamp not stamped")
	}
}

func TestChatMessageStampsStoredIdentity(t *testing.T) {
	h := newTestHub(t)
	x := connect(t, h, "conn-x")
	_ = connect(t, h, "conn-y")

	roomID, _ := h.CreateRoom(context.Background(), "conn-x", "room", "x", "cat.png")
	if _, err := h.JoinRoom("conn-y", roomID, "y", "dog.png"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	if err := h.ChatMessage("conn-y", roomID, "hello"); err != nil {
		t.Fatalf("ChatMessage: %v", err)
	}

	msg := x.last(t, protocol.EventNewMessage)
	if msg["userName"] != "y" || msg["avatar"] != "dog.png" || msg["senderConnectionId"] != "conn-y" {
		t.Fatalf("sender identity not taken from room state: got %v", msg)
	}
}

func TestConcurrentChatDeliveredExactlyOnce(t *testing.T) {
	h := newTestHub(t)
	recs := map[string]*recorder{
		"conn-x": connect(t, h, "conn-x"),
		"conn-y": connect(t, h, "conn-y"),
	}

	roomID, _ := h.CreateRoom(context.Background(), "conn-x", "room", "x", "")
	if _, err := h.JoinRoom("conn-y", roomID, "y", ""); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	const perSender = 20
	var wg sync.WaitGroup
	for _, conn := range []string{"conn-x", "conn-y"} {
		wg.Add(1)
		go func(conn string) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				if err := h.ChatMessage(conn, roomID, fmt.Sprintf("%s-%d", conn, i)); err != nil {
					t.Errorf("ChatMessage: %v", err)
				}
			}
		}(conn)
	}
	wg.Wait()

	for conn, rec := range recs {
		msgs := rec.byType(protocol.EventNewMessage)
		if len(msgs) != 2*perSender {
			t.Fatalf("%s: got %d messages, want %d", conn, len(msgs), 2*perSender)
		}
		ids := make(map[string]bool)
		for _, m := range msgs {
			id := m["id"].(string)
			if ids[id] {
				t.Fatalf("%s observed id %s twice", conn, id)
			}
			ids[id] = true
		}
	}
}

func TestRunOutputRelayedToAllMembers(t *testing.T) {
	h := newTestHub(t)
	x := connect(t, h, "conn-x")
	y := connect(t, h, "conn-y")

	roomID, _ := h.CreateRoom(context.Background(), "conn-x", "room", "x", "")
	if _, err := h.JoinRoom("conn-y", roomID, "y", ""); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	if err := h.RunOutput("conn-x", roomID, "42\n", "python"); err != nil {
		t.Fatalf("RunOutput: %v", err)
	}
	for _, rec := range []*recorder{x, y} {
		got := rec.last(t, protocol.EventRunOutput)
		if got["output"] != "42\n" || got["language"] != "python" {
			t.Fatalf("run-output: got %v", got)
		}
	}
}

func TestCallDualTriggerDiscovery(t *testing.T) {
	h := newTestHub(t)
	x := connect(t, h, "conn-x")
	y := connect(t, h, "conn-y")

	roomID, _ := h.CreateRoom(context.Background(), "conn-x", "room", "x", "")
	if _, err := h.JoinRoom("conn-y", roomID, "y", ""); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	// X joins the call before anyone else: the pull snapshot is empty.
	if err := h.JoinCall("conn-x", roomID); err != nil {
		t.Fatalf("JoinCall: %v", err)
	}
	if err := h.CallPeers("conn-x", roomID); err != nil {
		t.Fatalf("CallPeers: %v", err)
	}
	if peers := x.last(t, protocol.EventCallPeersList)["peers"].([]any); len(peers) != 0 {
		t.Fatalf("expected empty peer list, got %v", peers)
	}

	// Y joins: X is pushed the announcement, Y pulls the snapshot with X.
	if err := h.JoinCall("conn-y", roomID); err != nil {
		t.Fatalf("JoinCall: %v", err)
	}
	if got := x.last(t, protocol.EventUserJoinedCall); got["peerId"] != "conn-y" {
		t.Fatalf("user-joined-call at x: got %v", got)
	}
	if len(y.byType(protocol.EventUserJoinedCall)) != 0 {
		t.Fatalf("announcement must go only to existing peers")
	}

	if err := h.CallPeers("conn-y", roomID); err != nil {
		t.Fatalf("CallPeers: %v", err)
	}
	peers := y.last(t, protocol.EventCallPeersList)["peers"].([]any)
	if len(peers) != 1 || peers[0] != "conn-x" {
		t.Fatalf("call-peers-list at y: got %v", peers)
	}
}

func TestRelaySignalPointToPoint(t *testing.T) {
	h := newTestHub(t)
	x := connect(t, h, "conn-x")
	y := connect(t, h, "conn-y")
	z := connect(t, h, "conn-z")

	roomID, _ := h.CreateRoom(context.Background(), "conn-x", "room", "x", "")
	for _, c := range []struct{ id, name string }{{"conn-y", "y"}, {"conn-z", "z"}} {
		if _, err := h.JoinRoom(c.id, roomID, c.name, ""); err != nil {
			t.Fatalf("JoinRoom %s: %v", c.id, err)
		}
	}

	offer := protocol.ClientEvent{
		Type:   protocol.EventWebRTCOffer,
		RoomID: roomID,
		To:     "conn-y",
		SDP:    &protocol.SDP{Type: "offer", SDP: "v=0..."},
	}
	if err := h.RelaySignal("conn-x", offer); err != nil {
		t.Fatalf("RelaySignal: %v", err)
	}

	got := y.last(t, protocol.EventWebRTCOffer)
	if got["from"] != "conn-x" {
		t.Fatalf("forwarded offer from: got %v", got["from"])
	}
	if got["sdp"].(map[string]any)["sdp"] != "v=0..." {
		t.Fatalf("forwarded offer sdp: got %v", got["sdp"])
	}
	if len(x.byType(protocol.EventWebRTCOffer)) != 0 || len(z.byType(protocol.EventWebRTCOffer)) != 0 {
		t.Fatalf("offer must reach the target only")
	}
	if h.Metrics().Get(MetricSignalsRelayed) != 1 {
		t.Fatalf("signals_relayed: got %d", h.Metrics().Get(MetricSignalsRelayed))
	}
}

func TestRelaySignalToDepartedPeerIsDroppedSilently(t *testing.T) {
	h := newTestHub(t)
	connect(t, h, "conn-x")
	connect(t, h, "conn-y")

	roomID, _ := h.CreateRoom(context.Background(), "conn-x", "room", "x", "")
	if _, err := h.JoinRoom("conn-y", roomID, "y", ""); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	h.Disconnect("conn-y")

	cand := protocol.ClientEvent{
		Type:      protocol.EventWebRTCCandidate,
		RoomID:    roomID,
		To:        "conn-y",
		Candidate: &protocol.Candidate{Candidate: "candidate:1 1 udp ..."},
	}
	if err := h.RelaySignal("conn-x", cand); err != nil {
		t.Fatalf("late candidate must not surface an error, got %v", err)
	}
	if h.Metrics().Get(MetricSignalsDropped) != 1 {
		t.Fatalf("signals_dropped: got %d", h.Metrics().Get(MetricSignalsDropped))
	}
}

func TestDisconnectTearsDownRoomAndCallExactlyOnce(t *testing.T) {
	h := newTestHub(t)
	connect(t, h, "conn-x")
	y := connect(t, h, "conn-y")
	z := connect(t, h, "conn-z")

	roomID, _ := h.CreateRoom(context.Background(), "conn-x", "room", "x", "")
	for _, c := range []struct{ id, name string }{{"conn-y", "y"}, {"conn-z", "z"}} {
		if _, err := h.JoinRoom(c.id, roomID, c.name, ""); err != nil {
			t.Fatalf("JoinRoom %s: %v", c.id, err)
		}
	}
	for _, id := range []string{"conn-x", "conn-y", "conn-z"} {
		if err := h.JoinCall(id, roomID); err != nil {
			t.Fatalf("JoinCall %s: %v", id, err)
		}
	}

	h.Disconnect("conn-x")
	h.Disconnect("conn-x") // reconciling an absent connection is a no-op

	room, _ := h.Registry().Get(roomID)
	users := room.Participants()
	if len(users) != 2 {
		t.Fatalf("membership after disconnect: %+v", users)
	}

	for name, rec := range map[string]*recorder{"y": y, "z": z} {
		left := rec.byType(protocol.EventUserLeftCall)
		if len(left) != 1 || left[0]["peerId"] != "conn-x" {
			t.Fatalf("%s: expected exactly one user-left-call{conn-x}, got %v", name, left)
		}
		got := userNames(rec.last(t, protocol.EventUsersUpdate))
		if len(got) != 2 {
			t.Fatalf("%s: presence after disconnect: %v", name, got)
		}
	}

	// The room itself survives; rooms are never deleted on last-member-leave.
	h.Disconnect("conn-y")
	h.Disconnect("conn-z")
	if _, ok := h.Registry().Get(roomID); !ok {
		t.Fatalf("room deleted after last member left")
	}
}

func TestJoinCallRequiresRoomMembership(t *testing.T) {
	h := newTestHub(t)
	connect(t, h, "conn-x")
	connect(t, h, "conn-y")

	roomID, _ := h.CreateRoom(context.Background(), "conn-x", "room", "x", "")
	if err := h.JoinCall("conn-y", roomID); !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("join-call outside room: got %v", err)
	}
	room, _ := h.Registry().Get(roomID)
	room.mu.Lock()
	n := len(room.callPeers)
	room.mu.Unlock()
	if n != 0 {
		t.Fatalf("call peers mutated by rejected join-call")
	}
}

func TestConnectionBelongsToOneRoomAtATime(t *testing.T) {
	h := newTestHub(t)
	connect(t, h, "conn-x")
	y := connect(t, h, "conn-y")

	firstRoom, _ := h.CreateRoom(context.Background(), "conn-x", "first", "x", "")
	if _, err := h.JoinRoom("conn-y", firstRoom, "y", ""); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	secondRoom, err := h.CreateRoom(context.Background(), "conn-y", "second", "y", "")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	first, _ := h.Registry().Get(firstRoom)
	if got := first.Participants(); len(got) != 1 || got[0].ConnectionID != "conn-x" {
		t.Fatalf("first room membership after move: %+v", got)
	}
	second, _ := h.Registry().Get(secondRoom)
	if got := second.Participants(); len(got) != 1 || got[0].ConnectionID != "conn-y" {
		t.Fatalf("second room membership: %+v", got)
	}
	if y.last(t, protocol.EventRoomCreated)["roomId"] != secondRoom {
		t.Fatalf("room-created missing for second room")
	}
}

type failingCatalog struct{ calls int }

func (f *failingCatalog) CreateRoom(ctx context.Context, id, name, createdBy string) error {
	f.calls++
	return errors.New("catalog down")
}

func TestCatalogFailureDegradesToWarning(t *testing.T) {
	cat := &failingCatalog{}
	h := New(Options{Catalog: cat, Metrics: metrics.New()})
	connect(t, h, "conn-x")
	y := connect(t, h, "conn-y")

	roomID, err := h.CreateRoom(context.Background(), "conn-x", "room", "x", "")
	if err != nil {
		t.Fatalf("create must survive catalog failure, got %v", err)
	}
	if cat.calls != 1 {
		t.Fatalf("catalog calls: got %d", cat.calls)
	}
	if h.Metrics().Get(MetricCatalogErrors) != 1 {
		t.Fatalf("catalog_errors: got %d", h.Metrics().Get(MetricCatalogErrors))
	}

	// The in-memory room stays fully usable.
	if _, err := h.JoinRoom("conn-y", roomID, "y", ""); err != nil {
		t.Fatalf("join after catalog failure: %v", err)
	}
	if got := userNames(y.last(t, protocol.EventUsersUpdate)); len(got) != 2 {
		t.Fatalf("presence after catalog failure: %v", got)
	}
}
