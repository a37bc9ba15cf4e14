package session_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"presence/src/bus"
	"presence/src/graph"
	"presence/src/kv"
	"presence/src/presencestore"
	"presence/src/protocol"
	"presence/src/session"
)

// headerIdentifier resolves the user ID from X-Test-User so a single test
// server can stand in for multiple sessions.
type headerIdentifier struct{}

func (headerIdentifier) Identify(r *http.Request) (int64, bool) {
	v := r.Header.Get("X-Test-User")
	switch v {
	case "3":
		return 3, true
	case "7":
		return 7, true
	}
	return 0, false
}

type fakeFollows struct {
	edges map[[2]int64]bool
	calls int32
}

func (f *fakeFollows) Follows(_ context.Context, from, to int64) (bool, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.edges[[2]int64{from, to}], nil
}

func newHarness(t *testing.T, follows *fakeFollows) (*httptest.Server, *presencestore.Store, bus.Bus) {
	t.Helper()
	store := presencestore.New(kv.NewFake(), presencestore.Params{
		HeartbeatWindow: 30 * time.Second,
		MinInterval:     5 * time.Second,
		ScoredSetPrefix: "onlineUsers",
		StateTTL:        24 * time.Hour,
	})
	g := graph.New(follows, time.Minute, 100)
	t.Cleanup(g.Close)
	b := bus.NewLocal()

	ep := session.NewEndpoint(session.Params{
		Store:            store,
		Graph:            g,
		Bus:              b,
		Identifier:       headerIdentifier{},
		ShardKeyFor:      func(int64) string { return "onlineUsers" },
		StateKeyFor:      func(userID int64) string { return "presence:state:" + itoa(userID) },
		MaxSubscriptions: 500,
		Clock:            func() int64 { return 1000 },
	})

	srv := httptest.NewServer(ep)
	t.Cleanup(srv.Close)
	return srv, store, b
}

func itoa(n int64) string {
	if n == 3 {
		return "3"
	}
	return "7"
}

func dial(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	header := http.Header{}
	header.Set("X-Test-User", userID)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestSubscribeDeniedWhenNotMutual(t *testing.T) {
	follows := &fakeFollows{edges: map[[2]int64]bool{{3, 7}: true}}
	srv, _, _ := newHarness(t, follows)

	conn := dial(t, srv, "3")
	require.NoError(t, conn.WriteJSON(protocol.Inbound{Type: protocol.TypeSubscribe, TargetUserID: 7}))

	var out protocol.OutboundSubscribeDenied
	require.NoError(t, conn.ReadJSON(&out))
	require.Equal(t, protocol.TypeSubscribeDenied, out.Type)
	require.Equal(t, protocol.ReasonNotMutual, out.Reason)
}

func TestSubscribeAllowedSendsSnapshot(t *testing.T) {
	follows := &fakeFollows{edges: map[[2]int64]bool{{3, 7}: true, {7, 3}: true}}
	srv, store, _ := newHarness(t, follows)

	_, err := store.RecordHeartbeat(context.Background(), "onlineUsers", "presence:state:7", 7, 1000)
	require.NoError(t, err)
	_, err = store.SetSemantic(context.Background(), "onlineUsers", "presence:state:7", 7, presencestore.StatusAway, 1020)
	require.NoError(t, err)

	conn := dial(t, srv, "3")
	require.NoError(t, conn.WriteJSON(protocol.Inbound{Type: protocol.TypeSubscribe, TargetUserID: 7}))

	var out protocol.OutboundSubscribeAck
	require.NoError(t, conn.ReadJSON(&out))
	require.Equal(t, protocol.TypeSubscribeAck, out.Type)
	require.EqualValues(t, 7, out.TargetUserID)
	require.Equal(t, "away", out.Current.Status)
}

func TestUnknownMessageTypeRepliesWithError(t *testing.T) {
	follows := &fakeFollows{}
	srv, _, _ := newHarness(t, follows)

	conn := dial(t, srv, "3")
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "bogus"}))

	var out protocol.OutboundError
	require.NoError(t, conn.ReadJSON(&out))
	require.Equal(t, protocol.TypeError, out.Type)
}

func TestSelfSubscribeNeverConsultsGraph(t *testing.T) {
	follows := &fakeFollows{}
	srv, _, _ := newHarness(t, follows)

	conn := dial(t, srv, "3")
	require.NoError(t, conn.WriteJSON(protocol.Inbound{Type: protocol.TypeSubscribe, TargetUserID: 3}))

	var out protocol.OutboundSubscribeAck
	require.NoError(t, conn.ReadJSON(&out))
	require.EqualValues(t, 3, out.TargetUserID)
	require.EqualValues(t, 0, atomic.LoadInt32(&follows.calls))
}
