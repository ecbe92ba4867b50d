package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dsalaz04/pkmn-battle-client/internal/battle"
	"github.com/dsalaz04/pkmn-battle-client/internal/bus"
	"github.com/dsalaz04/pkmn-battle-client/internal/history"
	"github.com/dsalaz04/pkmn-battle-client/internal/metrics"
	"github.com/dsalaz04/pkmn-battle-client/internal/protocol"
	"github.com/dsalaz04/pkmn-battle-client/internal/timeutil"
	"github.com/dsalaz04/pkmn-battle-client/internal/transport"
)

type idleTransport struct{}

func (idleTransport) Send(protocol.ClientMessage, string) bool { return false }
func (idleTransport) Ready() bool                              { return false }
func (idleTransport) On(protocol.EventType, transport.Handler) func() {
	return func() {}
}

func newTestServer(t *testing.T) (*httptest.Server, *history.Store) {
	t.Helper()
	ctx := context.Background()

	hist, err := history.Open(ctx, filepath.Join(t.TempDir(), "battles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = hist.Close() })

	eng := battle.New(ctx, idleTransport{}, bus.New(), timeutil.Real(), hist, battle.Options{}, zap.NewNop())
	t.Cleanup(eng.Close)

	srv := httptest.NewServer(SetupRoutes(eng, hist, metrics.NewRegistry(), zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv, hist
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSessionSnapshotIdle(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/session")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var v battle.View
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	assert.Equal(t, battle.PhaseIntro, v.Phase)
	assert.False(t, v.Active)
}

func TestRecentHistory(t *testing.T) {
	srv, hist := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, hist.Record(ctx, history.Record{
		SessionID: "room-1", BattleType: "wild", Result: "captured",
		Turns: 4, OpponentName: "Pidgey", Captured: true, EndedAt: time.Now(),
	}))
	require.NoError(t, hist.Record(ctx, history.Record{
		SessionID: "room-2", BattleType: "trainer", Result: "defeat",
		Turns: 9, OpponentName: "Geodude", EndedAt: time.Now().Add(time.Minute),
	}))

	resp, err := http.Get(srv.URL + "/history?limit=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var recs []history.Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "room-2", recs[0].SessionID)
}

func TestRecentHistoryBadLimit(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/history?limit=zero")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsExposed(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
