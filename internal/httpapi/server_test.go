package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/ruby-arcade/internal/arcade"
	"serotonyl.ru/ruby-arcade/internal/ledger"
)

func newTestServer(t *testing.T) (*httptest.Server, *ledger.Memory) {
	t.Helper()
	l := ledger.NewMemory()
	svc := arcade.NewService(arcade.Deps{Ledger: l})
	ts := httptest.NewServer(NewServer(":0", svc).Routes())
	t.Cleanup(ts.Close)
	return ts, l
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)
	var body healthResponse
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/healthz", &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 0, body.ActiveSessions)
}

func TestListGames(t *testing.T) {
	ts, _ := newTestServer(t)
	var games []gameResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/games", &games))
	require.Len(t, games, 2)
	assert.Equal(t, "climb", games[0].ID)
	assert.Equal(t, int64(49), games[0].StakeCap)
	assert.Contains(t, games[0].Powerups, "betting")
	assert.NotContains(t, games[1].Powerups, "safety_net")
}

func TestAccount(t *testing.T) {
	ts, l := newTestServer(t)
	ctx := context.Background()
	_, err := l.AdjustBalance(ctx, "u1", 42, "подарок")
	require.NoError(t, err)
	_, err = l.SetHighScoreIfGreater(ctx, "u1", "climb", 17)
	require.NoError(t, err)

	var acc accountResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/accounts/u1", &acc))
	assert.Equal(t, int64(42), acc.Rubies)
	assert.Equal(t, int64(17), acc.HighScores["climb"])
	assert.Equal(t, int64(0), acc.Powerups["betting"])

	var missing accountResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/accounts/nobody", &missing))
	assert.Equal(t, int64(0), missing.Rubies)
	assert.Len(t, missing.Powerups, len(ledger.Kinds))
}

func TestHistory(t *testing.T) {
	ts, l := newTestServer(t)
	_, err := l.AdjustBalance(context.Background(), "u1", 5, "подарок")
	require.NoError(t, err)

	var hist []historyResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/accounts/u1/history?limit=3", &hist))
	require.Len(t, hist, 1)
	assert.Equal(t, "подарок", hist[0].Description)

	var e errorResponse
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/accounts/u1/history?limit=x", &e))
}

func TestLedgerUnavailable(t *testing.T) {
	ts, l := newTestServer(t)
	require.NoError(t, l.Close())
	var e errorResponse
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, ts.URL+"/api/accounts/u1", &e))
	assert.NotEmpty(t, e.Error)
}
