package daemon

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/scancoord/internal/scheduler"
)

func startTestServer(t *testing.T, d *Daemon) (baseURL string, stop func()) {
	t.Helper()
	srv, err := newStatusServer("127.0.0.1:0", d)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.run(ctx) }()

	return "http://" + srv.ln.Addr().String(), func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("status server did not stop")
		}
	}
}

func getBody(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url) // #nosec G107 -- local test server
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestStatusServerEndpoints(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(cfg, "")
	require.NoError(t, err)
	defer d.close()

	// Give the server something to report without running any loop.
	loops, _, flt, err := d.buildLoops(cfg)
	require.NoError(t, err)
	d.setLoops(loops, flt)

	base, stop := startTestServer(t, d)
	defer stop()

	code, body := getBody(t, base+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	code, body = getBody(t, base+"/status")
	require.Equal(t, http.StatusOK, code)
	var status statusResponse
	require.NoError(t, json.Unmarshal(body, &status))
	require.Len(t, status.Puzzles, 1)
	ps := status.Puzzles[0]
	assert.Equal(t, 999, ps.PuzzleID)
	assert.Equal(t, scheduler.StateIdle, ps.State)
	assert.Equal(t, "0", ps.Cursor)
	assert.Equal(t, "0", ps.KeysCheckedHuman)
	assert.NotEmpty(t, status.Uptime)
	assert.True(t, status.Filter.Enabled, "absent filter flag defaults to enabled")
	assert.Zero(t, status.Filter.SkipRatio, "no decisions made yet")

	code, body = getBody(t, base+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestStatusServerRefusesTakenPort(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(cfg, "")
	require.NoError(t, err)
	defer d.close()

	srv, err := newStatusServer("127.0.0.1:0", d)
	require.NoError(t, err)
	defer func() { _ = srv.ln.Close() }()

	_, err = newStatusServer(srv.ln.Addr().String(), d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), srv.ln.Addr().String())
}
