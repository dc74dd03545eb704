package adminapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/gatekit/adminapi"
	"github.com/dmitrymomot/gatekit/pkg/flag"
	"github.com/dmitrymomot/gatekit/pkg/govern"
	"github.com/dmitrymomot/gatekit/pkg/kv"
	"github.com/dmitrymomot/gatekit/pkg/rollout"
	"github.com/dmitrymomot/gatekit/pkg/schedule"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()

	backend := kv.NewMemoryStore()
	t.Cleanup(func() { _ = backend.Close() })

	flags := flag.NewService(flag.NewStore(backend))
	ticks := schedule.NewStore(backend)
	rollouts := rollout.NewEngine(flags, rollout.NewStore(backend), rollout.NewMetricsStore(backend), ticks)
	governance := govern.NewEngine(
		govern.NewConfigStore(backend),
		govern.NewActionStore(backend),
		govern.NewCostStore(backend),
		govern.StaticSource{Config: govern.Config{
			Enabled: true,
			Rules: []govern.Rule{{
				ID:       "daily-cap",
				Trigger:  govern.Trigger{Type: govern.TriggerCostThreshold, Value: 25},
				Priority: 1,
				Enabled:  true,
				Action: govern.ActionSpec{
					Type:     govern.ActionThrottle,
					Throttle: &govern.ThrottleSpec{MaxRequestsPerMinute: 10},
				},
			}},
		}},
		ticks,
	)

	srv := httptest.NewServer(adminapi.Router(adminapi.Dependencies{
		Flags:      flags,
		Rollouts:   rollouts,
		Governance: governance,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()

	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	req, err := http.NewRequest(method, url, &payload)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor", "tester")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestFlagEndpoints(t *testing.T) {
	t.Parallel()
	srv := newServer(t)

	t.Run("CreateAndGet", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/flags/", map[string]any{
			"name":               "checkout",
			"enabled":            true,
			"rollout_percentage": 40,
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		resp = doJSON(t, http.MethodGet, srv.URL+"/flags/checkout/", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		f := decodeBody[flag.Flag](t, resp)
		assert.Equal(t, "checkout", f.Name)
		assert.Equal(t, 40, f.RolloutPercentage)
		assert.Equal(t, "tester", f.UpdatedBy)
	})

	t.Run("DuplicateCreateConflicts", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/flags/", map[string]any{"name": "checkout"})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("GetMissingIs404", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, srv.URL+"/flags/ghost/", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("UpdatePartial", func(t *testing.T) {
		resp := doJSON(t, http.MethodPut, srv.URL+"/flags/checkout/", map[string]any{
			"rollout_percentage": 55,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		f := decodeBody[flag.Flag](t, resp)
		assert.Equal(t, 55, f.RolloutPercentage)
		assert.True(t, f.Enabled, "unspecified fields stay untouched")
	})

	t.Run("InvalidPayloadIs400", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/flags/", map[string]any{
			"name":    "bad-ab",
			"ab_test": map[string]any{"variants": []map[string]any{{"name": "a"}}, "traffic_split": map[string]int{"a": 50}},
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("EmergencyShutdown", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/flags/checkout/shutdown", map[string]any{
			"reason": "cost runaway",
		})
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = doJSON(t, http.MethodGet, srv.URL+"/flags/checkout/", nil)
		f := decodeBody[flag.Flag](t, resp)
		assert.True(t, f.EmergencyShutdown)
		assert.False(t, f.Enabled)
	})
}

func TestStrategyEndpoints(t *testing.T) {
	t.Parallel()
	srv := newServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/flags/", map[string]any{"name": "search", "enabled": true})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	t.Run("CreateForMissingFlagIs404", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/strategies/", map[string]any{
			"feature":    "ghost",
			"type":       "percentage",
			"percentage": map[string]any{"increment_percentage": 10, "increment_interval": int64(time.Hour)},
		})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("CreateInvalidIs400", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/strategies/", map[string]any{
			"feature": "search",
			"type":    "percentage",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("CreatePauseResume", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/strategies/", map[string]any{
			"feature": "search",
			"type":    "percentage",
			"percentage": map[string]any{
				"initial_percentage":   10,
				"increment_percentage": 10,
				"increment_interval":   int64(time.Hour),
			},
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		resp = doJSON(t, http.MethodPost, srv.URL+"/strategies/search/pause", nil)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = doJSON(t, http.MethodGet, srv.URL+"/strategies/search/", nil)
		st := decodeBody[rollout.Strategy](t, resp)
		assert.Equal(t, rollout.StatusPaused, st.Status)

		resp = doJSON(t, http.MethodPost, srv.URL+"/strategies/search/resume", nil)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	t.Run("MetricsThenRollback", func(t *testing.T) {
		resp := doJSON(t, http.MethodPut, srv.URL+"/strategies/search/metrics", map[string]any{
			"error_rate": 0.4,
		})
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = doJSON(t, http.MethodPost, srv.URL+"/strategies/search/rollback", map[string]any{})
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = doJSON(t, http.MethodGet, srv.URL+"/strategies/search/", nil)
		st := decodeBody[rollout.Strategy](t, resp)
		assert.Equal(t, rollout.StatusRolledBack, st.Status)

		// Terminal strategies reject further lifecycle moves.
		resp = doJSON(t, http.MethodPost, srv.URL+"/strategies/search/pause", nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestGovernanceEndpoints(t *testing.T) {
	t.Parallel()
	srv := newServer(t)

	t.Run("ExecuteFiresRule", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/governance/execute", map[string]any{
			"subject_id":   "user-1",
			"current_cost": 30,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		actions := decodeBody[[]govern.Action](t, resp)
		require.Len(t, actions, 1)
		assert.Equal(t, govern.ActionThrottle, actions[0].Type)

		resp = doJSON(t, http.MethodGet, srv.URL+"/governance/user-1/restrictions", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody[struct {
			Restricted   bool                `json:"restricted"`
			Restrictions govern.Restrictions `json:"restrictions"`
		}](t, resp)
		assert.True(t, body.Restricted)
		assert.Equal(t, 10, body.Restrictions.MaxRequestsPerMinute)
	})

	t.Run("ReverseAction", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, srv.URL+"/governance/user-1/actions", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		actions := decodeBody[[]govern.Action](t, resp)
		require.NotEmpty(t, actions)

		resp = doJSON(t, http.MethodPost, srv.URL+"/governance/actions/"+actions[0].ID.String()+"/reverse", nil)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = doJSON(t, http.MethodGet, srv.URL+"/governance/user-1/restrictions", nil)
		body := decodeBody[struct {
			Restricted bool `json:"restricted"`
		}](t, resp)
		assert.False(t, body.Restricted)
	})

	t.Run("MalformedActionIDIs400", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/governance/actions/not-a-uuid/reverse", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("ResetRemovesConfig", func(t *testing.T) {
		resp := doJSON(t, http.MethodDelete, srv.URL+"/governance/user-1/", nil)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = doJSON(t, http.MethodGet, srv.URL+"/governance/user-1/", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
