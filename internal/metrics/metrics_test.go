package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndependentRegistries(t *testing.T) {
	a := New()
	b := New()
	a.ObserveLogin(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Logins.WithLabelValues("ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Logins.WithLabelValues("ok")))
}

func TestObserveToggleCountsCompletions(t *testing.T) {
	m := New()
	m.ObserveToggle(false, false)
	m.ObserveToggle(false, true)
	m.ObserveToggle(true, true)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Toggles))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChecklistsComplete))
}

func TestObserveRequestAndGauges(t *testing.T) {
	m := New()
	m.ObserveRequest("GET", "/v1/services", 200, time.Now())
	m.ObserveRequest("GET", "/v1/services", 404, time.Now())
	m.ObserveWebhook(errors.New("boom"))
	m.TrackSessions(func() int { return 3 })

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("GET", "/v1/services", "4xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookDeliveries.WithLabelValues("failed")))
	n, err := testutil.GatherAndCount(m.Registry, "ckdt_sessions_open")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
