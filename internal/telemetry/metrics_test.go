package telemetry

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crmorbit/internal/engine"
	"github.com/roach88/crmorbit/internal/event"
	"github.com/roach88/crmorbit/internal/store"
	"github.com/roach88/crmorbit/internal/syncer"
	"github.com/roach88/crmorbit/internal/testutil"
	"github.com/roach88/crmorbit/internal/transport"
)

var (
	_ engine.Metrics    = (*Metrics)(nil)
	_ transport.Metrics = (*Metrics)(nil)
	_ syncer.Metrics    = (*Metrics)(nil)
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.EventApplied(event.OrganizationCreated)
	m.EventApplied(event.OrganizationCreated)
	m.EventRejected(event.AccountDeleted, "DEPENDENCY_EXISTS")
	m.LogSize(42)
	m.FrameSent(100)
	m.FrameReceived(30)
	m.FrameReceived(20)
	m.ProtocolViolation()
	m.SyncSession("initiator", "ok")
	m.EventsMerged(7)
	m.PeerCount(3)

	assert.Equal(t, 2.0, promtest.ToFloat64(m.applied.WithLabelValues("organization.created")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.rejected.WithLabelValues("account.deleted", "DEPENDENCY_EXISTS")))
	assert.Equal(t, 42.0, promtest.ToFloat64(m.logSize))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.frames.WithLabelValues("sent")))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.frames.WithLabelValues("received")))
	assert.Equal(t, 50.0, promtest.ToFloat64(m.frameBytes.WithLabelValues("received")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.violations))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.sessions.WithLabelValues("initiator", "ok")))
	assert.Equal(t, 7.0, promtest.ToFloat64(m.merged))
	assert.Equal(t, 3.0, promtest.ToFloat64(m.peers))
}

func TestMetrics_WiredIntoEngine(t *testing.T) {
	m := New(prometheus.NewRegistry())
	e, err := engine.Open(context.Background(), store.NewMemoryLog(),
		engine.WithMetrics(m),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithDeviceID("dev-a"),
	)
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Emit(context.Background(), event.OrganizationCreated, "org-1", testutil.Payload(map[string]any{"name": "Acme"}))
	require.NoError(t, err)
	_, err = e.Emit(context.Background(), event.OrganizationDeleted, "org-404", nil)
	require.Error(t, err)

	assert.Equal(t, 1.0, promtest.ToFloat64(m.applied.WithLabelValues("organization.created")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.rejected.WithLabelValues("organization.deleted", "NOT_FOUND")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.logSize))
}

func TestHandler_Exposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.SyncSession("responder", "ok")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `crmorbit_sync_sessions_total{outcome="ok",role="responder"} 1`), body)
}
