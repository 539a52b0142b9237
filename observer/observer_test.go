package observer

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	zapobserver "go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/hermes-islands/event"
)

func publish(bus *event.Bus, island string, evs ...event.Event) {
	for _, e := range evs {
		bus.Publish(e.From(island))
	}
}

func TestLogEvents_Levels(t *testing.T) {
	core, logs := zapobserver.New(zapcore.DebugLevel)
	bus := event.NewBus()
	LogEvents(bus, zap.New(core))

	publish(bus, "A",
		event.New(event.LoadOK, "mod.wasm"),
		event.New(event.Result, "Main").WithValue(7),
		event.New(event.InvokeFail, "Main"),
	)

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)

	fields := entries[1].ContextMap()
	assert.Equal(t, "RESULT", fields["kind"])
	assert.Equal(t, "A", fields["island"])
	assert.Equal(t, "Main", fields["subject"])
	assert.Equal(t, uint64(7), fields["value"])
}

func TestLogEvents_RespectsLevel(t *testing.T) {
	core, logs := zapobserver.New(zapcore.WarnLevel)
	bus := event.NewBus()
	LogEvents(bus, zap.New(core))

	publish(bus, "A",
		event.New(event.LoadRequest, "m"),
		event.New(event.Alloc, "m").WithValue(1),
		event.New(event.LoadFail, "m"),
	)
	assert.Equal(t, 1, logs.Len())
}

func TestMetrics_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	bus := event.NewBus()
	m.Subscribe(bus)

	publish(bus, "A",
		event.New(event.InvokeStart, "Main"),
		event.New(event.Result, "Main").WithValue(1),
		event.New(event.Result, "Main").WithValue(2),
		event.New(event.Alloc, "Main").WithValue(4096),
		event.New(event.Alloc, "Main").WithValue(1024),
		event.New(event.InvokeEnd, "Main").WithValue(2_000_000),
	)
	publish(bus, "B", event.New(event.InvokeStart, "Main"), event.New(event.InvokeFail, "Main"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("INVOKE_START", "A")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("INVOKE_START", "B")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("RESULT", "A")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.results.WithLabelValues("A")))
	assert.Equal(t, 5120.0, testutil.ToFloat64(m.allocated.WithLabelValues("A")))
}

func TestMetrics_DoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)
	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	m.Observe(event.New(event.InvokeEnd, "Main").WithValue(1_000_000).From("A"))

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, `hermes_events_total{island="A",kind="INVOKE_END"} 1`), text)
	assert.True(t, strings.Contains(text, `hermes_invoke_duration_seconds_count{island="A",outcome="ok"} 1`), text)
}
