package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the value of the int64 data point of name carrying
// key=value, and whether it exists.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) (int64, bool) {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value, true
		}
	}
	return 0, false
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"skystories.llm.duration", m.LLMDuration},
		{"skystories.image.duration", m.ImageDuration},
		{"skystories.conversation.connect.duration", m.ConnectDuration},
		{"skystories.http.request.duration", m.HTTPRequestDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestProviderRequests(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "openai", "llm", "ok")
	m.RecordProviderRequest(ctx, "openai", "llm", "ok")
	m.RecordProviderRequest(ctx, "openai", "llm", "error")
	m.RecordProviderError(ctx, "openai", "llm")

	rm := collect(t, reader)
	if got, ok := sumWhere(t, rm, "skystories.provider.requests", "status", "ok"); !ok || got != 2 {
		t.Errorf("requests{status=ok} = %d (found %v), want 2", got, ok)
	}
	if got, ok := sumWhere(t, rm, "skystories.provider.errors", "kind", "llm"); !ok || got != 1 {
		t.Errorf("errors{kind=llm} = %d (found %v), want 1", got, ok)
	}
}

func TestStoryCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordBeat(ctx, "farmer", "text")
	m.RecordBeat(ctx, "farmer", "image")
	m.RecordBeat(ctx, "farmer", "text")
	m.RecordStory(ctx, "farmer", "completed")
	m.RecordStory(ctx, "pilot", "cancelled")

	rm := collect(t, reader)
	if got, _ := sumWhere(t, rm, "skystories.story.beats_revealed", "kind", "text"); got != 2 {
		t.Errorf("beats{kind=text} = %d, want 2", got)
	}
	if got, _ := sumWhere(t, rm, "skystories.story.playbacks", "outcome", "cancelled"); got != 1 {
		t.Errorf("playbacks{outcome=cancelled} = %d, want 1", got)
	}
}

func TestConversationCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordModeChange(ctx, "idle", "speaking")
	m.RecordModeChange(ctx, "speaking", "listening")
	m.RecordTranscriptEntry(ctx, "agent")
	m.RecordAIFallback(ctx, "image")

	rm := collect(t, reader)
	if got, _ := sumWhere(t, rm, "skystories.conversation.mode_changes", "to", "listening"); got != 1 {
		t.Errorf("mode_changes{to=listening} = %d, want 1", got)
	}
	if got, _ := sumWhere(t, rm, "skystories.conversation.transcript_entries", "speaker", "agent"); got != 1 {
		t.Errorf("transcript_entries{speaker=agent} = %d, want 1", got)
	}
	if got, _ := sumWhere(t, rm, "skystories.ai.fallbacks", "part", "image"); got != 1 {
		t.Errorf("ai.fallbacks{part=image} = %d, want 1", got)
	}
}

func TestSessionStarted(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	done1 := m.SessionStarted(ctx, "story")
	done2 := m.SessionStarted(ctx, "story")
	m.SessionStarted(ctx, "starfield")
	done1()
	done1() // second call is a no-op

	rm := collect(t, reader)
	if got, _ := sumWhere(t, rm, "skystories.active_sessions", "kind", "story"); got != 1 {
		t.Errorf("active_sessions{kind=story} = %d, want 1", got)
	}
	done2()
	rm = collect(t, reader)
	if got, _ := sumWhere(t, rm, "skystories.active_sessions", "kind", "story"); got != 0 {
		t.Errorf("active_sessions{kind=story} = %d, want 0", got)
	}
	if got, _ := sumWhere(t, rm, "skystories.active_sessions", "kind", "starfield"); got != 1 {
		t.Errorf("active_sessions{kind=starfield} = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
