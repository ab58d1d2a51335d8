package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options on a fresh registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			So(manager, ShouldNotBeNil)
			So(manager.namespace, ShouldEqual, "ktrace")
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("kt"),
				WithHistogramBuckets([]float64{1, 10}),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)
			manager.evidenceDuplicate.WithLabelValues("event_id").Inc()

			families, err := registry.Gather()
			So(err, ShouldBeNil)
			found := false
			for _, f := range families {
				if f.GetName() == "test_kt_evidence_duplicate_total" {
					found = true
					So(f.GetMetric()[0].GetLabel()[0].GetValue(), ShouldEqual, "test")
				}
			}
			So(found, ShouldBeTrue)
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("Evidence counters move", func() {
			before := testutil.ToFloat64(globalManager.evidenceApplied.WithLabelValues("response"))
			RecordEvidenceApplied("response")
			So(testutil.ToFloat64(globalManager.evidenceApplied.WithLabelValues("response")), ShouldEqual, before+1)

			dup := testutil.ToFloat64(globalManager.evidenceDuplicate.WithLabelValues("horizon"))
			RecordEvidenceDuplicate("horizon")
			So(testutil.ToFloat64(globalManager.evidenceDuplicate.WithLabelValues("horizon")), ShouldEqual, dup+1)
		})

		Convey("Disabled metrics record nothing", func() {
			SetEnabled(false)
			defer SetEnabled(true)
			before := testutil.ToFloat64(globalManager.commitConflicts)
			RecordCommitConflict()
			So(testutil.ToFloat64(globalManager.commitConflicts), ShouldEqual, before)
		})

		Convey("Every recorder is safe to call", func() {
			So(func() {
				RecordEvidenceSkipped("empty_concepts")
				RecordEvidenceDropped("unresolved_concept")
				RecordInvariantViolation("bkt")
				RecordApplyLatency(1.5)
				RecordLockWait(0.1)
				RecordPosterior(0.6)
				RecordTraceRequest("sync", "success")
				RecordCommitConflict()
				RecordCommitRetry()
				RecordStorageError("memory", "commit")
				RecordStoreLatency("memory", "get", 0.2)
				UpdateRegistrySize(10, 4)
				RecordRegistryReload("ok")
				RecordHTTPRequest("/api/trace", "POST", "200")
				RecordHTTPRequestDuration("/api/trace", "POST", "200", 3)
				UpdateQueueSize(1)
				UpdateQueueCapacity(10)
				UpdateQueueUtilization(0.1)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				RecordQueueProcessingLatency(0.01)
				UpdateWorkerCount(4)
				AddWorkerActive(1)
				AddWorkerActive(-1)
				RecordWorkerError()
				RecordWorkerProcessingLatency(2)
				RecordErrorByComponent("queue", "full")
				UpdateSystemMemoryUsage(1 << 20)
				UpdateSystemGoroutineCount(12)
				RecordSystemGCPauseTime(0.3)
			}, ShouldNotPanic)
		})

		Convey("The custom registry exposes them", func() {
			RecordTraceRequest("sync", "success")
			families, err := GetRegistry().Gather()
			So(err, ShouldBeNil)
			names := make([]string, 0, len(families))
			for _, f := range families {
				names = append(names, f.GetName())
			}
			So(strings.Join(names, ","), ShouldContainSubstring, "ktrace_trace_requests_total")
		})
	})
}
