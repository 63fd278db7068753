package status

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func steppingClock(start time.Time, step time.Duration) func() time.Time {
	now := start
	return func() time.Time {
		current := now
		now = now.Add(step)
		return current
	}
}

func TestHistoryKeepsThreeNewestFirst(t *testing.T) {
	tracker := NewTracker(filepath.Join(t.TempDir(), "router_status.json"), "router")
	tracker.SetClock(steppingClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), time.Second))
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		run, err := tracker.Begin(ctx, Counters{"total": 0}, false)
		if err != nil {
			t.Fatal(err)
		}
		run.Counters["total"] = i
		if _, err := tracker.Finish(ctx, run, nil, nil); err != nil {
			t.Fatal(err)
		}
	}

	doc, err := tracker.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.History) != HistoryLimit {
		t.Fatalf("history length = %d, want %d", len(doc.History), HistoryLimit)
	}
	for i, want := range []int{5, 4, 3} {
		if got := doc.History[i].Counters["total"]; got != want {
			t.Fatalf("history[%d].total = %d, want %d", i, got, want)
		}
	}
	if doc.InWorking || doc.Status != StateIdle {
		t.Fatalf("expected idle, got in_working=%v status=%s", doc.InWorking, doc.Status)
	}
	if doc.LastResults["total"] != 5 {
		t.Fatalf("last_results = %v", doc.LastResults)
	}
}

func TestIdleClosesOpenCurrentRun(t *testing.T) {
	tracker := NewTracker(filepath.Join(t.TempDir(), "normalizer_status.json"), "normalizer")
	tracker.SetClock(steppingClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), time.Second))
	ctx := context.Background()

	if _, err := tracker.Begin(ctx, Counters{"processed": 0}, false); err != nil {
		t.Fatal(err)
	}
	if err := tracker.Idle(ctx, "gate closed"); err != nil {
		t.Fatal(err)
	}
	doc, err := tracker.Load()
	if err != nil {
		t.Fatal(err)
	}
	if doc.Status != StateIdle || doc.InWorking {
		t.Fatalf("expected idle, got in_working=%v status=%s", doc.InWorking, doc.Status)
	}
	if doc.CurrentRun == nil || doc.CurrentRun.EndTime == nil || doc.CurrentRun.EndTimeFloat == nil {
		t.Fatalf("current run left open: %+v", doc.CurrentRun)
	}
	if doc.CurrentRun.DurationSeconds != 1 || doc.CurrentRun.Message != "gate closed" {
		t.Fatalf("current run = %+v", doc.CurrentRun)
	}
	if len(doc.History) != 0 || doc.LastRun != nil {
		t.Fatalf("idle must not record a run: history=%v last_run=%v", doc.History, doc.LastRun)
	}

	// A later idle leaves the closed run alone.
	if err := tracker.Idle(ctx, "still closed"); err != nil {
		t.Fatal(err)
	}
	again, err := tracker.Load()
	if err != nil {
		t.Fatal(err)
	}
	if !again.CurrentRun.EndTime.Equal(*doc.CurrentRun.EndTime) {
		t.Fatalf("closed run restamped: %v vs %v", again.CurrentRun.EndTime, doc.CurrentRun.EndTime)
	}
}

func TestEarlyHistoryEntryIsReplacedOnFinish(t *testing.T) {
	tracker := NewTracker(filepath.Join(t.TempDir(), "router_status.json"), "router")
	tracker.SetClock(steppingClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), time.Second))
	ctx := context.Background()

	run, err := tracker.Begin(ctx, Counters{"total": 0}, true)
	if err != nil {
		t.Fatal(err)
	}
	doc, err := tracker.Load()
	if err != nil {
		t.Fatal(err)
	}
	if !doc.InWorking || len(doc.History) != 1 || doc.History[0].EndTime != nil {
		t.Fatalf("unexpected in-flight document %+v", doc)
	}

	run.Counters["total"] = 2
	doc, err = tracker.Finish(ctx, run, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.History) != 1 {
		t.Fatalf("history length = %d, want 1", len(doc.History))
	}
	if doc.History[0].EndTime == nil || doc.History[0].Counters["total"] != 2 {
		t.Fatalf("history entry not finalized: %+v", doc.History[0])
	}
}

func TestFinishRecordsErrorAndReports(t *testing.T) {
	tracker := NewTracker(filepath.Join(t.TempDir(), "committer_status.json"), "committer")
	ctx := context.Background()
	run, err := tracker.Begin(ctx, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	doc, err := tracker.Finish(ctx, run, []Report{{File: "a.json", Reason: "parse"}}, errors.New("disk full"))
	if err != nil {
		t.Fatal(err)
	}
	if doc.Status != StateError || doc.Message != "disk full" {
		t.Fatalf("status=%s message=%q", doc.Status, doc.Message)
	}
	if len(doc.Reports) != 1 || doc.Reports[0].File != "a.json" {
		t.Fatalf("reports = %+v", doc.Reports)
	}
}

func TestMetricsUndefinedWhenZero(t *testing.T) {
	ips, iph, avg := Metrics(0, 10)
	if ips != nil || iph != nil || avg != nil {
		t.Fatal("zero duration must leave metrics undefined")
	}
	ips, iph, avg = Metrics(2, 0)
	if ips == nil || *ips != 0 || iph == nil || avg != nil {
		t.Fatalf("zero processed: ips=%v iph=%v avg=%v", ips, iph, avg)
	}
	ips, iph, avg = Metrics(2, 4)
	if *ips != 2 || *iph != 7200 || *avg != 500 {
		t.Fatalf("metrics = %v %v %v", *ips, *iph, *avg)
	}
}

func TestMetricsSerializeAsNull(t *testing.T) {
	run := RunSummary{}
	data, err := json.Marshal(run)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"items_per_second", "items_per_hour", "avg_ms_per_item"} {
		value, ok := decoded[key]
		if !ok || value != nil {
			t.Fatalf("%s = %v (present=%v), want null", key, value, ok)
		}
	}
}

func TestIntakeTrackerKeepsSingleState(t *testing.T) {
	tracker := NewIntakeTracker(filepath.Join(t.TempDir(), "intake_status.json"), "intake")
	ctx := context.Background()
	if err := tracker.Set(ctx, true, IntakeSuccess, "Received: a_1.json", "~temp_abc"); err != nil {
		t.Fatal(err)
	}
	if err := tracker.Set(ctx, false, IntakeError, "System gate is closed. Entry rejected.", ""); err != nil {
		t.Fatal(err)
	}
	doc, exists, err := tracker.Load()
	if err != nil || !exists {
		t.Fatalf("Load: exists=%v err=%v", exists, err)
	}
	if doc.Result.Status != IntakeError || doc.Control.GateOpen || doc.CurrentSession != nil {
		t.Fatalf("unexpected document %+v", doc)
	}
	if doc.Control.Phase != "intake" {
		t.Fatalf("phase = %q", doc.Control.Phase)
	}
}

func TestCollectMergesAndMarksMissing(t *testing.T) {
	dir := t.TempDir()
	routerPath := filepath.Join(dir, "router_status.json")
	tracker := NewTracker(routerPath, "router")
	ctx := context.Background()
	run, err := tracker.Begin(ctx, Counters{"total": 1}, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tracker.Finish(ctx, run, nil, nil); err != nil {
		t.Fatal(err)
	}
	brokenPath := filepath.Join(dir, "committer_status.json")
	if err := os.WriteFile(brokenPath, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	overview := Collect(map[string]string{
		"router":     routerPath,
		"normalizer": filepath.Join(dir, "normalizer_status.json"),
		"committer":  brokenPath,
	}, now)

	if overview.System != SystemName || !overview.Timestamp.Equal(now) {
		t.Fatalf("unexpected header %+v", overview)
	}
	rows := overview.Summaries([]string{"intake", "normalizer", "router", "committer"})
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	byStage := map[string]PhaseSummary{}
	for _, row := range rows {
		byStage[row.Stage] = row
	}
	if byStage["normalizer"].Status != StateUnknown {
		t.Fatalf("missing doc status = %q", byStage["normalizer"].Status)
	}
	if byStage["committer"].Status != StateError {
		t.Fatalf("broken doc status = %q", byStage["committer"].Status)
	}
	if byStage["router"].Status != StateIdle || byStage["router"].Results["total"] != 1 {
		t.Fatalf("router row = %+v", byStage["router"])
	}
}
