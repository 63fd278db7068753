package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"animdb/internal/control"
	"animdb/internal/logging"
	"animdb/internal/services"
	"animdb/internal/stage"
	"animdb/internal/testsupport"
	"animdb/internal/workflow"
)

type stubStage struct {
	name  string
	err   error
	order *[]string
	mu    *sync.Mutex
	runs  int
}

func (s *stubStage) Name() string { return s.name }

func (s *stubStage) Run(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	*s.order = append(*s.order, s.name)
	return s.err
}

func (s *stubStage) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(s.name)
}

func newStubs() (map[string]*stubStage, *[]string, *sync.Mutex) {
	order := &[]string{}
	mu := &sync.Mutex{}
	stubs := map[string]*stubStage{}
	for _, name := range []string{stage.Normalizer, stage.Router, stage.Committer} {
		stubs[name] = &stubStage{name: name, order: order, mu: mu}
	}
	return stubs, order, mu
}

func TestRunOnceRunsStagesInOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stubs, order, _ := newStubs()
	stubs[stage.Normalizer].err = services.Wrap(services.ErrGateClosed, stage.Normalizer, "run", "closed", nil)
	stubs[stage.Router].err = errors.New("disk full")

	mgr := workflow.NewManager(cfg, nil, logging.NewNop())
	mgr.ConfigureStages(workflow.StageSet{
		Normalizer: stubs[stage.Normalizer],
		Router:     stubs[stage.Router],
		Committer:  stubs[stage.Committer],
	})

	cycle := mgr.RunOnce(context.Background())
	want := []string{stage.Normalizer, stage.Router, stage.Committer}
	if len(*order) != 3 || (*order)[0] != want[0] || (*order)[1] != want[1] || (*order)[2] != want[2] {
		t.Fatalf("order = %v, want %v", *order, want)
	}
	if !cycle.Outcomes[0].Skipped || cycle.Outcomes[0].Err() != nil {
		t.Fatalf("gate-closed stage should be a skip: %+v", cycle.Outcomes[0])
	}
	if cycle.Outcomes[1].Err() == nil || cycle.Outcomes[1].Error != "disk full" {
		t.Fatalf("router outcome = %+v", cycle.Outcomes[1])
	}
	if !cycle.Failed() {
		t.Fatal("cycle with a failing stage should report Failed")
	}

	summary := mgr.Status(context.Background())
	if summary.Cycles != 1 || summary.LastError != "disk full" || summary.Running {
		t.Fatalf("summary = %+v", summary)
	}
	if len(summary.StageHealth) != 3 || !summary.StageHealth[stage.Committer].Ready {
		t.Fatalf("stage health = %+v", summary.StageHealth)
	}
}

func TestStartRequiresIntervalAndStages(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.IntervalSeconds = 0
	mgr := workflow.NewManager(cfg, nil, logging.NewNop())
	if err := mgr.Start(context.Background()); err == nil {
		t.Fatal("expected error without stages")
	}
	stubs, _, _ := newStubs()
	mgr.ConfigureStages(workflow.StageSet{Normalizer: stubs[stage.Normalizer]})
	if err := mgr.Start(context.Background()); err == nil {
		t.Fatal("expected error with zero interval")
	}
}

func TestStartRunsCycleUntilStopped(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.IntervalSeconds = 3600
	stubs, _, mu := newStubs()
	mgr := workflow.NewManager(cfg, nil, logging.NewNop())
	mgr.ConfigureStages(workflow.StageSet{Committer: stubs[stage.Committer]})

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := mgr.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail")
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		runs := stubs[stage.Committer].runs
		mu.Unlock()
		if runs > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first cycle did not run")
		}
		time.Sleep(10 * time.Millisecond)
	}
	mgr.Stop()
	if mgr.Status(context.Background()).Running {
		t.Fatal("manager still running after Stop")
	}
}

func TestRunOnceExpiresStaleJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithJobLease(60))
	now := time.Date(2026, 4, 5, 6, 0, 0, 0, time.UTC)
	clock := now
	reg := control.New(cfg.RegistryPath(), time.Hour, logging.NewNop(), control.WithClock(func() time.Time { return clock }))
	jobID, err := reg.RegisterJob(context.Background(), stage.Router, "router")
	if err != nil {
		t.Fatal(err)
	}
	clock = now.Add(2 * time.Minute)

	mgr := workflow.NewManager(cfg, reg, logging.NewNop())
	cycle := mgr.RunOnce(context.Background())
	if len(cycle.Expired) != 1 || cycle.Expired[0] != jobID {
		t.Fatalf("expired = %v, want [%s]", cycle.Expired, jobID)
	}
}
