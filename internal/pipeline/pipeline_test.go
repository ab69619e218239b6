package pipeline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/reillywatson/cipipeline/internal/github"
	"github.com/reillywatson/cipipeline/internal/shell"
)

const sampleConfig = `
project: reasonbridge
github:
  owner: reasonbridge
  repo: app
stages:
  - name: install
    builtin: install
  - name: lint
    builtin: lint
    allow_failure: true
  - name: unit
    builtin: unit
    status: unit-tests
    retries: 1
    timeout: 10m
    env:
      NODE_ENV: test
      TZ: UTC
  - name: e2e
    command: ["./scripts/e2e.sh", "--ci"]
metrics:
  pushgateway: http://pushgateway:9091
`

type recordedStatus struct {
	Context string
	State   github.State
}

type fakeReporter struct {
	mu       sync.Mutex
	statuses []recordedStatus
}

func (f *fakeReporter) Report(_ context.Context, statusContext string, state github.State, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, recordedStatus{statusContext, state})
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(cfg.Stages) != 4 {
		t.Fatalf("expected 4 stages, got %d", len(cfg.Stages))
	}
	unit := cfg.Stages[2]
	if unit.Timeout != 10*time.Minute || unit.Retries != 1 || unit.Env["TZ"] != "UTC" {
		t.Errorf("unexpected unit stage %+v", unit)
	}
	if got := cfg.StatusContext(unit); got != "ci/jenkins/unit-tests" {
		t.Errorf("unexpected status context %q", got)
	}
	if got := cfg.StatusContext(cfg.Stages[1]); got != "ci/jenkins/lint" {
		t.Errorf("unexpected status context %q", got)
	}
	if cfg.Metrics.Job != "ci_pipeline" {
		t.Errorf("expected default metrics job, got %q", cfg.Metrics.Job)
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		"no stages":   `project: x`,
		"no name":     "stages:\n  - builtin: lint\n",
		"duplicate":   "stages:\n  - {name: a, builtin: lint}\n  - {name: a, builtin: unit}\n",
		"both":        "stages:\n  - {name: a, builtin: lint, command: [make]}\n",
		"neither":     "stages:\n  - {name: a}\n",
		"unknown":     "stages:\n  - {name: a, builtin: deploy}\n",
		"neg retries": "stages:\n  - {name: a, builtin: lint, retries: -1}\n",
		"bad yaml":    "stages: [",
		"owner only":  "github: {owner: reasonbridge}\nstages:\n  - {name: a, builtin: lint}\n",
		"repo only":   "github: {repo: app}\nstages:\n  - {name: a, builtin: lint}\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseConfig([]byte(doc)); err == nil {
				t.Errorf("expected error for %s", name)
			}
		})
	}
}

func TestLoadConfig_DefaultsWorkDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cfg.WorkDir != dir {
		t.Errorf("expected workdir %q, got %q", dir, cfg.WorkDir)
	}
}

func TestBuiltinCommand(t *testing.T) {
	pnpmDir := t.TempDir()
	os.WriteFile(filepath.Join(pnpmDir, "pnpm-lock.yaml"), nil, 0644)
	npmDir := t.TempDir()
	os.WriteFile(filepath.Join(npmDir, "package-lock.json"), nil, 0644)
	bareDir := t.TempDir()

	tests := []struct {
		builtin string
		dir     string
		want    []string
	}{
		{BuiltinInstall, pnpmDir, []string{"pnpm", "install", "--frozen-lockfile"}},
		{BuiltinInstall, npmDir, []string{"npm", "ci"}},
		{BuiltinInstall, bareDir, []string{"npm", "install"}},
		{"unit", pnpmDir, []string{"pnpm", "run", "test:unit"}},
		{"integration", npmDir, []string{"npm", "run", "test:integration"}},
	}
	for _, tc := range tests {
		if diff := cmp.Diff(tc.want, builtinCommand(tc.builtin, tc.dir)); diff != "" {
			t.Errorf("%s: unexpected command (-want +got):\n%s", tc.builtin, diff)
		}
	}
}

func newPipeline(t *testing.T, runner shell.Runner, reporter StatusReporter) *Pipeline {
	t.Helper()
	cfg, err := ParseConfig([]byte(sampleConfig))
	if err != nil {
		t.Fatal(err)
	}
	cfg.WorkDir = t.TempDir()
	os.WriteFile(filepath.Join(cfg.WorkDir, "pnpm-lock.yaml"), nil, 0644)
	return &Pipeline{Config: cfg, Runner: runner, Reporter: reporter, Metrics: NewMetrics(), Output: io.Discard}
}

func TestPipeline_RunSuccessWithAllowedFailureAndRetry(t *testing.T) {
	runner := shell.NewFakeRunner().
		On("pnpm run lint", shell.FakeResponse{ExitCode: 1}).
		On("pnpm run test:unit", shell.FakeResponse{ExitCode: 1}).
		On("pnpm run test:unit", shell.FakeResponse{})
	reporter := &fakeReporter{}
	p := newPipeline(t, runner, reporter)

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	got := map[string]Result{}
	for _, s := range summary.Stages {
		got[s.Name] = s.Result
	}
	want := map[string]Result{"install": ResultPassed, "lint": ResultAllowed, "unit": ResultPassed, "e2e": ResultPassed}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected results (-want +got):\n%s", diff)
	}
	if summary.Stages[2].Attempts != 2 {
		t.Errorf("expected unit to take 2 attempts, got %d", summary.Stages[2].Attempts)
	}
	if summary.Failed() != nil {
		t.Errorf("expected no failed stage")
	}

	unitCall := runner.Calls[2]
	if diff := cmp.Diff([]string{"NODE_ENV=test", "TZ=UTC"}, unitCall.Env); diff != "" {
		t.Errorf("unexpected env (-want +got):\n%s", diff)
	}

	wantStatuses := []recordedStatus{
		{"ci/jenkins/install", github.StatePending}, {"ci/jenkins/install", github.StateSuccess},
		{"ci/jenkins/lint", github.StatePending}, {"ci/jenkins/lint", github.StateSuccess},
		{"ci/jenkins/unit-tests", github.StatePending}, {"ci/jenkins/unit-tests", github.StateSuccess},
		{"ci/jenkins/e2e", github.StatePending}, {"ci/jenkins/e2e", github.StateSuccess},
	}
	if diff := cmp.Diff(wantStatuses, reporter.statuses); diff != "" {
		t.Errorf("unexpected statuses (-want +got):\n%s", diff)
	}

	if v := testutil.ToFloat64(p.Metrics.pipelineSuccess); v != 1 {
		t.Errorf("expected pipeline success metric 1, got %v", v)
	}
	if v := testutil.ToFloat64(p.Metrics.stageAttempts.WithLabelValues("unit")); v != 2 {
		t.Errorf("expected unit attempts metric 2, got %v", v)
	}
}

func TestPipeline_StopsAtFirstFailure(t *testing.T) {
	runner := shell.NewFakeRunner().On("pnpm run test:unit", shell.FakeResponse{ExitCode: 2})
	reporter := &fakeReporter{}
	p := newPipeline(t, runner, reporter)

	summary, err := p.Run(context.Background())
	if !errors.Is(err, ErrStageFailed) {
		t.Fatalf("expected ErrStageFailed, got %v", err)
	}
	if shell.ExitCode(err) != 2 {
		t.Errorf("expected exit code 2 to be preserved, got %d", shell.ExitCode(err))
	}
	failed := summary.Failed()
	if failed == nil || failed.Name != "unit" || failed.Attempts != 2 {
		t.Fatalf("unexpected failed stage %+v", failed)
	}
	if summary.Stages[3].Result != ResultSkipped {
		t.Errorf("expected e2e skipped, got %s", summary.Stages[3].Result)
	}
	for _, line := range runner.CommandLines() {
		if strings.Contains(line, "e2e.sh") {
			t.Errorf("e2e should not run after a failure")
		}
	}
	last := reporter.statuses[len(reporter.statuses)-1]
	if last != (recordedStatus{"ci/jenkins/unit-tests", github.StateFailure}) {
		t.Errorf("unexpected last status %+v", last)
	}
	if v := testutil.ToFloat64(p.Metrics.pipelineSuccess); v != 0 {
		t.Errorf("expected pipeline success metric 0, got %v", v)
	}
}

func TestPipeline_Only(t *testing.T) {
	runner := shell.NewFakeRunner()
	p := newPipeline(t, runner, nil)
	p.Only = []string{"lint"}

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if diff := cmp.Diff([]string{"pnpm run lint"}, runner.CommandLines()); diff != "" {
		t.Errorf("unexpected commands (-want +got):\n%s", diff)
	}
	if summary.Stages[0].Result != ResultSkipped {
		t.Errorf("expected install skipped")
	}
}

func TestMetrics_Push(t *testing.T) {
	var gotPath, gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := NewMetrics()
	m.ObserveStage(StageResult{Name: "lint", Result: ResultPassed, Attempts: 1, Duration: 3 * time.Second})
	m.ObservePipeline(true, 5*time.Second)

	if err := m.Push(server.URL, "ci_pipeline", "reasonbridge", "main"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Errorf("expected PUT, got %s", gotMethod)
	}
	// Grouping labels are appended in map order
	if !strings.HasPrefix(gotPath, "/metrics/job/ci_pipeline/") ||
		!strings.Contains(gotPath, "/project/reasonbridge") ||
		!strings.Contains(gotPath, "/branch/main") {
		t.Errorf("unexpected push path %s", gotPath)
	}

	if n, err := testutil.GatherAndCount(m.Gatherer(), "ci_stage_duration_seconds"); err != nil || n != 1 {
		t.Errorf("expected 1 stage duration series, got %d (%v)", n, err)
	}
}
