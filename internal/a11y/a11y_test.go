package a11y

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/reillywatson/cipipeline/internal/shell"
)

const axeOutput = `[
  {"url": "http://localhost:3000/", "violations": [
    {"id": "color-contrast", "impact": "serious", "help": "Elements must have sufficient color contrast", "nodes": [{}, {}]},
    {"id": "region", "impact": "moderate", "help": "All page content should be contained by landmarks", "nodes": [{}]}
  ]},
  {"url": "http://localhost:3000/login", "violations": [
    {"id": "label", "impact": "critical", "help": "Form elements must have labels", "nodes": [{}]}
  ]}
]`

func TestParseResults(t *testing.T) {
	res, err := ParseResults([]byte(axeOutput))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(res.Violations) != 3 {
		t.Fatalf("expected 3 violations, got %d", len(res.Violations))
	}
	if res.Violations[0].Rule != "label" || res.Violations[0].URL != "http://localhost:3000/login" {
		t.Errorf("expected critical violation first, got %+v", res.Violations[0])
	}
	if res.Violations[1].Nodes != 2 {
		t.Errorf("expected 2 nodes for color-contrast, got %d", res.Violations[1].Nodes)
	}

	if err := Gate(res, ImpactSerious); !errors.Is(err, ErrViolations) || !strings.Contains(err.Error(), "2 violation(s)") {
		t.Errorf("expected 2 blocking violations, got %v", err)
	}
	onlyModerate := &Result{Counts: map[Impact]int{ImpactModerate: 3}}
	if err := Gate(onlyModerate, ImpactSerious); err != nil {
		t.Errorf("expected moderate violations to pass, got %v", err)
	}
}

func TestParseImpact(t *testing.T) {
	if i, err := ParseImpact("Serious"); err != nil || i != ImpactSerious {
		t.Errorf("got %q %v", i, err)
	}
	if _, err := ParseImpact("severe"); err == nil {
		t.Error("expected error")
	}
}

func TestScanner_Scan(t *testing.T) {
	runner := shell.NewFakeRunner().On("npx --yes @axe-core/cli", shell.FakeResponse{
		ExitCode: 1,
		Hook: func(cmd shell.Command) {
			for i, a := range cmd.Args {
				if a == "--save" {
					_ = os.WriteFile(cmd.Args[i+1], []byte(axeOutput), 0644)
				}
			}
		},
	})
	s := &Scanner{Runner: runner, OutputDir: t.TempDir(), Tags: []string{"wcag2a", "wcag2aa"}}

	res, err := s.Scan(context.Background(), []string{"http://localhost:3000/", "http://localhost:3000/login"})
	if err != nil {
		t.Fatalf("Expected violations to be returned as results, got %v", err)
	}
	if res.Counts[ImpactCritical] != 1 {
		t.Errorf("unexpected counts %v", res.Counts)
	}
	cmd := runner.CommandLines()[0]
	if !strings.Contains(cmd, "http://localhost:3000/,http://localhost:3000/login") || !strings.Contains(cmd, "--tags wcag2a,wcag2aa") {
		t.Errorf("unexpected command %q", cmd)
	}

	if _, err := s.Scan(context.Background(), nil); err == nil {
		t.Error("expected error without URLs")
	}
}

func TestScanner_NoResults(t *testing.T) {
	runner := shell.NewFakeRunner().On("npx", shell.FakeResponse{ExitCode: 2})
	s := &Scanner{Runner: runner, OutputDir: t.TempDir()}
	if _, err := s.Scan(context.Background(), []string{"http://x"}); err == nil {
		t.Fatal("expected error when axe wrote nothing")
	}
}

func TestScanner_RelativeOutputDirWithAppDir(t *testing.T) {
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	workspace := t.TempDir()
	if err := os.Chdir(workspace); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(cwd) })
	if workspace, err = os.Getwd(); err != nil {
		t.Fatal(err)
	}

	appDir := filepath.Join(workspace, "apps", "web")
	if err := os.MkdirAll(appDir, 0755); err != nil {
		t.Fatal(err)
	}

	// axe resolves --save against its own working directory
	runner := shell.NewFakeRunner().On("npx", shell.FakeResponse{
		Hook: func(cmd shell.Command) {
			for i, a := range cmd.Args {
				if a == "--save" {
					path := cmd.Args[i+1]
					if !filepath.IsAbs(path) {
						path = filepath.Join(cmd.Dir, path)
					}
					_ = os.MkdirAll(filepath.Dir(path), 0755)
					_ = os.WriteFile(path, []byte(axeOutput), 0644)
				}
			}
		},
	})
	s := &Scanner{Runner: runner, Dir: appDir, OutputDir: "reports/a11y"}

	res, err := s.Scan(context.Background(), []string{"http://localhost:3000/"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(res.Violations) != 3 {
		t.Errorf("Expected 3 violations, got %d", len(res.Violations))
	}
	if want := filepath.Join(workspace, "reports", "a11y", "axe-results.json"); res.ReportPath != want {
		t.Errorf("Expected report at %s, got %s", want, res.ReportPath)
	}
}
