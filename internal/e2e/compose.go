// Package e2e manages the Docker Compose environment end-to-end tests run
// against: bring-up, health waiting, teardown and port cleanup.
package e2e

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/reillywatson/cipipeline/internal/shell"
)

// ErrComposeNotFound is returned when neither Compose V2 nor V1 is installed
var ErrComposeNotFound = errors.New("docker compose not available")

// DetectComposeCommand returns the argv prefix for Compose, preferring the
// V2 plugin (docker compose) over the standalone V1 binary (docker-compose)
func DetectComposeCommand(ctx context.Context, runner shell.Runner) ([]string, error) {
	if _, err := runner.Run(ctx, shell.Command{Name: "docker", Args: []string{"compose", "version"}}); err == nil {
		return []string{"docker", "compose"}, nil
	}
	if _, err := runner.Run(ctx, shell.Command{Name: "docker-compose", Args: []string{"version"}}); err == nil {
		return []string{"docker-compose"}, nil
	}
	return nil, ErrComposeNotFound
}

// Environment is one Compose project
type Environment struct {
	Runner  shell.Runner
	Log     *logrus.Entry
	Command []string
	Project string
	Files   []string
	Dir     string
	Env     []string

	// HealthTimeout bounds WaitHealthy; PollInterval is the delay between polls
	HealthTimeout time.Duration
	PollInterval  time.Duration
}

// NewEnvironment creates an environment for project using the given compose files
func NewEnvironment(runner shell.Runner, composeCmd []string, project string, files ...string) *Environment {
	return &Environment{
		Runner:        runner,
		Log:           logrus.WithField("project", project),
		Command:       composeCmd,
		Project:       project,
		Files:         files,
		HealthTimeout: 3 * time.Minute,
		PollInterval:  2 * time.Second,
	}
}

func (e *Environment) compose(args ...string) shell.Command {
	argv := append([]string{}, e.Command[1:]...)
	argv = append(argv, "-p", e.Project)
	for _, f := range e.Files {
		argv = append(argv, "-f", f)
	}
	argv = append(argv, args...)
	return shell.Command{Name: e.Command[0], Args: argv, Dir: e.Dir, Env: e.Env}
}

// UpOptions controls environment start-up
type UpOptions struct {
	Build    bool
	Services []string
	// Wait for health checks after starting
	Wait bool
}

// Up starts the environment detached and optionally waits for it to become healthy
func (e *Environment) Up(ctx context.Context, opts UpOptions) error {
	args := []string{"up", "-d"}
	if opts.Build {
		args = append(args, "--build")
	}
	args = append(args, opts.Services...)

	e.Log.Info("Starting E2E environment")
	if _, err := e.Runner.Run(ctx, e.compose(args...)); err != nil {
		return fmt.Errorf("failed to start compose project %s: %w", e.Project, err)
	}
	if !opts.Wait {
		return nil
	}
	return e.WaitHealthy(ctx)
}

// ServiceState is a single row of `compose ps --format json`
type ServiceState struct {
	Name    string `json:"Name"`
	Service string `json:"Service"`
	State   string `json:"State"`
	Health  string `json:"Health"`
}

// Ready reports whether the container is running and, if it has a health
// check, healthy
func (s ServiceState) Ready() bool {
	return s.State == "running" && (s.Health == "" || s.Health == "healthy")
}

// Status lists container states for the project
func (e *Environment) Status(ctx context.Context) ([]ServiceState, error) {
	res, err := e.Runner.Run(ctx, e.compose("ps", "--all", "--format", "json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list compose services: %w", err)
	}
	return parsePS(res.Output)
}

// parsePS accepts both the JSON array older Compose V2 releases print and
// the one-object-per-line output of newer releases
func parsePS(output string) ([]ServiceState, error) {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return nil, nil
	}

	var states []ServiceState
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &states); err != nil {
			return nil, fmt.Errorf("failed to parse compose ps output: %w", err)
		}
		return states, nil
	}

	scanner := bufio.NewScanner(strings.NewReader(trimmed))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var s ServiceState
		if err := json.Unmarshal([]byte(line), &s); err != nil {
			return nil, fmt.Errorf("failed to parse compose ps line %q: %w", line, err)
		}
		states = append(states, s)
	}
	return states, scanner.Err()
}

// WaitHealthy polls the project until every container is ready or the
// health timeout elapses
func (e *Environment) WaitHealthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.HealthTimeout)
	defer cancel()

	var pending []string
	for {
		states, err := e.Status(ctx)
		if err != nil && ctx.Err() == nil {
			return err
		}

		pending = pending[:0]
		for _, s := range states {
			if s.State == "exited" || s.State == "dead" || s.Health == "unhealthy" {
				return fmt.Errorf("service %s is %s%s", s.Service, s.State, healthSuffix(s.Health))
			}
			if !s.Ready() {
				pending = append(pending, s.Service)
			}
		}
		if err == nil && len(states) > 0 && len(pending) == 0 {
			e.Log.WithField("services", len(states)).Info("E2E environment healthy")
			return nil
		}

		e.Log.WithField("pending", strings.Join(pending, ",")).Debug("Waiting for services")
		if err := sleep(ctx, e.PollInterval); err != nil {
			sort.Strings(pending)
			return fmt.Errorf("timed out waiting for services to become healthy (pending: %s): %w", strings.Join(pending, ", "), err)
		}
	}
}

func healthSuffix(h string) string {
	if h == "" {
		return ""
	}
	return " (" + h + ")"
}

// DownOptions controls teardown
type DownOptions struct {
	// LogsPath, when set, receives the combined service logs before teardown
	LogsPath string
}

// Down collects logs if requested and removes containers, volumes and orphans
func (e *Environment) Down(ctx context.Context, opts DownOptions) error {
	if opts.LogsPath != "" {
		if err := e.CollectLogs(ctx, opts.LogsPath); err != nil {
			// Logs are best-effort; teardown must still happen
			e.Log.WithError(err).Warn("Failed to collect service logs")
		}
	}

	e.Log.Info("Stopping E2E environment")
	if _, err := e.Runner.Run(ctx, e.compose("down", "-v", "--remove-orphans")); err != nil {
		return fmt.Errorf("failed to stop compose project %s: %w", e.Project, err)
	}
	return nil
}

// CollectLogs writes `compose logs` output to path
func (e *Environment) CollectLogs(ctx context.Context, path string) error {
	res, err := e.Runner.Run(ctx, e.compose("logs", "--no-color", "--timestamps"))
	if err != nil {
		return fmt.Errorf("failed to read compose logs: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(res.Output), 0644); err != nil {
		return fmt.Errorf("failed to write compose logs: %w", err)
	}
	return nil
}
