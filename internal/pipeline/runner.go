package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/reillywatson/cipipeline/internal/github"
	"github.com/reillywatson/cipipeline/internal/shell"
)

// StatusReporter publishes stage progress
type StatusReporter interface {
	Report(ctx context.Context, statusContext string, state github.State, description string)
}

// Result of a single stage
type Result string

const (
	ResultPassed  Result = "passed"
	ResultFailed  Result = "failed"
	ResultAllowed Result = "allowed_failure"
	ResultSkipped Result = "skipped"
)

// StageResult records how a stage went
type StageResult struct {
	Name     string
	Result   Result
	Attempts int
	Duration time.Duration
	Err      error
}

// Summary is the outcome of a pipeline run
type Summary struct {
	Stages   []StageResult
	Duration time.Duration
}

// Failed returns the first failed stage, or nil
func (s Summary) Failed() *StageResult {
	for i := range s.Stages {
		if s.Stages[i].Result == ResultFailed {
			return &s.Stages[i]
		}
	}
	return nil
}

// ErrStageFailed wraps the error of the stage that stopped the pipeline
var ErrStageFailed = errors.New("stage failed")

// Pipeline executes a Config
type Pipeline struct {
	Config   *Config
	Runner   shell.Runner
	Reporter StatusReporter
	Metrics  *Metrics
	Log      *logrus.Entry
	// Output receives live stage output, normally the Jenkins console
	Output io.Writer
	// Only, when non-empty, restricts the run to the named stages
	Only []string
}

// Run executes stages in order, stopping at the first failure that is not
// allowed. The returned summary covers every stage, including skipped ones.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	var summary Summary
	var runErr error

	only := map[string]bool{}
	for _, n := range p.Only {
		only[n] = true
	}

	for _, stage := range p.Config.Stages {
		if runErr != nil || (len(only) > 0 && !only[stage.Name]) {
			summary.Stages = append(summary.Stages, StageResult{Name: stage.Name, Result: ResultSkipped})
			continue
		}

		res := p.runStage(ctx, stage)
		summary.Stages = append(summary.Stages, res)
		if p.Metrics != nil {
			p.Metrics.ObserveStage(res)
		}
		if res.Result == ResultFailed {
			runErr = fmt.Errorf("%w: %s: %w", ErrStageFailed, stage.Name, res.Err)
		}
		if ctx.Err() != nil && runErr == nil {
			runErr = ctx.Err()
		}
	}

	summary.Duration = time.Since(start)
	if p.Metrics != nil {
		p.Metrics.ObservePipeline(runErr == nil, summary.Duration)
	}
	return summary, runErr
}

func (p *Pipeline) runStage(ctx context.Context, stage Stage) StageResult {
	log := p.log().WithField("stage", stage.Name)
	statusContext := p.Config.StatusContext(stage)
	p.report(ctx, statusContext, github.StatePending, fmt.Sprintf("%s running", stage.Name))

	dir := p.Config.WorkDir
	if stage.Dir != "" {
		dir = filepath.Join(p.Config.WorkDir, stage.Dir)
	}
	argv := stage.Command
	if stage.Builtin != "" {
		argv = builtinCommand(stage.Builtin, dir)
	}
	env := make([]string, 0, len(stage.Env))
	for k, v := range stage.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)

	cmd := shell.Command{Name: argv[0], Args: argv[1:], Dir: dir, Env: env, Stdout: p.Output}
	res := StageResult{Name: stage.Name}
	start := time.Now()

	for attempt := 1; attempt <= stage.Retries+1; attempt++ {
		res.Attempts = attempt
		stageCtx, cancel := ctx, context.CancelFunc(func() {})
		if stage.Timeout > 0 {
			stageCtx, cancel = context.WithTimeout(ctx, stage.Timeout)
		}
		log.WithFields(logrus.Fields{"attempt": attempt, "command": cmd.String()}).Info("Running stage")
		_, res.Err = p.Runner.Run(stageCtx, cmd)
		cancel()

		if res.Err == nil || ctx.Err() != nil {
			break
		}
		log.WithError(res.Err).WithField("attempt", attempt).Warn("Stage attempt failed")
	}
	res.Duration = time.Since(start)

	switch {
	case res.Err == nil:
		res.Result = ResultPassed
		p.report(ctx, statusContext, github.StateSuccess, fmt.Sprintf("%s passed in %s", stage.Name, res.Duration.Round(time.Second)))
		log.WithField("duration", res.Duration.Round(time.Millisecond)).Info("Stage passed")
	case stage.AllowFailure:
		res.Result = ResultAllowed
		p.report(ctx, statusContext, github.StateSuccess, fmt.Sprintf("%s failed (allowed)", stage.Name))
		log.WithError(res.Err).Warn("Stage failed, continuing because failure is allowed")
	default:
		res.Result = ResultFailed
		p.report(ctx, statusContext, github.StateFailure, fmt.Sprintf("%s failed after %d attempt(s)", stage.Name, res.Attempts))
		log.WithError(res.Err).Error("Stage failed")
	}
	return res
}

func (p *Pipeline) report(ctx context.Context, statusContext string, state github.State, description string) {
	if p.Reporter == nil {
		return
	}
	// Statuses are still sent when the run is being cancelled
	p.Reporter.Report(context.WithoutCancel(ctx), statusContext, state, description)
}

func (p *Pipeline) log() *logrus.Entry {
	if p.Log != nil {
		return p.Log
	}
	return logrus.WithField("project", p.Config.Project)
}
