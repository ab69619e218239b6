package shell

import (
	"context"
	"strings"
	"sync"
)

// FakeResponse is a scripted reply for FakeRunner.
type FakeResponse struct {
	Output   string
	ExitCode int
	Err      error
	// Hook, when set, runs before the response is returned. Tests use it to
	// create the files a real tool would write.
	Hook func(cmd Command)
}

// FakeRunner records commands and replies with scripted responses.
// Responses are matched by the longest registered prefix of the command line.
type FakeRunner struct {
	mu        sync.Mutex
	responses map[string][]FakeResponse
	Calls     []Command
}

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{responses: map[string][]FakeResponse{}}
}

// On queues a response for commands starting with prefix. When several
// responses are queued they are consumed in order and the last one repeats.
func (f *FakeRunner) On(prefix string, resp FakeResponse) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[prefix] = append(f.responses[prefix], resp)
	return f
}

func (f *FakeRunner) Run(_ context.Context, cmd Command) (Result, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, cmd)
	line := cmd.String()

	best := ""
	for prefix := range f.responses {
		if strings.HasPrefix(line, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	var resp FakeResponse
	if queue, ok := f.responses[best]; ok && len(queue) > 0 {
		resp = queue[0]
		if len(queue) > 1 {
			f.responses[best] = queue[1:]
		}
	}
	f.mu.Unlock()

	if resp.Hook != nil {
		resp.Hook(cmd)
	}
	if cmd.Stdout != nil && resp.Output != "" {
		_, _ = cmd.Stdout.Write([]byte(resp.Output))
	}
	res := Result{Output: resp.Output, ExitCode: resp.ExitCode}
	if resp.Err != nil {
		return res, resp.Err
	}
	if resp.ExitCode != 0 {
		return res, &ExitError{Command: line, ExitCode: resp.ExitCode, Output: resp.Output}
	}
	return res, nil
}

// CommandLines returns every recorded command as a string.
func (f *FakeRunner) CommandLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := make([]string, 0, len(f.Calls))
	for _, c := range f.Calls {
		lines = append(lines, c.String())
	}
	return lines
}
