package command

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Response is a canned reply for FakeRunner.
type Response struct {
	Output   string
	ExitCode int
	Err      error
}

// FakeRunner is a scripted Runner for tests. Responses are matched by the
// longest registered prefix of the full command line.
type FakeRunner struct {
	mu        sync.Mutex
	responses map[string]Response
	handlers  map[string]func(args []string) Response
	missing   map[string]bool
	calls     []string
}

var _ Runner = (*FakeRunner)(nil)

// NewFakeRunner returns an empty FakeRunner; unmatched commands succeed with no output.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		responses: map[string]Response{},
		handlers:  map[string]func([]string) Response{},
		missing:   map[string]bool{},
	}
}

// On registers a static response for commands starting with prefix.
func (f *FakeRunner) On(prefix string, resp Response) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[prefix] = resp
	return f
}

// OnFunc registers a dynamic response for commands starting with prefix.
func (f *FakeRunner) OnFunc(prefix string, fn func(args []string) Response) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[prefix] = fn
	return f
}

// Missing makes LookPath fail for name.
func (f *FakeRunner) Missing(name string) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.missing[name] = true
	return f
}

func (f *FakeRunner) LookPath(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[name] {
		return "", fmt.Errorf("exec: %q: executable file not found in $PATH", name)
	}
	return "/usr/local/bin/" + name, nil
}

func (f *FakeRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	res := Result{Name: name, Args: args}
	line := res.CommandLine()

	f.mu.Lock()
	f.calls = append(f.calls, line)
	var (
		best    string
		resp    Response
		handler func([]string) Response
	)
	for prefix, r := range f.responses {
		if strings.HasPrefix(line, prefix) && len(prefix) > len(best) {
			best, resp, handler = prefix, r, nil
		}
	}
	for prefix, h := range f.handlers {
		if strings.HasPrefix(line, prefix) && len(prefix) > len(best) {
			best, handler = prefix, h
		}
	}
	f.mu.Unlock()

	if handler != nil {
		resp = handler(args)
	}
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("%s: %w", line, ErrDeadline)
	}

	res.Output = resp.Output
	res.ExitCode = resp.ExitCode
	if resp.Err != nil {
		return res, resp.Err
	}
	if resp.ExitCode != 0 {
		return res, fmt.Errorf("%s: exit %d: %s", name, resp.ExitCode, resp.Output)
	}
	return res, nil
}

// Calls returns every command line run so far.
func (f *FakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallsWithPrefix returns the command lines starting with prefix.
func (f *FakeRunner) CallsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}
