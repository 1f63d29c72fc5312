package orchestrator

import (
	"context"
	"sync"
)

// fakeRunner is a test double satisfying the Runner interface spec §4.6
// requires the dispatcher depend on, standing in for DockerRunner so
// command-handler and scheduler tests can exercise success paths and the
// in-flight guard without shelling out to docker compose.
type fakeRunner struct {
	mu sync.Mutex

	runEphemeralResult bool
	startServiceResult bool
	stopServiceResult  bool
	runningSet         map[string]bool

	ephemeralCalls []fakeEphemeralCall
	startCalls     []string
	stopCalls      []string
}

type fakeEphemeralCall struct {
	service string
	env     map[string]string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		runEphemeralResult: true,
		startServiceResult: true,
		stopServiceResult:  true,
		runningSet:         make(map[string]bool),
	}
}

func (f *fakeRunner) RunEphemeral(_ context.Context, service string, env map[string]string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runningSet[service] {
		return false
	}
	f.ephemeralCalls = append(f.ephemeralCalls, fakeEphemeralCall{service: service, env: env})
	return f.runEphemeralResult
}

func (f *fakeRunner) StartService(_ context.Context, service string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls = append(f.startCalls, service)
	if f.startServiceResult {
		f.runningSet[service] = true
	}
	return f.startServiceResult
}

func (f *fakeRunner) StopService(_ context.Context, service string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls = append(f.stopCalls, service)
	delete(f.runningSet, service)
	return f.stopServiceResult
}

func (f *fakeRunner) Running() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.runningSet))
	for svc := range f.runningSet {
		out = append(out, svc)
	}
	return out
}

var _ Runner = (*fakeRunner)(nil)
