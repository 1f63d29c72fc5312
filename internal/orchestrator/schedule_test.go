package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUpdateScheduleAddsSourcePrefix(t *testing.T) {
	s := NewScheduler(NewRunner(""), map[string]int{"source-weather": 600})
	s.UpdateSchedule(map[string]int{"aranet4": 120})

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, 120, s.interval["source-aranet4"])
	assert.Equal(t, 600, s.interval["source-weather"])
}

func TestUpdateScheduleNeverRemovesServices(t *testing.T) {
	s := NewScheduler(NewRunner(""), map[string]int{"source-weather": 600, "source-pihole": 30})
	s.UpdateSchedule(map[string]int{"pihole": 45})

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Len(t, s.interval, 2)
	assert.Equal(t, 45, s.interval["source-pihole"])
}

func TestEvaluateSkipsServiceAlreadyRunning(t *testing.T) {
	runner := newFakeRunner()
	runner.runningSet["source-weather"] = true
	s := NewScheduler(runner, map[string]int{"source-weather": 1})

	done := make(chan struct{})
	go func() {
		s.evaluate(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("evaluate did not return")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.True(t, s.lastRun["source-weather"].IsZero(), "lastRun should not advance for an in-flight service")
}
