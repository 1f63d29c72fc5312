package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestRunEphemeralDoubleSpawnPrevention exercises spec §8's double-spawn
// scenario directly against DockerRunner: a service already marked in-flight
// must fail fast, leaving the in-flight set unchanged, without reaching the
// docker compose invocation below it.
func TestRunEphemeralDoubleSpawnPrevention(t *testing.T) {
	r := NewRunner("")
	r.running["source-pihole"] = true

	ok := r.RunEphemeral(context.Background(), "source-pihole", nil)

	assert.False(t, ok)
	assert.True(t, r.running["source-pihole"], "in-flight state must be left unchanged")
}
