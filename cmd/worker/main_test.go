package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumerName(t *testing.T) {
	assert.Equal(t, "worker-a", consumerName("worker-a"))

	generated := consumerName("")
	assert.NotEmpty(t, generated)
	assert.NotEqual(t, generated, consumerName(""))
	assert.True(t, strings.Contains(generated, "-"))
}

func TestRun_FailsOnMissingConfig(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}
