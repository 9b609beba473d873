package global

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsNeedNoInfra(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	// A config-less run must come up with in-process everything.
	assert.Equal(t, "mem", c.Bus.Kind)
	assert.Empty(t, c.PostgresURL)
	assert.Empty(t, c.Redis.Addr)
	assert.Equal(t, ":8080", c.HTTPAddr)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
}
