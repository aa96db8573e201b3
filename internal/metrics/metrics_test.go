package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(false)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitEnabledInstallsProvider(t *testing.T) {
	shutdown, err := Init(true)
	require.NoError(t, err)
	defer shutdown(context.Background())
}
