package media

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blogplatform/internal/config"
)

func TestConfigure_MissingCredentialsDisables(t *testing.T) {
	m, err := Configure(config.MediaConfig{CloudName: "demo"}, nil)
	require.NoError(t, err)
	assert.False(t, m.Enabled())
	assert.ErrorIs(t, m.Check(context.Background()), ErrDisabled)
}

func TestConfigure_WithCredentials(t *testing.T) {
	m, err := Configure(config.MediaConfig{CloudName: "demo", APIKey: "key", APISecret: "secret"}, nil)
	require.NoError(t, err)
	assert.True(t, m.Enabled())
	assert.Equal(t, "demo", m.CloudName)
	assert.NoError(t, m.Check(context.Background()))
}

func TestMedia_NilIsDisabled(t *testing.T) {
	var m *Media
	assert.False(t, m.Enabled())
}
