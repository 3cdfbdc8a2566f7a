package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/ParleSec/defra-id-stub/internal/crypto"
	"github.com/ParleSec/defra-id-stub/internal/people"
	"github.com/ParleSec/defra-id-stub/internal/people/mocks"
	"github.com/ParleSec/defra-id-stub/internal/plugin"
)

func TestJWKSCommand(t *testing.T) {
	dir := t.TempDir()

	run := func() crypto.JWKS {
		var out bytes.Buffer
		cmd := newRootCmd()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"jwks", "--storage-dir", dir})
		require.NoError(t, cmd.Execute())

		var jwks crypto.JWKS
		require.NoError(t, json.Unmarshal(out.Bytes(), &jwks))
		return jwks
	}

	first := run()
	require.Len(t, first.Keys, 1)
	assert.Equal(t, crypto.KeyID, first.Keys[0].Kid)
	assert.Equal(t, first, run(), "keys are reused across runs")
}

func TestNewRegistry(t *testing.T) {
	registry, err := newRegistry(plugin.PluginConfig{})
	require.NoError(t, err)
	assert.Len(t, registry.List(), 2)

	api := mocks.NewMockObjectAPI(gomock.NewController(t))
	registry, err = newRegistry(plugin.PluginConfig{Datasets: people.NewS3Store(api, "b", nil)})
	require.NoError(t, err)
	_, ok := registry.Get("s3")
	assert.True(t, ok)
}
