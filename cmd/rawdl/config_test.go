package main

import (
	"os"
	"path/filepath"
	"testing"

	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagSet(t *testing.T, args ...string) *flag.FlagSet {
	t.Helper()
	flags := flag.NewFlagSet("test", flag.ContinueOnError)
	addClientFlags(flags)
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestConfigFromFlags(t *testing.T) {
	t.Run("no flags", func(t *testing.T) {
		config, err := configFromFlags(newFlagSet(t))
		require.NoError(t, err)
		assert.Nil(t, config.SSLVerify)
		assert.Nil(t, config.Timeout)
		assert.Empty(t, config.Proxy)
	})

	t.Run("flags only", func(t *testing.T) {
		config, err := configFromFlags(newFlagSet(t,
			"--ssl-verify=false", "--timeout", "3", "--http-headers", "Referer=https://example.com/"))
		require.NoError(t, err)
		require.NotNil(t, config.SSLVerify)
		assert.False(t, *config.SSLVerify)
		require.NotNil(t, config.Timeout)
		assert.Equal(t, 3.0, *config.Timeout)
		assert.Equal(t, "Referer=https://example.com/", config.HTTPHeaders)
	})

	t.Run("flags override the file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rawdl.yaml")
		require.NoError(t, os.WriteFile(path, []byte("proxy: http://file.example.com:8080\ncookies: a=1\ntimeout: 10\n"), 0644))

		config, err := configFromFlags(newFlagSet(t, "-c", path, "--proxy", "http://flag.example.com:3128"))
		require.NoError(t, err)
		assert.Equal(t, "http://flag.example.com:3128", config.Proxy)
		assert.Equal(t, "a=1", config.Cookies)
		require.NotNil(t, config.Timeout)
		assert.Equal(t, 10.0, *config.Timeout)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := configFromFlags(newFlagSet(t, "--config", filepath.Join(t.TempDir(), "nope.yaml")))
		assert.Error(t, err)
	})
}
