package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "peppol-smp version 0.1.0 (build: dev)\n", out)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"DEBUG": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestResolve(t *testing.T) {
	// resolution never fails for a well-formed address, the DNS answer only
	// decides between the NAPTR target and the fallback host
	out, err := execute(t, "resolve", "0208:0659689080", "--test", "--dns-server", "127.0.0.1:1", "--timeout", "200ms")
	require.NoError(t, err)

	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, "0208:0659689080", body["address"])
	assert.Contains(t, body["smpUrl"], "iso6523-actorid-upis::0208%3A0659689080")
}

func TestResolveRejectsMalformedAddress(t *testing.T) {
	_, err := execute(t, "resolve", "nonsense", "--dns-server", "127.0.0.1:1")
	assert.Error(t, err)
}

func TestServeRequiresConfig(t *testing.T) {
	_, err := execute(t, "serve", "--config", t.TempDir()+"/missing.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestVerifyArgs(t *testing.T) {
	_, err := execute(t, "verify")
	assert.Error(t, err)
	_, err = execute(t, "verify", "a", "b", "c")
	assert.Error(t, err)
}
