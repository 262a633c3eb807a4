package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/trajectory.report/internal/config"
)

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, ":8080", *listen)
	assert.Equal(t, ":50051", *grpcListen)
	assert.Equal(t, "trajectory.db", *dbPath)
	assert.Equal(t, config.DefaultConfigPath, *configPath)
	assert.Equal(t, 4800, *serialBaud)
	assert.Empty(t, *serialPort)
	assert.Empty(t, *udpListen)
}

func TestLoadTuning(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.json")

	cfg, err := loadTuning(missing, false)
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	_, err = loadTuning(missing, true)
	assert.Error(t, err)

	_, err = loadTuning(filepath.Join(t.TempDir(), "tuning.toml"), false)
	assert.Error(t, err, "unsupported extension is never silently ignored")
}

func TestRunServesAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "trackd.db")
	addrs := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, options{
			Listen:     "127.0.0.1:0",
			GRPCListen: "127.0.0.1:0",
			DBPath:     path,
			Tuning:     config.EmptyTuningConfig(),
			Units:      "kmph",
			ready: func(httpAddr, grpcAddr net.Addr) {
				assert.NotNil(t, grpcAddr)
				addrs <- httpAddr
			},
		})
	}()

	var httpAddr net.Addr
	select {
	case httpAddr = <-addrs:
	case err := <-done:
		t.Fatalf("run exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not become ready")
	}

	resp, err := http.Get("http://" + httpAddr.String() + "/api/v1/version")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop after cancel")
	}

	_, err = os.Stat(path)
	assert.NoError(t, err)
}
