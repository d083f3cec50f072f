package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/jo-hoe/imagestore/internal/core"
	"github.com/jo-hoe/imagestore/internal/metrics"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
)

func newConfigCommand(t *testing.T, configPath string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{}
	cmd.Flags().StringP("config", "c", "", "")
	if configPath != "" {
		if err := cmd.Flags().Set("config", configPath); err != nil {
			t.Fatalf("failed to set config flag: %v", err)
		}
	}
	return cmd
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig_FromFlag(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	path := writeConfig(t, t.TempDir(), "port: 9090\nuploadRoot: /tmp/images\n")

	config, err := loadConfig(newConfigCommand(t, path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.Port != 9090 || config.UploadRoot != "/tmp/images" {
		t.Errorf("unexpected config: %+v", config)
	}
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "port: 7070\n")
	t.Setenv("CONFIG_PATH", path)

	config, err := loadConfig(newConfigCommand(t, ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.Port != 7070 {
		t.Errorf("expected port 7070, got %d", config.Port)
	}
}

func TestLoadConfig_ExplicitPathMustExist(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")

	_, err := loadConfig(newConfigCommand(t, filepath.Join(t.TempDir(), "missing.yaml")))
	if err == nil {
		t.Fatal("expected an error for a missing explicit config file")
	}
}

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Chdir(t.TempDir())

	config, err := loadConfig(newConfigCommand(t, ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := core.DefaultConfig()
	if config.Port != expected.Port || config.UploadRoot != expected.UploadRoot {
		t.Errorf("expected defaults, got %+v", config)
	}
}

func TestDefineServer_CountsRequests(t *testing.T) {
	registry := metrics.NewRegistry()
	e := defineServer(registry)
	e.GET("/probe", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/probe/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected trailing slash to be removed, got %d", rec.Code)
	}
	if rec.Header().Get(echo.HeaderXRequestID) == "" {
		t.Error("expected a request id header")
	}

	labels := map[string]string{"method": http.MethodGet, "path": "/probe", "status": "2xx"}
	if got := registry.Value(metrics.HTTPRequestsTotal, labels); got != 1 {
		t.Errorf("expected one counted request, got %d", got)
	}
}
