package startup

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

func TestGetBuildInfo(t *testing.T) {
	info := GetBuildInfo()

	if info.Version == "" {
		t.Error("Expected Version to be set")
	}
	if info.OS == "" || info.Arch == "" {
		t.Error("Expected OS and Arch to be set")
	}
	if info.GoVersion != GoVersion {
		t.Errorf("Expected GoVersion=%s, got %s", GoVersion, info.GoVersion)
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("GALLERY_TEST_SET", "custom")
	t.Setenv("GALLERY_TEST_EMPTY", "")

	if got := getEnv("GALLERY_TEST_SET", "default"); got != "custom" {
		t.Errorf("getEnv(set) = %q", got)
	}
	if got := getEnv("GALLERY_TEST_EMPTY", "default"); got != "default" {
		t.Errorf("getEnv(empty) = %q, want default", got)
	}
	if got := getEnv("GALLERY_TEST_NEVER_SET", "default"); got != "default" {
		t.Errorf("getEnv(unset) = %q, want default", got)
	}
}

func TestGetEnvTyped(t *testing.T) {
	tests := []struct {
		name  string
		value string
		check func(t *testing.T)
	}{
		{"bool true", "true", func(t *testing.T) {
			if !getEnvBool("GALLERY_TEST_VALUE", false) {
				t.Error("want true")
			}
		}},
		{"bool invalid falls back", "maybe", func(t *testing.T) {
			if !getEnvBool("GALLERY_TEST_VALUE", true) {
				t.Error("want default true")
			}
		}},
		{"int64", "2048", func(t *testing.T) {
			if got := getEnvInt64("GALLERY_TEST_VALUE", 1); got != 2048 {
				t.Errorf("got %d", got)
			}
		}},
		{"int64 invalid falls back", "lots", func(t *testing.T) {
			if got := getEnvInt64("GALLERY_TEST_VALUE", 7); got != 7 {
				t.Errorf("got %d", got)
			}
		}},
		{"duration", "45s", func(t *testing.T) {
			if got := getEnvDuration("GALLERY_TEST_VALUE", time.Second); got != 45*time.Second {
				t.Errorf("got %v", got)
			}
		}},
		{"negative duration falls back", "-5s", func(t *testing.T) {
			if got := getEnvDuration("GALLERY_TEST_VALUE", time.Second); got != time.Second {
				t.Errorf("got %v", got)
			}
		}},
		{"list", " a.example , ,b.example ", func(t *testing.T) {
			got := getEnvList("GALLERY_TEST_VALUE")
			if len(got) != 2 || got[0] != "a.example" || got[1] != "b.example" {
				t.Errorf("got %q", got)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GALLERY_TEST_VALUE", tt.value)
			tt.check(t)
		})
	}
}

func setConfigEnv(t *testing.T, dataDir string) {
	t.Helper()
	t.Setenv("DATA_DIR", dataDir)
	t.Setenv("DATABASE_DIR", "")
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("MAX_UPLOAD_BYTES", "")
	t.Setenv("DERIVATION_TIMEOUT", "")
	t.Setenv("TRANSFORM_WORKERS", "")
	t.Setenv("TRANSFORM_QUEUE_SIZE", "")
	t.Setenv("TRANSFORM_MAX_ATTEMPTS", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")
}

func TestLoadConfigDefaults(t *testing.T) {
	dataDir := t.TempDir()
	setConfigEnv(t, dataDir)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.StoreBackend != "sqlite" || cfg.MaxUploadBytes != 5<<20 || cfg.DerivationTimeout != 30*time.Second {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.TransformWorkers != 1 || cfg.TransformQueueSize != 100 || cfg.TransformMaxAttempts != 3 {
		t.Errorf("unexpected queue defaults: %+v", cfg)
	}
	if cfg.DatabaseDir != filepath.Join(dataDir, "db") {
		t.Errorf("DatabaseDir = %s", cfg.DatabaseDir)
	}
	for _, dir := range []string{cfg.ImagesDir, cfg.ThumbnailDir, cfg.DerivedDir, cfg.DatabaseDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("directory %s not created: %v", dir, err)
		}
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	setConfigEnv(t, t.TempDir())
	t.Setenv("STORE_BACKEND", "JSON")
	t.Setenv("TRANSFORM_WORKERS", "3")
	t.Setenv("MAX_UPLOAD_BYTES", "1024")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://photos.example")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.StoreBackend != "json" || cfg.TransformWorkers != 3 || cfg.MaxUploadBytes != 1024 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if len(cfg.CORSAllowedOrigins) != 1 {
		t.Errorf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"STORE_BACKEND":     "postgres",
		"TRANSFORM_WORKERS": "zero",
		"MAX_UPLOAD_BYTES":  "-1",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			setConfigEnv(t, t.TempDir())
			t.Setenv(key, value)
			if _, err := LoadConfig(); err == nil {
				t.Errorf("LoadConfig() with %s=%s succeeded", key, value)
			}
		})
	}
}

func TestLoadConfigDataDirIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	setConfigEnv(t, file)
	if _, err := LoadConfig(); err == nil {
		t.Error("expected error when DATA_DIR is a file")
	}
}

func TestGetRoutes(t *testing.T) {
	noop := func(http.ResponseWriter, *http.Request) {}
	r := mux.NewRouter()
	r.HandleFunc("/api/images", noop).Methods("GET").Name("listImages")
	r.HandleFunc("/api/upload", noop).Methods("POST")
	r.PathPrefix("/thumbnails/").HandlerFunc(noop)

	routes, err := GetRoutes(r)
	if err != nil {
		t.Fatalf("GetRoutes() error: %v", err)
	}
	if len(routes) != 3 {
		t.Fatalf("got %d routes, want 3: %+v", len(routes), routes)
	}
	if routes[0].Name != "listImages" || routes[0].Method != "GET" {
		t.Errorf("first route = %+v", routes[0])
	}
	if routes[2].Method != "*" {
		t.Errorf("prefix route method = %q, want *", routes[2].Method)
	}

	LogHTTPRoutes(r, true, false)
}

func TestGetRouteGroup(t *testing.T) {
	tests := map[string]string{
		"/api/images/{id}": "api/images",
		"/api/upload":      "api/upload",
		"/thumbnails/":     "thumbnails",
		"/":                "",
		"/healthz":         "healthz",
	}
	for path, want := range tests {
		if got := getRouteGroup(path); got != want {
			t.Errorf("getRouteGroup(%q) = %q, want %q", path, got, want)
		}
	}
}
