package isolate

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
backend: js
arena_block_size: 64
modules: [json, re]
http_insecure_skip_verify: false
stack_trace_limit: 5
log_level: warn
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend != "js" || cfg.ArenaBlockSize != 64 || len(cfg.Modules) != 2 || cfg.StackTraceLimit != 5 {
		t.Fatalf("config %+v", cfg)
	}

	params, err := cfg.CreateParams()
	if err != nil {
		t.Fatal(err)
	}
	if params.Backend != "js" || params.ArenaBlockSize != 64 || params.Options.StackTraceLimit != 5 {
		t.Fatalf("params %+v", params)
	}
	if params.Logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("debug enabled at warn level")
	}
	tr := params.Options.HTTPClient.Transport
	if tr == nil {
		t.Fatal("no http transport")
	}

	iso, err := NewIsolate(params)
	if err != nil {
		t.Fatal(err)
	}
	iso.Dispose()
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("{}"))
	if err != nil {
		t.Fatal(err)
	}
	params, err := cfg.CreateParams()
	if err != nil {
		t.Fatal(err)
	}
	if params.Backend != "" || params.Options.Modules != nil {
		t.Fatalf("defaults %+v", params)
	}
}

func TestConfigValidation(t *testing.T) {
	for _, src := range []string{
		"backend: cobol",
		"arena_block_size: -1",
		"stack_trace_limit: -2",
		"backend: [",
	} {
		if _, err := ParseConfig([]byte(src)); err == nil {
			t.Errorf("accepted %q", src)
		}
	}
	cfg := &Config{LogLevel: "loud"}
	if _, err := cfg.CreateParams(); err == nil {
		t.Fatal("accepted an unknown log level")
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "isolate.yaml")
	if err := os.WriteFile(path, []byte("backend: lua\nlog_development: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend != "lua" || !cfg.LogDevelopment {
		t.Fatalf("config %+v", cfg)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "none.yaml")); err == nil {
		t.Fatal("loaded a missing file")
	}
}
