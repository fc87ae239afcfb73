package config

import (
	"os"
	"runtime"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]string{"/music"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Listen != "0.0.0.0:3000" {
		t.Fatalf("want default listen, got %q", cfg.Listen)
	}
	if len(cfg.Collections) != 1 || cfg.Collections[0].Root != "/music" {
		t.Fatalf("want one collection rooted at /music, got %+v", cfg.Collections)
	}
	if want := 2 * runtime.NumCPU(); cfg.MaxTranscodings != want {
		t.Fatalf("want default max transcodings %d (2x CPU count), got %d", want, cfg.MaxTranscodings)
	}
}

func TestParseCollectionOptions(t *testing.T) {
	cfg, err := Parse([]string{"/music:no-cache,m"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	col := cfg.Collections[0]
	if !col.Options.NoCache {
		t.Fatal("expected no-cache option set")
	}
	if col.Options.DefaultOrder != "m" {
		t.Fatalf("want default order m, got %q", col.Options.DefaultOrder)
	}
}

func TestParseFlagOverridesEnv(t *testing.T) {
	os.Setenv("AUDIOSERVE_LISTEN", "1.2.3.4:9000")
	defer os.Unsetenv("AUDIOSERVE_LISTEN")

	cfg, err := Parse([]string{"--listen", "5.6.7.8:1000", "/music"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Listen != "5.6.7.8:1000" {
		t.Fatalf("CLI flag should win over env, got %q", cfg.Listen)
	}
}

func TestParseTagAndDirCollapseFlags(t *testing.T) {
	cfg, err := Parse([]string{
		"--no-dir-collaps",
		"--tags", "title,artist",
		"--tags-custom", "mood,TXXX:CUSTOM",
		"--tags-encoding", "windows-1250",
		"/music",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !cfg.NoDirCollaps {
		t.Fatal("expected no-dir-collaps set")
	}
	if cfg.Tags != "title,artist" {
		t.Fatalf("want tags=title,artist, got %q", cfg.Tags)
	}
	if cfg.TagsCustom != "mood,TXXX:CUSTOM" {
		t.Fatalf("want tags-custom passthrough, got %q", cfg.TagsCustom)
	}
	if cfg.TagsEncoding != "windows-1250" {
		t.Fatalf("want tags-encoding passthrough, got %q", cfg.TagsEncoding)
	}
	if !cfg.Collections[0].Options.NoDirCollaps {
		t.Fatal("expected no-dir-collaps propagated to collection options")
	}
}

func TestParseEnvFallback(t *testing.T) {
	os.Setenv("AUDIOSERVE_LISTEN", "1.2.3.4:9000")
	defer os.Unsetenv("AUDIOSERVE_LISTEN")

	cfg, err := Parse([]string{"/music"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Listen != "1.2.3.4:9000" {
		t.Fatalf("want env fallback, got %q", cfg.Listen)
	}
}
