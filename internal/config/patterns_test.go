package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lexrag/query-engine/internal/core/domain"
)

func writePatternFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write pattern file: %v", err)
	}
	return path
}

func TestLoadPatternsEmptyPathUsesBuiltins(t *testing.T) {
	patterns, err := LoadPatterns("")
	if err != nil {
		t.Fatalf("LoadPatterns() error = %v", err)
	}
	if patterns != nil {
		t.Fatalf("empty path must return nil rows, got %d", len(patterns))
	}
}

func TestLoadPatternsParsesTable(t *testing.T) {
	path := writePatternFile(t, `
patterns:
  - category: metadata
    expression: '\bcuantos\s+articulos\b'
    weight: 1.5
  - category: summary
    expression: '\bresumen\b'
`)

	patterns, err := LoadPatterns(path)
	if err != nil {
		t.Fatalf("LoadPatterns() error = %v", err)
	}
	if len(patterns) != 2 {
		t.Fatalf("expected 2 patterns, got %d", len(patterns))
	}
	if patterns[0].Category != domain.QueryTypeMetadata || patterns[0].Weight != 1.5 {
		t.Fatalf("unexpected first row: %+v", patterns[0])
	}
	// Missing weight falls back to 1.
	if patterns[1].Weight != 1 {
		t.Fatalf("expected weight fallback, got %f", patterns[1].Weight)
	}
	if !patterns[0].Pattern.MatchString("cuantos articulos tiene") {
		t.Fatalf("compiled pattern does not match")
	}
}

func TestLoadPatternsRejectsBadRows(t *testing.T) {
	path := writePatternFile(t, `
patterns:
  - category: metadata
    expression: '(['
`)
	if _, err := LoadPatterns(path); err == nil {
		t.Fatalf("expected error for invalid regexp")
	}

	path = writePatternFile(t, `
patterns:
  - expression: '\bok\b'
`)
	if _, err := LoadPatterns(path); err == nil {
		t.Fatalf("expected error for missing category")
	}

	path = writePatternFile(t, "patterns: []\n")
	if _, err := LoadPatterns(path); err == nil {
		t.Fatalf("expected error for empty table")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg := Load()
	if cfg.APIPort != "8080" {
		t.Fatalf("expected default port, got %s", cfg.APIPort)
	}
	if cfg.RouterRRFK != 60 {
		t.Fatalf("expected default rrf k 60, got %d", cfg.RouterRRFK)
	}
	if cfg.CacheMinConfidence != 0.7 {
		t.Fatalf("expected default cache gate 0.7, got %f", cfg.CacheMinConfidence)
	}
}

func TestLoadConfigReadsEnvironment(t *testing.T) {
	t.Setenv("ROUTER_SEMANTIC_WEIGHT", "0.75")
	t.Setenv("CACHE_TTL_HOURS", "48")
	t.Setenv("ROUTER_TOP_SOURCES", "not-a-number")

	cfg := Load()
	if cfg.RouterSemanticWeight != 0.75 {
		t.Fatalf("expected weight 0.75, got %f", cfg.RouterSemanticWeight)
	}
	if cfg.CacheTTLHours != 48 {
		t.Fatalf("expected ttl 48h, got %d", cfg.CacheTTLHours)
	}
	// Unparseable values fall back to defaults.
	if cfg.RouterTopSources != 5 {
		t.Fatalf("expected fallback 5, got %d", cfg.RouterTopSources)
	}
}
