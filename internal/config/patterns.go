package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lexrag/query-engine/internal/core/usecase"
)

type patternFile struct {
	Patterns []patternRow `yaml:"patterns"`
}

type patternRow struct {
	Category   string  `yaml:"category"`
	Expression string  `yaml:"expression"`
	Weight     float64 `yaml:"weight"`
}

// LoadPatterns reads a classification pattern table from a YAML file. An
// empty path means "use the built-in table" and returns nil rows.
func LoadPatterns(path string) ([]usecase.CategoryPattern, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pattern table: %w", err)
	}

	var file patternFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse pattern table: %w", err)
	}
	if len(file.Patterns) == 0 {
		return nil, fmt.Errorf("pattern table %s has no patterns", path)
	}

	out := make([]usecase.CategoryPattern, 0, len(file.Patterns))
	for i, row := range file.Patterns {
		if row.Category == "" || row.Expression == "" {
			return nil, fmt.Errorf("pattern table row %d: category and expression are required", i)
		}
		compiled, err := usecase.CompilePattern(row.Category, row.Expression, row.Weight)
		if err != nil {
			return nil, fmt.Errorf("pattern table row %d: %w", i, err)
		}
		out = append(out, compiled)
	}
	return out, nil
}
