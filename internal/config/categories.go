package config

import (
	"encoding/json"
	"fmt"
	"os"

	"marketwatch/internal/model"
)

type categoriesFile struct {
	Categories []model.Category `json:"categories"`
}

// LoadCategories reads the crawl targets from a JSON file of the form
// {"categories": [{"id", "name", "url"}, ...]}.
func LoadCategories(path string) ([]model.Category, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read categories file: %w", err)
	}

	var f categoriesFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse categories file %s: %w", path, err)
	}
	if len(f.Categories) == 0 {
		return nil, fmt.Errorf("categories file %s lists no categories", path)
	}
	for i, c := range f.Categories {
		if c.ID <= 0 {
			return nil, fmt.Errorf("category #%d in %s has no id", i+1, path)
		}
		if c.Name == "" {
			return nil, fmt.Errorf("category %d in %s has no name", c.ID, path)
		}
	}
	return f.Categories, nil
}
