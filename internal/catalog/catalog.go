// Package catalog loads the plan seed file.
package catalog

import (
	"fmt"
	"os"

	"github.com/honeynil/SubscriptionShopBot/internal/models"
	"gopkg.in/yaml.v2"
)

type seedFile struct {
	Plans []models.Plan `yaml:"plans"`
}

// Load reads plans from a YAML file of the form
//
//	plans:
//	  - name: Basic
//	    price: 50000
//	    duration_days: 30
//	    traffic: 100GB
//	    active: true
func Load(path string) ([]models.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) ([]models.Plan, error) {
	var file seedFile
	if err := yaml.UnmarshalStrict(data, &file); err != nil {
		return nil, fmt.Errorf("unable to parse catalog: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Plans))
	for i, p := range file.Plans {
		switch {
		case p.Name == "":
			return nil, fmt.Errorf("plan at index %d missing name", i)
		case p.Price < 0:
			return nil, fmt.Errorf("plan %q has negative price", p.Name)
		case p.DurationDays <= 0:
			return nil, fmt.Errorf("plan %q missing duration_days", p.Name)
		}
		if _, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("plan %q listed twice", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return file.Plans, nil
}
