package scoring

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Weights caps each scoring component. Components sum to the 0-100 scale.
type Weights struct {
	EmailQuality     int `yaml:"email_quality"`
	Seniority        int `yaml:"seniority"`
	CompanyFit       int `yaml:"company_fit"`
	DataCompleteness int `yaml:"data_completeness"`
}

// SizeBand is the ideal company headcount range for full company-fit credit.
type SizeBand struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// Config holds the scoring weights and fit criteria. Zero-value fields fall
// back to defaults at load time, so a partial yaml file is fine.
type Config struct {
	Weights          Weights        `yaml:"weights"`
	SeniorityScores  map[string]int `yaml:"seniority_scores"`
	IdealCompanySize SizeBand       `yaml:"ideal_company_size"`
	TargetIndustries []string       `yaml:"target_industries"`
}

// DefaultConfig returns the stock scoring configuration: four components
// capped at 25 points each.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			EmailQuality:     25,
			Seniority:        25,
			CompanyFit:       25,
			DataCompleteness: 25,
		},
		SeniorityScores: map[string]int{
			"c_suite":  25,
			"vp":       20,
			"director": 15,
			"manager":  10,
			"other":    5,
		},
		IdealCompanySize: SizeBand{Min: 50, Max: 5000},
	}
}

// LoadConfig reads a yaml scoring config from path, filling gaps with
// defaults. An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, eris.Wrapf(err, "scoring: read config %s", path)
	}

	var loaded Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return cfg, eris.Wrap(err, "scoring: parse config")
	}

	if loaded.Weights != (Weights{}) {
		cfg.Weights = loaded.Weights
	}
	if len(loaded.SeniorityScores) > 0 {
		cfg.SeniorityScores = loaded.SeniorityScores
	}
	if loaded.IdealCompanySize != (SizeBand{}) {
		cfg.IdealCompanySize = loaded.IdealCompanySize
	}
	if len(loaded.TargetIndustries) > 0 {
		cfg.TargetIndustries = loaded.TargetIndustries
	}
	return cfg, nil
}
