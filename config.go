package gondt

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the YAML tuning surface of the D2D matcher and the robust
// wrapper. The correlative and ICP setters are not covered.
type Config struct {
	CellSizes             []float64    `yaml:"cell_sizes,omitempty"`
	BaseCellSize          float64      `yaml:"base_cell_size,omitempty"`
	NumLayers             int          `yaml:"num_layers,omitempty"`
	StepSize              float64      `yaml:"step_size,omitempty"`
	OutlierRatio          float64      `yaml:"outlier_ratio,omitempty"`
	MaxIterations         int          `yaml:"max_iterations,omitempty"`
	TransformationEpsilon float64      `yaml:"transformation_epsilon,omitempty"`
	Workers               int          `yaml:"workers,omitempty"`
	Robust                RobustConfig `yaml:"robust,omitempty"`
}

// RobustConfig tunes the robust wrapper arbitration.
type RobustConfig struct {
	GoodScore    float64 `yaml:"good_score,omitempty"`
	SalvageScore float64 `yaml:"salvage_score,omitempty"`
	AcceptScore  float64 `yaml:"accept_score,omitempty"`
	EnableICP    bool    `yaml:"enable_icp,omitempty"`
}

// LoadConfig loads a tuning configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.OutlierRatio != 0 && (c.OutlierRatio <= 0 || c.OutlierRatio >= 1) {
		return fmt.Errorf("%w: outlier_ratio %f not in (0,1)", ErrInvalidParameter, c.OutlierRatio)
	}
	if c.BaseCellSize < 0 || c.StepSize < 0 || c.TransformationEpsilon < 0 {
		return fmt.Errorf("%w: sizes and thresholds must be positive", ErrInvalidParameter)
	}
	for _, s := range c.CellSizes {
		if s <= 0 {
			return fmt.Errorf("%w: cell size %f must be positive", ErrInvalidParameter, s)
		}
	}
	for _, t := range []float64{c.Robust.GoodScore, c.Robust.SalvageScore, c.Robust.AcceptScore} {
		if t < 0 || t > 1 {
			return fmt.Errorf("%w: robust score threshold %f not in [0,1]", ErrInvalidParameter, t)
		}
	}
	return nil
}

// Apply configures the D2D matcher with every non-zero field.
func (c *Config) Apply(d *D2D) error {
	if c.NumLayers > 0 {
		if err := d.SetNumLayers(c.NumLayers); err != nil {
			return err
		}
	}
	if c.BaseCellSize > 0 {
		if err := d.SetCellSize(c.BaseCellSize); err != nil {
			return err
		}
	}
	if len(c.CellSizes) > 0 {
		if err := d.SetCellSizes(c.CellSizes); err != nil {
			return err
		}
	}
	if c.StepSize > 0 {
		if err := d.SetStepSize(c.StepSize); err != nil {
			return err
		}
	}
	if c.OutlierRatio > 0 {
		if err := d.SetOutlierRatio(c.OutlierRatio); err != nil {
			return err
		}
	}
	if c.MaxIterations > 0 {
		if err := d.SetMaximumIterations(c.MaxIterations); err != nil {
			return err
		}
	}
	if c.TransformationEpsilon > 0 {
		if err := d.SetTransformationEpsilon(c.TransformationEpsilon); err != nil {
			return err
		}
	}
	if c.Workers > 0 {
		if err := d.SetWorkers(c.Workers); err != nil {
			return err
		}
	}
	return nil
}

// ApplyRobust configures the robust wrapper and its inner D2D.
func (c *Config) ApplyRobust(r *RobustD2D) error {
	if c.NumLayers > 0 {
		if err := r.SetNumLayers(c.NumLayers); err != nil {
			return err
		}
	}
	if c.BaseCellSize > 0 {
		if err := r.SetCellSize(c.BaseCellSize); err != nil {
			return err
		}
	}
	if c.StepSize > 0 {
		if err := r.SetStepSize(c.StepSize); err != nil {
			return err
		}
	}
	if c.OutlierRatio > 0 {
		if err := r.SetOutlierRatio(c.OutlierRatio); err != nil {
			return err
		}
	}
	if c.MaxIterations > 0 {
		if err := r.SetMaximumIterations(c.MaxIterations); err != nil {
			return err
		}
	}
	if c.TransformationEpsilon > 0 {
		if err := r.SetTransformationEpsilon(c.TransformationEpsilon); err != nil {
			return err
		}
	}
	if c.Workers > 0 {
		if err := r.SetWorkers(c.Workers); err != nil {
			return err
		}
	}
	if c.Robust.GoodScore > 0 {
		r.goodScore = c.Robust.GoodScore
	}
	if c.Robust.SalvageScore > 0 {
		r.salvageScore = c.Robust.SalvageScore
	}
	if c.Robust.AcceptScore > 0 {
		r.acceptScore = c.Robust.AcceptScore
	}
	r.EnableICPRefinement(c.Robust.EnableICP)
	return nil
}
