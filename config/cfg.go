package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/rupor-github/gencfg"
)

//go:embed config.yaml.tmpl
var ConfigTmpl []byte

type (
	TemplateFieldName string

	// TransportConfig controls how image sources are read.
	TransportConfig struct {
		Timeout         time.Duration `yaml:"timeout" validate:"gte=0"`
		UserAgent       string        `yaml:"user_agent" validate:"required"`
		MaxResponseSize int64         `yaml:"max_response_size" validate:"gte=0"`
		Proxy           SecretString  `yaml:"proxy,omitempty"`
		BrowserTLS      bool          `yaml:"browser_tls"`
		AllowPrivate    bool          `yaml:"allow_private"`
	}

	// CacheConfig controls decoded images cache. When MemoryBudgetMB is 0
	// budget is derived from the runtime memory limit.
	CacheConfig struct {
		MemoryBudgetMB int64    `yaml:"memory_budget_mb" validate:"gte=0"`
		Fraction       float64  `yaml:"fraction" validate:"gt=0,lte=1"`
		CostUnit       CostUnit `yaml:"cost_unit" validate:"oneof=bytes kilobytes"`
	}

	ImagesConfig struct {
		ScaleFactor float64         `yaml:"scale_factor" validate:"gt=0.0"`
		Cache       CacheConfig     `yaml:"cache"`
		Transport   TransportConfig `yaml:"transport"`
	}

	// RenderConfig controls output of render command.
	RenderConfig struct {
		Container          string `yaml:"container" validate:"oneof=xhtml epub"`
		OutputNameTemplate string `yaml:"output_name_template"`
		Language           string `yaml:"language" validate:"required"`
		ImagesDir          string `yaml:"images_dir" validate:"required"`
		Format             string `yaml:"format" validate:"oneof=jpeg png"`
		JPEGQuality        int    `yaml:"jpeg_quality_level" validate:"min=40,max=100"`
		Grayscale          bool   `yaml:"grayscale"`
		Transliterate      bool   `yaml:"file_name_transliterate"`
	}

	Config struct {
		Version   int            `yaml:"version" validate:"eq=1"`
		Images    ImagesConfig   `yaml:"images"`
		Render    RenderConfig   `yaml:"render"`
		Logging   LoggingConfig  `yaml:"logging"`
		Reporting ReporterConfig `yaml:"reporting"`
	}
)

// NOTE: must match yaml field name above.
const OutputNameTemplateFieldName TemplateFieldName = "output_name_template"

var requiredOptions = append([]func(*gencfg.ProcessingOptions){},
	gencfg.WithDoNotExpandField(string(OutputNameTemplateFieldName)),
)

func unmarshalConfig(data []byte, cfg *Config, process bool) (*Config, error) {
	// We want to use only fields we defined so we cannot use yaml.Unmarshal
	// directly here
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration data: %w", err)
	}
	if process {
		// sanitize and validate what has been loaded
		if err := gencfg.Sanitize(cfg); err != nil {
			return nil, err
		}
		if err := gencfg.Validate(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// LoadConfiguration reads the configuration from the file at the given path,
// superimposes its values on top of expanded configuration template to provide
// sane defaults and performs validation.
func LoadConfiguration(path string, options ...func(*gencfg.ProcessingOptions)) (*Config, error) {
	haveFile := len(path) > 0

	data, err := gencfg.Process(ConfigTmpl, append(requiredOptions, options...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	cfg, err := unmarshalConfig(data, &Config{}, !haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	if !haveFile {
		return cfg, nil
	}

	// overwrite cfg values with values from the file
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err = unmarshalConfig(data, cfg, haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration file: %w", err)
	}
	return cfg, nil
}

// Prepare generates configuration file from template and returns it as a byte
// slice.
func Prepare() ([]byte, error) {
	return gencfg.Process(ConfigTmpl, requiredOptions...)
}

func Dump(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(*cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config to yaml: %v", err)
	}
	return data, nil
}
