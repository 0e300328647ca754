package isolate

import (
	"crypto/tls"
	"net/http"
	"os"

	"github.com/icyseptember2237/isolate/backend"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config is the file form of CreateParams.
type Config struct {
	Backend        string   `yaml:"backend"`
	ArenaBlockSize int      `yaml:"arena_block_size"`
	Modules        []string `yaml:"modules"`
	// HTTPInsecureSkipVerify disables certificate checks in the http
	// module. Unset means true, as the module has always behaved.
	HTTPInsecureSkipVerify *bool  `yaml:"http_insecure_skip_verify"`
	StackTraceLimit        int    `yaml:"stack_trace_limit"`
	LogLevel               string `yaml:"log_level"`
	LogDevelopment         bool   `yaml:"log_development"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, errors.Wrapf(err, "load config %s", path)
	}
	return cfg, nil
}

func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Backend != "" {
		known := false
		for _, name := range backend.Backends() {
			if name == c.Backend {
				known = true
			}
		}
		if !known {
			return errors.Errorf("unknown backend %q", c.Backend)
		}
	}
	if c.ArenaBlockSize < 0 {
		return errors.Errorf("arena_block_size must not be negative, got %d", c.ArenaBlockSize)
	}
	if c.StackTraceLimit < 0 {
		return errors.Errorf("stack_trace_limit must not be negative, got %d", c.StackTraceLimit)
	}
	return nil
}

// CreateParams builds the logger and backend options described by c.
func (c *Config) CreateParams() (CreateParams, error) {
	zc := zap.NewProductionConfig()
	if c.LogDevelopment {
		zc = zap.NewDevelopmentConfig()
	}
	if c.LogLevel != "" {
		level, err := zap.ParseAtomicLevel(c.LogLevel)
		if err != nil {
			return CreateParams{}, errors.Wrap(err, "log_level")
		}
		zc.Level = level
	}
	logger, err := zc.Build()
	if err != nil {
		return CreateParams{}, errors.Wrap(err, "build logger")
	}

	insecure := c.HTTPInsecureSkipVerify == nil || *c.HTTPInsecureSkipVerify
	return CreateParams{
		Backend:        c.Backend,
		ArenaBlockSize: c.ArenaBlockSize,
		Logger:         logger,
		Options: backend.Options{
			Modules:         c.Modules,
			StackTraceLimit: c.StackTraceLimit,
			HTTPClient: &http.Client{
				Transport: &http.Transport{
					TLSClientConfig: &tls.Config{InsecureSkipVerify: insecure},
				},
			},
		},
	}, nil
}
