package config

import (
	"os"
	"strings"

	"code.cloudfoundry.org/bytefmt"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/ldacruz94/topiclog/internal/log"
)

// Config is the parsed configuration file.
type Config struct {
	RootDirectory string
	LogLevel      zapcore.Level
	MaxMessages   uint64
	MaxStoreBytes uint64
}

// Parse reads a YAML configuration such as:
//
//	root_directory: /var/lib/topiclog
//	log_level: info
//	segment:
//	  max_messages: 1024
//	  max_store_bytes: 64M
func (c *Config) Parse(data []byte) error {
	var aux struct {
		RootDirectory string `yaml:"root_directory"`
		LogLevel      string `yaml:"log_level"`
		Segment       struct {
			MaxMessages   uint64 `yaml:"max_messages"`
			MaxStoreBytes string `yaml:"max_store_bytes"`
		} `yaml:"segment"`
	}

	if err := yaml.Unmarshal(data, &aux); err != nil {
		return errors.Wrap(err, "parse config")
	}

	if aux.RootDirectory == "" {
		return errors.New("invalid root directory")
	}
	c.RootDirectory = aux.RootDirectory

	c.LogLevel = zapcore.InfoLevel
	if aux.LogLevel != "" {
		if err := c.LogLevel.UnmarshalText([]byte(strings.ToLower(aux.LogLevel))); err != nil {
			return errors.Wrapf(err, "invalid log_level %q", aux.LogLevel)
		}
	}

	c.MaxMessages = aux.Segment.MaxMessages
	if c.MaxMessages == 0 {
		c.MaxMessages = log.DefaultMaxMessages
	}

	if aux.Segment.MaxStoreBytes != "" {
		n, err := bytefmt.ToBytes(aux.Segment.MaxStoreBytes)
		if err != nil {
			return errors.Wrapf(err, "invalid max_store_bytes %q", aux.Segment.MaxStoreBytes)
		}
		c.MaxStoreBytes = n
	}
	return nil
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	c := &Config{}
	if err := c.Parse(data); err != nil {
		return nil, errors.Wrap(err, path)
	}
	return c, nil
}

// Default returns the configuration used when no file is given.
func Default(root string) *Config {
	return &Config{
		RootDirectory: root,
		LogLevel:      zapcore.InfoLevel,
		MaxMessages:   log.DefaultMaxMessages,
	}
}

// NewLogger builds a production logger writing at level and above.
func NewLogger(level zapcore.Level) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// LogConfig converts c into the topic configuration.
func (c *Config) LogConfig(logger *zap.Logger) log.Config {
	lc := log.Config{
		Dir:    c.RootDirectory,
		Logger: logger,
	}
	lc.Segment.MaxMessages = c.MaxMessages
	lc.Segment.MaxStoreBytes = c.MaxStoreBytes
	return lc
}
