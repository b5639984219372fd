package config

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = "hmdd"
	configFile string = "config.yml"
)

// SubstitutePathRule describes a rule for substitution of path to source code file.
type SubstitutePathRule struct {
	// Directory path will be substituted if it matches `From`.
	From string
	// Path to which substitution is performed.
	To string
}

// SubstitutePathRules is a slice of source code path substitution rules.
type SubstitutePathRules []SubstitutePathRule

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`
	// Source code path substitution rules.
	SubstitutePath SubstitutePathRules `yaml:"substitute-path"`

	// Source list line-number color (3/4 bit color codes as defined
	// here: https://en.wikipedia.org/wiki/ANSI_escape_code#Colors)
	SourceListLineColor int `yaml:"source-list-line-color"`

	// TabWidth is the number of columns a tab expands to in source listings.
	TabWidth int `yaml:"tab-width"`

	// MaxStepLines bounds the number of instructions 'next' single steps
	// looking for a new source line.
	MaxStepLines int `yaml:"max-step-lines"`

	// LogLines is the number of status lines the session keeps.
	LogLines int `yaml:"log-lines"`

	// Frontend is the default front-end, "gui" or "term".
	Frontend string `yaml:"frontend"`
}

const (
	defaultSourceListLineColor = 34
	defaultTabWidth            = 8
	defaultMaxStepLines        = 100000
	defaultLogLines            = 200
	defaultFrontend            = "gui"
)

// Default returns the configuration used when no file exists.
func Default() *Config {
	c := &Config{}
	c.fillDefaults()
	return c
}

func (c *Config) fillDefaults() {
	if c.SourceListLineColor <= 0 {
		c.SourceListLineColor = defaultSourceListLineColor
	}
	if c.TabWidth <= 0 {
		c.TabWidth = defaultTabWidth
	}
	if c.MaxStepLines <= 0 {
		c.MaxStepLines = defaultMaxStepLines
	}
	if c.LogLines <= 0 {
		c.LogLines = defaultLogLines
	}
	if c.Frontend == "" {
		c.Frontend = defaultFrontend
	}
}

// LoadConfig attempts to populate a Config object from the config.yml
// file, or from path when it is not empty. A missing file yields the
// default configuration, an unreadable or malformed one is reported on
// errOut and ignored.
func LoadConfig(path string, errOut io.Writer) *Config {
	if path == "" {
		var err error
		path, err = GetConfigFilePath(configFile)
		if err != nil {
			fmt.Fprintf(errOut, "Unable to get config file path: %v.\n", err)
			return Default()
		}
	}

	data, err := ioutil.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(errOut, "Unable to read config data: %v.\n", err)
		}
		return Default()
	}

	c, err := Parse(data)
	if err != nil {
		fmt.Fprintf(errOut, "Unable to decode config file %s: %v.\n", path, err)
		return Default()
	}
	return c
}

// Parse decodes a configuration file.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, err
	}
	switch c.Frontend {
	case "", "gui", "term":
	default:
		return nil, fmt.Errorf("unknown frontend %q", c.Frontend)
	}
	c.fillDefaults()
	return &c, nil
}

// GetConfigFilePath gets the full path to the given config file name,
// inside $XDG_CONFIG_HOME/hmdd or ~/.config/hmdd.
func GetConfigFilePath(file string) (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, configDir, file), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", configDir, file), nil
}

// Substitute applies the first rule whose From is a directory prefix of
// path.
func (rules SubstitutePathRules) Substitute(path string) string {
	for _, r := range rules {
		from := strings.TrimSuffix(r.From, "/")
		if from == "" {
			continue
		}
		if path == from {
			return r.To
		}
		if strings.HasPrefix(path, from+"/") {
			return strings.TrimSuffix(r.To, "/") + path[len(from):]
		}
	}
	return path
}
