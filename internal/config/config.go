// Package config loads run settings from a YAML file, DICOM_CLEANER_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/spf13/viper"
	"github.com/suyashkumar/dicom/pkg/tag"

	"dicom-cleaner/internal/anonymizer"
	"dicom-cleaner/internal/identity"
	"dicom-cleaner/internal/scrub"
)

// EnvPrefix prefixes environment overrides, e.g. DICOM_CLEANER_TEMPLATE.
const EnvPrefix = "DICOM_CLEANER"

// DefaultConfigName is looked up in the home directory when no --config is given.
const DefaultConfigName = ".dicom-cleaner"

var ErrUnknownTag = errors.New("unknown tag")

// Replacement is one replacement spec entry. Tag is a DICOM keyword,
// "(gggg,eeee)" or "ggggeeee".
type Replacement struct {
	Tag   string `mapstructure:"tag"`
	Value string `mapstructure:"value"`
}

// Config is the decoded configuration.
type Config struct {
	Template      string            `mapstructure:"template"`
	Preload       string            `mapstructure:"preload"`
	Export        string            `mapstructure:"export"`
	UIDPolicy     string            `mapstructure:"uid_policy"`
	Replacements  []Replacement     `mapstructure:"replacements"`
	Aggressive    map[string]string `mapstructure:"aggressive"`
	ScrubNames    bool              `mapstructure:"scrub_names"`
	TruncateDates bool              `mapstructure:"truncate_dates"`
	Mapping       string            `mapstructure:"mapping"`
	Key           string            `mapstructure:"key"`
	Recursive     bool              `mapstructure:"recursive"`
	Retry         bool              `mapstructure:"retry"`
	DryRun        bool              `mapstructure:"dry_run"`
	LogLevel      string            `mapstructure:"log_level"`
	Output        string            `mapstructure:"output"`
}

// New returns a viper instance with defaults set and the config file, if
// any, read in. cfgFile overrides the default location.
func New(cfgFile string) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault("template", identity.DefaultTemplate)
	v.SetDefault("uid_policy", anonymizer.UIDPolicyPreferExplicit.String())
	v.SetDefault("scrub_names", true)
	v.SetDefault("truncate_dates", true)
	v.SetDefault("recursive", true)
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return v, nil
		}
		v.AddConfigPath(home)
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return v, nil
		}
		return nil, errors.Wrap(err, "could not read config file")
	}
	return v, nil
}

// Decode unmarshals v into a Config.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "could not decode config")
	}
	return &cfg, nil
}

// Spec returns the default replacement spec overlaid with the configured
// replacements.
func (c *Config) Spec() (anonymizer.ReplacementSpec, error) {
	spec := anonymizer.DefaultReplacementSpec()
	for _, r := range c.Replacements {
		t, err := ParseTag(r.Tag)
		if err != nil {
			return nil, err
		}
		spec[t] = r.Value
	}
	return spec, nil
}

// Table returns the configured extra scrub patterns.
func (c *Config) Table() scrub.Table {
	return scrub.NewTable(lo.PickBy(c.Aggressive, func(k, _ string) bool {
		return strings.TrimSpace(k) != ""
	}))
}

// SessionOptions returns the session settings from c.
func (c *Config) SessionOptions() (anonymizer.Options, error) {
	policy, err := anonymizer.ParseUIDPolicy(c.UIDPolicy)
	if err != nil {
		return anonymizer.Options{}, err
	}
	return anonymizer.Options{Template: c.Template, UIDPolicy: policy}, nil
}

// FileOptions returns the per-file settings from c.
func (c *Config) FileOptions() anonymizer.FileOptions {
	return anonymizer.FileOptions{
		Aggressive:    c.ScrubNames,
		Extra:         c.Table(),
		TruncateDates: c.TruncateDates,
	}
}

// MappingFile returns the mapping file path, defaulting to
// patient_mapping.json next to the input folder.
func (c *Config) MappingFile(inputFolder string) string {
	if c.Mapping != "" {
		return c.Mapping
	}
	return filepath.Join(filepath.Dir(filepath.Clean(inputFolder)), "patient_mapping.json")
}

// ParseTag accepts a DICOM keyword ("PatientName"), "(0010,0010)" or
// "00100010".
func ParseTag(s string) (tag.Tag, error) {
	s = strings.TrimSpace(s)
	hex := strings.NewReplacer("(", "", ")", "", ",", "").Replace(s)

	if len(hex) == 8 {
		group, gerr := strconv.ParseUint(hex[:4], 16, 16)
		elem, eerr := strconv.ParseUint(hex[4:], 16, 16)
		if gerr == nil && eerr == nil {
			return tag.Tag{Group: uint16(group), Element: uint16(elem)}, nil
		}
	}

	info, err := tag.FindByName(s)
	if err != nil {
		return tag.Tag{}, errors.Mark(errors.Wrapf(err, "tag %q", s), ErrUnknownTag)
	}
	return info.Tag, nil
}
