// Package config loads the corpus configuration: alias lists, derived
// rules, the tool catalog, argument placeholders and run settings.
//
// Configurations are layered. A YAML file names a built-in preset and
// overrides any of its fields; fields left unset inherit the preset value.
package config

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"goa.design/agentcorpus/runtime/corpus/failure"
	"goa.design/agentcorpus/runtime/corpus/resolve"
	"goa.design/agentcorpus/runtime/corpus/synth"
	"goa.design/agentcorpus/runtime/corpus/tools"
)

// DefaultPreset is used when a configuration names no preset.
const DefaultPreset = "blockchain"

//go:embed presets/*.yaml
var presets embed.FS

type (
	// Config is a complete corpus configuration.
	Config struct {
		// Preset names the built-in configuration this one extends.
		Preset string `yaml:"preset"`
		// SystemPrompt is the system field of every record.
		SystemPrompt string `yaml:"system_prompt"`
		// Acknowledgement is the fixed second turn.
		Acknowledgement string `yaml:"acknowledgement"`
		// Aliases are the ordered candidate field names of each side.
		Aliases Aliases `yaml:"aliases"`
		// Derived rules apply when alias resolution fails. An explicit empty
		// list disables the preset rules.
		Derived []resolve.Derived `yaml:"derived"`
		// Placeholders are example argument values keyed by parameter name.
		Placeholders map[string]any `yaml:"placeholders"`
		// FreeTextParameters receive the instruction text verbatim.
		FreeTextParameters []string `yaml:"free_text_parameters"`
		// Tools is the advertised catalog in order.
		Tools []tools.ToolDefinition `yaml:"tools"`
		// ProgressEvery is the number of successes between progress logs.
		ProgressEvery int `yaml:"progress_every"`
		// Limit caps the number of consumed records; zero means no cap.
		Limit int `yaml:"limit"`
		// Workers is the number of synthesis goroutines.
		Workers int `yaml:"workers"`
	}

	// Aliases holds the instruction and response alias lists.
	Aliases struct {
		Instruction resolve.Aliases `yaml:"instruction"`
		Response    resolve.Aliases `yaml:"response"`
	}
)

// Presets returns the names of the built-in presets, sorted.
func Presets() []string {
	entries, err := presets.ReadDir("presets")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

// Preset returns the named built-in configuration.
func Preset(name string) (*Config, error) {
	data, err := presets.ReadFile("presets/" + name + ".yaml")
	if err != nil {
		return nil, failure.Errorf(failure.KindConfig, "unknown preset %q (available: %s)", name, strings.Join(Presets(), ", "))
	}
	c, err := decode(data)
	if err != nil {
		return nil, failure.Wrap(failure.KindConfig, fmt.Sprintf("preset %q", name), err)
	}
	c.Preset = name
	return c, nil
}

// Default returns the default preset.
func Default() *Config {
	c, err := Preset(DefaultPreset)
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads the YAML file at path and layers it over its preset. An empty
// path returns the default preset.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path is operator supplied
	if err != nil {
		return nil, failure.Wrap(failure.KindConfig, "read config", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes YAML configuration data and layers it over its preset.
func Parse(data []byte) (*Config, error) {
	overlay, err := decode(data)
	if err != nil {
		return nil, failure.Wrap(failure.KindConfig, "decode config", err)
	}
	name := overlay.Preset
	if name == "" {
		name = DefaultPreset
	}
	base, err := Preset(name)
	if err != nil {
		return nil, err
	}
	base.merge(overlay)
	if err := base.Validate(); err != nil {
		return nil, err
	}
	return base, nil
}

// Validate checks the settings that do not depend on the catalog. Catalog
// problems are reported by Catalog.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Aliases.Instruction) == 0 {
		errs = append(errs, errors.New("aliases.instruction is empty"))
	}
	if len(c.Aliases.Response) == 0 {
		errs = append(errs, errors.New("aliases.response is empty"))
	}
	for i, d := range c.Derived {
		if d.Field == "" {
			errs = append(errs, fmt.Errorf("derived[%d]: field is required", i))
		}
		if strings.TrimSpace(d.Response) == "" {
			errs = append(errs, fmt.Errorf("derived[%d]: response is required", i))
		}
		if n := strings.Count(d.Instruction, "%"); n > 0 && (n != 1 || !strings.Contains(d.Instruction, "%s")) {
			errs = append(errs, fmt.Errorf("derived[%d]: instruction must contain at most one %%s verb", i))
		}
	}
	if len(c.Tools) == 0 {
		errs = append(errs, errors.New("tools is empty"))
	}
	if c.ProgressEvery < 0 || c.Limit < 0 || c.Workers < 0 {
		errs = append(errs, errors.New("progress_every, limit and workers must not be negative"))
	}
	if len(errs) > 0 {
		return failure.Wrap(failure.KindConfig, "invalid config", errors.Join(errs...))
	}
	return nil
}

// Catalog builds the tool catalog.
func (c *Config) Catalog() (*tools.Catalog, error) {
	return tools.NewCatalog(c.Tools...)
}

// Resolver returns the field resolver.
func (c *Config) Resolver() *resolve.Resolver {
	return &resolve.Resolver{
		Instruction: c.Aliases.Instruction,
		Response:    c.Aliases.Response,
		Derived:     c.Derived,
	}
}

// Arguments returns the argument synthesizer.
func (c *Config) Arguments() synth.Arguments {
	return synth.Arguments{
		Placeholders: c.Placeholders,
		FreeText:     c.FreeTextParameters,
	}
}

// SynthOptions returns the synthesizer options carried by the configuration.
func (c *Config) SynthOptions() []synth.Option {
	opts := []synth.Option{synth.WithArguments(c.Arguments())}
	if c.SystemPrompt != "" {
		opts = append(opts, synth.WithSystemPrompt(c.SystemPrompt))
	}
	if c.Acknowledgement != "" {
		opts = append(opts, synth.WithAcknowledgement(c.Acknowledgement))
	}
	return opts
}

// merge overrides c with the fields set in o. Placeholders merge per key.
func (c *Config) merge(o *Config) {
	if o.SystemPrompt != "" {
		c.SystemPrompt = o.SystemPrompt
	}
	if o.Acknowledgement != "" {
		c.Acknowledgement = o.Acknowledgement
	}
	if o.Aliases.Instruction != nil {
		c.Aliases.Instruction = o.Aliases.Instruction
	}
	if o.Aliases.Response != nil {
		c.Aliases.Response = o.Aliases.Response
	}
	if o.Derived != nil {
		c.Derived = o.Derived
	}
	if len(o.Placeholders) > 0 && c.Placeholders == nil {
		c.Placeholders = make(map[string]any, len(o.Placeholders))
	}
	for k, v := range o.Placeholders {
		c.Placeholders[k] = v
	}
	if o.FreeTextParameters != nil {
		c.FreeTextParameters = o.FreeTextParameters
	}
	if o.Tools != nil {
		c.Tools = o.Tools
	}
	if o.ProgressEvery != 0 {
		c.ProgressEvery = o.ProgressEvery
	}
	if o.Limit != 0 {
		c.Limit = o.Limit
	}
	if o.Workers != 0 {
		c.Workers = o.Workers
	}
}

// decode rejects unknown keys.
func decode(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var c Config
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &c, nil
}
