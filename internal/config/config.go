// Package config loads pdbp settings: defaults, then an optional TOML file,
// then PDBP_* environment overrides, then validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/opposj/pdbp/internal/extprint"
	"github.com/opposj/pdbp/internal/logging"
	"github.com/opposj/pdbp/internal/render"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PDBP"

// Config is the complete configuration.
type Config struct {
	Terminal TerminalConfig `toml:"terminal"`
	Render   RenderConfig   `toml:"render"`
	Colors   ColorsConfig   `toml:"colors"`
	Frames   FramesConfig   `toml:"frames"`
	ExtPrint ExtPrintConfig `toml:"ext_print" split_words:"true"`
	Logging  LoggingConfig  `toml:"logging"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Engine   EngineConfig   `toml:"engine"`
}

// TerminalConfig controls how sessions get their terminal.
type TerminalConfig struct {
	// Mode is "shared" (threads queue for the terminal) or "single".
	Mode       string `toml:"mode" split_words:"true"`
	DisablePTY bool   `toml:"disable_pty" split_words:"true"`
	Width      int    `toml:"width" split_words:"true"`
	Height     int    `toml:"height" split_words:"true"`
	// AskExternal prompts the first session for an external terminal path.
	AskExternal bool `toml:"ask_external" split_words:"true"`
	// External binds every session's output to this device.
	External string `toml:"external" split_words:"true"`
	Announce bool   `toml:"announce" split_words:"true"`
}

// RenderConfig controls the sticky view.
type RenderConfig struct {
	Sticky      bool `toml:"sticky" split_words:"true"`
	Highlight   bool `toml:"highlight" split_words:"true"`
	Truncate    bool `toml:"truncate" split_words:"true"`
	ShortenPath bool `toml:"shorten_path" split_words:"true"`
}

// ColorsConfig holds colors as SGR codes, hex values or names.
type ColorsConfig struct {
	Filename         string `toml:"filename" split_words:"true"`
	LineNumber       string `toml:"line_number" split_words:"true"`
	Stack            string `toml:"stack" split_words:"true"`
	PostMortemStack  string `toml:"pm_stack" split_words:"true"`
	Return           string `toml:"return" split_words:"true"`
	PostMortemReturn string `toml:"pm_return" split_words:"true"`
	NumberReturn     string `toml:"num_return" split_words:"true"`
	TrueReturn       string `toml:"true_return" split_words:"true"`
	FalseReturn      string `toml:"false_return" split_words:"true"`
	NoneReturn       string `toml:"none_return" split_words:"true"`
	CurrentLine      string `toml:"current_line" split_words:"true"`
	PostMortemLine   string `toml:"pm_current_line" split_words:"true"`
	ExceptionLine    string `toml:"exc_line" split_words:"true"`
}

// FramesConfig controls hidden-frame classification.
type FramesConfig struct {
	// Hide enables hiding; off shows every frame.
	Hide            bool     `toml:"hide" split_words:"true"`
	SkipTestHelpers bool     `toml:"skip_test_helpers" split_words:"true"`
	Globs           []string `toml:"globs" split_words:"true"`
	// OptOut lists function names that are always hidden.
	OptOut []string `toml:"opt_out" split_words:"true"`
	// Predicate is a Lua file defining is_hidden(frame).
	Predicate string `toml:"predicate" split_words:"true"`
}

// ExtPrintConfig configures the external print cache.
type ExtPrintConfig struct {
	Root    string `toml:"root" split_words:"true"`
	Prefix  string `toml:"prefix" split_words:"true"`
	Postfix string `toml:"postfix" split_words:"true"`
	Limit   int    `toml:"limit" split_words:"true"`
	Command string `toml:"command" split_words:"true"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level       string   `toml:"level" split_words:"true"`
	Development bool     `toml:"development" split_words:"true"`
	Outputs     []string `toml:"outputs" split_words:"true"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address; empty disables the endpoint.
	Addr string `toml:"addr" split_words:"true"`
}

// EngineConfig selects and launches the debug adapter.
type EngineConfig struct {
	// Adapter is the adapter command line, started as a subprocess.
	Adapter string `toml:"adapter" split_words:"true"`
	// Addr connects to an already running adapter instead.
	Addr    string   `toml:"addr" split_words:"true"`
	Program string   `toml:"program" split_words:"true"`
	Args    []string `toml:"args" split_words:"true"`
	// Launch holds extra launch arguments as a JSON object.
	Launch      string `toml:"launch" split_words:"true"`
	StopOnEntry bool   `toml:"stop_on_entry" split_words:"true"`
}

// Default returns the stock configuration.
func Default() *Config {
	p := render.DefaultPalette()
	ep := extprint.DefaultOptions()
	return &Config{
		Terminal: TerminalConfig{
			Mode:     "shared",
			Width:    80,
			Height:   20,
			Announce: true,
		},
		Render: RenderConfig{
			Sticky:      true,
			Highlight:   true,
			ShortenPath: true,
		},
		Colors: ColorsConfig{
			Filename:         p.Filename,
			LineNumber:       p.LineNumber,
			Stack:            p.Stack,
			PostMortemStack:  p.PostMortemStack,
			Return:           p.Return,
			PostMortemReturn: p.PostMortemReturn,
			NumberReturn:     p.NumberReturn,
			TrueReturn:       p.TrueReturn,
			FalseReturn:      p.FalseReturn,
			NoneReturn:       p.NoneReturn,
			CurrentLine:      p.CurrentLine,
			PostMortemLine:   p.PostMortemLine,
			ExceptionLine:    p.ExceptionLine,
		},
		Frames: FramesConfig{
			Hide: true,
		},
		ExtPrint: ExtPrintConfig{
			Root:    ep.Root,
			Prefix:  ep.Prefix,
			Postfix: ep.Postfix,
			Limit:   ep.Limit,
			Command: ep.Command,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Outputs: []string{"stderr"},
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/pdbp/config.toml, falling back to
// ~/.config.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "pdbp", "config.toml")
}

// Palette resolves the configured colors.
func (c ColorsConfig) Palette() (render.Palette, error) {
	var errs []error
	parse := func(name, spec string, background bool) string {
		code, err := render.ParseColor(spec, background)
		if err != nil {
			errs = append(errs, fmt.Errorf("colors.%s: %w", name, err))
		}
		return code
	}
	p := render.Palette{
		Filename:         parse("filename", c.Filename, false),
		LineNumber:       parse("line_number", c.LineNumber, false),
		Stack:            parse("stack", c.Stack, false),
		PostMortemStack:  parse("pm_stack", c.PostMortemStack, false),
		Return:           parse("return", c.Return, false),
		PostMortemReturn: parse("pm_return", c.PostMortemReturn, false),
		NumberReturn:     parse("num_return", c.NumberReturn, false),
		TrueReturn:       parse("true_return", c.TrueReturn, false),
		FalseReturn:      parse("false_return", c.FalseReturn, false),
		NoneReturn:       parse("none_return", c.NoneReturn, false),
		CurrentLine:      parse("current_line", c.CurrentLine, true),
		PostMortemLine:   parse("pm_current_line", c.PostMortemLine, true),
		ExceptionLine:    parse("exc_line", c.ExceptionLine, true),
	}
	return p, errors.Join(errs...)
}

// ExtPrintOptions converts the section for the cache.
func (c ExtPrintConfig) ExtPrintOptions(log *logging.Logger) extprint.Options {
	return extprint.Options{
		Root:    c.Root,
		Prefix:  c.Prefix,
		Postfix: c.Postfix,
		Limit:   c.Limit,
		Command: c.Command,
		Log:     log,
	}
}

// LoggingOptions converts the section for the logger.
func (c LoggingConfig) LoggingOptions() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Level
	cfg.Development = c.Development
	if len(c.Outputs) > 0 {
		cfg.OutputPaths = c.Outputs
	}
	return cfg
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Terminal.Mode {
	case "shared", "single":
	default:
		add("terminal.mode: %q is not shared or single", c.Terminal.Mode)
	}
	if c.Terminal.Width <= 0 || c.Terminal.Height <= 0 {
		add("terminal size %dx%d must be positive", c.Terminal.Width, c.Terminal.Height)
	}

	if _, err := c.Colors.Palette(); err != nil {
		errs = append(errs, err)
	}

	for _, g := range c.Frames.Globs {
		if !doublestar.ValidatePattern(filepath.ToSlash(g)) {
			add("frames.globs: bad pattern %q", g)
		}
	}

	if c.ExtPrint.Prefix == "" && c.ExtPrint.Postfix == "" {
		add("ext_print: prefix and postfix cannot both be empty")
	}
	if c.ExtPrint.Command != "" && !strings.Contains(c.ExtPrint.Command, extprint.Placeholder) {
		add("ext_print.command: missing %s placeholder", extprint.Placeholder)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level: unknown level %q", c.Logging.Level)
	}

	if c.Engine.Adapter != "" && c.Engine.Addr != "" {
		add("engine: adapter and addr are mutually exclusive")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrValidationFailed, errors.Join(errs...))
}
