package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"watchreload/internal/cli"
	"watchreload/internal/config"
	"watchreload/internal/logging"
)

type Config struct {
	Settings    config.Settings
	ConfigPath  string
	AuthToken   string
	Verbose     bool
	Quiet       bool
	ShowVersion bool
}

type flagValues struct {
	ConfigPath      string
	BaseDir         string
	Addr            string
	Token           string
	Modules         cli.StringList
	ContinueOnError bool
	Verbose         bool
	Quiet           bool
	Help            bool
	Version         bool
	Set             map[string]bool
}

// loadConfig layers embedded defaults, the config file, WATCHRELOAD_*
// variables from environ, then explicitly set flags.
func loadConfig(args []string, environ []string) (Config, error) {
	flags, err := parseFlags(args)
	if err != nil {
		return Config{}, err
	}

	overrides := config.EnvOverrides(environ)
	if flags.Set["base-dir"] {
		overrides["loader.base-dir"] = flags.BaseDir
	}
	if flags.Set["addr"] {
		overrides["server.addr"] = flags.Addr
	}
	if flags.Set["module"] {
		overrides["modules"] = []string(flags.Modules)
	}
	if flags.Set["continue-on-error"] {
		overrides["reload.continue-on-error"] = flags.ContinueOnError
	}

	settings, err := config.LoadSettings(flags.ConfigPath, config.DefaultsPayload, overrides)
	if err != nil {
		return Config{}, fmt.Errorf("load config %q: %w", flags.ConfigPath, err)
	}

	token := flags.Token
	if !flags.Set["token"] {
		token = envValue(environ, config.EnvPrefix+"TOKEN")
	}

	return Config{
		Settings:    settings,
		ConfigPath:  flags.ConfigPath,
		AuthToken:   token,
		Verbose:     flags.Verbose,
		Quiet:       flags.Quiet,
		ShowVersion: flags.Version,
	}, nil
}

func parseFlags(args []string) (flagValues, error) {
	if args == nil {
		args = []string{}
	}
	fs := flag.NewFlagSet("watchreload", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	flags := flagValues{}
	fs.StringVar(&flags.ConfigPath, "config", "watchreload.toml", "TOML config file")
	fs.StringVar(&flags.BaseDir, "base-dir", "", "Directory module specifiers resolve against")
	fs.StringVar(&flags.Addr, "addr", "", "HTTP listen address for the API")
	fs.StringVar(&flags.Token, "token", "", "Auth token for REST/WS")
	fs.Var(&flags.Modules, "module", "Module to watch (repeatable)")
	fs.BoolVar(&flags.ContinueOnError, "continue-on-error", false, "Keep reloading other targets after a failure")
	fs.BoolVar(&flags.Verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&flags.Quiet, "quiet", false, "Reduce logging to warnings")
	helpVersion := cli.AddHelpVersionFlags(fs, "Show help", "Print version and exit")

	fs.Usage = func() {
		printHelp(fs.Output())
	}
	if err := fs.Parse(args); err != nil {
		return flagValues{}, err
	}

	flags.Set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		flags.Set[f.Name] = true
	})
	flags.Help = helpVersion.Help
	flags.Version = helpVersion.Version

	if flags.Help {
		fs.SetOutput(os.Stdout)
		fs.Usage()
		return flags, flag.ErrHelp
	}
	return flags, nil
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "Usage: watchreload [options]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Watch data modules and reload them into memory when they change.")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")
	options := [][2]string{
		{"--config PATH", "TOML config file (default: watchreload.toml)"},
		{"--base-dir DIR", "Directory module specifiers resolve against (env: WATCHRELOAD_LOADER_BASE_DIR)"},
		{"--module NAME", "Module to watch, repeatable (env: WATCHRELOAD_MODULES)"},
		{"--addr HOST:PORT", "Serve the API on this address (env: WATCHRELOAD_SERVER_ADDR)"},
		{"--token TOKEN", "Auth token for REST/WS (env: WATCHRELOAD_TOKEN)"},
		{"--continue-on-error", "Keep reloading other targets after a failure"},
		{"--verbose", "Enable verbose logging"},
		{"--quiet", "Reduce logging to warnings"},
		{"--help", "Show help"},
		{"--version", "Print version and exit"},
	}
	for _, option := range options {
		fmt.Fprintf(out, "  %-22s %s\n", option[0], option[1])
	}
}

func logLevel(cfg Config) logging.Level {
	if cfg.Verbose {
		return logging.LevelDebug
	}
	if cfg.Quiet {
		return logging.LevelWarning
	}
	if level, ok := logging.ParseLevel(cfg.Settings.Log.Level); ok {
		return level
	}
	return logging.LevelInfo
}

func logStartupSettings(logger *logging.Logger, cfg Config) {
	settings := cfg.Settings
	logger.Debug("startup settings", map[string]string{
		"config":            cfg.ConfigPath,
		"base_dir":          settings.Loader.BaseDir,
		"extensions":        strings.Join(settings.Loader.Extensions, ","),
		"modules":           strings.Join(settings.Modules, ","),
		"addr":              settings.Server.Addr,
		"continue_on_error": strconv.FormatBool(settings.Reload.ContinueOnError),
		"token_set":         strconv.FormatBool(cfg.AuthToken != ""),
	})
}

func envValue(environ []string, name string) string {
	for _, entry := range environ {
		key, value, ok := strings.Cut(entry, "=")
		if ok && key == name {
			return value
		}
	}
	return ""
}
