// Package cmd implements the uacd command line.
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/ardnew/softaudio/pkg"
	"github.com/ardnew/softaudio/pkg/prof"
)

// ConfigEnv names the environment variable that selects a configuration
// file.
const ConfigEnv = "UACD_CONFIG"

// CLI is the root command.
type CLI struct {
	ConfigFile string       `name:"config" help:"Configuration file (JSON, YAML or TOML)." type:"path" env:"UACD_CONFIG"`
	Log        LogConfig    `embed:"" prefix:"log."`
	Profile    prof.Options `embed:"" prefix:"profile." group:"Profiling"`

	Serve  Serve         `cmd:"" help:"Run the audio device on a FIFO bus."`
	Sim    Sim           `cmd:"" help:"Run the device against a simulated host."`
	Config ConfigCommand `cmd:"" help:"Manage configuration files."`
}

// LogConfig selects the log destination and format.
type LogConfig struct {
	Level  string `help:"Minimum log level." default:"info" enum:"debug,info,warn,error" env:"UACD_LOG_LEVEL"`
	Format string `help:"Log format; auto picks text on a terminal and JSON otherwise." default:"auto" enum:"auto,text,json"`
	File   string `help:"Append logs to this file instead of stderr." type:"path"`
}

// Setup configures the package logger. The returned closer releases the
// log file, if any.
func (c *LogConfig) Setup(stderr *os.File) (io.Closer, error) {
	level, err := pkg.ParseLogLevel(c.Level)
	if err != nil {
		return nil, err
	}
	pkg.SetLogLevel(level)

	out, closer := stderr, io.Closer(nopCloser{})
	if c.File != "" {
		f, err := os.OpenFile(c.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out, closer = f, f
	}
	pkg.SetLogFormat(c.format(out), out)
	return closer, nil
}

func (c *LogConfig) format(out *os.File) pkg.LogFormat {
	switch c.Format {
	case "json":
		return pkg.LogFormatJSON
	case "text":
		return pkg.LogFormatText
	}
	if term.IsTerminal(int(out.Fd())) {
		return pkg.LogFormatText
	}
	return pkg.LogFormatJSON
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// FindUserConfig returns the configuration file named by --config or
// UACD_CONFIG, before kong has parsed anything.
func FindUserConfig(args []string) string {
	for i, a := range args {
		if v, ok := strings.CutPrefix(a, "--config="); ok {
			return v
		}
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return os.Getenv(ConfigEnv)
}
