// Package server implements the "nexorax server" CLI subcommand.
package server

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/khang26042012/NexoraX-AI/internal/config"
	"github.com/khang26042012/NexoraX-AI/internal/daemon"
	"github.com/khang26042012/NexoraX-AI/internal/logging"
	"github.com/khang26042012/NexoraX-AI/internal/version"
)

type Options struct {
	ConfigPath string
	EnvFile    string
	LogLevel   string
	LogJSON    bool
	LogFile    string

	DataDir   string
	BindAddr  string
	Port      int
	StaticDir string
}

func Run(args []string) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	var opt Options
	var showVersion bool
	fs.StringVar(&opt.ConfigPath, "config", "", "path to nexorax.yaml (when set, only -log-* and -env-file flags apply)")
	fs.StringVar(&opt.EnvFile, "env-file", ".env", "optional dotenv file overlaid on the config")
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	fs.StringVar(&opt.LogLevel, "log-level", "", "log level: debug|info|warning|error")
	fs.BoolVar(&opt.LogJSON, "log-json", false, "emit JSON logs")
	fs.StringVar(&opt.LogFile, "log-file", "", "also append logs to this file (tailed by the admin API)")
	fs.StringVar(&opt.DataDir, "data-dir", "./data", "directory for accounts, sessions, rate limits and history")
	fs.StringVar(&opt.BindAddr, "bind", "0.0.0.0", "bind address")
	fs.IntVar(&opt.Port, "port", 5000, "HTTP port")
	fs.StringVar(&opt.StaticDir, "static-dir", "", "front-end directory (embedded page when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if showVersion {
		fmt.Printf("nexorax server %s\n", version.Version)
		return nil
	}

	c, err := load(opt)
	if err != nil {
		return err
	}
	if err := config.Overlay(&c, opt.EnvFile); err != nil {
		return err
	}
	// Log flags override file and environment.
	if strings.TrimSpace(opt.LogLevel) != "" {
		c.Log.Level = opt.LogLevel
	}
	if opt.LogFile != "" {
		c.Log.File = opt.LogFile
	}
	c.Log.JSON = c.Log.JSON || opt.LogJSON

	lg, err := logging.New(logging.Options{Level: c.Log.Level, JSON: c.Log.JSON, File: c.Log.File, DefaultSlog: true})
	if err != nil {
		return err
	}
	defer lg.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return daemon.Run(ctx, daemon.Options{
		Config:     c,
		ConfigPath: opt.ConfigPath,
		EnvFile:    opt.EnvFile,
		Logger:     lg.Logger,
		Version:    version.Version,
	})
}

func load(opt Options) (config.Config, error) {
	if opt.ConfigPath == "" {
		c := config.Default()
		c.DataDir = filepath.Clean(opt.DataDir)
		c.HTTP.Bind = opt.BindAddr
		c.HTTP.Port = opt.Port
		c.HTTP.StaticDir = opt.StaticDir
		return c, nil
	}
	return config.LoadFile(opt.ConfigPath)
}
