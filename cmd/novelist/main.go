// Package main is the entry point for the novelist server and its
// maintenance commands.
//
// novelist stores novels as markdown files in a local directory or on a
// WebDAV server and exposes them through a JSON HTTP API. Configuration is
// read from CLI flags, NOVELIST_* environment variables, an optional
// config.yaml in the data directory, and server_config.yaml (JWT secret,
// history author).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Configuration keys, also the flag names.
const (
	keyDataDir       = "data-dir"
	keyLogLevel      = "log-level"
	keyRemoteTimeout = "remote-timeout"
	keyHistory       = "history"
	keyHTTP          = "http"
	keyWatch         = "watch"
)

func main() {
	if err := newRootCmd().Execute(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "novelist: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	ll := &slog.LevelVar{}
	initLogging(ll)
	root := &cobra.Command{
		Use:           "novelist",
		Short:         "Novel writing server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(v); err != nil {
				return err
			}
			return setLogLevel(ll, v.GetString(keyLogLevel))
		},
	}
	f := root.PersistentFlags()
	f.String(keyDataDir, "./data", "Data directory")
	f.String(keyLogLevel, "info", "Log level (debug, info, warn, error)")
	f.Duration(keyRemoteTimeout, 30*time.Second, "Timeout of each WebDAV request")
	f.Bool(keyHistory, true, "Record local changes in a git repository inside the novels directory")
	if err := v.BindPFlags(f); err != nil {
		panic(err)
	}
	root.AddCommand(newServeCmd(v), newBackupCmd(v), newUserCmd(v), newVersionCmd())
	return root
}

// loadConfig layers NOVELIST_* environment variables and the optional
// config.yaml of the data directory under the flags.
func loadConfig(v *viper.Viper) error {
	v.SetEnvPrefix("NOVELIST")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(v.GetString(keyDataDir))
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config.yaml: %w", err)
		}
	}
	return nil
}

func initLogging(ll *slog.LevelVar) {
	ll.Set(slog.LevelInfo)
	// Skip timestamps when running under systemd (it adds its own).
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			if a.Key == "ip" {
				if v := a.Value.String(); v == "127.0.0.1" || v == "::1" {
					return slog.Attr{}
				}
			}
			skip := false
			switch t := a.Value.Any().(type) {
			case string:
				skip = t == ""
			case bool:
				skip = !t
			case int64:
				skip = t == 0
			case float64:
				skip = t == 0
			case time.Time:
				skip = t.IsZero()
			case time.Duration:
				skip = t == 0
			case nil:
				skip = true
			}
			if skip {
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)
}

func setLogLevel(ll *slog.LevelVar, level string) error {
	switch level {
	case "debug":
		ll.Set(slog.LevelDebug)
	case "info":
		ll.Set(slog.LevelInfo)
	case "warn":
		ll.Set(slog.LevelWarn)
	case "error":
		ll.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level: %q", level)
	}
	return nil
}
