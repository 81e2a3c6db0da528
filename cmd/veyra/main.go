package main

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/go-go-golems/veyra/cmd/veyra/cmds"
	"github.com/go-go-golems/veyra/pkg/settings"
)

var rootCmd = &cobra.Command{
	Use:           "veyra",
	Short:         "veyra is a terminal client for the veyra chat backend",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// the logger can only be configured once the flags are parsed
		return initLogger(cmd)
	},
}

type logConfig struct {
	WithCaller bool
	Level      string
	LogFormat  string
	LogFile    string
}

func initLogger(cmd *cobra.Command) error {
	flags := cmd.Flags()
	logLevel, _ := flags.GetString("log-level")
	verbose, _ := flags.GetBool("verbose")
	if verbose && logLevel != "trace" {
		logLevel = "debug"
	}
	withCaller, _ := flags.GetBool("with-caller")
	logFormat, _ := flags.GetString("log-format")
	logFile, _ := flags.GetString("log-file")

	return InitLogger(&logConfig{
		Level:      logLevel,
		LogFile:    logFile,
		LogFormat:  logFormat,
		WithCaller: withCaller,
	})
}

func InitLogger(config *logConfig) error {
	if config.WithCaller {
		log.Logger = log.With().Caller().Logger()
	}

	var logWriter io.Writer
	if config.LogFormat == "text" {
		logWriter = zerolog.ConsoleWriter{
			Out:     os.Stderr,
			NoColor: !isatty.IsTerminal(os.Stderr.Fd()),
		}
	} else {
		logWriter = os.Stderr
	}

	if config.LogFile != "" {
		logWriter = io.MultiWriter(
			logWriter,
			zerolog.ConsoleWriter{
				NoColor: true,
				Out: &lumberjack.Logger{
					Filename:   config.LogFile,
					MaxSize:    10, // megabytes
					MaxBackups: 3,
					MaxAge:     28, // days
				},
			})
	}

	log.Logger = log.Output(logWriter)

	level, err := zerolog.ParseLevel(config.Level)
	if err != nil || config.Level == "" {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func init() {
	fs := rootCmd.PersistentFlags()
	fs.Bool("with-caller", false, "Log caller")
	fs.String("log-level", "warn", "Log level (trace, debug, info, warn, error, fatal)")
	fs.String("log-format", "text", "Log format (json, text)")
	fs.String("log-file", "", "Log file (default: stderr)")
	fs.String("config", "", "Path to config file (default ~/.veyra/config.yaml)")
	fs.Bool("verbose", false, "Verbose output")
	settings.AddFlags(rootCmd)

	rootCmd.AddCommand(
		cmds.NewChatCommand(),
		cmds.NewMemoriesCommand(),
		cmds.NewLogoutCommand(),
		cmds.NewMockBackendCommand(),
		cmds.NewConfigGroupCommand(),
	)
}
