package cmds

import (
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/go-go-golems/ruminate/pkg/config"
)

// app is shared by all subcommands; settings are filled in PersistentPreRunE.
type app struct {
	v          *viper.Viper
	configFile string
	settings   *config.Settings
}

func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:          "ruminate",
		Short:        "ruminate runs multi-step self-evaluating reasoning against a local LLM",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.Load(a.v, a.configFile)
			if err != nil {
				return err
			}
			a.settings = s
			return initLogger(s.Log)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "Config file (default $XDG_CONFIG_HOME/ruminate/config.yaml)")
	pf.String("log-level", "info", "Global log level (trace, debug, info, warn, error)")
	pf.String("log-format", "console", "Log format (console, json)")
	pf.Bool("with-caller", false, "Include caller (file:line) in logs")
	pf.String("ledger", "", "Path of the sqlite run ledger (empty disables it)")
	a.bind(pf.Lookup("ledger"), "ledger.path")
	a.bind(pf.Lookup("log-level"), "log.level")
	a.bind(pf.Lookup("log-format"), "log.format")
	a.bind(pf.Lookup("with-caller"), "log.with-caller")

	rootCmd.AddCommand(
		newThinkCommand(a),
		newServeCommand(a),
		newEventsCommand(a),
		newRunsCommand(a),
	)
	return rootCmd
}

func (a *app) bind(flag *pflag.Flag, key string) {
	cobra.CheckErr(a.v.BindPFlag(key, flag))
}

func initLogger(s config.LogSettings) error {
	level := zerolog.InfoLevel
	if strings.TrimSpace(s.Level) != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(s.Level))
		if err != nil {
			return errors.Wrapf(err, "invalid log level %q", s.Level)
		}
		level = l
	}
	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	switch strings.ToLower(s.Format) {
	case "json":
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	case "", "console", "text":
		logger = zerolog.New(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.Out = os.Stderr
			w.NoColor = !isatty.IsTerminal(os.Stderr.Fd())
		})).With().Timestamp().Logger()
	default:
		return errors.Errorf("invalid log format %q", s.Format)
	}
	if s.WithCaller {
		logger = logger.With().Caller().Logger()
	}
	log.Logger = logger
	return nil
}
