package cmds

import (
	"os"
	"os/signal"
	"os/user"
	"strings"
	"syscall"

	"github.com/atotto/clipboard"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	input "github.com/tcnksm/go-input"

	"github.com/go-go-golems/ruminate/pkg/eventbus"
	"github.com/go-go-golems/ruminate/pkg/printer"
	"github.com/go-go-golems/ruminate/pkg/reasoning"
	"github.com/go-go-golems/ruminate/pkg/redisstream"
)

func newThinkCommand(a *app) *cobra.Command {
	var (
		output          string
		requesterID     string
		noMarkdown      bool
		hideEvaluations bool
		copyAnswer      bool
	)
	cmd := &cobra.Command{
		Use:   "think [prompt...]",
		Short: "Run a multi-step reasoning session and print its progress",
		Long:  "Run a multi-step reasoning session. Without arguments the prompt is read interactively.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := a.settings
			format, err := printer.ParseFormat(output)
			if err != nil {
				return err
			}
			prompt := strings.TrimSpace(strings.Join(args, " "))
			if prompt == "" {
				prompt, err = askPrompt(cmd)
				if err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := buildRuntime(ctx, s)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			var structured *printer.StructuredPrinter
			var sink reasoning.Sink
			if format == printer.FormatText {
				sink = printer.NewPrettyPrinter(cmd.OutOrStdout(),
					printer.WithMarkdown(!noMarkdown),
					printer.WithEvaluations(!hideEvaluations),
				)
			} else {
				structured, err = printer.NewStructuredPrinter(cmd.OutOrStdout(), format)
				if err != nil {
					return err
				}
				sink = structured
			}

			if s.Redis.Enabled {
				ps, err := redisstream.BuildPubSub(ctx, s.Redis, log.Logger)
				if err != nil {
					return err
				}
				defer func() { _ = ps.Close() }()
				ws, err := eventbus.NewWatermillSink(ps.Publisher, ps.Topic)
				if err != nil {
					return err
				}
				sink = reasoning.MultiSink{sink, ws}
			}

			res, runErr := rt.service.Run(ctx, reasoning.SubmitRequest{
				RequesterID: requesterID,
				Prompt:      prompt,
				Sink:        sink,
			})
			if structured != nil && res != nil {
				if err := structured.PrintResult(res); err != nil {
					return err
				}
			}
			if runErr != nil {
				return errors.Wrap(runErr, "reasoning run failed")
			}
			if copyAnswer {
				if err := clipboard.WriteAll(res.Answer()); err != nil {
					log.Warn().Err(err).Msg("could not copy answer to clipboard")
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format (text, json, yaml)")
	cmd.Flags().StringVar(&requesterID, "requester", defaultRequester(), "Requester id the run is admitted under")
	cmd.Flags().BoolVar(&noMarkdown, "no-markdown", false, "Print the final answer as plain text")
	cmd.Flags().BoolVar(&hideEvaluations, "hide-evaluations", false, "Do not print the self-evaluations between steps")
	cmd.Flags().BoolVar(&copyAnswer, "copy", false, "Copy the final answer to the clipboard")
	cmd.Flags().Int("steps", 0, "Number of reasoning steps")
	cmd.Flags().String("model", "", "Ollama model")
	cmd.Flags().String("ollama-url", "", "Ollama base URL")
	a.bind(cmd.Flags().Lookup("steps"), "reasoning.total-steps")
	a.bind(cmd.Flags().Lookup("model"), "ollama.model")
	a.bind(cmd.Flags().Lookup("ollama-url"), "ollama.base-url")
	return cmd
}

func askPrompt(cmd *cobra.Command) (string, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return "", errors.New("no prompt given")
	}
	ui := &input.UI{
		Writer: cmd.ErrOrStderr(),
		Reader: cmd.InOrStdin(),
	}
	answer, err := ui.Ask("What should I think about?", &input.Options{
		Required:  true,
		Loop:      true,
		HideOrder: true,
	})
	if err != nil {
		return "", errors.Wrap(err, "read prompt")
	}
	return strings.TrimSpace(answer), nil
}

func defaultRequester() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "cli:" + u.Username
	}
	return "cli"
}
