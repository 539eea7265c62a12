package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jllopis/jarvis/internal/app"
	"github.com/jllopis/jarvis/pkg/config"
	"github.com/jllopis/jarvis/pkg/core"
	"github.com/jllopis/jarvis/pkg/orchestrator"
	"github.com/jllopis/jarvis/pkg/session"
)

var (
	chatMessage   string
	chatShowTrace bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the assistant in the terminal",
	Long: `Run the agent pipeline in-process and chat on stdin/stdout.

Each line is one turn. Responses stream as they are generated. An empty line
or EOF ends the session.

Examples:
  # Interactive session against the mock tier
  jarvis chat --set llm.fast.provider=mock --set llm.smart.provider=none

  # One turn with its trace
  jarvis chat -m "what's the weather in Madrid" --trace`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "send one message and exit")
	chatCmd.Flags().BoolVar(&chatShowTrace, "trace", false, "print the agent trace after each turn")
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadWithOptions(configOptions())
	if err != nil {
		return err
	}
	// Keep logs off the conversation.
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
	a, err := app.New(cmd.Context(), cfg, app.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	c := &chatLoop{
		turns:       a.Orchestrator,
		out:         cmd.OutOrStdout(),
		showTrace:   chatShowTrace,
		maxMessages: cfg.Session.MaxMessages,
	}
	if chatMessage != "" {
		return c.turn(cmd.Context(), chatMessage)
	}
	return c.run(cmd.Context(), cmd.InOrStdin())
}

type turnProcessor interface {
	Process(ctx context.Context, turn orchestrator.Turn) (*orchestrator.TurnResult, error)
}

// chatLoop keeps the conversation history between turns.
type chatLoop struct {
	turns       turnProcessor
	out         io.Writer
	showTrace   bool
	maxMessages int
	history     []core.Message
}

func (c *chatLoop) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(c.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(c.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			return nil
		}
		if err := c.turn(ctx, line); err != nil {
			return err
		}
	}
}

func (c *chatLoop) turn(ctx context.Context, msg string) error {
	res, err := c.turns.Process(ctx, orchestrator.Turn{
		UserMessage: msg,
		History:     c.history,
		Sink: func(_ context.Context, tok string) error {
			_, err := io.WriteString(c.out, tok)
			return err
		},
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out)
	c.history = session.AppendTurn(res.History, msg, res.Response, c.maxMessages)

	if c.showTrace {
		fmt.Fprintf(c.out, "[%s intent=%s model=%s]\n", res.TurnID, res.Intent, res.Model)
		for _, step := range res.Trace {
			fmt.Fprintf(c.out, "  %-14s %-8s %5dms\n", step.Agent, step.Status, step.DurationMS)
		}
	}
	return nil
}
