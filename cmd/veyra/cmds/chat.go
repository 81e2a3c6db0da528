package cmds

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/veyra/pkg/events"
	"github.com/go-go-golems/veyra/pkg/settings"
)

func NewChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the models of the backend",
		Long:  replHelp,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := LoadSettings(cmd)
			if err != nil {
				return err
			}
			local, _ := cmd.Flags().GetBool("local")
			verbose, _ := cmd.Flags().GetBool("verbose")
			eventLog, _ := cmd.Flags().GetString("event-log")
			return RunChat(cmd.Context(), s, cmd.InOrStdin(), cmd.OutOrStdout(), ChatOptions{
				Local:    local,
				Verbose:  verbose,
				EventLog: eventLog,
			})
		},
	}
	cmd.Flags().Bool("local", false, "Keep conversations in memory instead of on the backend")
	cmd.Flags().String("event-log", "", "Append every chat event as a JSON line to this file")
	return cmd
}

type ChatOptions struct {
	Local    bool
	Verbose  bool
	EventLog string
}

const eventLogMaxSizeMB = 10

// RunChat runs the REPL until the input ends or /quit, then waits for the
// replies still in flight.
func RunChat(ctx context.Context, s *settings.Settings, in io.Reader, out io.Writer, opts ChatOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	router, err := events.NewEventRouter(events.WithVerbose(opts.Verbose))
	if err != nil {
		return errors.Wrap(err, "could not create event router")
	}
	defer func() { _ = router.Close() }()

	fanout := events.NewFanout().AddPublisher(events.TopicChat, router.Publisher)
	if opts.EventLog != "" {
		eventLog := events.OpenEventLog(opts.EventLog, eventLogMaxSizeMB)
		defer func() { _ = eventLog.Close() }()
		fanout.AddPublisher(events.TopicEventLog, eventLog)
	}

	w := &syncWriter{w: out}
	appOptions := []AppOption{WithSinks(fanout)}
	if opts.Local {
		appOptions = append(appOptions, WithLocalConversations())
	}
	app := NewApp(s, appOptions...)
	router.AddEventHandler("chat-printer", events.TopicChat, &printer{
		out:   w,
		convs: app.Controller.Conversations(),
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return router.Run(ctx)
	})
	eg.Go(func() error {
		defer cancel()
		select {
		case <-router.Running():
		case <-ctx.Done():
			return nil
		}
		return newREPL(app, w).run(ctx, in)
	})

	err = eg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
