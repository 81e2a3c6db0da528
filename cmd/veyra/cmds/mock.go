package cmds

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/veyra/pkg/backend/mock"
)

func NewMockBackendCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mock-backend",
		Short: "Run an in-memory backend for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			tokens, _ := cmd.Flags().GetStringSlice("tokens")
			latency, _ := cmd.Flags().GetDuration("latency")
			logRequests, _ := cmd.Flags().GetBool("log-requests")

			options := []mock.Option{mock.WithTokens(tokens...), mock.WithLatency(latency)}
			if logRequests {
				options = append(options, mock.WithRequestLogging())
			}
			srv := mock.NewServer(options...)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start(addr)
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			log.Info().Msg("shutting down mock backend")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().String("addr", "localhost:8080", "Address to listen on")
	cmd.Flags().StringSlice("tokens", nil, "Accepted bearer tokens (default: any)")
	cmd.Flags().Duration("latency", 0, "Delay added to every request")
	cmd.Flags().Bool("log-requests", false, "Log every request")
	return cmd
}
