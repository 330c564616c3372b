// Command loadtest signs up a set of users, connects each of them, and has
// every user message the next one while counting live deliveries.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/johndosdos/dmchat/internal/chat"
	"github.com/johndosdos/dmchat/internal/model"
	"github.com/johndosdos/dmchat/internal/session"
)

type options struct {
	BaseURL  string
	Users    int
	Messages int
	Interval time.Duration
	Settle   time.Duration
}

func newLoadtestCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:          "loadtest",
		Short:        "Generate chat traffic against a running server",
		Long: `Generate chat traffic against a running server.

All traffic comes from one address and the server throttles sends per
address (RATE_LIMIT_REQUESTS per RATE_LIMIT_WINDOW, 30/min by default).
Either raise the server limit to cover users*messages sends, or pace each
user with --interval. Throttled sends are reported separately.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.BaseURL, "url", "http://localhost:8080", "Server base URL")
	cmd.Flags().IntVar(&opts.Users, "users", 10, "Number of users to connect")
	cmd.Flags().IntVar(&opts.Messages, "messages", 20, "Messages each user sends")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "Pause between one user's sends")
	cmd.Flags().DurationVar(&opts.Settle, "settle", 2*time.Second, "Time to wait for live deliveries after sending")

	return cmd
}

func main() {
	if err := newLoadtestCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	if opts.Users < 2 {
		return fmt.Errorf("need at least 2 users, got %d", opts.Users)
	}

	runID := uuid.NewString()[:8]
	sessions := make([]*session.Session, opts.Users)
	defer func() {
		for _, s := range sessions {
			if s != nil {
				_ = s.Close()
			}
		}
	}()

	var delivered atomic.Int64

	// user signup, login and websocket connect
	for i := range sessions {
		email := fmt.Sprintf("load-%s-%d@example.com", runID, i)
		client, user, err := session.Signup(ctx, opts.BaseURL, fmt.Sprintf("Load User %d", i), email, "loadtest-password")
		if err != nil {
			return fmt.Errorf("signup %s: %w", email, err)
		}

		s, err := session.Dial(ctx, opts.BaseURL, user.ID, client)
		if err != nil {
			return fmt.Errorf("dial %s: %w", email, err)
		}
		sessions[i] = s
	}

	// Everyone listens to the previous user and writes to the next one.
	for i, s := range sessions {
		prev := sessions[(i+len(sessions)-1)%len(sessions)]
		sub := s.Subscribe(prev.Self(), func(model.Message) { delivered.Add(1) })
		defer sub.Unsubscribe()
	}

	start := time.Now()
	var sent, throttled atomic.Int64
	var mu sync.Mutex
	var failures []error

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range sessions {
		next := sessions[(i+1)%len(sessions)]
		g.Go(func() error {
			for n := range opts.Messages {
				if n > 0 && opts.Interval > 0 {
					select {
					case <-gctx.Done():
						return gctx.Err()
					case <-time.After(opts.Interval):
					}
				}

				_, err := s.SendMessage(gctx, next.Self(), chat.SendInput{Text: fmt.Sprintf("message %d from %d", n, i)})
				var apiErr *session.APIError
				if errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests {
					throttled.Add(1)
					continue
				}
				if err != nil {
					mu.Lock()
					failures = append(failures, err)
					mu.Unlock()
					continue
				}
				sent.Add(1)
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	time.Sleep(opts.Settle)

	slog.Info("load test finished",
		"users", opts.Users,
		"sent", sent.Load(),
		"throttled", throttled.Load(),
		"failed", len(failures),
		"delivered", delivered.Load(),
		"elapsed", elapsed,
		"msgs_per_sec", float64(sent.Load())/elapsed.Seconds())

	if n := throttled.Load(); n > 0 {
		slog.Warn("sends were rate limited; raise RATE_LIMIT_REQUESTS or use --interval", "throttled", n)
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d sends failed, first: %w", len(failures), failures[0])
	}
	return nil
}
