package infrastructure

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Server is a long-running component. Start blocks until the component stops
// or fails; Stop asks it to finish in-flight work.
type Server interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type App struct {
	servers []Server
}

func NewApp(servers []Server) *App {
	return &App{servers: servers}
}

// Run starts every server and stops them all when ctx is cancelled or any of
// them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, srv := range a.servers {
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range a.servers {
		if err := srv.Stop(stopCtx); err != nil {
			slog.Warn("server stop failed", "error", err)
		}
	}

	return g.Wait()
}
