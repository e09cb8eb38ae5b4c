package infrastructure

import (
	"log/slog"

	"github.com/nats-io/nats.go"
)

func connectNats(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("coachpay"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, err
	}

	return nc, nil
}
