package service

import (
	"log/slog"

	postgres "github.com/kirinyoku/eventpass/internal/repository/postgres"
	redis "github.com/kirinyoku/eventpass/internal/repository/redis"
	"github.com/kirinyoku/eventpass/internal/service/attendance"
	"github.com/kirinyoku/eventpass/internal/service/events"
	"github.com/kirinyoku/eventpass/internal/service/purchase"
)

type Services struct {
	Purchases  *purchase.Service
	Attendance *attendance.Service
	Events     *events.Service
}

type Config struct {
	Purchase   purchase.Config
	Attendance attendance.Config
	Events     events.Config
}

func NewServices(
	store *postgres.Store,
	cache *redis.Cache,
	pubsub *redis.TicketsPubSub,
	logger *slog.Logger,
	cfg Config,
) *Services {
	return &Services{
		Purchases: purchase.New(
			purchase.NewPostgresRepository(store),
			redis.NewTicketNotifier(cache, pubsub),
			logger,
			cfg.Purchase,
		),
		Attendance: attendance.New(attendance.NewPostgresRepository(store), logger, cfg.Attendance),
		Events:     events.New(store, cache, cfg.Events),
	}
}
