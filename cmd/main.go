package main

import (
	"context"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"station-navigation/internal/api"
	"station-navigation/internal/cache"
	"station-navigation/internal/config"
	"station-navigation/internal/gis/routing"
	"station-navigation/internal/incidents"
	"station-navigation/internal/subscriber"
	"station-navigation/internal/ws"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	conf, err := config.New()
	if err != nil {
		return err
	}

	var loggerOpts slog.HandlerOptions
	if conf.Env == config.EnvDev {
		loggerOpts = slog.HandlerOptions{Level: slog.LevelDebug}
	}

	jsonHandler := slog.NewJSONHandler(os.Stdout, &loggerOpts)
	logger := slog.New(jsonHandler)

	redisClient := redis.NewClient(&redis.Options{Addr: net.JoinHostPort(conf.RedisHost, conf.RedisPort)})
	defer redisClient.Close()
	snapshotCache := cache.NewRedisSnapshotCache(redisClient, conf.SnapshotTTL)

	routingClient := routing.NewClient(conf.RoutingBaseURL, routing.ClientOptions{
		Timeout: conf.RoutingTimeout,
		Logger:  logger,
	})

	wsManager := ws.NewManager(ctx, logger, snapshotCache, routingClient, ws.ManagerOptions{
		ArrivalThreshold:  conf.ArrivalThresholdMeters,
		PermissionTimeout: conf.PermissionTimeout,
		PositionTimeout:   conf.PositionTimeout,
	})
	go wsManager.Start()

	multicaster := incidents.NewMulticaster(wsManager, logger)
	sub := subscriber.NewSubscriber(logger, redisClient, conf.RedisIncidentsChannel, multicaster)
	go func() {
		if err := sub.Start(ctx); err != nil {
			logger.Error("subscriber stopped with error", "error", err)
		}
	}()

	server := api.NewServer(conf, wsManager, logger)
	return server.Start(ctx)
}
