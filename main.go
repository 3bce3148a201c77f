package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/mtaylor91/chess-relay/pkg"
	"github.com/mtaylor91/chess-relay/pkg/config"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("Loading config failed: ", err)
	}
	if err := pkg.ConfigureLogging(cfg.Logging); err != nil {
		log.Fatal("Configuring logging failed: ", err)
	}

	newID, err := pkg.NewIDGenerator(cfg.Room.IDStyle)
	if err != nil {
		log.Fatal("Configuring room ids failed: ", err)
	}

	registry := pkg.NewRegistry(
		pkg.WithIDGenerator(newID),
		pkg.WithReconnectGrace(cfg.Room.ReconnectGrace),
		pkg.WithEmptyTTL(cfg.Room.EmptyTTL),
		pkg.WithIdleTTL(cfg.Room.IdleTTL),
		pkg.WithBacklogLimit(cfg.Room.MaxBacklog),
	)
	gateway := pkg.NewGateway(registry, pkg.NewDirectory(), cfg.Room.EnforceTurns)
	sockets := pkg.NewSocketServer(gateway, cfg.Socket)

	eventsRouter := mux.NewRouter()
	eventsRouter.HandleFunc("/api/v1/health", sockets.HealthHandler).Methods(http.MethodGet)
	eventsRouter.HandleFunc("/api/v1/socket", sockets.SocketHandler).Methods(http.MethodGet)

	eventsServer := &http.Server{
		Addr: cfg.Server.EventsAddr,
		Handler: promhttp.InstrumentHandlerInFlight(pkg.RelayInFlightGauge,
			promhttp.InstrumentHandlerCounter(pkg.RelayRequestsCounter,
				eventsRouter)),
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	metricsServer := &http.Server{
		Addr:    cfg.Server.MetricsAddr,
		Handler: metricsRouter,
	}

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	go gateway.RunJanitor(janitorCtx, cfg.Room.SweepInterval)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	log.Info("Starting events server on ", cfg.Server.EventsAddr)
	go func() {
		err := eventsServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Fatal("Events server failed: ", err)
		}
	}()

	log.Info("Starting metrics server on ", cfg.Server.MetricsAddr)
	go func() {
		err := metricsServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Fatal("Metrics server failed: ", err)
		}
	}()

	<-done
	stopJanitor()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	log.Info("Shutting down events server...")
	if err := eventsServer.Shutdown(ctx); err != nil {
		log.Fatal("Events server shutdown failed: ", err)
	}

	gateway.CloseAll()

	log.Info("Shutting down metrics server...")
	if err := metricsServer.Shutdown(ctx); err != nil {
		log.Fatal("Metrics server shutdown failed: ", err)
	}
}
