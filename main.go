package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/mtaylor91/room-server/pkg"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

func main() {
	config, err := pkg.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}

	log.SetLevel(config.Level())

	manager := pkg.NewManager(config)

	roomsRouter := mux.NewRouter()
	roomsRouter.HandleFunc("/api/v1/health", manager.HealthHandler).Methods(http.MethodGet)
	roomsRouter.HandleFunc("/api/v1/socket", manager.SocketHandler)

	roomsServer := &http.Server{
		Addr: config.ListenAddr,
		Handler: promhttp.InstrumentHandlerInFlight(pkg.RoomServerInFlightGauge,
			promhttp.InstrumentHandlerCounter(pkg.RoomServerRequestsCounter,
				roomsRouter)),
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	metricsServer := &http.Server{
		Addr:    config.MetricsAddr,
		Handler: metricsRouter,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	log.Info("Starting room server on ", config.ListenAddr, "...")
	go func() {
		err := roomsServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Fatal("Room server failed: ", err)
		}
	}()

	log.Info("Starting metrics server on ", config.MetricsAddr, "...")
	go func() {
		err := metricsServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Fatal("Metrics server failed: ", err)
		}
	}()

	<-done

	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	log.Info("Shutting down room server...")
	if err := roomsServer.Shutdown(ctx); err != nil {
		log.Fatal("Room server shutdown failed: ", err)
	}

	log.Info("Shutting down metrics server...")
	if err := metricsServer.Shutdown(ctx); err != nil {
		log.Fatal("Metrics server shutdown failed: ", err)
	}
}
