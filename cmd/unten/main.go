// Command unten wires a Document on disk to a running layout: it
// loads persisted state (never trusting positions/reservations),
// connects to the control bus, starts the layout controller, and
// serves the operator HTTP surface and console. Grounded on
// sakayukari/ctl2/main.go's Main (flag-parsed log level, zap
// development config, one goroutine per subsystem) generalized from
// one hardcoded testbench layout to a Document loaded from a
// configurable path.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"go.shisen.dev/unten/console"
	"go.shisen.dev/unten/controlbus"
	"go.shisen.dev/unten/layoutctl"
	"go.shisen.dev/unten/reservation"
	"go.shisen.dev/unten/store"
	"go.shisen.dev/unten/topology"
	"go.shisen.dev/unten/traincontrol"
	"go.shisen.dev/unten/webapi"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	dbPath := flag.String("db", "unten.db", "path to the buntdb layout store")
	busAddr := flag.String("bus-addr", "", "host:port of the control bus (empty = run without hardware)")
	httpAddr := flag.String("http-addr", "0.0.0.0:8080", "address for the operator HTTP surface")
	consoleEnabled := flag.Bool("console", false, "run the termui operator console on this terminal")
	level := zap.LevelFlag("log-level", zap.InfoLevel, "set log level")
	flag.Parse()

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(*level)
	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	st, err := store.Open(*dbPath, sugar)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	result, err := st.Load()
	if err != nil {
		return fmt.Errorf("load store: %w", err)
	}
	for _, ls := range result.NeedsReconfirmation {
		sugar.Warnw("train position not trusted after restart, awaiting operator reconfirmation", "train", ls.TrainID, "lastBlock", ls.BlockID)
	}

	var bus controlbus.CommandInterface
	if *busAddr != "" {
		addr := *busAddr
		adapter := controlbus.NewAdapter(func() (io.ReadWriteCloser, error) {
			return net.Dial("tcp", addr)
		}, sugar)
		if err := adapter.Connect(); err != nil {
			return fmt.Errorf("connect control bus: %w", err)
		}
		defer adapter.Disconnect()
		bus = adapter
	}

	rt := &traincontrol.Runtime{
		Layout:      result.Layout,
		Reservation: reservation.New(result.Layout, bus, sugar),
		Bus:         bus,
		Log:         sugar,
		Routes:      result.Routes,
	}

	ctl := layoutctl.NewController(result.Layout, rt, bus, sugar)
	for _, t := range result.Trains {
		ctl.AddTrain(t)
	}
	defer func() {
		doc := store.ExportLayout(ctl.Layout, ctl.Trains, rt.Routes, result.Formations)
		if err := st.Save(doc, ctl.Trains); err != nil {
			sugar.Errorw("final save failed", "error", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	go func() {
		if err := ctl.Run(ctx); err != nil && ctx.Err() == nil {
			sugar.Errorw("layout controller stopped", "error", err)
		}
	}()

	go periodicSave(ctx, st, ctl, rt, result.Formations, sugar)

	srv := webapi.NewServer(ctl, sugar)
	httpServer := &http.Server{Addr: *httpAddr, Handler: srv}
	go func() {
		sugar.Infow("serving operator HTTP surface", "addr", *httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Errorw("http server stopped", "error", err)
		}
	}()

	if *consoleEnabled {
		return runConsole(ctx, ctl)
	}

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	return nil
}

func runConsole(ctx context.Context, ctl *layoutctl.Controller) error {
	quit := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(quit)
	}()
	return console.New(ctl).Run(quit)
}

func periodicSave(ctx context.Context, st *store.Store, ctl *layoutctl.Controller, rt *traincontrol.Runtime, formations map[uuid.UUID]*topology.Formation, logger *zap.SugaredLogger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			doc := store.ExportLayout(ctl.Layout, ctl.Trains, rt.Routes, formations)
			if err := st.Save(doc, ctl.Trains); err != nil {
				logger.Errorw("periodic save failed", "error", err)
			}
		}
	}
}
