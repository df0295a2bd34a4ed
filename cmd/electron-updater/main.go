// Command electron-updater runs the OTA bundle update engine as a
// standalone host: it wires Store, BundleRegistry, and Coordinator
// together, exposes a small control/metrics HTTP surface, and drives the
// periodic check-for-updates cycle until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/capgo/electron-updater-go/internal/bundleregistry"
	"github.com/capgo/electron-updater-go/internal/config"
	"github.com/capgo/electron-updater-go/internal/coordinator"
	"github.com/capgo/electron-updater-go/internal/metrics"
	"github.com/capgo/electron-updater-go/internal/store"
)

// consoleHost logs every reload instead of driving a real window, standing
// in for the desktop host process this package is deliberately out of
// scope for (spec §1).
type consoleHost struct{}

func (consoleHost) Reload(path string) {
	log.Printf("host: reload -> %s", path)
}

func main() {
	envFile := flag.String("env-file", "", "optional dotenv file to load before reading UPDATER_* variables")
	addr := flag.String("addr", ":8085", "address for the /metrics and /control HTTP surface")
	checkOnce := flag.Bool("check-once", false, "run a single checkForUpdates and exit instead of scheduling")
	flag.Parse()

	if *envFile != "" {
		if err := config.LoadEnvFile(*envFile); err != nil {
			log.Fatalf("load env file: %v", err)
		}
	}

	cfg := config.Load()
	if cfg.UserDataDir == "" {
		cfg.UserDataDir = "."
	}
	if err := os.MkdirAll(cfg.UserDataDir, 0o755); err != nil {
		log.Fatalf("create user data dir: %v", err)
	}
	if cfg.BuiltinPath == "" {
		log.Fatal("UPDATER_BUILTIN_PATH must point at the built-in bundle's index.html")
	}

	st := store.Open(storagePath(cfg.UserDataDir))
	reg := bundleregistry.New(st, cfg.UserDataDir, cfg.BuiltinPath, cfg.AutoDeleteFailed, cfg.AutoDeletePrevious, cfg.AllowManualBundleError)

	coord := coordinator.New(cfg, st, reg, consoleHost{})
	coord.OnEvent(func(event string, data map[string]any) {
		log.Printf("event: %s %v", event, data)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := coord.Initialize(ctx); err != nil {
		log.Fatalf("initialize: %v", err)
	}

	if *checkOnce {
		if err := coord.CheckForUpdates(ctx); err != nil {
			log.Fatalf("check for updates: %v", err)
		}
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/control/check", func(w http.ResponseWriter, r *http.Request) {
		if err := coord.CheckForUpdates(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/control/app-ready", func(w http.ResponseWriter, r *http.Request) {
		if err := coord.NotifyAppReady(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		log.Printf("listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("shutting down")
	coord.Shutdown()
	_ = srv.Close()
}

func storagePath(userDataDir string) string {
	return userDataDir + string(os.PathSeparator) + "electron-updater-storage.json"
}
