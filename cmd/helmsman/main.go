// ABOUTME: Entry point for the Helmsman extension runtime host.
// ABOUTME: Wires store, scheduler, bus, manager, and HTTP surface with CLI commands.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/helmsmanhq/helmsman/extensions/core"
	"github.com/helmsmanhq/helmsman/internal/admin"
	"github.com/helmsmanhq/helmsman/internal/bus"
	"github.com/helmsmanhq/helmsman/internal/command"
	"github.com/helmsmanhq/helmsman/internal/gateway"
	"github.com/helmsmanhq/helmsman/internal/host"
	"github.com/helmsmanhq/helmsman/internal/httpx"
	"github.com/helmsmanhq/helmsman/internal/logging"
	"github.com/helmsmanhq/helmsman/internal/sched"
	"github.com/helmsmanhq/helmsman/internal/store"

	_ "github.com/helmsmanhq/helmsman/extensions/backup"   // Register backup extension
	_ "github.com/helmsmanhq/helmsman/extensions/rulefill" // Register rule-fill extension
	_ "github.com/helmsmanhq/helmsman/extensions/strmgen"  // Register strm generator extension
)

var (
	port       string
	dbPath     string
	configPath string
)

func main() {
	// .env is optional; environment variables win either way.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "helmsman",
		Short: "Helmsman - extension runtime for media automation",
		Long: `Helmsman hosts media-automation extensions behind a shared runtime:
a cron scheduler, an event bus, a chat command registry, per-extension
HTTP routes, and persistent config/data stores.

Quick Start:
  helmsman serve        # Start the host on port 3001
  helmsman list         # List registered extensions
  helmsman reset        # Wipe the database

Environment Variables:
  HELMSMAN_PORT         Server port (default: 3001)
  HELMSMAN_DB           Database path
  HELMSMAN_CONFIG       Config directory (default: ./config)
  HELMSMAN_TZ           Scheduler timezone (default: Asia/Shanghai)
  HELMSMAN_API_TOKEN    API token guarding admin and extension endpoints
  HELMSMAN_PROXY        Outbound HTTP proxy URL`,
	}

	defaultDBPath := getDefaultDBPath()

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the extension host",
		Long: `Start the Helmsman HTTP server and enable every registered extension.

The server provides:
  - Extension endpoints under /plugin/<id>/
  - Admin API under /admin (token guarded)
  - Chat gateway at /ws/messages
  - Health check at /healthz`,
		RunE: runServe,
	}
	serveCmd.Flags().StringVarP(&port, "port", "p", getEnv("HELMSMAN_PORT", "3001"), "Port to listen on")
	serveCmd.Flags().StringVarP(&dbPath, "db", "d", defaultDBPath, "Database path")
	serveCmd.Flags().StringVarP(&configPath, "config", "c", getEnv("HELMSMAN_CONFIG", "./config"), "Config directory")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered extensions",
		RunE:  runList,
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset the database",
		Long: `Delete the database file. All extension config and data is lost;
extensions start from their form defaults on the next serve.`,
		RunE: runReset,
	}
	resetCmd.Flags().StringVarP(&dbPath, "db", "d", defaultDBPath, "Database path")

	rootCmd.AddCommand(serveCmd, listCmd, resetCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// validateAndCleanDBPath validates and cleans a database path.
func validateAndCleanDBPath(path string) (string, error) {
	cleanPath := strings.TrimSpace(path)
	cleanPath = filepath.Clean(cleanPath)

	if cleanPath == "" || cleanPath == "." || cleanPath == "/" {
		return "", fmt.Errorf("database path cannot be empty, '.', or '/'")
	}
	if strings.Contains(cleanPath, "..") {
		return "", fmt.Errorf("database path cannot contain '..'")
	}
	return cleanPath, nil
}

type runtime struct {
	store     *store.Store
	scheduler *sched.Scheduler
	bus       *bus.Bus
	manager   *host.Manager
	handler   http.Handler
}

func runServe(cmd *cobra.Command, args []string) error {
	var err error
	dbPath, err = validateAndCleanDBPath(dbPath)
	if err != nil {
		return err
	}

	rt, err := newRuntime(dbPath, configPath)
	if err != nil {
		return err
	}

	rt.scheduler.Start()
	rt.manager.Load()
	rt.manager.EnableAll()

	srv := &http.Server{Addr: ":" + port, Handler: rt.handler}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("helmsman listening on %s", srv.Addr)
		log.Printf("database: %s", dbPath)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Printf("received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}

	rt.manager.StopAll()
	rt.scheduler.Shutdown(true)
	if err := rt.bus.Stop(shutdownCtx); err != nil {
		log.Printf("bus shutdown: %v", err)
	}
	return rt.store.Close()
}

func newRuntime(dbPath, configPath string) (*runtime, error) {
	s, err := store.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	tzName := getEnv("HELMSMAN_TZ", "Asia/Shanghai")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		log.Printf("invalid timezone %q, falling back to UTC: %v", tzName, err)
		loc = time.UTC
	}

	token := os.Getenv("HELMSMAN_API_TOKEN")
	proxy := os.Getenv("HELMSMAN_PROXY")

	scheduler := sched.New(loc)
	eventBus := bus.New(bus.DefaultQueueSize)
	commands := command.NewRegistry(eventBus)
	routes := host.NewRouteRegistry()
	facade := host.NewFacade()
	notifier := host.NewNotifier()
	paths := host.NewPaths(configPath, loc)
	client := httpx.New(proxy)
	settings := core.Settings{Timezone: loc, APIToken: token, Proxy: proxy}

	manager := host.NewManager(scheduler, eventBus, commands, routes,
		store.NewConfigStore(s), store.NewDataStore(s), facade, notifier,
		paths, client, settings)

	gw := gateway.New(commands, eventBus)
	notifier.AddSink(gw)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logging.Middleware(s))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})
	r.Get("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/ws/messages", gw.ServeHTTP)
	routes.Mount(r)
	admin.NewHandlers(manager, s, token).RegisterRoutes(r)

	return &runtime{
		store:     s,
		scheduler: scheduler,
		bus:       eventBus,
		manager:   manager,
		handler:   r,
	}, nil
}

func runList(cmd *cobra.Command, args []string) error {
	for _, ext := range core.All() {
		d := ext.Descriptor()
		fmt.Printf("%-16s %-8s %s\n", d.ID, d.Version, d.Name)
	}
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	var err error
	dbPath, err = validateAndCleanDBPath(dbPath)
	if err != nil {
		return err
	}
	if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove database: %w", err)
	}
	fmt.Printf("database removed: %s\n", dbPath)
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDefaultDBPath() string {
	if v := os.Getenv("HELMSMAN_DB"); v != "" {
		return v
	}
	dir := getEnv("HELMSMAN_CONFIG", "./config")
	return filepath.Join(dir, "helmsman.db")
}
