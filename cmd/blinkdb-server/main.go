// Command blinkdb-server runs the BLINK DB event-driven TCP server,
// grounded on original_source/part-b/src/main_server.cpp's bootstrap
// sequence, but without that file's global server pointer read from a
// signal handler (spec.md §9's "Global server pointer" defect): the signal
// goroutine here just calls Server.Stop, which only ever touches an
// atomic flag the event loop polls itself.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rpmoore/blinkdb/internal/config"
	"github.com/rpmoore/blinkdb/internal/engine"
	"github.com/rpmoore/blinkdb/internal/netserver"
	"github.com/rpmoore/blinkdb/internal/store"
)

func main() {
	defaults := config.Default()

	port := flag.Int("port", defaults.Port, "listen port")
	dir := flag.String("dir", defaults.Dir, "data directory")
	cacheCapacity := flag.Int("cache-capacity", defaults.CacheCapacity, "in-memory LRU cache capacity")
	bugCompatibleEmptyValue := flag.Bool("bug-compatible-empty-value", false, "return nil instead of an empty bulk string for a GET of a zero-length value")
	flag.Parse()

	cfg := config.Config{
		Port:                    *port,
		Dir:                     *dir,
		CacheCapacity:           *cacheCapacity,
		BugCompatibleEmptyValue: *bugCompatibleEmptyValue,
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("blinkdb-server: invalid configuration: %v", err)
	}

	logger := log.New(os.Stderr, "blinkdb-server: ", log.LstdFlags)

	disk, err := store.Open(cfg.Dir, logger)
	if err != nil {
		log.Fatalf("blinkdb-server: open store: %v", err)
	}

	eng, err := engine.New(disk, engine.Options{
		CacheCapacity: cfg.CacheCapacity,
		QueueCapacity: engine.DefaultQueueCapacity,
	}, logger)
	if err != nil {
		log.Fatalf("blinkdb-server: construct engine: %v", err)
	}

	dispatcher := netserver.NewDispatcher(eng)
	dispatcher.BugCompatibleEmptyValue = cfg.BugCompatibleEmptyValue

	srv, err := netserver.New(netserver.Options{
		Port:          cfg.Port,
		ListenBacklog: config.DefaultListenBacklog,
		SendBufBytes:  config.DefaultSendBufBytes,
	}, dispatcher, logger)
	if err != nil {
		log.Fatalf("blinkdb-server: construct server: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("received signal %v, shutting down", sig)
		srv.Stop()
	}()

	logger.Printf("listening on port %d, data directory %q", cfg.Port, cfg.Dir)

	if err := srv.Run(); err != nil {
		logger.Printf("event loop exited with error: %v", err)
		_ = eng.Close()
		os.Exit(1)
	}

	if err := eng.Close(); err != nil {
		logger.Printf("error closing engine: %v", err)
		os.Exit(1)
	}
}
