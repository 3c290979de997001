// roomsync-server is the rendezvous server: the untrusted bulletin board
// that lets peers of a room discover one another and exchange signaling.
// It stores only expiring invites and presence records; no passwords and
// no document content ever reach it.
//
// Usage:
//
//	roomsync-server [options]
//
// Options:
//
//	-addr           HTTP listen address (default: ":8080")
//	-redis          Redis address for the backing store (default: in-memory)
//	-redis-password Redis AUTH password (default: none)
//	-code-ttl       Share code lifetime (default: 300s)
//	-peer-ttl       Presence record lifetime (default: 120s)
//	-rate-limit     Requests per IP per minute (default: 100)
//	-relay-conns    Simultaneous relay connections per IP (default: 16)
//	-verbose        Enable debug logging
//
// Example:
//
//	roomsync-server -addr :8080 -redis localhost:6379
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/roomsync/pkg/kv"
	"github.com/backkem/roomsync/pkg/rendezvous"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	redisAddr := flag.String("redis", "", "Redis address (empty: in-memory store)")
	redisPassword := flag.String("redis-password", "", "Redis AUTH password")
	codeTTL := flag.Duration("code-ttl", rendezvous.DefaultShareCodeTTL, "share code lifetime")
	peerTTL := flag.Duration("peer-ttl", rendezvous.DefaultPeerTTL, "presence record lifetime")
	rateLimit := flag.Int("rate-limit", rendezvous.DefaultMaxRequestsPerMin, "requests per IP per minute")
	relayConns := flag.Int("relay-conns", rendezvous.DefaultMaxRelayPerIP, "relay connections per IP")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	loggerFactory := logging.NewDefaultLoggerFactory()
	if *verbose {
		loggerFactory.DefaultLogLevel = logging.LogLevelDebug
	} else {
		loggerFactory.DefaultLogLevel = logging.LogLevelInfo
	}

	var store kv.Store
	if *redisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		redisStore, err := kv.NewRedis(ctx, kv.RedisConfig{
			Addr:     *redisAddr,
			Password: *redisPassword,
		})
		cancel()
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		store = redisStore
	} else {
		store = kv.NewMemory()
	}
	defer store.Close()

	server, err := rendezvous.NewServer(rendezvous.ServerConfig{
		Store:                store,
		ShareCodeTTL:         *codeTTL,
		PeerTTL:              *peerTTL,
		MaxRequestsPerMinute: *rateLimit,
		MaxRelayConnsPerIP:   *relayConns,
		LoggerFactory:        loggerFactory,
	})
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("rendezvous server listening on %s", *addr)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("Server error: %v", err)
	case sig := <-sigCh:
		log.Printf("Received %v, shutting down", sig)
	}

	server.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
