// roomsync-peer joins a room and replicates a simple key-value document
// with every other peer holding the same password. It demonstrates the full
// peer stack: rendezvous client, relay signaling, WebRTC transports,
// mutual authentication and document exchange.
//
// Usage:
//
//	roomsync-peer [options]
//
// Options:
//
//	-rendezvous  Rendezvous server base URL (default: "http://localhost:8080")
//	-room        Room UUID to sync (default: create a new room)
//	-code        Share code to redeem for a room ID
//	-password    Room password (required)
//	-invite      Print a share code for the room and keep serving
//	-ice         Comma-separated STUN/TURN URLs
//	-verbose     Enable debug logging
//
// Once running, lines read from stdin mutate the shared document:
//
//	set <key> <value>   write an entry
//	get <key>           print one entry
//	ls                  print the whole document
//
// Example:
//
//	roomsync-peer -password "correct horse" -invite
//	roomsync-peer -password "correct horse" -code ABCD-2345
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/backkem/roomsync/pkg/crdt"
	"github.com/backkem/roomsync/pkg/rendezvous"
	"github.com/backkem/roomsync/pkg/session"
)

func main() {
	baseURL := flag.String("rendezvous", "http://localhost:8080", "rendezvous server base URL")
	roomID := flag.String("room", "", "room UUID (empty: create a new room)")
	code := flag.String("code", "", "share code to redeem")
	password := flag.String("password", "", "room password")
	invite := flag.Bool("invite", false, "print a share code for the room")
	ice := flag.String("ice", "", "comma-separated STUN/TURN URLs")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	if *password == "" {
		log.Fatal("a -password is required")
	}

	loggerFactory := logging.NewDefaultLoggerFactory()
	if *verbose {
		loggerFactory.DefaultLogLevel = logging.LogLevelDebug
	} else {
		loggerFactory.DefaultLogLevel = logging.LogLevelWarn
	}

	client, err := rendezvous.NewClient(rendezvous.ClientConfig{BaseURL: *baseURL})
	if err != nil {
		log.Fatalf("Invalid rendezvous URL: %v", err)
	}

	ctx := context.Background()

	room := *roomID
	switch {
	case *code != "":
		room, err = client.RedeemInvite(ctx, *code)
		if err != nil {
			log.Fatalf("Redeeming share code: %v", err)
		}
		fmt.Printf("joined room %s\n", room)
	case room == "":
		room = uuid.NewString()
		fmt.Printf("created room %s\n", room)
	}

	if *invite {
		shareCode, err := client.CreateInvite(ctx, room)
		if err != nil {
			log.Fatalf("Creating invite: %v", err)
		}
		fmt.Printf("share code: %s (valid once, for 5 minutes)\n", shareCode)
	}

	doc := crdt.NewMergeMap(uuid.NewString())

	var iceServers []string
	if *ice != "" {
		iceServers = strings.Split(*ice, ",")
	}

	s, err := session.NewSession(session.Config{
		RendezvousBaseURL: *baseURL,
		RoomID:            room,
		Document:          doc,
		ICEServers:        iceServers,
		LoggerFactory:     loggerFactory,
		OnStatus: func(status session.Status, err error) {
			if err != nil {
				fmt.Printf("status: %s (%v)\n", status, err)
				return
			}
			fmt.Printf("status: %s\n", status)
		},
		OnPeerConnected: func(peerID string) {
			fmt.Printf("peer connected: %s\n", peerID)
		},
		OnPeerDisconnected: func(peerID string) {
			fmt.Printf("peer disconnected: %s\n", peerID)
		},
	})
	if err != nil {
		log.Fatalf("Creating session: %v", err)
	}

	if err := s.Start([]byte(*password)); err != nil {
		log.Fatalf("Starting session: %v", err)
	}
	defer s.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-sigCh:
			fmt.Println("stopping")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			handleCommand(doc, line)
		}
	}
}

func handleCommand(doc *crdt.MergeMap, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	switch fields[0] {
	case "set":
		if len(fields) < 3 {
			fmt.Println("usage: set <key> <value>")
			return
		}
		if err := doc.Set(fields[1], strings.Join(fields[2:], " ")); err != nil {
			fmt.Printf("set failed: %v\n", err)
		}
	case "get":
		if len(fields) != 2 {
			fmt.Println("usage: get <key>")
			return
		}
		if value, ok := doc.Get(fields[1]); ok {
			fmt.Println(value)
		} else {
			fmt.Println("(not set)")
		}
	case "ls":
		for key, value := range doc.Snapshot() {
			fmt.Printf("%s = %s\n", key, value)
		}
	default:
		fmt.Println("commands: set, get, ls")
	}
}
