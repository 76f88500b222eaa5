package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"powerdial/internal/api"
	"powerdial/internal/config"
	"powerdial/internal/database"
	"powerdial/internal/engine"
	"powerdial/internal/placement"
	"powerdial/internal/statuschan"
	"powerdial/internal/telephony"
	"powerdial/internal/websocket"
)

const defaultConfigPath = "/etc/powerdial/powerdial.yaml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "start":
		cmdStart()
	case "status":
		cmdStatus()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("powerdial - Outbound Calling Campaign Orchestration")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  powerdial start     Start the orchestration service")
	fmt.Println("  powerdial status    Show service status")
	fmt.Println()
}

func cmdStart() {
	log.Println("[Main] Powerdial Service v1.0")
	log.Println("[Main] Starting services...")

	configPath := os.Getenv("POWERDIAL_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("[Main] Error loading config: %v", err)
	}

	// Database
	dbConn, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatalf("[Main] Error connecting to database: %v", err)
	}
	defer dbConn.Close()

	repo := database.NewRepository(dbConn)
	if err := repo.EnsureSchema(); err != nil {
		log.Fatalf("[Main] Error ensuring schema: %v", err)
	}
	log.Println("[Main] ✓ Database connected")

	// Console feed hub
	hub := websocket.NewHub()
	go hub.Run()
	log.Println("[Main] ✓ Console hub running")

	// External collaborators
	placer := placement.NewClient(cfg.Placement.BaseURL, cfg.Placement.Token)
	phones := telephony.New(cfg.Telephony.RegistrarURL, cfg.Telephony.DeviceID)
	status := statuschan.New(
		cfg.StatusChannel.URL,
		cfg.StatusChannel.OperatorID,
		time.Duration(cfg.StatusChannel.JoinTimeoutSec)*time.Second,
		time.Duration(cfg.StatusChannel.ReconnectInterval)*time.Second,
	)

	// Engine: both adapters funnel into its serialized event queue, each
	// event stamped with the run token current at emit time.
	eng := engine.New(placer, repo, hub, status.Ready, phones.Registered)
	status.SetSink(func(ev engine.StatusEvent) {
		ev.Run = eng.RunToken()
		eng.PostStatus(ev)
	})
	phones.SetSink(func(ev engine.HandleEvent) {
		ev.Run = eng.RunToken()
		eng.PostHandle(ev)
	})
	eng.Start()
	defer eng.Stop()

	watchdog := engine.NewRingWatchdog(eng,
		time.Duration(cfg.Engine.WatchdogSeconds)*time.Second,
		time.Duration(cfg.Engine.MaxRingSeconds)*time.Second,
	)
	watchdog.Start()
	defer watchdog.Stop()

	// Device registration. Failure is not fatal to the process: the
	// engine refuses to dial until registration succeeds on retry.
	go registerWithRetry(phones)

	// Status channel connect with retry; once connected the adapter
	// handles its own reconnect-and-rejoin.
	go connectWithRetry(status)
	defer status.Close()

	// API server
	server := api.NewServer(cfg, repo, eng, hub, placer, phones)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("[Main] API server error: %v", err)
		}
	}()
	log.Printf("[Main] ✓ API listening on %s", cfg.API.Address())

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("[Main] Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eng.StopCampaign(ctx); err != nil {
		log.Printf("[Main] Campaign stop on shutdown: %v", err)
	}
}

func registerWithRetry(phones *telephony.Adapter) {
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := phones.Register(ctx)
		cancel()
		if err == nil {
			return
		}
		log.Printf("[Main] Device registration failed, retrying in 5s: %v", err)
		time.Sleep(5 * time.Second)
	}
}

func connectWithRetry(status *statuschan.Adapter) {
	for {
		err := status.Connect()
		if err == nil {
			return
		}
		log.Printf("[Main] Status channel connect failed, retrying in 5s: %v", err)
		time.Sleep(5 * time.Second)
	}
}

func cmdStatus() {
	host := os.Getenv("POWERDIAL_API")
	if host == "" {
		host = "http://localhost:8080"
	}

	resp, err := http.Get(host + "/health")
	if err != nil {
		fmt.Printf("Service unreachable: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var health map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		fmt.Printf("Bad health response: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Status:     %v\n", health["status"])
	fmt.Printf("Registered: %v\n", health["registered"])
}
