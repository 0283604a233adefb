package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/zoff-tech/petsync/pkg/api"
	"github.com/zoff-tech/petsync/pkg/config"
	"github.com/zoff-tech/petsync/pkg/network"
	"github.com/zoff-tech/petsync/pkg/notify"
	"github.com/zoff-tech/petsync/pkg/prefs"
	"github.com/zoff-tech/petsync/pkg/realtime"
	"github.com/zoff-tech/petsync/pkg/store"
	"github.com/zoff-tech/petsync/pkg/syncer"
	"github.com/zoff-tech/petsync/pkg/telemetry"
)

// envTokenStore reads the bearer credential from the environment. A
// rejected token is dropped until the operator rotates it.
type envTokenStore struct {
	mu          sync.Mutex
	invalidated bool
}

func (s *envTokenStore) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.invalidated {
		return "", nil
	}
	return os.Getenv("PETSYNC_API_TOKEN"), nil
}

func (s *envTokenStore) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.invalidated {
		log.Printf("API token rejected, re-authentication required")
	}
	s.invalidated = true
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration from file or environment
	cfg, err := config.LoadFromFile("./cmd/petsync-agent")
	if err != nil {
		log.Fatal("Error loading configuration: ", err)
	}

	shutdownTelemetry, err := telemetry.Init(cfg.Observability)
	if err != nil {
		log.Fatal("Failed to initialize telemetry: ", err)
	}
	defer shutdownTelemetry()

	repo, err := store.NewStore(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to initialize offline store: ", err)
	}
	defer repo.Close(context.Background())

	state, err := prefs.Open(cfg.StateDir)
	if err != nil {
		log.Fatal("Failed to open state directory: ", err)
	}

	notifier, err := notify.NewNotifier(ctx, &cfg.Notifier)
	if err != nil {
		log.Fatal("Failed to initialize notifier: ", err)
	}
	defer notifier.Close()

	tokens := &envTokenStore{}
	client := api.NewHTTPClient(cfg.API.BaseURL, tokens)

	observer := network.NewObserver(cfg.Network.ProbeURL, cfg.Network.ProbeInterval)
	observer.Start(ctx)
	defer observer.Stop()

	orch := syncer.NewOrchestrator(repo, client, observer, state, cfg.SyncInterval, func(s syncer.Status) {
		log.Printf("Sync status: syncing=%v pending=%d message=%q", s.IsSyncing, s.PendingCount, s.Message)
	})
	orch.Start(ctx)
	defer orch.Stop()

	// Server-pushed events shortcut the next scheduled pass so the cache
	// converges right after something changes remotely.
	resync := func() {
		go func() {
			if err := orch.PerformFullSync(context.Background()); err != nil {
				log.Printf("Sync after realtime event failed: %v", err)
			}
		}()
	}
	handlers := realtime.Handlers{
		Connected: func(ev realtime.ConnectionEvent) {
			log.Printf("Event stream ready: %s", ev.Message)
		},
		TagScanned: func(ev realtime.TagScannedEvent) {
			log.Printf("Tag %s scanned for pet %s", ev.TagID, ev.PetID)
		},
		SightingReported: func(ev realtime.SightingReportedEvent) { resync() },
		PetFound:         func(ev realtime.PetFoundEvent) { resync() },
		AlertCreated:     func(ev realtime.AlertCreatedEvent) { resync() },
		AlertUpdated:     func(ev realtime.AlertUpdatedEvent) { resync() },
	}

	channel := realtime.NewChannel(cfg.Realtime, tokens, handlers, notifier, func(st realtime.ConnectionState) {
		if st.LastError != "" {
			log.Printf("Event stream state: connected=%v attempts=%d error=%q", st.Connected, st.ReconnectAttempts, st.LastError)
		}
	})
	channel.Connect(ctx)
	defer channel.Disconnect()

	log.Printf("petsync agent started")
	<-ctx.Done()
	log.Printf("petsync agent shutting down")
}
