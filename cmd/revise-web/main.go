package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/revisehq/revise/internal/catalog"
	"github.com/revisehq/revise/internal/config"
	"github.com/revisehq/revise/internal/maintenance"
	"github.com/revisehq/revise/internal/scheduler"
	"github.com/revisehq/revise/internal/server"
	"github.com/revisehq/revise/internal/session"
	"github.com/revisehq/revise/internal/storage"
	"github.com/revisehq/revise/internal/storage/postgres"
	"github.com/revisehq/revise/internal/storage/sqlite"
	"github.com/revisehq/revise/pkg/types"
)

// dataStore is what the web binary needs from a storage backend: review
// persistence plus the item catalog. Both the sqlite and postgres stores
// satisfy it.
type dataStore interface {
	storage.ReviewStore
	catalog.Catalog
	UpsertItem(ctx context.Context, it *types.Item) error
}

func main() {
	deckPath := flag.String("deck", "", "Path to a JSON deck file to import into the catalog on startup")
	flag.Parse()

	// Load .env if present; real env vars take precedence
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *deckPath != "" {
		n, err := importDeck(ctx, store, *deckPath)
		if err != nil {
			log.Fatalf("Failed to import deck %s: %v", *deckPath, err)
		}
		log.Printf("Imported %d items from %s", n, *deckPath)
	}

	fsrs, err := scheduler.NewFSRS(scheduler.Params{
		Weights:             scheduler.DefaultWeights,
		DesiredRetention:    cfg.Scheduler.DesiredRetention,
		MaximumIntervalDays: cfg.Scheduler.MaximumIntervalDays,
		MinStability:        cfg.Scheduler.MinStability,
		RelearningStep:      cfg.Scheduler.RelearningStep,
	})
	if err != nil {
		log.Fatalf("Failed to initialize scheduler: %v", err)
	}
	bkt := scheduler.NewBKT(bktParams(cfg))

	tracker := session.NewTracker(session.TrackerConfig{
		QueueSize:          cfg.Tracker.QueueSize,
		MaxRetries:         cfg.Tracker.MaxRetries,
		ShutdownTimeout:    cfg.Tracker.ShutdownTimeout,
		RatePerSecond:      cfg.Tracker.RatePerSecond,
		RateBurst:          cfg.Tracker.RateBurst,
		BreakerMaxFailures: uint32(cfg.Tracker.BreakerMaxFailures),
		BreakerTimeout:     cfg.Tracker.BreakerTimeout,
	})
	tracker.Start()

	orchestrator := session.NewOrchestrator(store, store, tracker, fsrs, bkt)

	if cfg.Maintenance.RollupEnabled {
		rollup := maintenance.NewRollup(store, cfg.Maintenance.RollupTime)
		if err := rollup.Start(); err != nil {
			log.Printf("WARNING: failed to start rollup job: %v", err)
		} else {
			defer rollup.Stop()
		}
	}

	addr, _ := server.Start(ctx, cfg, store, orchestrator, tracker)
	log.Printf("Revise API running at http://%s", addr)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")

	// Drain pending tracking writes before the store closes
	if err := tracker.Stop(); err != nil {
		log.Printf("Error stopping tracker: %v", err)
	}

	cancel()
	time.Sleep(1 * time.Second) // Give time for connections to close
}

// openStore creates the configured storage backend.
func openStore(cfg *config.Config) (dataStore, error) {
	switch cfg.Storage.StorageEngine {
	case "postgres":
		return postgres.NewStore(cfg.Storage.PostgresDSN)
	default:
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return sqlite.NewStore(cfg.Storage.DataPath + "/revise.db")
	}
}

// deckItem is one entry of a JSON deck file.
type deckItem struct {
	ID        string `json:"id"`
	Front     string `json:"front"`
	Back      string `json:"back"`
	ItemType  string `json:"item_type"`
	ConceptID string `json:"concept_id"`
	Active    *bool  `json:"active"`
}

// importDeck upserts the items of a JSON deck file into the catalog.
// Items default to active flashcards.
func importDeck(ctx context.Context, store dataStore, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read deck file: %w", err)
	}

	var entries []deckItem
	if err := json.Unmarshal(data, &entries); err != nil {
		return 0, fmt.Errorf("failed to parse deck file: %w", err)
	}

	for i, e := range entries {
		if e.ID == "" {
			return i, fmt.Errorf("deck entry %d has no id", i)
		}
		itemType := types.ItemType(e.ItemType)
		if itemType == "" {
			itemType = types.ItemTypeFlashcard
		}
		active := e.Active == nil || *e.Active
		if err := store.UpsertItem(ctx, &types.Item{
			ID:        e.ID,
			Front:     e.Front,
			Back:      e.Back,
			ItemType:  itemType,
			ConceptID: e.ConceptID,
			Active:    active,
		}); err != nil {
			return i, fmt.Errorf("failed to import item %s: %w", e.ID, err)
		}
	}
	return len(entries), nil
}

// bktParams builds the per-item-type mastery parameter table from config.
func bktParams(cfg *config.Config) map[types.ItemType]scheduler.BKTParams {
	base := scheduler.BKTParams{
		PInit:    cfg.Mastery.PInit,
		PTransit: cfg.Mastery.PTransit,
		PSlip:    cfg.Mastery.PSlip,
	}
	flashcard := base
	flashcard.PGuess = cfg.Mastery.FlashcardGuess
	quiz := base
	quiz.PGuess = cfg.Mastery.QuizGuess
	return map[types.ItemType]scheduler.BKTParams{
		types.ItemTypeFlashcard: flashcard,
		types.ItemTypeQuiz:      quiz,
	}
}
