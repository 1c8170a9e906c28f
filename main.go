package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/docforge/docsync/asset"
	"github.com/docforge/docsync/crdt"
	"github.com/docforge/docsync/document"
	"github.com/docforge/docsync/editor"
	"github.com/docforge/docsync/persist"
)

func main() {
	interval := flag.Duration("save-interval", 30*time.Second, "autosave interval")
	flag.Parse()

	// .env is optional; real deployments set the variables directly.
	godotenv.Load()

	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	apiBase := envOr("DOCSYNC_API", "http://localhost:8000/api")
	projectID := os.Getenv("DOCSYNC_PROJECT")
	token := os.Getenv("DOCSYNC_TOKEN")
	presenceURL := os.Getenv("DOCSYNC_PRESENCE_URL")
	if projectID == "" {
		log.Fatal().Msg("DOCSYNC_PROJECT is required")
	}

	actor := uuid.NewString()
	doc := crdt.NewDoc(actor)
	model := document.NewModel(doc, log)
	assets := asset.NewStore(log)

	client := persist.NewClient(apiBase, projectID, token, nil)
	notifier := persist.LogNotifier{Log: log}
	coordinator := persist.NewCoordinator(model, assets, client, persist.DefaultConfig(), notifier, notifier, nil, log)
	defer coordinator.Close()

	if presenceURL != "" {
		presence, err := editor.DialPresence(presenceURL, nil, log)
		if err != nil {
			log.Warn().Err(err).Msg("presence unavailable")
		} else {
			defer presence.Close()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("project", projectID).Msg("docsync client started")

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !coordinator.Dirty() {
				continue
			}
			if _, err := coordinator.Save(ctx); err != nil {
				log.Error().Err(err).Msg("autosave failed")
			}
		case <-ctx.Done():
			if coordinator.Dirty() {
				saveCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
				coordinator.Save(saveCtx)
				cancel()
			}
			return
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
