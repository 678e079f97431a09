package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/auditdeck/sessionkit/internal/config"
	"github.com/auditdeck/sessionkit/internal/credstore"
	"github.com/auditdeck/sessionkit/internal/crypto"
	"github.com/auditdeck/sessionkit/internal/identity"
	"github.com/auditdeck/sessionkit/internal/log"
	"github.com/auditdeck/sessionkit/internal/session"
)

// app wires the identity client, credential store, and session manager
// for one CLI invocation
type app struct {
	cfg      *config.Config
	identity *identity.Client
	store    *credstore.Store
	manager  *session.Manager
}

func newApp(cfg *config.Config) *app {
	client := identity.NewClient(cfg.IdentityURL,
		identity.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}))

	store := credstore.NewStore(durableBackend(cfg), ephemeralBackend(cfg))

	return &app{
		cfg:      cfg,
		identity: client,
		store:    store,
		manager:  session.NewManager(client, store),
	}
}

// durableBackend opens the encrypted state-dir backend, degrading to an
// in-memory session when disk storage is unusable (read-only home,
// locked-down environments). Degradation is logged, never fatal.
func durableBackend(cfg *config.Config) credstore.Backend {
	key, err := crypto.LoadOrCreateKey(filepath.Join(cfg.StateDir, "storage.key"))
	if err != nil {
		log.LogWarnWithFields("cli", "Durable storage unavailable, using in-memory session", map[string]any{
			"error": err.Error(),
		})
		return credstore.NewMemoryBackend()
	}

	sealer, err := crypto.NewSealer(key)
	if err != nil {
		log.LogWarnWithFields("cli", "Durable storage unavailable, using in-memory session", map[string]any{
			"error": err.Error(),
		})
		return credstore.NewMemoryBackend()
	}

	backend, err := credstore.NewFileBackend(filepath.Join(cfg.StateDir, "session"), credstore.WithSealer(sealer))
	if err != nil {
		log.LogWarnWithFields("cli", "Durable storage unavailable, using in-memory session", map[string]any{
			"error": err.Error(),
		})
		return credstore.NewMemoryBackend()
	}
	return backend
}

// ephemeralBackend lives under the temp dir, which the OS wipes on
// reboot; the native analog of a browser session scope.
func ephemeralBackend(cfg *config.Config) credstore.Backend {
	dir := filepath.Join(os.TempDir(), fmt.Sprintf("sessionkit-%d", os.Getuid()))
	backend, err := credstore.NewFileBackend(dir)
	if err != nil {
		log.LogWarnWithFields("cli", "Ephemeral storage unavailable, using in-memory session", map[string]any{
			"error": err.Error(),
		})
		return credstore.NewMemoryBackend()
	}
	return backend
}
