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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/secretary/wa-bridge/internal/api"
	"github.com/secretary/wa-bridge/internal/broadcast"
	"github.com/secretary/wa-bridge/internal/config"
	"github.com/secretary/wa-bridge/internal/event"
	"github.com/secretary/wa-bridge/internal/messaging"
	"github.com/secretary/wa-bridge/internal/metrics"
	"github.com/secretary/wa-bridge/internal/presence"
	"github.com/secretary/wa-bridge/internal/protocol"
	"github.com/secretary/wa-bridge/internal/ratelimit"
	"github.com/secretary/wa-bridge/internal/session"
	"github.com/secretary/wa-bridge/internal/store"
	"github.com/secretary/wa-bridge/internal/wa"
	"github.com/secretary/wa-bridge/internal/ws"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	log.Printf("wa-bridge starting")
	log.Printf("  listen_addr:      %s", cfg.Server.ListenAddr)
	log.Printf("  max_connections:  %d", cfg.Server.MaxConnections)
	log.Printf("  heartbeat:        %s", cfg.Server.HeartbeatInterval)
	log.Printf("  runner_script:    %s", cfg.Adapter.ScriptPath)
	log.Printf("  session_path:     %s", cfg.Adapter.SessionPath)
	log.Printf("  postgres:         %v", cfg.Stores.PostgresDSN != "")
	log.Printf("  redis:            %v", cfg.Stores.RedisAddr != "")
	log.Printf("  nats:             %v", cfg.Stores.NatsURL != "")

	broadcaster := broadcast.New(broadcast.DefaultQueueSize)

	// --- Redis (presence, QR cache, rate limiting) ---
	var presenceStore *presence.Store
	var limiter *ratelimit.Limiter
	if cfg.Stores.RedisAddr != "" {
		serverName, _ := os.Hostname()
		if serverName == "" {
			serverName = "bridge-1"
		}
		presenceStore, err = presence.NewStore(cfg.Stores.RedisAddr, serverName)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		limiter = ratelimit.NewLimiter(presenceStore.Client())
	}

	// --- Postgres (chat/message mirror, appointments, files) ---
	var chatStore *store.Store
	var appointmentStore *store.AppointmentStore
	var fileStore *store.FileStore
	var recorder *store.Recorder
	if cfg.Stores.PostgresDSN != "" {
		db, err := store.Open(cfg.Stores.PostgresDSN)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		if err := store.Migrate(db); err != nil {
			log.Fatalf("postgres: %v", err)
		}
		chatStore = store.NewStore(db)
		appointmentStore = store.NewAppointmentStore(db)
		fileStore = store.NewFileStore(db)
		recorder = store.NewRecorder(chatStore, broadcaster)
	}

	// --- NATS (event relay for sibling services) ---
	var natsClient *messaging.NATSClient
	var relay *messaging.Relay
	if cfg.Stores.NatsURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.Stores.NatsURL
		natsClient, err = messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Fatalf("nats: %v", err)
		}
		relay = messaging.NewRelay(natsClient, broadcaster)
	}

	// --- Session manager ---
	factory := func(onEvent wa.CallbackHandler) (wa.Adapter, error) {
		return wa.NewSubprocess(wa.SubprocessConfig{
			ScriptPath:     cfg.Adapter.ScriptPath,
			SessionPath:    cfg.Adapter.SessionPath,
			MediaPath:      cfg.Adapter.MediaPath,
			CommandTimeout: cfg.Adapter.CommandTimeout,
		}, onEvent), nil
	}
	manager := session.NewManager(factory, broadcaster,
		session.WithSearchLimits(cfg.Search.FetchLimit, cfg.Search.ResultCap))

	// Mirror QR challenges into Redis so GET /qr survives restarts.
	if presenceStore != nil {
		qrSub := broadcaster.Attach()
		go func() {
			for {
				select {
				case <-qrSub.Done():
					return
				case ev := <-qrSub.Events():
					ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
					switch {
					case ev.Kind == event.KindQR:
						if err := presenceStore.SetQR(ctx, ev.QR.QR); err != nil {
							log.Printf("main: cache qr: %v", err)
						}
					case ev.Kind == event.KindStatus && ev.Status.Connected:
						if err := presenceStore.ClearQR(ctx); err != nil {
							log.Printf("main: clear qr cache: %v", err)
						}
					}
					cancel()
				}
			}
		}()
	}

	// --- WebSocket push server ---
	wsConfig := ws.ServerConfig{
		MaxConnections:    cfg.Server.MaxConnections,
		WriteTimeout:      cfg.Server.WriteTimeout,
		HeartbeatInterval: cfg.Server.HeartbeatInterval,
		HeartbeatTimeout:  cfg.Server.HeartbeatTimeout,
	}
	var wsPresence ws.Presence
	if presenceStore != nil {
		wsPresence = presenceStore
	}
	server := ws.NewServer(wsConfig, broadcaster, wsPresence)

	if limiter != nil {
		server.AllowConnect = func(ctx context.Context, remoteIP string) bool {
			allowed, err := limiter.Allow(ctx, remoteIP, ratelimit.RuleConnect)
			return err != nil || allowed
		}
	}

	// New dashboards get the current status and any pending QR immediately,
	// before the live stream starts.
	server.OnConnect = func(c *ws.Connection) {
		st := manager.Status()
		snapshot := event.StatusChange{
			State:      st.State,
			Connected:  st.Connected,
			Connecting: st.Connecting,
			Detail:     st.Reason,
		}
		if frame, err := protocol.New(protocol.TypeStatus, snapshot); err == nil {
			if werr := c.WriteMessage(frame); werr != nil {
				log.Printf("main: status snapshot to %s: %v", c.ID, werr)
				return
			}
		}
		if qr := manager.QRCode(); qr != "" {
			if frame, err := protocol.New(protocol.TypeQR, map[string]string{"qr": qr}); err == nil {
				if werr := c.WriteMessage(frame); werr != nil {
					log.Printf("main: qr snapshot to %s: %v", c.ID, werr)
				}
			}
		}
	}

	// --- REST API ---
	handlers := api.NewHandlers(manager)
	if chatStore != nil {
		handlers.WithStore(chatStore).
			WithAppointments(appointmentStore).
			WithFiles(fileStore)
	}
	if presenceStore != nil {
		handlers.WithQRStore(presenceStore)
	}
	if limiter != nil {
		handlers.WithLimiter(limiter)
	}

	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	router.Handle("/metrics", metrics.Handler())
	router.Get("/ws", server.HandleUpgrade)
	router.Mount("/api", handlers.Router())

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: router,
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Printf("http shutdown: %v", err)
		}

		server.Shutdown()
		if err := manager.Disconnect(); err != nil {
			log.Printf("session teardown: %v", err)
		}
		if relay != nil {
			relay.Stop()
		}
		if natsClient != nil {
			natsClient.Close()
		}
		if recorder != nil {
			recorder.Stop()
		}
		if presenceStore != nil {
			if err := presenceStore.Close(); err != nil {
				log.Printf("redis close: %v", err)
			}
		}
		os.Exit(0)
	}()

	log.Printf("listening on %s", cfg.Server.ListenAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
