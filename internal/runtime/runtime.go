package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/phrasewatch/phrasewatch/internal/audio"
	"github.com/phrasewatch/phrasewatch/internal/bus"
	"github.com/phrasewatch/phrasewatch/internal/config"
	"github.com/phrasewatch/phrasewatch/internal/eventstore"
	"github.com/phrasewatch/phrasewatch/internal/model"
	"github.com/phrasewatch/phrasewatch/internal/natsserver"
	"github.com/phrasewatch/phrasewatch/internal/protocol"
	"github.com/phrasewatch/phrasewatch/internal/recognize"
	"github.com/phrasewatch/phrasewatch/internal/session"
)

// The bus client is the production implementation of every sink the
// pipeline publishes through.
var (
	_ session.Sink     = (*bus.Client)(nil)
	_ model.StatusSink = (*bus.Client)(nil)
)

// Runtime owns the process lifecycle: telemetry, the message bus, the
// audit store, the model loader, and the session controller. Start
// blocks until the context is cancelled.
type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer  *http.Server
	tracerClose func(context.Context) error
	busClient   *bus.Client
	controller  *session.Controller
	store       *eventstore.Store
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// storeAuditor adapts the SQLite audit store to the controller's
// Auditor interface, stripping nothing: CycleEvent already carries no
// transcript text.
type storeAuditor struct {
	store *eventstore.Store
}

func (a storeAuditor) RecordCycle(ctx context.Context, evt session.CycleEvent) error {
	return a.store.RecordCycle(ctx, eventstore.CycleRecord{
		Seq:         evt.Seq,
		EventType:   evt.EventType,
		Mode:        evt.Mode,
		FailureKind: evt.FailureKind,
		Phrases:     evt.Phrases,
	})
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS server: %w", err)
	}

	busCfg := r.cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}

	busClient, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		embedded.Shutdown()
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	r.busClient = busClient

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		busClient.Close()
		embedded.Shutdown()
		return fmt.Errorf("failed to open audit store: %w", err)
	}
	r.store = store

	loader := model.NewLoader(
		recognize.DecoderFactory(r.cfg.Recognition.Offline),
		busClient,
		r.logger,
	)

	capturer, err := audio.New(r.cfg.Capture)
	if err != nil {
		store.Close()
		busClient.Close()
		embedded.Shutdown()
		return fmt.Errorf("failed to create audio capturer: %w", err)
	}

	engine := recognize.NewEngine(r.cfg.Recognition.Online, r.logger)
	r.controller = session.NewController(
		capturer, engine, loader, busClient, storeAuditor{store}, r.cfg, r.logger)

	// The model starts loading immediately so an offline cycle requested
	// later finds it ready instead of failing.
	loader.BeginLoad()

	subs, err := r.subscribe(busClient)
	if err != nil {
		store.Close()
		busClient.Close()
		embedded.Shutdown()
		return fmt.Errorf("failed to subscribe to control subjects: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	mux.HandleFunc("/cycle", r.handleCycle)
	mux.HandleFunc("/mode", r.handleMode)
	mux.HandleFunc("/phrases", r.handlePhrases)
	mux.HandleFunc("/cycles", r.handleCycles)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("mode", r.controller.Mode().String()))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			r.logger.Warn("unsubscribe failed", slog.String("error", err.Error()))
		}
	}

	// Let an in-flight cycle publish its terminal status before the bus
	// connection drains.
	r.controller.Close()
	if err := loader.Close(); err != nil {
		r.logger.Warn("model loader close failed", slog.String("error", err.Error()))
	}
	if err := store.Close(); err != nil {
		r.logger.Warn("audit store close failed", slog.String("error", err.Error()))
	}
	busClient.Close()
	embedded.Shutdown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// subscribe wires the control subjects to the session controller. The
// HTTP surface publishes to these same subjects, so bus clients and
// HTTP callers share one code path.
func (r *Runtime) subscribe(client *bus.Client) ([]*nats.Subscription, error) {
	var subs []*nats.Subscription

	sub, err := client.Conn().Subscribe(protocol.SubjectCycleStart, func(_ *nats.Msg) {
		r.controller.StartCycle()
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", protocol.SubjectCycleStart, err)
	}
	subs = append(subs, sub)

	sub, err = client.Conn().Subscribe(protocol.SubjectCycleMode, func(msg *nats.Msg) {
		var update protocol.ModeUpdate
		if err := json.Unmarshal(msg.Data, &update); err != nil {
			r.logger.Warn("malformed mode update", slog.String("error", err.Error()))
			return
		}
		mode, err := recognize.ParseMode(update.Mode)
		if err != nil {
			r.logger.Warn("rejected mode update", slog.String("mode", update.Mode))
			return
		}
		r.controller.SetMode(mode)
		r.logger.Info("recognition mode changed", slog.String("mode", mode.String()))
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", protocol.SubjectCycleMode, err)
	}
	subs = append(subs, sub)

	sub, err = client.Conn().Subscribe(protocol.SubjectCyclePhrases, func(msg *nats.Msg) {
		var update protocol.PhraseUpdate
		if err := json.Unmarshal(msg.Data, &update); err != nil {
			r.logger.Warn("malformed phrase update", slog.String("error", err.Error()))
			return
		}
		r.controller.SetPhraseInput(update.Raw)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", protocol.SubjectCyclePhrases, err)
	}
	subs = append(subs, sub)

	return subs, nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busClient.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleCycle(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.busClient.PublishJSON(protocol.SubjectCycleStart, protocol.CycleRequest{Timestamp: time.Now().UTC()}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (r *Runtime) handleMode(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var update protocol.ModeUpdate
	if err := json.NewDecoder(req.Body).Decode(&update); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if _, err := recognize.ParseMode(update.Mode); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := r.busClient.PublishJSON(protocol.SubjectCycleMode, update); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleCycles reads the audit log: the recent cycle records, or a
// detection count when ?phrase= is given. Empty in ephemeral retention
// mode.
func (r *Runtime) handleCycles(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")

	if phrase := req.URL.Query().Get("phrase"); phrase != "" {
		count, err := r.store.CountPhrase(req.Context(), phrase)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"phrase": phrase, "count": count})
		return
	}

	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	records, err := r.store.ListRecentCycles(req.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []eventstore.CycleRecord{}
	}
	_ = json.NewEncoder(w).Encode(records)
}

func (r *Runtime) handlePhrases(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var update protocol.PhraseUpdate
	if err := json.NewDecoder(req.Body).Decode(&update); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := r.busClient.PublishJSON(protocol.SubjectCyclePhrases, update); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
