package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caffeineduck/hostgate/executor"
)

const (
	maxModuleSize  = 64 << 20
	maxPayloadSize = 16 << 20
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for guest invocation",
	Long: `Start an HTTP server that manages guest instances over REST.

Endpoints:
  POST   /instances                   Create instance from the request body
                                      (wasm bytes) or the configured module,
                                      returns {"id":"..."}
  POST   /instances/{id}/invoke/{op}  Invoke op with the request body as payload
  GET    /instances/{id}/resources    List open resource handles
  DELETE /instances/{id}              Close instance
  GET    /health                      Health check`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().Duration("ttl", 15*time.Minute, "Close instances idle for this long")
	rootCmd.AddCommand(serveCmd)
}

type instanceManager struct {
	env       *hostEnv
	instances map[string]*managedInstance
	mu        sync.RWMutex
	ttl       time.Duration
	stop      chan struct{}
	stopOnce  sync.Once
}

type managedInstance struct {
	instance *executor.Instance
	lastUsed time.Time
}

func newInstanceManager(env *hostEnv, ttl time.Duration) *instanceManager {
	im := &instanceManager{
		env:       env,
		instances: make(map[string]*managedInstance),
		ttl:       ttl,
		stop:      make(chan struct{}),
	}
	if ttl > 0 {
		go im.cleanup()
	}
	return im
}

func (im *instanceManager) create(ctx context.Context, wasm []byte, opts ...executor.InstanceOption) (string, error) {
	inst, err := im.env.exec.NewInstance(ctx, wasm, opts...)
	if err != nil {
		return "", err
	}

	id := ulid.Make().String()
	im.mu.Lock()
	im.instances[id] = &managedInstance{
		instance: inst,
		lastUsed: time.Now(),
	}
	im.mu.Unlock()
	return id, nil
}

func (im *instanceManager) get(id string) (*executor.Instance, bool) {
	im.mu.Lock()
	defer im.mu.Unlock()
	mi, ok := im.instances[id]
	if !ok {
		return nil, false
	}
	mi.lastUsed = time.Now()
	return mi.instance, true
}

func (im *instanceManager) close(id string) bool {
	im.mu.Lock()
	mi, ok := im.instances[id]
	delete(im.instances, id)
	im.mu.Unlock()
	if ok {
		im.release(mi.instance)
	}
	return ok
}

func (im *instanceManager) release(inst *executor.Instance) {
	inst.Close()
	im.env.forget(inst)
}

func (im *instanceManager) len() int {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return len(im.instances)
}

// sweep closes every instance idle since before now-ttl.
func (im *instanceManager) sweep(now time.Time) int {
	var expired []*executor.Instance
	im.mu.Lock()
	for id, mi := range im.instances {
		if now.Sub(mi.lastUsed) > im.ttl {
			expired = append(expired, mi.instance)
			delete(im.instances, id)
		}
	}
	im.mu.Unlock()

	for _, inst := range expired {
		im.release(inst)
	}
	return len(expired)
}

func (im *instanceManager) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			if n := im.sweep(now); n > 0 {
				zap.L().Debug("closed idle instances", zap.Int("count", n))
			}
		case <-im.stop:
			return
		}
	}
}

func (im *instanceManager) closeAll() {
	im.stopOnce.Do(func() { close(im.stop) })

	im.mu.Lock()
	all := im.instances
	im.instances = make(map[string]*managedInstance)
	im.mu.Unlock()

	for _, mi := range all {
		im.release(mi.instance)
	}
}

type createInstanceResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// server holds the HTTP handlers for serve.
type server struct {
	instances     *instanceManager
	cfg           Config
	defaultModule []byte
	logger        *zap.Logger

	// maxPayload caps invoke request bodies; zero means maxPayloadSize.
	maxPayload int64
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /instances", s.handleCreate)
	mux.HandleFunc("POST /instances/{id}/invoke/{op}", s.handleInvoke)
	mux.HandleFunc("GET /instances/{id}/resources", s.handleResources)
	mux.HandleFunc("DELETE /instances/{id}", s.handleDelete)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

func (s *server) handleCreate(w http.ResponseWriter, r *http.Request) {
	wasm, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxModuleSize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "module too large")
		return
	}
	if len(wasm) == 0 {
		wasm = s.defaultModule
	}
	if len(wasm) == 0 {
		writeError(w, http.StatusBadRequest, "module required")
		return
	}

	// Instances outlive the request that created them.
	ctx := context.WithoutCancel(r.Context())
	id, err := s.instances.create(ctx, wasm, s.instances.env.instanceOpts(s.cfg, io.Discard)...)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to create instance: %v", err))
		return
	}

	s.logger.Info("instance created", zap.String("id", id))
	writeJSON(w, http.StatusCreated, createInstanceResponse{ID: id})
}

func (s *server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	id, op := r.PathValue("id"), r.PathValue("op")
	inst, ok := s.instances.get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "instance not found")
		return
	}

	limit := s.maxPayload
	if limit <= 0 {
		limit = maxPayloadSize
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read payload")
		return
	}

	start := time.Now()
	out, err := inst.TryInvoke(r.Context(), op, payload)
	w.Header().Set("X-Duration-Ms", fmt.Sprint(time.Since(start).Milliseconds()))

	var guestErr *executor.GuestError
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		w.Write(out)
	case errors.Is(err, executor.ErrInstanceBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &guestErr):
		writeError(w, http.StatusUnprocessableEntity, guestErr.Message)
	case errors.Is(err, executor.ErrTimeout):
		s.instances.close(id)
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, executor.ErrInstanceClosed):
		s.instances.close(id)
		writeError(w, http.StatusGone, err.Error())
	default:
		s.logger.Warn("invocation failed", zap.String("id", id), zap.String("operation", op), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *server) handleResources(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.instances.get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "instance not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resources": inst.Resources()})
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !s.instances.close(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "instance not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := appConfig
	logger := zap.L()

	var defaultModule []byte
	if cfg.Module != "" {
		var err error
		if defaultModule, err = readModule(cfg, nil); err != nil {
			return err
		}
	}

	var precompile [][]byte
	if defaultModule != nil {
		precompile = append(precompile, defaultModule)
	}
	env, err := newHostEnv(cfg, precompile...)
	if err != nil {
		return err
	}
	defer env.Close()

	instances := newInstanceManager(env, cfg.Serve.TTL)
	defer instances.closeAll()

	srv := &server{
		instances:     instances,
		cfg:           cfg,
		defaultModule: defaultModule,
		logger:        logger,
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Serve.Port),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("hostgate server listening", zap.String("addr", httpServer.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-cmd.Context().Done():
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(ctx)
	}
}
