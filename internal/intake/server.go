// Package intake implements the Intake Service (C11, spec.md §4.9): the
// HTTP boundary the browser companion talks to. It decompresses and
// validates each visit payload, resolves its referrer against the Tab
// History Tracker, enqueues it onto the Visit Queue, and answers status
// queries. Grounded on the teacher's apps-config HTTP handler
// (internal/delivery/server/http) for the handler-struct-plus-route-table
// shape, adapted to gin (already a teacher dependency) instead of the
// teacher's bare net/http mux, and on gin-contrib/cors for the browser
// extension's cross-origin POSTs.
package intake

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"

	"pkm-assistant/internal/domain"
	"pkm-assistant/internal/logging"
	"pkm-assistant/internal/orphan"
	"pkm-assistant/internal/tabhistory"
)

// Version is the service version reported by GET /status.
const Version = "0.1.0"

// VisitEnqueuer is the subset of queue.Queue the Intake Service drives.
type VisitEnqueuer interface {
	Enqueue(visit domain.Visit) uint64
	Len() int
}

// VisitPersister is the subset of relational.Store the Intake Service
// writes the raw visit row through, before analysis (spec.md §4.8: "the raw
// visit row is still persisted (from intake)").
type VisitPersister interface {
	SaveVisit(v domain.Visit) error
}

// StatusSnapshot is the payload GET /status and the /status/stream
// websocket both serialise.
type StatusSnapshot struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	QueueLength   int    `json:"queue_length"`
	OrphansHeld   int    `json:"orphans_held"`
}

// Server is the Intake Service's HTTP boundary.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader

	queue    VisitEnqueuer
	store    VisitPersister
	tabs     *tabhistory.Tracker
	orphans  *orphan.Manager
	resolver *ReferrerResolver
	logger   logging.Logger

	startedAt time.Time

	mu       sync.Mutex
	shutdown bool
}

// NewServer constructs an Intake Service HTTP server.
func NewServer(queue VisitEnqueuer, store VisitPersister, tabs *tabhistory.Tracker, orphans *orphan.Manager, logger logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool { return true },
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Content-Type"},
	}))

	s := &Server{
		engine:    engine,
		queue:     queue,
		store:     store,
		tabs:      tabs,
		orphans:   orphans,
		resolver:  NewReferrerResolver(tabs, orphans),
		logger:    logging.OrNop(logger),
		startedAt: time.Now(),
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	s.setupRoutes()
	return s
}

// Resolver exposes the Intake Service's referrer resolver, which also
// satisfies queue.OrphanResolver.
func (s *Server) Resolver() *ReferrerResolver { return s.resolver }

func (s *Server) setupRoutes() {
	s.engine.POST("/visit", s.handleVisit)
	s.engine.POST("/tab-event", s.handleTabEvent)
	s.engine.GET("/status", s.handleStatus)
	s.engine.GET("/status/stream", s.handleStatusStream)
}

// visitPayload is the wire shape of POST /visit's body (spec.md §4.9).
type visitPayload struct {
	URL               string `json:"url" binding:"required"`
	PageLoadedAt      string `json:"page_loaded_at" binding:"required"`
	Referrer          string `json:"referrer"`
	ReferrerTimestamp string `json:"referrer_timestamp"`
	OpenerTabID       string `json:"opener_tab_id"`
	TabID             string `json:"tab_id"`
	Content           string `json:"content" binding:"required"`
}

// handleVisit implements POST /visit: decompress, validate, resolve
// referrer, enqueue.
func (s *Server) handleVisit(c *gin.Context) {
	if s.isShuttingDown() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
		return
	}

	var body visitPayload
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	loadedAt, err := time.Parse(time.RFC3339Nano, body.PageLoadedAt)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid page_loaded_at: %v", err)})
		return
	}

	content, warning := decodeContent(body.Content)
	if warning != "" {
		s.logger.Warn("visit %s: %s", body.URL, warning)
	}

	raw := RawVisit{
		URL:          body.URL,
		PageLoadedAt: loadedAt,
		Referrer:     body.Referrer,
		OpenerTabID:  body.OpenerTabID,
		TabID:        body.TabID,
		Content:      content,
	}
	if body.ReferrerTimestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, body.ReferrerTimestamp); err == nil {
			raw.ReferrerTimestamp = t
		}
	}

	visit, ok := s.resolver.ResolveIncoming(raw, time.Now())
	if !ok {
		c.JSON(http.StatusAccepted, gin.H{"status": "held", "reason": "awaiting opener tab referrer"})
		return
	}

	if err := s.store.SaveVisit(visit); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	position := s.queue.Enqueue(visit)
	c.JSON(http.StatusOK, gin.H{"status": "queued", "position": position})
}

// decodeContent base64-decodes and zstd-decompresses payload.Content. On
// decompression failure it falls back to the raw decoded bytes with a
// warning, per spec.md §4.9's DecompressionError handling.
func decodeContent(encoded string) (content string, warning string) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return encoded, "content is not valid base64; using as-is"
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return string(raw), "zstd decoder unavailable; using raw content"
	}
	defer decoder.Close()

	decompressed, err := decoder.DecodeAll(raw, nil)
	if err != nil {
		return string(raw), "zstd decompression failed; using raw content"
	}
	return string(decompressed), ""
}

// tabEventPayload is the wire shape of POST /tab-event, which carries the
// browser's tab lifecycle notifications the Tab History Tracker needs to
// reconstruct referrers (spec.md §4.1): created, updated (full navigation),
// in_page (SPA navigation), and removed.
type tabEventPayload struct {
	Type        string `json:"type" binding:"required"`
	TabID       string `json:"tab_id" binding:"required"`
	OpenerTabID string `json:"opener_tab_id"`
	URL         string `json:"url"`
	At          string `json:"at"`
}

func (s *Server) handleTabEvent(c *gin.Context) {
	var body tabEventPayload
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	at := time.Now()
	if body.At != "" {
		if t, err := time.Parse(time.RFC3339Nano, body.At); err == nil {
			at = t
		}
	}

	switch body.Type {
	case "created":
		s.tabs.OnTabCreated(body.TabID, body.OpenerTabID, at)
	case "updated":
		s.tabs.OnTabUpdated(body.TabID, body.URL, at)
	case "in_page":
		s.tabs.OnInPageNavigation(body.TabID, body.URL, at)
	case "removed":
		s.tabs.OnTabRemoved(body.TabID)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown tab event type: " + body.Type})
		return
	}

	s.drainOrphansFor(body.TabID)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// drainOrphansFor re-attempts any orphan waiting specifically on tabID now
// that its navigation state has just changed, rather than waiting for the
// next retry tick.
func (s *Server) drainOrphansFor(tabID string) {
	orphans := s.orphans.TakeFor(tabID)
	if len(orphans) == 0 {
		return
	}
	ref, refAt, _, found := s.tabs.GetReferrer(tabID)
	for _, o := range orphans {
		visit := o.Visit
		if found && ref != "" {
			visit.Referrer = ref
			visit.ReferrerTimestamp = refAt
		}
		if err := s.store.SaveVisit(visit); err != nil {
			s.logger.Error("persist resolved orphan %s: %v", visit.ID, err)
			continue
		}
		s.queue.Enqueue(visit)
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.snapshot())
}

func (s *Server) handleStatusStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("status stream upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, err := json.Marshal(s.snapshot())
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}

func (s *Server) snapshot() StatusSnapshot {
	return StatusSnapshot{
		Status:        "running",
		Version:       Version,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		QueueLength:   s.queue.Len(),
		OrphansHeld:   s.orphans.Stats().Held,
	}
}

func (s *Server) isShuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// Serve binds ln (typically OS-assigned, port 0) and blocks until the
// server is shut down.
func (s *Server) Serve(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.engine}
	err := s.httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown marks the server as draining (POST /visit starts returning 503,
// per spec.md §5's cancellation semantics) and gracefully closes it.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// AdvertisePort writes the bound port to the two well-known locations an
// external client discovers it from (spec.md §6): a tmpdir file and
// <home>/.pkm-assistant/port.json.
func AdvertisePort(port int) error {
	tmpPath := filepath.Join(os.TempDir(), "pkm_assistant_port.txt")
	if err := os.WriteFile(tmpPath, []byte(strconv.Itoa(port)), 0o644); err != nil {
		return fmt.Errorf("write port file %s: %w", tmpPath, err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve home dir: %w", err)
	}
	dir := filepath.Join(home, ".pkm-assistant")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	payload, err := json.Marshal(struct {
		Port int `json:"port"`
	}{Port: port})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "port.json"), payload, 0o644)
}

// ClearPortAdvertisement truncates both port-advertisement files on
// shutdown, per spec.md §6 ("the file is truncated on shutdown").
func ClearPortAdvertisement() {
	_ = os.Truncate(filepath.Join(os.TempDir(), "pkm_assistant_port.txt"), 0)
	if home, err := os.UserHomeDir(); err == nil {
		_ = os.Truncate(filepath.Join(home, ".pkm-assistant", "port.json"), 0)
	}
}
