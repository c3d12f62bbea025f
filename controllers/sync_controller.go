package controllers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"go_market_ranking/services/cache"
	"go_market_ranking/services/pipeline"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SyncController exposes manual sync control, live progress and cache
// administration.
type SyncController struct {
	pipeline *pipeline.Pipeline
	cache    *cache.Cache
}

// NewSyncController creates a sync controller.
func NewSyncController(p *pipeline.Pipeline, c *cache.Cache) *SyncController {
	return &SyncController{pipeline: p, cache: c}
}

// TriggerSync starts a sync cycle in the background. A cycle already in
// flight is refused with 409.
func (sc *SyncController) TriggerSync(c *gin.Context) {
	if sc.pipeline.Running() {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "sync_in_progress",
			"message": pipeline.ErrRunInProgress.Error(),
		})
		return
	}

	go func() {
		if err := sc.pipeline.RunOnce(context.Background()); err != nil {
			log.Printf("Manual sync failed: %v", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"status":  "started",
		"message": "Sync started in background",
	})
}

// GetProgress returns a snapshot of the current (or last) sync run.
func (sc *SyncController) GetProgress(c *gin.Context) {
	c.JSON(http.StatusOK, sc.pipeline.Progress())
}

// StreamProgress upgrades to a websocket and pushes progress snapshots once
// per second until the run finishes or the client disconnects.
func (sc *SyncController) StreamProgress(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Warning: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		progress := sc.pipeline.Progress()
		if err := conn.WriteJSON(progress); err != nil {
			return
		}
		if !progress.Running {
			return
		}
		select {
		case <-ticker.C:
		case <-c.Request.Context().Done():
			return
		}
	}
}

// GetCacheStats reports item counts and disk usage of the fetch cache.
func (sc *SyncController) GetCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, sc.cache.Stats())
}

// InvalidateCache drops every cached entry from both tiers.
func (sc *SyncController) InvalidateCache(c *gin.Context) {
	if err := sc.cache.InvalidateAll(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "Cache invalidated"})
}
