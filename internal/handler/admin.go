package handler

import (
	"net/http"
	"runtime"
	"time"

	"truckcount-api/internal/repository"
	"truckcount-api/internal/service"
	"truckcount-api/pkg/response"
)

// AdminHandler handles admin-related HTTP requests.
type AdminHandler struct {
	store       repository.Store
	review      *service.ReviewService
	storeType   string
	slotBackend string
	startTime   time.Time
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(store repository.Store, review *service.ReviewService, storeType, slotBackend string) *AdminHandler {
	return &AdminHandler{
		store:       store,
		review:      review,
		storeType:   storeType,
		slotBackend: slotBackend,
		startTime:   time.Now(),
	}
}

// GetStats handles GET /api/v1/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats := make(map[string]interface{})

	stats["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())
	stats["uptime_human"] = time.Since(h.startTime).Round(time.Second).String()
	stats["server_time"] = time.Now().Format(time.RFC3339)
	stats["store_type"] = h.storeType

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["memory"] = map[string]interface{}{
		"alloc_mb":      float64(memStats.Alloc) / 1024 / 1024,
		"sys_mb":        float64(memStats.Sys) / 1024 / 1024,
		"heap_inuse_mb": float64(memStats.HeapInuse) / 1024 / 1024,
		"num_gc":        memStats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	slot := map[string]interface{}{"backend": h.slotBackend}
	if pending, err := h.review.Peek(ctx); err != nil {
		slot["status"] = "error"
		slot["error"] = err.Error()
	} else if pending != nil {
		slot["status"] = "pending"
		slot["message_id"] = pending.ID
		slot["received_at"] = pending.ReceivedAt
		slot["decoded"] = pending.Decoded()
	} else {
		slot["status"] = "empty"
	}
	stats["slot"] = slot

	if storeStats, err := h.store.GetStats(ctx); err == nil {
		storeStats["status"] = "connected"
		stats["store"] = storeStats
	} else {
		stats["store"] = map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		}
	}

	stats["runtime"] = map[string]interface{}{
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
	}

	response.OK(w, stats)
}
