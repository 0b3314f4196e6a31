package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/zhouzirui/kyc-shield/backend/pkg/utils"
)

// HealthHandler reports dependency status for readiness probes.
type HealthHandler struct {
	db      *gorm.DB
	rdb     *redis.Client
	startAt time.Time
}

func NewHealthHandler(db *gorm.DB, rdb *redis.Client) *HealthHandler {
	return &HealthHandler{db: db, rdb: rdb, startAt: time.Now()}
}

// Ready handles GET /healthz.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]interface{}{
		"database": checkDB(ctx, h.db),
		"redis":    checkRedis(ctx, h.rdb),
	}

	overallStatus := "healthy"
	for _, check := range checks {
		if s := check.(map[string]interface{})["status"]; s == "down" {
			overallStatus = "degraded"
		}
	}

	status := http.StatusOK
	if overallStatus != "healthy" {
		status = http.StatusServiceUnavailable
	}
	utils.RespondJSON(w, status, map[string]interface{}{
		"status":         overallStatus,
		"checks":         checks,
		"uptime_seconds": int(time.Since(h.startAt).Seconds()),
	})
}

func checkDB(ctx context.Context, db *gorm.DB) map[string]interface{} {
	if db == nil {
		return map[string]interface{}{"status": "disabled"}
	}

	start := time.Now()
	sqlDB, err := db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return map[string]interface{}{
			"status":     "down",
			"latency_ms": latency,
			"error":      "connection failed",
		}
	}
	return map[string]interface{}{
		"status":     "up",
		"latency_ms": latency,
	}
}

func checkRedis(ctx context.Context, rdb *redis.Client) map[string]interface{} {
	if rdb == nil {
		return map[string]interface{}{"status": "disabled"}
	}

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return map[string]interface{}{
			"status":     "down",
			"latency_ms": latency,
			"error":      "connection failed",
		}
	}
	return map[string]interface{}{
		"status":     "up",
		"latency_ms": latency,
	}
}
