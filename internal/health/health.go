// Package health runs named readiness checks and serves them over HTTP.
package health

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Status represents the health of a single subsystem.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Check returns nil when its subsystem is usable.
type Check func(ctx context.Context) error

// DefaultTimeout bounds a single check.
const DefaultTimeout = 3 * time.Second

// Registry holds named checks and runs them on demand.
type Registry struct {
	mu      sync.RWMutex
	checks  []namedCheck
	timeout time.Duration
	version string
}

type namedCheck struct {
	name  string
	check Check
}

// NewRegistry creates a new health check registry.
func NewRegistry(version string) *Registry {
	return &Registry{timeout: DefaultTimeout, version: version}
}

// Register adds a named check.
func (r *Registry) Register(name string, check Check) {
	r.mu.Lock()
	r.checks = append(r.checks, namedCheck{name: name, check: check})
	r.mu.Unlock()
}

// CheckAll runs every check concurrently, each under the registry timeout.
// Statuses keep registration order.
func (r *Registry) CheckAll(ctx context.Context) (bool, []Status) {
	r.mu.RLock()
	checks := append([]namedCheck(nil), r.checks...)
	timeout := r.timeout
	r.mu.RUnlock()

	statuses := make([]Status, len(checks))
	var wg sync.WaitGroup
	for i, nc := range checks {
		wg.Add(1)
		go func(i int, nc namedCheck) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			statuses[i] = Status{Name: nc.name, Healthy: true}
			if err := nc.check(cctx); err != nil {
				statuses[i].Healthy = false
				statuses[i].Detail = err.Error()
			}
		}(i, nc)
	}
	wg.Wait()

	healthy := true
	for _, s := range statuses {
		healthy = healthy && s.Healthy
	}
	return healthy, statuses
}

// RegisterRoutes sets up /health/live and /health/ready.
func (r *Registry) RegisterRoutes(router gin.IRoutes) {
	router.GET("/health", r.Ready)
	router.GET("/health/live", r.Live)
	router.GET("/health/ready", r.Ready)
}

// Live reports that the process is serving requests.
func (r *Registry) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": r.version})
}

// Ready runs the checks; any failure answers 503.
func (r *Registry) Ready(c *gin.Context) {
	healthy, statuses := r.CheckAll(c.Request.Context())
	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "version": r.version, "checks": statuses})
}

// DB checks that db answers a ping.
func DB(db *sql.DB) Check {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}
