// Package health reports whether touchmap's storage is usable.
//
// A Checker runs registered checks concurrently with a per-check timeout
// and serves the aggregated result as JSON.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"touchmap/internal/persist"
	"touchmap/internal/store"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is healthy.
	StatusHealthy Status = "healthy"
	// StatusDegraded indicates the component is degraded but functional.
	StatusDegraded Status = "degraded"
	// StatusUnhealthy indicates the component is unhealthy.
	StatusUnhealthy Status = "unhealthy"
)

// DefaultTimeout bounds a check registered without a timeout.
const DefaultTimeout = 5 * time.Second

// Result is the outcome of one check.
type Result struct {
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Check is a function that performs a health check.
type Check func(ctx context.Context) Result

type component struct {
	name     string
	critical bool
	timeout  time.Duration
	check    Check
}

// Checker manages health checks.
type Checker struct {
	mu         sync.RWMutex
	components map[string]component
	started    time.Time
}

// NewChecker creates an empty Checker.
func NewChecker() *Checker {
	return &Checker{
		components: make(map[string]component),
		started:    time.Now(),
	}
}

// Register adds or replaces a check. A failing critical check makes the
// whole report unhealthy; a failing non-critical one degrades it.
func (c *Checker) Register(name string, critical bool, timeout time.Duration, check Check) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components[name] = component{name: name, critical: critical, timeout: timeout, check: check}
}

// Report is the aggregated result of every check.
type Report struct {
	Status     Status            `json:"status"`
	Uptime     string            `json:"uptime"`
	Components map[string]Result `json:"components"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Names returns the registered check names, sorted.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.components))
	for name := range c.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs all registered checks.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.RLock()
	components := make([]component, 0, len(c.components))
	for _, comp := range c.components {
		components = append(components, comp)
	}
	c.mu.RUnlock()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]Result, len(components))
	)
	for _, comp := range components {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := run(ctx, comp)
			mu.Lock()
			results[comp.name] = r
			mu.Unlock()
		}()
	}
	wg.Wait()

	status := StatusHealthy
	for _, comp := range components {
		switch results[comp.name].Status {
		case StatusUnhealthy:
			if comp.critical {
				status = StatusUnhealthy
			} else if status == StatusHealthy {
				status = StatusDegraded
			}
		case StatusDegraded:
			if status == StatusHealthy {
				status = StatusDegraded
			}
		}
	}

	return Report{
		Status:     status,
		Uptime:     time.Since(c.started).Round(time.Second).String(),
		Components: results,
		Timestamp:  time.Now().UTC(),
	}
}

// run executes one check with its timeout, converting panics and
// overruns into unhealthy results.
func run(ctx context.Context, comp component) Result {
	checkCtx, cancel := context.WithTimeout(ctx, comp.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Result{Status: StatusUnhealthy, Message: "check panicked", Error: fmt.Sprint(r)}
			}
		}()
		done <- comp.check(checkCtx)
	}()

	var result Result
	select {
	case result = <-done:
	case <-checkCtx.Done():
		result = Result{Status: StatusUnhealthy, Message: "check timed out", Error: checkCtx.Err().Error()}
	}
	result.Duration = time.Since(start)
	return result
}

// Handler serves the report as JSON: 200 unless unhealthy, then 503.
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := c.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(report)
	})
}

// StorageCheck reads key from backend. A read failure is unhealthy; a
// blob that does not validate is degraded, since the next save in
// lenient mode replaces it.
func StorageCheck(backend store.Backend, key string) Check {
	return func(ctx context.Context) Result {
		blob, ok, err := backend.Get(ctx, key)
		if err != nil {
			return Result{Status: StatusUnhealthy, Message: "storage read failed", Error: err.Error()}
		}
		if !ok {
			return Result{Status: StatusHealthy, Message: "no sessions stored"}
		}
		if err := persist.Validate([]byte(blob)); err != nil {
			return Result{Status: StatusDegraded, Message: "stored sessions are corrupt", Error: err.Error()}
		}
		return Result{Status: StatusHealthy, Message: "storage ok"}
	}
}
