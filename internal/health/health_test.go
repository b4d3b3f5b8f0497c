package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"touchmap/internal/store"
)

func healthy(context.Context) Result   { return Result{Status: StatusHealthy} }
func unhealthy(context.Context) Result { return Result{Status: StatusUnhealthy, Error: "down"} }

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		name     string
		critical bool
		check    Check
		want     Status
	}{
		{"all healthy", true, healthy, StatusHealthy},
		{"critical failure", true, unhealthy, StatusUnhealthy},
		{"optional failure", false, unhealthy, StatusDegraded},
		{"degraded", true, func(context.Context) Result { return Result{Status: StatusDegraded} }, StatusDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			c.Register("base", true, 0, healthy)
			c.Register("component", tt.critical, 0, tt.check)

			report := c.Check(context.Background())
			assert.Equal(t, tt.want, report.Status)
			assert.Len(t, report.Components, 2)
		})
	}
}

func TestCheckTimeoutAndPanic(t *testing.T) {
	c := NewChecker()
	c.Register("slow", true, 20*time.Millisecond, func(ctx context.Context) Result {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return Result{Status: StatusHealthy}
	})
	c.Register("panics", false, 0, func(context.Context) Result { panic("boom") })

	report := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Equal(t, "check timed out", report.Components["slow"].Message)
	assert.Equal(t, "boom", report.Components["panics"].Error)
	assert.Equal(t, []string{"panics", "slow"}, c.Names())
}

func TestHandler(t *testing.T) {
	c := NewChecker()
	c.Register("storage", true, 0, healthy)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, StatusHealthy, report.Status)

	c.Register("storage", true, 0, unhealthy)
	rec = httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type failingBackend struct{ store.Backend }

func (failingBackend) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("disk on fire")
}

func TestStorageCheck(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	check := StorageCheck(mem, "storage@touchmap")

	assert.Equal(t, StatusHealthy, check(ctx).Status, "empty storage")

	require.NoError(t, mem.Set(ctx, "storage@touchmap", `{}`))
	assert.Equal(t, StatusHealthy, check(ctx).Status)

	require.NoError(t, mem.Set(ctx, "storage@touchmap", `[1,2`))
	assert.Equal(t, StatusDegraded, check(ctx).Status)

	r := StorageCheck(failingBackend{}, "storage@touchmap")(ctx)
	assert.Equal(t, StatusUnhealthy, r.Status)
	assert.Contains(t, r.Error, "disk on fire")
}
