// Package health собирает состояние зависимостей сервиса для /healthz, /readyz и /livez.
//
// Каждая зависимость регистрируется как Probe с уровнем важности: отказ
// критичной зависимости (хранилище) делает сервис unhealthy, отказ
// необязательной (кэш корзины) только понижает статус до degraded.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// DefaultProbeTimeout ограничивает общий прогон проверок.
const DefaultProbeTimeout = 2 * time.Second

// Probe возвращает nil, если зависимость доступна.
type Probe func(ctx context.Context) error

// Severity определяет вклад отказа зависимости в общий статус.
type Severity int

const (
	Critical Severity = iota
	Optional
)

// ComponentReport результат проверки одной зависимости.
type ComponentReport struct {
	Name      string `json:"name"`
	Status    Status `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// Report сводный ответ /healthz.
type Report struct {
	Status        Status            `json:"status"`
	Version       string            `json:"version,omitempty"`
	CheckedAt     time.Time         `json:"checked_at"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Components    []ComponentReport `json:"components"`
}

// Component ищет отчёт зависимости по имени.
func (r Report) Component(name string) (ComponentReport, bool) {
	for _, c := range r.Components {
		if c.Name == name {
			return c, true
		}
	}
	return ComponentReport{}, false
}

type component struct {
	probe    Probe
	severity Severity
}

// Registry хранит зарегистрированные проверки и отдаёт их по HTTP.
type Registry struct {
	mu         sync.RWMutex
	components map[string]component
	version    string
	started    time.Time
	timeout    time.Duration
	now        func() time.Time
}

func NewRegistry(version string) *Registry {
	return &Registry{
		components: make(map[string]component),
		version:    version,
		started:    time.Now(),
		timeout:    DefaultProbeTimeout,
		now:        time.Now,
	}
}

// Register добавляет или заменяет проверку. Пустое имя и nil probe игнорируются.
func (r *Registry) Register(name string, severity Severity, probe Probe) {
	name = strings.TrimSpace(name)
	if name == "" || probe == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[name] = component{probe: probe, severity: severity}
}

// Names возвращает отсортированные имена проверок.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.components))
	for name := range r.components {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Report прогоняет проверки параллельно в пределах общего таймаута.
func (r *Registry) Report(ctx context.Context) Report {
	r.mu.RLock()
	snapshot := make(map[string]component, len(r.components))
	for name, c := range r.components {
		snapshot[name] = c
	}
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		reports = make([]ComponentReport, 0, len(snapshot))
		g       errgroup.Group
	)
	for name, c := range snapshot {
		name, c := name, c
		g.Go(func() error {
			report := probeComponent(ctx, name, c)
			mu.Lock()
			reports = append(reports, report)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	slices.SortFunc(reports, func(a, b ComponentReport) int { return strings.Compare(a.Name, b.Name) })

	return Report{
		Status:        aggregate(reports),
		Version:       r.version,
		CheckedAt:     r.now().UTC(),
		UptimeSeconds: int64(r.now().Sub(r.started).Seconds()),
		Components:    reports,
	}
}

func probeComponent(ctx context.Context, name string, c component) ComponentReport {
	started := time.Now()
	err := c.probe(ctx)
	report := ComponentReport{
		Name:      name,
		Status:    StatusHealthy,
		LatencyMs: time.Since(started).Milliseconds(),
	}
	if err == nil {
		return report
	}
	report.Error = err.Error()
	report.Status = StatusUnhealthy
	if c.severity == Optional {
		report.Status = StatusDegraded
	}
	return report
}

func aggregate(reports []ComponentReport) Status {
	overall := StatusHealthy
	for _, r := range reports {
		switch r.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

// ServeHTTP отдаёт полный отчёт; 503 только при отказе критичной зависимости.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	report := r.Report(req.Context())

	code := http.StatusOK
	if report.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}

// Ready отвечает на readiness probe.
func (r *Registry) Ready(w http.ResponseWriter, req *http.Request) {
	if r.Report(req.Context()).Status == StatusUnhealthy {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ready"))
}

// Live отвечает на liveness probe: процесс жив, пока обслуживает HTTP.
func Live(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}
