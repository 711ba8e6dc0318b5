package health

import (
	"context"
	"runtime"
	"time"

	"sessionbroker/internal/admission"
	"sessionbroker/internal/metrics"
	"sessionbroker/internal/session"
	"sessionbroker/internal/workspace"
)

// Status is one health value, used both for the overall verdict and for each
// component in the Document returned by Reporter.Status, per spec.md §4.9.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// MemorySnapshot mirrors spec.md §4.9's process memory fields.
type MemorySnapshot struct {
	RSSBytes       uint64 `json:"rssBytes"`
	HeapUsedBytes  uint64 `json:"heapUsedBytes"`
	HeapTotalBytes uint64 `json:"heapTotalBytes"`
	ExternalBytes  uint64 `json:"externalBytes"`
}

// ComponentStatus is one component's contribution to the overall verdict.
type ComponentStatus struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Document is the full status() response.
type Document struct {
	Overall         Status            `json:"overall"`
	UptimeSeconds   float64           `json:"uptimeSeconds"`
	Memory          MemorySnapshot    `json:"memory"`
	Components      []ComponentStatus `json:"components"`
	SessionsByType   map[string]int   `json:"sessionsByType"`
	SessionsByStatus map[string]int   `json:"sessionsByStatus"`
	SessionsByLang   map[string]int   `json:"sessionsByLanguage"`
}

// severity ranks statuses so the overall verdict is the worst observed.
func severity(s Status) int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

func worst(a, b Status) Status {
	if severity(b) > severity(a) {
		return b
	}
	return a
}

// Reporter computes the status document from the live components.
type Reporter struct {
	sessions  *session.Manager
	ws        *workspace.Provisioner
	breakers  *admission.Registry
	startedAt time.Time
	languages []string
}

// New constructs a Reporter. languages is the full registered language set,
// used to report per-language workspace degradation.
func New(sessions *session.Manager, ws *workspace.Provisioner, breakers *admission.Registry, languages []string) *Reporter {
	return &Reporter{sessions: sessions, ws: ws, breakers: breakers, startedAt: time.Now(), languages: languages}
}

// Status builds the status document described in spec.md §4.9.
func (r *Reporter) Status(ctx context.Context) Document {
	doc := Document{
		Overall:          StatusHealthy,
		UptimeSeconds:    time.Since(r.startedAt).Seconds(),
		Memory:           memorySnapshot(),
		SessionsByType:   map[string]int{},
		SessionsByStatus: map[string]int{},
		SessionsByLang:   map[string]int{},
	}

	sessions, err := r.sessions.ListSessions(ctx, "")
	sessionComponent := ComponentStatus{Name: "session_manager", Status: StatusHealthy}
	if err != nil {
		sessionComponent.Status = StatusUnhealthy
		sessionComponent.Detail = err.Error()
	} else {
		for _, s := range sessions {
			doc.SessionsByType[string(s.Type)]++
			doc.SessionsByStatus[string(s.Status)]++
			if s.Language != "" {
				doc.SessionsByLang[s.Language]++
			}
		}
		active := map[[2]string]int{}
		for _, s := range sessions {
			active[[2]string{string(s.Type), string(s.Status)}]++
		}
		for key, count := range active {
			metrics.Get().SetSessionsActive(key[0], key[1], count)
		}
	}
	doc.Components = append(doc.Components, sessionComponent)
	doc.Overall = worst(doc.Overall, sessionComponent.Status)

	workspaceComponent := ComponentStatus{Name: "workspace_provisioner", Status: StatusHealthy}
	degradedCount := 0
	for _, lang := range r.languages {
		if r.ws.Degraded(lang) {
			degradedCount++
		}
	}
	if degradedCount > 0 {
		workspaceComponent.Status = StatusDegraded
		workspaceComponent.Detail = "base workspace provisioning failed for one or more languages"
	}
	doc.Components = append(doc.Components, workspaceComponent)
	doc.Overall = worst(doc.Overall, workspaceComponent.Status)

	for name, breaker := range r.breakers.All() {
		state := breaker.State()
		metrics.Get().RecordCircuitBreakerState(name, state)
		comp := ComponentStatus{Name: "breaker:" + name, Status: StatusHealthy}
		switch state {
		case "open":
			comp.Status = StatusUnhealthy
			comp.Detail = "circuit open"
		case "half-open":
			comp.Status = StatusDegraded
			comp.Detail = "circuit probing recovery"
		}
		doc.Components = append(doc.Components, comp)
		doc.Overall = worst(doc.Overall, comp.Status)
	}

	return doc
}

func memorySnapshot() MemorySnapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemorySnapshot{
		RSSBytes:       m.Sys,
		HeapUsedBytes:  m.HeapAlloc,
		HeapTotalBytes: m.HeapSys,
		ExternalBytes:  m.StackSys + m.MSpanSys + m.MCacheSys,
	}
}
