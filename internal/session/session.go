// Package session implements the Session Manager (C6): session identity,
// the status state machine, client ownership, listing, and cleanup.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"sessionbroker/internal/brokererr"
	"sessionbroker/internal/metrics"
	"sessionbroker/internal/store"
)

// Type is a session kind (C8).
type Type string

const (
	TypeExecution  Type = "execution"
	TypeVSCode     Type = "vscode"
	TypePlaywright Type = "playwright"
)

// Status is a position in the session lifecycle state machine.
type Status string

const (
	StatusCreating Status = "creating"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

// Session is the mutable record described in spec.md §3.
type Session struct {
	ID              string            `json:"id"`
	Type            Type              `json:"type"`
	Language        string            `json:"language,omitempty"`
	Status          Status            `json:"status"`
	MemoryBudget    string            `json:"memoryBudget,omitempty"`
	WorkspaceDir    string            `json:"workspaceDir"`
	ContainerID     string            `json:"containerId,omitempty"`
	Endpoints       map[string]string `json:"endpoints,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	LastAccessedAt  time.Time         `json:"lastAccessedAt"`
	OwnerClientID   string            `json:"ownerClientId"`
	BoundPort       int               `json:"boundPort,omitempty"`
}

// legal maps each status to the set of statuses it may transition to.
var legal = map[Status]map[Status]bool{
	StatusCreating: {StatusRunning: true, StatusError: true},
	StatusRunning:  {StatusStopped: true},
	StatusStopped:  {},
	StatusError:    {},
}

func (s Status) terminal() bool {
	return s == StatusStopped || s == StatusError
}

// Manager creates, transitions, lists, and destroys sessions through the
// Metadata Store (C5). Per spec.md §5, writes for a single session id are
// serialized here via a per-id lock.
type Manager struct {
	store *store.Store

	mu      sync.Mutex
	idLocks map[string]*sync.Mutex

	maxPerOwner int // MAX_SESSIONS_PER_CLIENT, spec.md §6; 0 means unlimited
}

// New constructs a Manager backed by st. maxPerOwner caps the number of
// non-terminal sessions a single ownerClientID may hold at once (0 disables
// the cap).
func New(st *store.Store, maxPerOwner int) *Manager {
	return &Manager{store: st, idLocks: make(map[string]*sync.Mutex), maxPerOwner: maxPerOwner}
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.idLocks[id]
	if !ok {
		l = &sync.Mutex{}
		m.idLocks[id] = l
	}
	return l
}

// CreateSession allocates a session id, sets status=creating, persists it,
// and returns it. It does not start any subprocess. Rejects with
// QuotaExceeded when ownerClientID already holds maxPerOwner non-terminal
// sessions, per spec.md §6's MAX_SESSIONS_PER_CLIENT.
func (m *Manager) CreateSession(ctx context.Context, typ Type, language, memory, ownerClientID string) (sess *Session, err error) {
	defer func() { metrics.Get().RecordSessionOperation("create", err) }()

	if m.maxPerOwner > 0 && ownerClientID != "" {
		existing, err := m.ListSessions(ctx, ownerClientID)
		if err != nil {
			return nil, err
		}
		active := 0
		for _, s := range existing {
			if !s.Status.terminal() {
				active++
			}
		}
		if active >= m.maxPerOwner {
			return nil, brokererr.New(brokererr.QuotaExceeded, fmt.Sprintf("session limit reached for client: max %d", m.maxPerOwner))
		}
	}

	id := uuid.New().String()
	now := time.Now()
	sess = &Session{
		ID:             id,
		Type:           typ,
		Language:       language,
		Status:         StatusCreating,
		MemoryBudget:   memory,
		CreatedAt:      now,
		LastAccessedAt: now,
		OwnerClientID:  ownerClientID,
		Endpoints:      map[string]string{},
	}
	if err := m.persist(ctx, sess); err != nil {
		return nil, brokererr.NewInternal("failed to persist session", err)
	}
	return sess, nil
}

// Get retrieves a session by id.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	rec, ok := m.store.Get(ctx, id)
	if !ok {
		return nil, brokererr.New(brokererr.NotFound, "session not found: "+id)
	}
	var sess Session
	if err := json.Unmarshal(rec.Payload, &sess); err != nil {
		return nil, brokererr.NewInternal("corrupt session record", err)
	}
	return &sess, nil
}

// UpdateStatus enforces the status machine transitions of spec.md §4.6.
func (m *Manager) UpdateStatus(ctx context.Context, id string, newStatus Status) (err error) {
	defer func() { metrics.Get().RecordSessionOperation("update_status", err) }()

	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if !legal[sess.Status][newStatus] {
		return brokererr.New(brokererr.BadRequest, fmt.Sprintf("illegal transition %s -> %s", sess.Status, newStatus))
	}
	sess.Status = newStatus
	return m.persist(ctx, sess)
}

// SetWorkspace records the provisioned workspace directory for a session.
func (m *Manager) SetWorkspace(ctx context.Context, id, workspaceDir string) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	sess.WorkspaceDir = workspaceDir
	return m.persist(ctx, sess)
}

// SetEndpoints sets sess.Endpoints; only valid while creating or running.
func (m *Manager) SetEndpoints(ctx context.Context, id string, endpoints map[string]string) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status != StatusCreating && sess.Status != StatusRunning {
		return brokererr.New(brokererr.BadRequest, "cannot set endpoints on a terminal session")
	}
	sess.Endpoints = endpoints
	return m.persist(ctx, sess)
}

// Touch refreshes lastAccessedAt.
func (m *Manager) Touch(ctx context.Context, id string) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	sess.LastAccessedAt = time.Now()
	return m.persist(ctx, sess)
}

// DestroySession transitions the session to terminal (if not already) and
// removes it from the store. Repeated calls after the first are a no-op
// that still reports success.
func (m *Manager) DestroySession(ctx context.Context, id string) (err error) {
	defer func() { metrics.Get().RecordSessionOperation("destroy", err) }()

	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.Get(ctx, id)
	if err != nil {
		var be *brokererr.Error
		if asBrokerErr(err, &be) && be.Kind == brokererr.NotFound {
			return nil
		}
		return err
	}
	if !sess.Status.terminal() {
		sess.Status = StatusStopped
		if err := m.persist(ctx, sess); err != nil {
			return err
		}
	}
	return m.store.Delete(ctx, id)
}

// ListSessions returns every session, or only those owned by ownerClientID
// when non-empty.
func (m *Manager) ListSessions(ctx context.Context, ownerClientID string) ([]*Session, error) {
	recs := m.store.ListByOwner(ctx, ownerClientID)
	out := make([]*Session, 0, len(recs))
	for _, rec := range recs {
		var sess Session
		if err := json.Unmarshal(rec.Payload, &sess); err != nil {
			continue
		}
		out = append(out, &sess)
	}
	return out, nil
}

// CleanupExpired destroys sessions whose lastAccessedAt predates threshold.
// An empty ownerClientID sweeps every owner, matching ListSessions.
func (m *Manager) CleanupExpired(ctx context.Context, ownerClientID string, threshold time.Duration) error {
	sessions, err := m.ListSessions(ctx, ownerClientID)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-threshold)
	for _, sess := range sessions {
		if sess.LastAccessedAt.Before(cutoff) {
			if err := m.DestroySession(ctx, sess.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) persist(ctx context.Context, sess *Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return m.store.Put(ctx, store.Record{ID: sess.ID, Owner: sess.OwnerClientID, Payload: payload})
}

func asBrokerErr(err error, target **brokererr.Error) bool {
	be, ok := err.(*brokererr.Error)
	if ok {
		*target = be
	}
	return ok
}
