// Package conflict tracks the last-seen version and payload of each
// collaboratively edited resource and resolves concurrent writes with a
// fixed last-write-wins policy. Snapshots live in process memory only; this
// is a liveness aid for live editing sessions, not the store of record.
package conflict

import (
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"time"
)

const StrategyLastWriteWins = "last-write-wins"

// Outcome classifies one update decision.
type Outcome int

const (
	// OutcomeAccepted: no concurrent write; the snapshot advanced and the
	// update should be broadcast to other editors.
	OutcomeAccepted Outcome = iota
	// OutcomeConflict: a second write at the same version; resolved by
	// last-write-wins and reported back to the originator.
	OutcomeConflict
	// OutcomeStale: the writer's stated version is behind the snapshot;
	// the write is rejected and the writer must resync.
	OutcomeStale
)

// Resolution describes how a conflict was settled, in terms the losing
// client can use to reconcile local state.
type Resolution struct {
	Strategy         string         `json:"strategy"`
	Timestamp        time.Time      `json:"timestamp"`
	ConflictedFields []string       `json:"conflictedFields"`
	OriginalValue    map[string]any `json:"originalValue"`
	IncomingValue    map[string]any `json:"incomingValue"`
	ResolvedValue    map[string]any `json:"resolvedValue"`
	DocumentID       string         `json:"documentId,omitempty"`
	ResourceID       string         `json:"resourceId,omitempty"`
}

// Result is the engine's decision for one update.
type Result struct {
	Outcome Outcome
	// Version is the snapshot's version after the decision.
	Version int64
	// Data is the snapshot's payload after the decision. For a stale write
	// this is the current state the client must resync to.
	Data       map[string]any
	Resolution *Resolution
}

type snapshot struct {
	version   int64
	data      map[string]any
	timestamp time.Time
}

// Engine holds one canonical snapshot per resource id. All decisions for a
// resource are serialized; a single mutex suffices since every decision is a
// short in-memory read-modify-write.
type Engine struct {
	mu        sync.Mutex
	snapshots map[string]*snapshot
	logger    *slog.Logger
	now       func() time.Time
}

func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{
		snapshots: make(map[string]*snapshot),
		logger:    logger.With(slog.String("component", "conflict_engine")),
		now:       time.Now,
	}
}

// ApplyDocument processes a document update. The document variant of
// last-write-wins always prefers the incoming write: the second writer at a
// given version wins by arriving second.
func (e *Engine) ApplyDocument(documentID string, version int64, data map[string]any) Result {
	key := "doc:" + documentID

	e.mu.Lock()
	defer e.mu.Unlock()

	cur, ok := e.snapshots[key]
	if !ok || version > cur.version {
		next := &snapshot{version: version + 1, data: data, timestamp: e.now()}
		e.snapshots[key] = next
		return Result{Outcome: OutcomeAccepted, Version: next.version, Data: data}
	}

	if version < cur.version {
		return Result{Outcome: OutcomeStale, Version: cur.version, Data: cur.data}
	}

	// version race: a second write at the current version.
	resolution := &Resolution{
		Strategy:         StrategyLastWriteWins,
		Timestamp:        e.now(),
		ConflictedFields: conflictedFields(cur.data, data),
		OriginalValue:    cur.data,
		IncomingValue:    data,
		ResolvedValue:    data,
		DocumentID:       documentID,
	}
	next := &snapshot{version: version + 1, data: data, timestamp: e.now()}
	e.snapshots[key] = next

	e.logger.Debug("Document conflict resolved",
		slog.String("documentID", documentID),
		slog.Int64("version", next.version),
	)
	return Result{Outcome: OutcomeConflict, Version: next.version, Data: data, Resolution: resolution}
}

// ApplyResource processes a resource update. The resource variant compares
// the incoming write's timestamp against the snapshot's and keeps whichever
// is chronologically later. A rejected write does not bump the version.
func (e *Engine) ApplyResource(resourceID string, version int64, data map[string]any, timestamp time.Time) Result {
	key := "resource:" + resourceID

	e.mu.Lock()
	defer e.mu.Unlock()

	cur, ok := e.snapshots[key]
	if !ok || version > cur.version {
		next := &snapshot{version: version + 1, data: data, timestamp: timestamp}
		e.snapshots[key] = next
		return Result{Outcome: OutcomeAccepted, Version: next.version, Data: data}
	}

	if version < cur.version {
		return Result{Outcome: OutcomeStale, Version: cur.version, Data: cur.data}
	}

	incomingNewer := timestamp.After(cur.timestamp)
	resolved := cur.data
	if incomingNewer {
		resolved = data
	}

	resolution := &Resolution{
		Strategy:         StrategyLastWriteWins,
		Timestamp:        e.now(),
		ConflictedFields: conflictedFields(cur.data, data),
		OriginalValue:    cur.data,
		IncomingValue:    data,
		ResolvedValue:    resolved,
		ResourceID:       resourceID,
	}

	result := Result{Outcome: OutcomeConflict, Version: cur.version, Data: cur.data, Resolution: resolution}
	if incomingNewer {
		next := &snapshot{version: version + 1, data: data, timestamp: timestamp}
		e.snapshots[key] = next
		result.Version = next.version
		result.Data = data
	}

	e.logger.Debug("Resource conflict resolved",
		slog.String("resourceID", resourceID),
		slog.Bool("incomingWon", incomingNewer),
	)
	return result
}

// conflictedFields returns the keys present in the incoming payload whose
// values differ from the snapshot, sorted for deterministic reporting.
func conflictedFields(original, incoming map[string]any) []string {
	fields := make([]string, 0, len(incoming))
	for key, value := range incoming {
		if !reflect.DeepEqual(original[key], value) {
			fields = append(fields, key)
		}
	}
	sort.Strings(fields)
	return fields
}
