package paramstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
)

// Status is a backend's availability for a given role.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusMaintenance Status = "maintenance"
	StatusUnavailable Status = "unavailable"
)

func parseStatus(raw string, logger *zap.Logger, backend, role string) Status {
	switch strings.ToLower(raw) {
	case string(StatusAvailable):
		return StatusAvailable
	case string(StatusMaintenance):
		return StatusMaintenance
	case string(StatusUnavailable):
		return StatusUnavailable
	default:
		logger.Error("paramstore: unknown backend status, falling back to unavailable",
			zap.String("backend", backend), zap.String("role", role), zap.String("raw_status", raw))
		return StatusUnavailable
	}
}

// Entry is one (backend, role) availability record.
type Entry struct {
	Status      Status
	Description string
}

// ErrUnknownBackend and ErrUnknownRole distinguish the two "not found"
// shapes the view can report, matching the original's ValueError messages
// that differ by which key was missing.
type ErrUnknownBackend struct{ Backend string }

func (e *ErrUnknownBackend) Error() string { return fmt.Sprintf("paramstore: unknown backend %q", e.Backend) }

type ErrUnknownRole struct {
	Backend, Role string
}

func (e *ErrUnknownRole) Error() string {
	return fmt.Sprintf("paramstore: unknown role %q for backend %q", e.Role, e.Backend)
}

// corruptedEntry is returned (not as an error) when the TOML document is
// missing the required "backends" table: the document is readable but
// structurally wrong, so the view degrades to "unavailable" rather than
// failing the caller's request.
var corruptedEntry = Entry{Status: StatusUnavailable, Description: "Backend availability information is currently unavailable."}

type document struct {
	Backends map[string]map[string]rawEntry `toml:"backends"`
}

type rawEntry struct {
	Status      string `toml:"status"`
	Description string `toml:"description"`
}

// View is a read-through of the backend-availability TOML document. It
// holds no lock: it keeps no mutable state, and each call fetches and
// parses the parameter on its own, so concurrent calls are not serialized.
type View struct {
	store     Store
	paramName string
	logger    *zap.Logger
}

// New constructs a View and eagerly fetches+parses the parameter once to
// fail fast: a malformed document at construction time is fatal, matching
// the original's RuntimeError on an unparseable parameter.
func New(ctx context.Context, store Store, paramName string, logger *zap.Logger) (*View, error) {
	v := &View{store: store, paramName: paramName, logger: logger}
	if _, err := v.fetch(ctx); err != nil {
		return nil, fmt.Errorf("paramstore: backend availability parameter is unparseable at startup: %w", err)
	}
	return v, nil
}

// fetch retrieves and parses the parameter fresh; it is not cached across
// calls per the ownership note in the data model ("refreshed per request,
// not cached across requests").
func (v *View) fetch(ctx context.Context) (*document, error) {
	raw, err := v.store.GetParameter(ctx, v.paramName)
	if err != nil {
		return nil, err
	}
	var doc document
	if err := toml.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("parse backend availability TOML: %w", err)
	}
	return &doc, nil
}

// GetAvailability returns the availability entry for (backend, role). A
// later (post-construction) parse failure is not fatal: it is logged and
// reported as a nil status via a nil *Entry, treated as "unknown" upstream.
func (v *View) GetAvailability(ctx context.Context, backend, role string) (*Entry, error) {
	doc, err := v.fetch(ctx)
	if err != nil {
		v.logger.Error("paramstore: failed to refresh backend availability", zap.Error(err))
		return nil, nil
	}
	if doc.Backends == nil {
		v.logger.Error("paramstore: backend availability document missing top-level backends table")
		e := corruptedEntry
		return &e, nil
	}
	roles, ok := doc.Backends[backend]
	if !ok {
		return nil, &ErrUnknownBackend{Backend: backend}
	}
	raw, ok := roles[role]
	if !ok {
		return nil, &ErrUnknownRole{Backend: backend, Role: role}
	}
	return &Entry{
		Status:      parseStatus(raw.Status, v.logger, backend, role),
		Description: raw.Description,
	}, nil
}

// GetAllBackends returns every backend name currently present in the
// document, for the service-status RPC.
func (v *View) GetAllBackends(ctx context.Context) ([]string, error) {
	doc, err := v.fetch(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(doc.Backends))
	for name := range doc.Backends {
		names = append(names, name)
	}
	return names, nil
}
