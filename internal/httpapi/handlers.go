// Package httpapi is the gateway boundary of the certification service. It is
// the single principal allowed to call registry mutators; every handler
// authenticates the caller, forwards the caller's address into the core as
// actingAs, and maps core errors onto HTTP statuses.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"equicert.org/internal/access"
	"equicert.org/internal/audit"
	"equicert.org/internal/identity"
	"equicert.org/internal/integrity"
	"equicert.org/internal/lifecycle"
	"equicert.org/internal/obs"
	"equicert.org/internal/ownership"
	"equicert.org/internal/registry"
	"equicert.org/internal/roles"
	"equicert.org/internal/stream"
)

// ReadyProbe reports readiness, pinging the audit archive when configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config carries the collaborators the API fronts.
type Config struct {
	Version    string
	ReadyProbe ReadyProbe

	Registry  *registry.Registry
	Directory *roles.Directory
	Engine    *lifecycle.Engine
	Policy    *access.Policy
	Verifier  *integrity.Verifier
	Events    *stream.Stream
	Sink      audit.Sink

	RateBurst   int
	RatePerSec  int
	MaxBodySize int64
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	version    string
	readyProbe ReadyProbe

	reg      *registry.Registry
	dir      *roles.Directory
	engine   *lifecycle.Engine
	policy   *access.Policy
	verifier *integrity.Verifier
	events   *stream.Stream
	sink     audit.Sink

	rateBurst   int
	ratePerSec  int
	maxBodySize int64
}

// New wires the routes.
func New(cfg Config) *API {
	a := &API{
		mux:         http.NewServeMux(),
		version:     cfg.Version,
		readyProbe:  cfg.ReadyProbe,
		reg:         cfg.Registry,
		dir:         cfg.Directory,
		engine:      cfg.Engine,
		policy:      cfg.Policy,
		verifier:    cfg.Verifier,
		events:      cfg.Events,
		sink:        cfg.Sink,
		rateBurst:   cfg.RateBurst,
		ratePerSec:  cfg.RatePerSec,
		maxBodySize: cfg.MaxBodySize,
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 50
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 25
	}
	if a.maxBodySize <= 0 {
		a.maxBodySize = 1 << 20
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	a.mux.HandleFunc("/v1/plants", a.handlePlantsCollection)
	a.mux.HandleFunc("/v1/plants/", a.handlePlantResource)
	a.mux.HandleFunc("/v1/equipment", a.handleEquipmentCollection)
	a.mux.HandleFunc("/v1/equipment/", a.handleEquipmentResource)
	a.mux.HandleFunc("/v1/documents/", a.handleDocumentResource)
	a.mux.HandleFunc("/v1/actors", a.handleActorsCollection)
	a.mux.HandleFunc("/v1/actors/", a.handleActorResource)
	a.mux.HandleFunc("/v1/roles/grant", a.handleRoleGrant)
	a.mux.HandleFunc("/v1/roles/revoke", a.handleRoleRevoke)
	a.mux.HandleFunc("/v1/roles/has", a.handleRoleHas)
	a.mux.HandleFunc("/v1/events", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	h = MaxBodyBytes(h, a.maxBodySize)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "equicert-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "equicert-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// audit writes the structured audit line and mirrors it into the durable sink
// when one is configured. Archive failures are logged, never surfaced.
func (a *API) audit(ctx context.Context, event, entityKind, entityID string, fields map[string]string) {
	logFields := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		logFields[k] = v
	}
	logFields["entity_kind"] = entityKind
	logFields["entity_id"] = entityID
	_ = audit.LogEvent(ctx, event, logFields)

	if a.sink == nil {
		return
	}
	actor, _ := identity.CallerFromContext(ctx)
	entry := audit.Entry{
		Actor:      actor,
		Event:      event,
		EntityKind: entityKind,
		EntityID:   entityID,
		Fields:     fields,
	}
	if err := a.sink.Append(ctx, entry); err != nil {
		obs.LogRequest(map[string]any{
			"type":  "audit_sink_error",
			"event": event,
			"error": err.Error(),
		})
	}
}

// caller extracts the authenticated caller address.
func caller(r *http.Request) (string, bool) {
	return identity.CallerFromContext(r.Context())
}

// pathID parses the numeric id segment following prefix.
func pathID(path, prefix string) (uint64, string, error) {
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return 0, "", errors.New("resource not found")
	}
	idPart := rest
	tail := ""
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		idPart, tail = rest[:i], rest[i+1:]
	}
	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil {
		return 0, "", errors.New("invalid identifier")
	}
	return id, tail, nil
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleCoreError maps core sentinel errors onto HTTP statuses.
func handleCoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, registry.ErrInvalidInput),
		errors.Is(err, lifecycle.ErrInvalidInput),
		errors.Is(err, roles.ErrInvalidInput),
		errors.Is(err, roles.ErrUnknownRole),
		errors.Is(err, ownership.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, lifecycle.ErrUnauthorized),
		errors.Is(err, roles.ErrUnauthorized),
		errors.Is(err, registry.ErrUnauthorized),
		errors.Is(err, access.ErrUnauthorizedDocumentAccess):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, registry.ErrPlantNotFound),
		errors.Is(err, registry.ErrEquipmentNotFound),
		errors.Is(err, registry.ErrDocumentNotFound),
		errors.Is(err, registry.ErrActorNotFound),
		errors.Is(err, ownership.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, lifecycle.ErrActionNotAllowedInCurrentStep),
		errors.Is(err, lifecycle.ErrEquipmentAlreadyCertified),
		errors.Is(err, lifecycle.ErrEquipmentDeprecated),
		errors.Is(err, lifecycle.ErrEquipmentAlreadyDeprecated),
		errors.Is(err, lifecycle.ErrEquipmentNotPending),
		errors.Is(err, lifecycle.ErrEquipmentNotUnderReview),
		errors.Is(err, roles.ErrRoleAlreadyAssigned),
		errors.Is(err, registry.ErrAlreadyConfigured),
		errors.Is(err, ownership.ErrSoulbound),
		errors.Is(err, ownership.ErrAlreadyBound),
		errors.Is(err, integrity.ErrActionNotAllowed):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
