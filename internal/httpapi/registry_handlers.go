package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"equicert.org/internal/registry"
	"equicert.org/internal/roles"
)

type createPlantRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Location    string `json:"location"`
}

type createEquipmentRequest struct {
	PlantID     uint64 `json:"plant_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Owner       string `json:"owner"`
}

type createDocumentRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	DocType     string `json:"doc_type"`
	IPFSHash    string `json:"ipfs_hash"`
}

type createActorRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Role    string `json:"role"`
	PlantID uint64 `json:"plant_id"`
}

type finalizeRequest struct {
	Approve bool   `json:"approve"`
	Hash    string `json:"hash"`
	Reason  string `json:"reason"`
}

type verifyRequest struct {
	Hash string `json:"hash"`
}

type verifyResponse struct {
	EquipmentID uint64 `json:"equipment_id"`
	Match       bool   `json:"match"`
}

func (a *API) handlePlantsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createPlant(w, r)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"items": a.reg.Plants()})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handlePlantResource(w http.ResponseWriter, r *http.Request) {
	id, tail, err := pathID(r.URL.Path, "/v1/plants/")
	if err != nil {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	switch tail {
	case "":
		p, err := a.reg.Plant(id)
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case "equipment":
		ids, err := a.reg.PlantEquipment(id)
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"plant_id": id, "equipment_ids": ids})
	case "actors":
		ids, err := a.reg.PlantActors(id)
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"plant_id": id, "actor_ids": ids})
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) createPlant(w http.ResponseWriter, r *http.Request) {
	actingAs, ok := caller(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing caller identity")
		return
	}
	var req createPlantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.engine.RegisterPlant(actingAs, req.Name, req.Description, req.Location)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	a.audit(r.Context(), "plant.create", "plant", strconv.FormatUint(p.ID, 10), map[string]string{
		"name":     p.Name,
		"location": p.Location,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/plants/%d", p.ID))
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) handleEquipmentCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actingAs, ok := caller(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing caller identity")
		return
	}
	var req createEquipmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	eq, err := a.engine.RegisterEquipment(actingAs, req.Owner, req.PlantID, req.Name, req.Description)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	a.audit(r.Context(), "equipment.create", "equipment", strconv.FormatUint(eq.ID, 10), map[string]string{
		"plant_id": strconv.FormatUint(eq.PlantID, 10),
		"name":     eq.Name,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/equipment/%d", eq.ID))
	writeJSON(w, http.StatusCreated, eq)
}

func (a *API) handleEquipmentResource(w http.ResponseWriter, r *http.Request) {
	id, tail, err := pathID(r.URL.Path, "/v1/equipment/")
	if err != nil {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch tail {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		eq, err := a.reg.Equipment(id)
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, eq)
	case "owner":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		owner, err := a.reg.EquipmentOwner(id)
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"equipment_id": id, "owner": owner})
	case "documents":
		a.handleEquipmentDocuments(w, r, id)
	case "ready":
		a.transition(w, r, id, "equipment.mark_ready", func(actingAs string) (registry.Equipment, error) {
			return a.engine.MarkReadyForReview(actingAs, id)
		})
	case "review":
		a.transition(w, r, id, "equipment.review", func(actingAs string) (registry.Equipment, error) {
			return a.engine.ReviewEquipment(actingAs, id)
		})
	case "finalize":
		a.finalizeEquipment(w, r, id)
	case "deprecate":
		a.transition(w, r, id, "equipment.deprecate", func(actingAs string) (registry.Equipment, error) {
			return a.engine.DeprecateEquipment(actingAs, id)
		})
	case "transfer":
		a.transferEquipment(w, r, id)
	case "verify":
		a.verifyEquipment(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// transition runs a state change that takes no request body.
func (a *API) transition(w http.ResponseWriter, r *http.Request, id uint64, event string, fn func(actingAs string) (registry.Equipment, error)) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actingAs, ok := caller(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing caller identity")
		return
	}
	eq, err := fn(actingAs)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	a.audit(r.Context(), event, "equipment", strconv.FormatUint(id, 10), map[string]string{
		"status": string(eq.Status),
		"step":   string(eq.Step),
	})
	writeJSON(w, http.StatusOK, eq)
}

func (a *API) handleEquipmentDocuments(w http.ResponseWriter, r *http.Request, id uint64) {
	switch r.Method {
	case http.MethodGet:
		ids, err := a.reg.EquipmentDocuments(id)
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"equipment_id": id, "document_ids": ids})
	case http.MethodPost:
		actingAs, ok := caller(r)
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "missing caller identity")
			return
		}
		var req createDocumentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		d, err := a.engine.RegisterDocument(actingAs, id, req.Name, req.Description, registry.DocType(req.DocType), req.IPFSHash)
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		a.audit(r.Context(), "document.submit", "document", strconv.FormatUint(d.ID, 10), map[string]string{
			"equipment_id": strconv.FormatUint(id, 10),
			"doc_type":     string(d.DocType),
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/documents/%d", d.ID))
		writeJSON(w, http.StatusCreated, d)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) finalizeEquipment(w http.ResponseWriter, r *http.Request, id uint64) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actingAs, ok := caller(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing caller identity")
		return
	}
	var req finalizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	eq, err := a.engine.FinalizeCertification(actingAs, id, req.Approve, req.Hash, req.Reason)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	event := "equipment.reject"
	if req.Approve {
		event = "equipment.certify"
	}
	a.audit(r.Context(), event, "equipment", strconv.FormatUint(id, 10), map[string]string{
		"status": string(eq.Status),
		"step":   string(eq.Step),
	})
	writeJSON(w, http.StatusOK, eq)
}

// transferEquipment always refuses: the ownership binding is soulbound. The
// ledger distinguishes unknown equipment from a refused transfer.
func (a *API) transferEquipment(w http.ResponseWriter, r *http.Request, id uint64) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := caller(r); !ok {
		writeError(w, r, http.StatusUnauthorized, "missing caller identity")
		return
	}
	var req struct {
		To string `json:"to"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.reg.Ownership().Transfer(id, req.To); err != nil {
		handleCoreError(w, r, err)
		return
	}
}

func (a *API) verifyEquipment(w http.ResponseWriter, r *http.Request, id uint64) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actingAs, ok := caller(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing caller identity")
		return
	}
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	match, err := a.verifier.CheckAndLog(r.Context(), actingAs, id, req.Hash)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{EquipmentID: id, Match: match})
}

// handleDocumentResource serves a document through the access policy: the
// authenticated caller is the viewer.
func (a *API) handleDocumentResource(w http.ResponseWriter, r *http.Request) {
	id, tail, err := pathID(r.URL.Path, "/v1/documents/")
	if err != nil || tail != "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	viewer, ok := caller(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing caller identity")
		return
	}
	doc, err := a.policy.GetIfAuthorized(id, viewer)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) handleActorsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"items": a.reg.Actors()})
	case http.MethodPost:
		a.registerParticipant(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleActorResource(w http.ResponseWriter, r *http.Request) {
	id, tail, err := pathID(r.URL.Path, "/v1/actors/")
	if err != nil || tail != "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, err := a.reg.Actor(id)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actor)
}

func (a *API) registerParticipant(w http.ResponseWriter, r *http.Request) {
	actingAs, ok := caller(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing caller identity")
		return
	}
	var req createActorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := roles.Parse(req.Role)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	actor, err := a.engine.RegisterParticipant(actingAs, req.Name, req.Address, role, req.PlantID)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	a.audit(r.Context(), "actor.register", "actor", strconv.FormatUint(actor.ID, 10), map[string]string{
		"address": actor.Address,
		"role":    string(actor.Role),
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/actors/%d", actor.ID))
	writeJSON(w, http.StatusCreated, actor)
}
