package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"equicert.org/internal/access"
	"equicert.org/internal/identity"
	"equicert.org/internal/integrity"
	"equicert.org/internal/lifecycle"
	"equicert.org/internal/registry"
	"equicert.org/internal/roles"
	"equicert.org/internal/stream"
)

const (
	gatewayID  = "gateway-1"
	superAdmin = "0xroot"
	operator   = "0xoperator"
	maker      = "0xmanufacturer"
	lab        = "0xlab"
	authority  = "0xauthority"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("EQUICERT_AUTH_SECRET", "test-secret")
	identity.ResetSecretForTests()

	reg := registry.New()
	if err := reg.SetGateway(gatewayID); err != nil {
		t.Fatalf("SetGateway: %v", err)
	}
	dir, err := roles.NewDirectory(superAdmin)
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	if err := dir.Grant(roles.PlantOperatorAdmin, operator, superAdmin); err != nil {
		t.Fatalf("grant operator: %v", err)
	}
	for _, g := range []struct {
		role    roles.Role
		account string
	}{
		{roles.Manufacturer, maker},
		{roles.Laboratory, lab},
		{roles.RegulatoryAuthority, authority},
	} {
		if err := dir.Grant(g.role, g.account, operator); err != nil {
			t.Fatalf("grant %s: %v", g.role, err)
		}
	}

	events := stream.New()
	api := New(Config{
		Version:    "test",
		Registry:   reg,
		Directory:  dir,
		Engine:     lifecycle.NewEngine(reg, dir, gatewayID, events),
		Policy:     access.NewPolicy(dir, reg),
		Verifier:   integrity.NewVerifier(reg, events),
		Events:     events,
		RateBurst:  100,
		RatePerSec: 100,
	})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) asUser(address string) map[string]string {
	c.t.Helper()
	resp := c.post("/v1/auth/token", map[string]any{"address": address}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected token status: %d", resp.StatusCode)
	}
	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode token response: %v", err)
	}
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return map[string]string{"Authorization": "Bearer " + payload.Token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestAPICertificationFlow(t *testing.T) {
	api := newTestAPI(t)
	asOperator := api.asUser(operator)
	asMaker := api.asUser(maker)
	asLab := api.asUser(lab)
	asAuthority := api.asUser(authority)

	// Plant.
	resp := api.post("/v1/plants", map[string]any{
		"name":        "North Plant",
		"description": "Primary site",
		"location":    "Hamburg",
	}, asOperator)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create plant: %d", resp.StatusCode)
	}
	if resp.Header.Get("Location") != "/v1/plants/0" {
		t.Fatalf("unexpected location: %q", resp.Header.Get("Location"))
	}
	plant := decode[map[string]any](t, resp)
	if plant["registered_by"] != operator {
		t.Fatalf("registering caller not forwarded: %v", plant["registered_by"])
	}

	// Equipment, registered by the manufacturer.
	resp = api.post("/v1/equipment", map[string]any{
		"plant_id":    0,
		"name":        "Press",
		"description": "Hydraulic press",
	}, asMaker)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create equipment: %d", resp.StatusCode)
	}
	eq := decode[map[string]any](t, resp)
	if eq["status"] != "registered" || eq["step"] != "registered" {
		t.Fatalf("unexpected entry state: %v/%v", eq["status"], eq["step"])
	}

	resp = api.get("/v1/equipment/0/owner", nil, asOperator)
	owner := decode[map[string]any](t, resp)
	if owner["owner"] != maker {
		t.Fatalf("unexpected owner: %v", owner["owner"])
	}

	// Evidence.
	resp = api.post("/v1/equipment/0/documents", map[string]any{
		"name":        "Vibration report",
		"description": "Test series A",
		"doc_type":    "lab_report",
		"ipfs_hash":   "bafyhash",
	}, asLab)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit document: %d", resp.StatusCode)
	}

	// The submitter reads its own document; the manufacturer's role does not
	// admit lab reports.
	resp = api.get("/v1/documents/0", nil, asLab)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submitter read: %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp = api.get("/v1/documents/0", nil, asMaker)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for manufacturer, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Review pipeline.
	resp = api.post("/v1/equipment/0/ready", nil, asOperator)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mark ready: %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp = api.post("/v1/equipment/0/review", nil, asAuthority)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("review: %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp = api.post("/v1/equipment/0/finalize", map[string]any{
		"approve": true,
		"hash":    "sha256:abc",
	}, asAuthority)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("finalize: %d", resp.StatusCode)
	}
	final := decode[map[string]any](t, resp)
	if final["status"] != "certified" || final["final_certification_hash"] != "sha256:abc" {
		t.Fatalf("unexpected final record: %v", final)
	}

	// Integrity check.
	resp = api.post("/v1/equipment/0/verify", map[string]any{"hash": "sha256:abc"}, asLab)
	verdict := decode[verifyResponse](t, resp)
	if !verdict.Match {
		t.Fatal("expected hash match")
	}
	resp = api.post("/v1/equipment/0/verify", map[string]any{"hash": "sha256:tampered"}, asLab)
	verdict = decode[verifyResponse](t, resp)
	if verdict.Match {
		t.Fatal("expected hash mismatch")
	}

	// Ownership stays soulbound.
	resp = api.post("/v1/equipment/0/transfer", map[string]any{"to": "0xother"}, asMaker)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for transfer, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAPIEnforcesAuth(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/plants", map[string]any{
		"name":        "P",
		"description": "D",
		"location":    "L",
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	var errBody map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errBody["error"] == "" {
		t.Fatalf("expected error message")
	}
}

func TestAPIStatusMapping(t *testing.T) {
	api := newTestAPI(t)
	asOperator := api.asUser(operator)
	asMaker := api.asUser(maker)
	asAuthority := api.asUser(authority)

	// 400: missing fields.
	resp := api.post("/v1/plants", map[string]any{"name": "P"}, asOperator)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// 403: manufacturer cannot register plants.
	resp = api.post("/v1/plants", map[string]any{
		"name":        "P",
		"description": "D",
		"location":    "L",
	}, asMaker)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// 404: unknown equipment.
	resp = api.get("/v1/equipment/99", nil, asOperator)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// 409: deprecating twice.
	resp = api.post("/v1/plants", map[string]any{
		"name":        "P",
		"description": "D",
		"location":    "L",
	}, asOperator)
	resp.Body.Close()
	resp = api.post("/v1/equipment", map[string]any{
		"plant_id":    0,
		"name":        "Press",
		"description": "D",
	}, asOperator)
	resp.Body.Close()
	resp = api.post("/v1/equipment/0/deprecate", nil, asAuthority)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deprecate: %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp = api.post("/v1/equipment/0/deprecate", nil, asAuthority)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAPIRoleEndpoints(t *testing.T) {
	api := newTestAPI(t)
	asOperator := api.asUser(operator)
	asMaker := api.asUser(maker)

	resp := api.post("/v1/roles/grant", map[string]any{
		"role":    "laboratory",
		"account": "0xnewlab",
	}, asOperator)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("grant: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.get("/v1/roles/has", url.Values{
		"role":    []string{"laboratory"},
		"account": []string{"0xnewlab"},
	}, asOperator)
	held := decode[map[string]any](t, resp)
	if held["held"] != true {
		t.Fatalf("expected role to be held: %v", held)
	}

	resp = api.post("/v1/roles/revoke", map[string]any{
		"role":    "laboratory",
		"account": "0xnewlab",
	}, asOperator)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.get("/v1/roles/has", url.Values{
		"role":    []string{"laboratory"},
		"account": []string{"0xnewlab"},
	}, asOperator)
	held = decode[map[string]any](t, resp)
	if held["held"] != false {
		t.Fatalf("expected role to be revoked: %v", held)
	}

	// A manufacturer is not in the admin chain for laboratory.
	resp = api.post("/v1/roles/grant", map[string]any{
		"role":    "laboratory",
		"account": "0xother",
	}, asMaker)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAPIParticipantOnboarding(t *testing.T) {
	api := newTestAPI(t)
	asOperator := api.asUser(operator)

	resp := api.post("/v1/actors", map[string]any{
		"name":    "Lab GmbH",
		"address": "0xnewlab",
		"role":    "laboratory",
	}, asOperator)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("onboard: %d", resp.StatusCode)
	}
	actor := decode[map[string]any](t, resp)
	if actor["role"] != "laboratory" {
		t.Fatalf("unexpected actor: %v", actor)
	}

	// Duplicate onboarding conflicts.
	resp = api.post("/v1/actors", map[string]any{
		"name":    "Lab GmbH",
		"address": "0xnewlab",
		"role":    "laboratory",
	}, asOperator)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.get("/v1/actors/0", nil, asOperator)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get actor: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestTokenEndpointValidation(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auth/token", map[string]any{"address": ""}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
