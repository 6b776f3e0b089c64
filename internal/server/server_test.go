package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"siteline/internal/config"
	"siteline/internal/db"
	"siteline/internal/domain"
	"siteline/internal/engine"
	"siteline/internal/migrate"
	"siteline/internal/workflow"
)

type testServer struct {
	URL    string
	Engine *engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Close() { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("site-1")
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC) }
	if _, err := e.InitProject(context.Background(), "site-1", "Test Site", "owner"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	handler, err := New(Config{
		Engine: e,
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyActorHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{Timeout: 5 * time.Second},
		close: func() {
			srv.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

// do sends a request as the given actor (legacy header) and decodes the
// JSON response into out when non-nil.
func (s *testServer) do(t *testing.T, method, path, actor string, body any, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set("X-Actor-Id", actor)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decode %s %s (%d): %v\n%s", method, path, resp.StatusCode, err, data)
		}
	}
	return resp
}

func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	env, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("missing error envelope: %v", body)
	}
	code, _ := env["code"].(string)
	return code
}

func TestHealthIsOpen(t *testing.T) {
	srv := newTestServer(t)
	resp := srv.do(t, http.MethodGet, "/v0/health", "", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", resp.StatusCode)
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	srv := newTestServer(t)
	var body map[string]any
	resp := srv.do(t, http.MethodGet, "/v0/projects/site-1/records", "", nil, &body)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if errorCode(t, body) != "unauthorized" {
		t.Fatalf("unexpected code: %v", body)
	}
}

func TestDevLoginIssuesUsableToken(t *testing.T) {
	srv := newTestServer(t)
	var login DevLoginResponse
	resp := srv.do(t, http.MethodPost, "/v0/auth/dev/login", "", DevLoginRequest{ActorID: "owner"}, &login)
	if resp.StatusCode != http.StatusOK || login.Token == "" {
		t.Fatalf("dev login: %d token=%q", resp.StatusCode, login.Token)
	}
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/me?project_id=site-1", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	raw, err := srv.client.Do(req)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	defer raw.Body.Close()
	var me MeResponse
	if err := json.NewDecoder(raw.Body).Decode(&me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if raw.StatusCode != http.StatusOK || me.ActorID != "owner" || !me.ProjectOwner {
		t.Fatalf("me: %d %+v", raw.StatusCode, me)
	}
}

func TestRecordCreateAndTransitionOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	var rec RecordResponse
	resp := srv.do(t, http.MethodPost, "/v0/projects/site-1/records", "owner", CreateRecordRequest{
		Kind:  "task",
		Title: "Check tower crane bolts",
	}, &rec)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d", resp.StatusCode)
	}
	if rec.ReportNumber != "MT-001" || rec.Status != workflow.TaskOpen {
		t.Fatalf("unexpected record: %+v", rec)
	}

	// approve straight from open is a workflow-level rejection, not a
	// schema error
	var body map[string]any
	resp = srv.do(t, http.MethodPost, "/v0/projects/site-1/records/"+rec.ID+"/transitions", "owner",
		TransitionRequest{Action: "approve"}, &body)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	if errorCode(t, body) != "invalid_transition" {
		t.Fatalf("unexpected code: %v", body)
	}

	var updated RecordResponse
	resp = srv.do(t, http.MethodPost, "/v0/projects/site-1/records/"+rec.ID+"/transitions", "owner",
		TransitionRequest{Action: "start"}, &updated)
	if resp.StatusCode != http.StatusOK || updated.Status != workflow.TaskInProgress {
		t.Fatalf("start: %d %+v", resp.StatusCode, updated)
	}
	if updated.Version != rec.Version+1 {
		t.Fatalf("version not bumped: %d -> %d", rec.Version, updated.Version)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	srv := newTestServer(t)

	// 400: engine validation (empty title survives schema, trimmed empty)
	var body map[string]any
	resp := srv.do(t, http.MethodPost, "/v0/projects/site-1/records", "owner", CreateRecordRequest{
		Kind: "task", Title: "   ",
	}, &body)
	if resp.StatusCode != http.StatusBadRequest || errorCode(t, body) != "bad_request" {
		t.Fatalf("validation: %d %v", resp.StatusCode, body)
	}

	// 403: a plain member without the creator flag
	if _, err := srv.Engine.AddMember(context.Background(), "site-1", "laborer", false, "owner"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	body = nil
	resp = srv.do(t, http.MethodPost, "/v0/projects/site-1/records", "laborer", CreateRecordRequest{
		Kind: "observation", Title: "Spill",
	}, &body)
	if resp.StatusCode != http.StatusForbidden || errorCode(t, body) != "forbidden" {
		t.Fatalf("forbidden: %d %v", resp.StatusCode, body)
	}

	// 404: unknown record
	body = nil
	resp = srv.do(t, http.MethodGet, "/v0/projects/site-1/records/nope", "owner", nil, &body)
	if resp.StatusCode != http.StatusNotFound || errorCode(t, body) != "not_found" {
		t.Fatalf("not found: %d %v", resp.StatusCode, body)
	}
}

func TestRecordHiddenAcrossProjects(t *testing.T) {
	srv := newTestServer(t)
	var rec RecordResponse
	resp := srv.do(t, http.MethodPost, "/v0/projects/site-1/records", "owner", CreateRecordRequest{
		Kind: "task", Title: "Seal expansion joints",
	}, &rec)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d", resp.StatusCode)
	}
	if _, err := srv.Engine.InitProject(context.Background(), "site-2", "Other Site", "owner"); err != nil {
		t.Fatalf("init second project: %v", err)
	}
	var body map[string]any
	resp = srv.do(t, http.MethodGet, "/v0/projects/site-2/records/"+rec.ID, "owner", nil, &body)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 across projects, got %d", resp.StatusCode)
	}
}

func TestPendingEndpoints(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	if _, err := srv.Engine.AddMember(ctx, "site-1", "crew", false, "owner"); err != nil {
		t.Fatal(err)
	}
	if err := srv.Engine.GrantCapability(ctx, "site-1", "crew", workflow.CapTaskAccess, "owner"); err != nil {
		t.Fatal(err)
	}
	var rec RecordResponse
	resp := srv.do(t, http.MethodPost, "/v0/projects/site-1/records", "owner", CreateRecordRequest{
		Kind: "task", Title: "Clear site drainage", AssignedActorIDs: []string{"crew"},
	}, &rec)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d", resp.StatusCode)
	}

	var items []RecordResponse
	resp = srv.do(t, http.MethodGet, "/v0/projects/site-1/pending", "crew", nil, &items)
	if resp.StatusCode != http.StatusOK || len(items) != 1 || items[0].ID != rec.ID {
		t.Fatalf("pending list: %d %+v", resp.StatusCode, items)
	}

	var counts PendingCountsResponse
	resp = srv.do(t, http.MethodGet, "/v0/projects/site-1/pending/counts", "crew", nil, &counts)
	if resp.StatusCode != http.StatusOK || counts.Task != 1 || counts.Total != 1 {
		t.Fatalf("pending counts: %d %+v", resp.StatusCode, counts)
	}
}

func TestMembershipAndCapabilityEndpoints(t *testing.T) {
	srv := newTestServer(t)
	var m MembershipResponse
	resp := srv.do(t, http.MethodPut, "/v0/projects/site-1/members/inspector", "owner",
		MembershipRequest{}, &m)
	if resp.StatusCode != http.StatusOK || m.ActorID != "inspector" {
		t.Fatalf("upsert member: %d %+v", resp.StatusCode, m)
	}
	resp = srv.do(t, http.MethodPost,
		"/v0/projects/site-1/members/inspector/capabilities/"+workflow.CapObservationApprover,
		"owner", nil, &m)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("grant: %d", resp.StatusCode)
	}
	found := false
	for _, flag := range m.Capabilities {
		if flag == workflow.CapObservationApprover {
			found = true
		}
	}
	if !found {
		t.Fatalf("granted flag missing: %+v", m)
	}
	var body map[string]any
	resp = srv.do(t, http.MethodPost,
		"/v0/projects/site-1/members/inspector/capabilities/not.a.flag", "owner", nil, &body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown capability: %d %v", resp.StatusCode, body)
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	var rec RecordResponse
	srv.do(t, http.MethodPost, "/v0/projects/site-1/records", "owner", CreateRecordRequest{
		Kind: "task", Title: "Event source",
	}, &rec)
	var page paginatedEvents
	resp := srv.do(t, http.MethodGet, "/v0/projects/site-1/events?type=record.created", "owner", nil, &page)
	if resp.StatusCode != http.StatusOK || len(page.Items) != 1 {
		t.Fatalf("events: %d %+v", resp.StatusCode, page)
	}
	evt := page.Items[0]
	if evt.EntityID != rec.ID || evt.EntityKind != string(domain.KindTask) {
		t.Fatalf("unexpected event: %+v", evt)
	}
	if evt.Payload["report_number"] != rec.ReportNumber {
		t.Fatalf("payload missing report number: %+v", evt.Payload)
	}
}
