package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/tanjia/internal/agent"
	"github.com/jackzampolin/tanjia/internal/agents"
	"github.com/jackzampolin/tanjia/internal/api"
	"github.com/jackzampolin/tanjia/internal/booking"
	"github.com/jackzampolin/tanjia/internal/followup"
	"github.com/jackzampolin/tanjia/internal/llmcall"
	"github.com/jackzampolin/tanjia/internal/prompts"
	"github.com/jackzampolin/tanjia/internal/providers"
	"github.com/jackzampolin/tanjia/internal/store"
	"github.com/jackzampolin/tanjia/internal/svcctx"
)

const testSecret = "s3cret"

type testServer struct {
	*httptest.Server
	mem       *store.Memory
	throttled int
}

// newTestServer serves every endpoint over an in-memory store. client may
// be nil for an unconfigured LLM.
func newTestServer(t *testing.T, client providers.LLMClient) *testServer {
	t.Helper()
	mem := store.NewMemory()
	resolver := prompts.NewResolver(mem, nil)
	agents.RegisterPrompts(resolver)

	runner := agent.NewRunner(agent.RunnerConfig{
		Client: client,
		Tiers: agent.ModelTiers{
			Default:   agent.ModelTier{Model: "fast"},
			Escalated: agent.ModelTier{Model: "smart"},
		},
		Recorder: llmcall.NewRecorder(mem, nil),
		Runs:     mem,
	})
	services := &svcctx.Services{
		Store:          mem,
		Agents:         agents.New(agents.Config{Runner: runner, Prompts: resolver, Store: mem}),
		PromptResolver: resolver,
		LLMCallStore:   llmcall.NewStore(mem),
		Bookings:       booking.NewService(mem, nil, nil),
		FollowUps:      followup.NewService(mem, nil, nil),
	}

	ts := &testServer{mem: mem}
	registry := api.NewRegistry()
	for _, ep := range All(Config{WebhookSecret: func() string { return testSecret }}) {
		registry.Register(ep)
	}
	mux := http.NewServeMux()
	passthrough := func(next http.HandlerFunc) http.HandlerFunc { return next }
	limit := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ts.throttled++
			next(w, r)
		}
	}
	registry.RegisterRoutes(mux, passthrough, limit)

	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r.WithContext(svcctx.WithServices(r.Context(), services)))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := ts.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[HealthResponse](t, body).Status)

	resp, body = ts.do(t, "GET", "/ready", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[HealthResponse](t, body).Database)

	resp, body = ts.do(t, "GET", "/status", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[StatusResponse](t, body)
	assert.Equal(t, "external", status.Database.Container)
	assert.False(t, status.Providers.Configured)
}

func TestLeadLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := ts.do(t, "POST", "/api/v1/leads", CreateLeadRequest{Name: "Ada", Company: "Acme", Email: "ada@acme.test"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	lead := decode[store.Lead](t, body)
	assert.Equal(t, store.StageListen, lead.Stage)

	resp, _ = ts.do(t, "POST", "/api/v1/leads", CreateLeadRequest{Company: "No name"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, "POST", "/api/v1/leads", "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = ts.do(t, "GET", "/api/v1/leads?q=acme", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[LeadsResponse](t, body).Total)

	resp, _ = ts.do(t, "GET", "/api/v1/leads?stage=won", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, "GET", "/api/v1/leads?limit=ten", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = ts.do(t, "PATCH", "/api/v1/leads/"+lead.ID, map[string]string{"notes": "met at meetup"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[store.Lead](t, body)
	assert.Equal(t, "met at meetup", updated.Notes)
	assert.Equal(t, "Acme", updated.Company)

	resp, _ = ts.do(t, "PATCH", "/api/v1/leads/"+lead.ID, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, "PATCH", "/api/v1/leads/"+lead.ID, map[string]string{"stage": "won"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = ts.do(t, "POST", "/api/v1/leads/"+lead.ID+"/advance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, store.StageClarify, decode[store.Lead](t, body).Stage)

	resp, _ = ts.do(t, "DELETE", "/api/v1/leads/"+lead.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = ts.do(t, "GET", "/api/v1/leads/"+lead.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not found", decode[ErrorResponse](t, body).Error)

	resp, _ = ts.do(t, "POST", "/api/v1/leads/"+lead.ID+"/advance", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReplies(t *testing.T) {
	client := providers.NewScriptedClient(providers.MockResponse{Content: `Reply: "Thanks Ada, happy to compare notes next week."`})
	ts := newTestServer(t, client)

	resp, body := ts.do(t, "POST", "/api/v1/replies/comment", agents.ReplyInput{Message: "Great post!", Author: "Ada"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	out := decode[ReplyResponse](t, body)
	assert.Equal(t, "Thanks Ada, happy to compare notes next week.", out.Result)
	assert.Equal(t, "fast", out.Meta.Model)
	assert.NotEmpty(t, out.RunID)

	resp, _ = ts.do(t, "POST", "/api/v1/replies/dm", agents.ReplyInput{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 2, ts.throttled)

	// The reply was recorded as one LLM call and one agent run.
	resp, body = ts.do(t, "GET", "/api/v1/llmcalls?run_id="+out.RunID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	calls := decode[LLMCallsResponse](t, body)
	require.Equal(t, 1, calls.Total)
	assert.True(t, calls.Calls[0].Success)

	resp, body = ts.do(t, "GET", "/api/v1/llmcalls/"+calls.Calls[0].ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, out.RunID, decode[llmcall.Call](t, body).RunID)

	resp, _ = ts.do(t, "GET", "/api/v1/llmcalls?success=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = ts.do(t, "GET", "/api/v1/llmcalls?after=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = ts.do(t, "GET", "/api/v1/agent-runs?task=comment_reply", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	runs := decode[AgentRunsResponse](t, body)
	require.Len(t, runs.Runs, 1)
	assert.Equal(t, out.RunID, runs.Runs[0].ID)

	resp, body = ts.do(t, "GET", "/api/v1/agent-runs/"+out.RunID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"trace"`)

	resp, _ = ts.do(t, "GET", "/api/v1/agent-runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAgentsNotConfigured(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := ts.do(t, "POST", "/api/v1/replies/comment", agents.ReplyInput{Message: "hi"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "LLM provider not configured", decode[ErrorResponse](t, body).Error)
}

func TestOutreach(t *testing.T) {
	client := providers.NewScriptedClient(providers.MockResponse{Content: "Hi Ada, saw Acme is opening a third location. Worth a quick call?"})
	ts := newTestServer(t, client)

	lead := &store.Lead{Name: "Ada", Company: "Acme"}
	require.NoError(t, ts.mem.CreateLead(context.Background(), lead))

	resp, body := ts.do(t, "POST", "/api/v1/leads/"+lead.ID+"/outreach", agents.OutreachInput{Channel: "email"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	draft := decode[agents.OutreachDraft](t, body)
	require.NotNil(t, draft.Draft)
	assert.Contains(t, draft.Result, "third location")

	resp, body = ts.do(t, "GET", "/api/v1/leads/"+lead.ID+"/drafts", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	drafts := decode[DraftsResponse](t, body)
	require.Len(t, drafts.Drafts, 1)
	assert.Equal(t, draft.Draft.ID, drafts.Drafts[0].ID)

	resp, _ = ts.do(t, "POST", "/api/v1/leads/missing/outreach", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = ts.do(t, "GET", "/api/v1/leads/missing/drafts", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = ts.do(t, "GET", "/api/v1/leads/missing/snapshots", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFollowUps(t *testing.T) {
	ts := newTestServer(t, nil)
	lead := &store.Lead{Name: "Grace"}
	require.NoError(t, ts.mem.CreateLead(context.Background(), lead))
	path := "/api/v1/leads/" + lead.ID + "/followups"

	resp, _ := ts.do(t, "POST", path, CreateFollowUpRequest{DueAt: "tomorrow"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = ts.do(t, "POST", path, CreateFollowUpRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = ts.do(t, "POST", "/api/v1/leads/missing/followups", CreateFollowUpRequest{DueAt: time.Now().Format(time.RFC3339)})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	future := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)
	resp, body := ts.do(t, "POST", path, CreateFollowUpRequest{DueAt: past, Note: "send deck"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	due := decode[store.FollowUp](t, body)
	resp, _ = ts.do(t, "POST", path, CreateFollowUpRequest{DueAt: future})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body = ts.do(t, "GET", "/api/v1/followups?lead_id="+lead.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[FollowUpsResponse](t, body).FollowUps, 2)

	resp, body = ts.do(t, "GET", "/api/v1/followups?due=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	dueList := decode[FollowUpsResponse](t, body).FollowUps
	require.Len(t, dueList, 1)
	assert.Equal(t, "send deck", dueList[0].Note)

	resp, _ = ts.do(t, "GET", "/api/v1/followups?due=soon", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = ts.do(t, "POST", "/api/v1/followups/"+due.ID+"/complete", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotNil(t, decode[store.FollowUp](t, body).CompletedAt)

	resp, _ = ts.do(t, "POST", "/api/v1/followups/missing/complete", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBookingWebhook(t *testing.T) {
	ts := newTestServer(t, nil)
	lead := &store.Lead{Name: "Ada", Email: "ada@acme.test"}
	require.NoError(t, ts.mem.CreateLead(context.Background(), lead))

	payload := `{"triggerEvent":"BOOKING_CREATED","payload":{"uid":"bk-1","title":"Intro call",
		"startTime":"2026-11-02T15:00:00Z","attendees":[{"email":"ADA@acme.test","name":"Ada"}]}}`

	post := func(path, header, body string) (*http.Response, []byte) {
		req, err := http.NewRequest("POST", ts.URL+path, strings.NewReader(body))
		require.NoError(t, err)
		if header != "" {
			req.Header.Set(WebhookSecretHeader, header)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(resp.Body)
		return resp, buf.Bytes()
	}

	resp, _ := post("/api/v1/webhooks/booking", "", payload)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = post("/api/v1/webhooks/booking", "wrong", payload)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := post("/api/v1/webhooks/booking", testSecret, payload)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	res := decode[booking.Result](t, body)
	assert.True(t, res.Created)
	assert.True(t, res.Linked)
	assert.Equal(t, lead.ID, res.Booking.LeadID)

	// Redelivery updates the same booking; the query param works too.
	resp, body = post("/api/v1/webhooks/booking?secret="+testSecret, "", payload)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.False(t, decode[booking.Result](t, body).Created)

	resp, _ = post("/api/v1/webhooks/booking", testSecret, `{"payload":{"title":"no id"}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = post("/api/v1/webhooks/booking", testSecret, `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = ts.do(t, "GET", "/api/v1/bookings", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[BookingsResponse](t, body).Bookings, 1)

	// Webhooks are not rate limited.
	assert.Zero(t, ts.throttled)
}

func TestBookingWebhookUnconfigured(t *testing.T) {
	ep := &BookingWebhookEndpoint{Secret: func() string { return "" }}
	_, _, handler := ep.Route()

	req := httptest.NewRequest("POST", "/api/v1/webhooks/booking", strings.NewReader(`{"uid":"x"}`))
	req.Header.Set(WebhookSecretHeader, "anything")
	w := httptest.NewRecorder()
	handler(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestPrompts(t *testing.T) {
	ts := newTestServer(t, nil)
	const key = "agents.comment_reply.system"

	resp, body := ts.do(t, "GET", "/api/v1/prompts", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[PromptsListResponse](t, body)
	require.NotEmpty(t, list.Prompts)
	for _, p := range list.Prompts {
		assert.False(t, p.IsOverride, p.Key)
	}

	resp, body = ts.do(t, "PUT", "/api/v1/prompts/"+key, SetPromptRequest{Text: "Be brief.", Note: "test"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	set := decode[PromptResponse](t, body)
	assert.True(t, set.IsOverride)
	assert.Equal(t, "Be brief.", set.Text)

	resp, body = ts.do(t, "GET", "/api/v1/prompts/"+key, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[PromptResponse](t, body).IsOverride)

	resp, _ = ts.do(t, "PUT", "/api/v1/prompts/"+key, SetPromptRequest{Text: "{{ .Broken"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = ts.do(t, "PUT", "/api/v1/prompts/"+key, SetPromptRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = ts.do(t, "PUT", "/api/v1/prompts/agents.nope", SetPromptRequest{Text: "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = ts.do(t, "DELETE", "/api/v1/prompts/"+key, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[PromptResponse](t, body).IsOverride)

	resp, _ = ts.do(t, "GET", "/api/v1/prompts/agents.nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSwagger(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := ts.do(t, "GET", "/swagger.json", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var spec map[string]any
	require.NoError(t, json.Unmarshal(body, &spec))
	info := spec["info"].(map[string]any)
	assert.Equal(t, "Tanjia API", info["title"])
	assert.Contains(t, spec["paths"], "/api/v1/leads")

	resp, body = ts.do(t, "GET", "/swagger", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "swagger-ui")
	assert.Contains(t, string(body), "<title>Tanjia API</title>")
}

func TestThrottledEndpoints(t *testing.T) {
	throttled := map[string]bool{}
	for _, ep := range All(Config{}) {
		method, path, _ := ep.Route()
		throttled[method+" "+path] = api.IsThrottled(ep)
	}
	for _, route := range []string{
		"POST /api/v1/leads/{id}/enrich",
		"POST /api/v1/replies/comment",
		"POST /api/v1/replies/dm",
		"POST /api/v1/leads/{id}/outreach",
		"POST /api/v1/companies/overview",
		"POST /api/v1/emyth/role-map",
	} {
		assert.True(t, throttled[route], route)
	}
	assert.False(t, throttled["POST /api/v1/webhooks/booking"])
	assert.False(t, throttled["GET /api/v1/leads"])
}

func TestCommandsUnique(t *testing.T) {
	for _, g := range Groups() {
		seen := map[string]bool{}
		for _, ep := range g.Endpoints {
			name := ep.Command(func() string { return "" }).Name()
			assert.False(t, seen[name], "%s %s", g.Name, name)
			seen[name] = true
		}
	}
}
