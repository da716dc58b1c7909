package workflow

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/su1ph3r/stampede/internal/template"
	"github.com/su1ph3r/stampede/pkg/types"
)

func serverTemplate(t *testing.T, serverURL, method, path string, headers ...types.Header) *types.RequestTemplate {
	t.Helper()
	u, err := url.Parse(serverURL)
	if err != nil {
		t.Fatal(err)
	}

	all := append([]types.Header{{Name: "Host", Value: u.Host}}, headers...)
	var tokens []string
	for _, h := range all {
		tokens = append(tokens, types.FindTokens(h.Value)...)
	}
	tokens = append(tokens, types.FindTokens(path)...)

	return &types.RequestTemplate{
		Method:  method,
		Path:    path,
		Proto:   "HTTP/1.1",
		Scheme:  "http",
		Host:    u.Host,
		Headers: all,
		Tokens:  tokens,
	}
}

func quickConfig() types.RunConfig {
	cfg := types.DefaultRunConfig()
	cfg.Timeout = 5 * time.Second
	return cfg
}

func TestWorkflowCaptureFlowsDownstream(t *testing.T) {
	var issued atomic.Int32
	var mu sync.Mutex
	var authSeen []string
	tokens := make(map[string]bool)

	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		token := fmt.Sprintf("tok-%d", issued.Add(1))
		mu.Lock()
		tokens[token] = true
		mu.Unlock()
		fmt.Fprintf(w, `{"token":"%s"}`, token)
	})
	mux.HandleFunc("/buy", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		authSeen = append(authSeen, r.Header.Get("Authorization"))
		mu.Unlock()
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	def := &Definition{
		Name: "token-flow",
		Steps: []*Step{
			{
				ID:       "login",
				Template: serverTemplate(t, server.URL, "GET", "/login"),
				Count:    2,
				Captures: []CaptureRule{
					{Name: "token", Type: CaptureJSON, Path: "$.token"},
				},
			},
			{
				ID: "buy",
				Template: serverTemplate(t, server.URL, "GET", "/buy",
					types.Header{Name: "Authorization", Value: "Bearer {{login.token}}"}),
				Count:     2,
				DependsOn: []string{"login"},
			},
		},
	}

	engine, err := New(def, quickConfig(), template.NewResolver(nil), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.States["login"] != StateCompleted || result.States["buy"] != StateCompleted {
		t.Fatalf("states = %v", result.States)
	}
	if result.Snapshot.Total != 4 {
		t.Errorf("Total = %d, want 4", result.Snapshot.Total)
	}

	if len(authSeen) != 2 {
		t.Fatalf("buy step sent %d requests, want 2", len(authSeen))
	}
	for _, auth := range authSeen {
		token := ""
		fmt.Sscanf(auth, "Bearer %s", &token)
		if !tokens[token] {
			t.Errorf("buy sent %q, not a token issued by login", auth)
		}
	}
}

func TestWorkflowStepConcurrencyOverride(t *testing.T) {
	var inFlight, peak atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
	}))
	defer server.Close()

	def := &Definition{
		Name: "bounded",
		Steps: []*Step{
			{
				ID:          "hammer",
				Template:    serverTemplate(t, server.URL, "GET", "/"),
				Count:       12,
				Concurrency: 3,
			},
		},
	}

	engine, err := New(def, quickConfig(), template.NewResolver(nil), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Snapshot.Total != 12 {
		t.Errorf("Total = %d, want 12", result.Snapshot.Total)
	}
	if got := peak.Load(); got > 3 {
		t.Errorf("peak in-flight = %d, want <= 3", got)
	}
}

func TestWorkflowWaveStepWithoutWaveSizeTerminates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	def := &Definition{
		Name: "wave-step",
		Steps: []*Step{
			{
				ID:        "drain",
				Template:  serverTemplate(t, server.URL, "GET", "/"),
				Count:     4,
				Mode:      types.ModeWave,
				WaveDelay: 10 * time.Millisecond,
			},
		},
	}

	// The run config never validates wave_size because its own mode is
	// burst; the step switching to wave must not inherit the zero and
	// spin forever on empty release groups.
	cfg := quickConfig()
	cfg.Mode = types.ModeBurst
	cfg.WaveSize = 0

	engine, err := New(def, cfg, template.NewResolver(nil), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := engine.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.States["drain"] != StateCompleted {
		t.Fatalf("states = %v", result.States)
	}
	if result.Snapshot.Total != 4 {
		t.Errorf("Total = %d, want 4", result.Snapshot.Total)
	}
}

func TestWorkflowFailedStepSkipsDependents(t *testing.T) {
	var buyHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/buy", func(w http.ResponseWriter, r *http.Request) {
		buyHits.Add(1)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := quickConfig()
	cfg.Timeout = time.Second

	def := &Definition{
		Name: "dead-branch",
		Steps: []*Step{
			{
				// Reserved TEST-NET-1 address; every instance fails.
				ID:       "login",
				Template: stubTemplate("192.0.2.1:9"),
				Count:    2,
				Captures: []CaptureRule{
					{Name: "token", Type: CaptureJSON, Path: "$.token"},
				},
			},
			{
				ID: "buy",
				Template: serverTemplate(t, server.URL, "GET", "/buy",
					types.Header{Name: "Authorization", Value: "Bearer {{login.token}}"}),
				Count:     3,
				DependsOn: []string{"login"},
			},
		},
	}

	engine, err := New(def, cfg, template.NewResolver(nil), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.States["login"] != StateFailed {
		t.Errorf("login state = %s, want failed", result.States["login"])
	}
	if result.States["buy"] != StateFailed {
		t.Errorf("buy state = %s, want failed", result.States["buy"])
	}
	if got := buyHits.Load(); got != 0 {
		t.Errorf("buy step sent %d requests, want 0", got)
	}
	for _, o := range result.Outcomes {
		if o.StepID == "buy" {
			t.Errorf("buy contributed outcome %+v", o)
		}
	}
}

func TestWorkflowCaptureNeverProducedFailsDependent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ok"}`) // no token field
	})
	var buyHits atomic.Int32
	mux.HandleFunc("/buy", func(w http.ResponseWriter, r *http.Request) {
		buyHits.Add(1)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	def := &Definition{
		Name: "no-capture",
		Steps: []*Step{
			{
				ID:       "login",
				Template: serverTemplate(t, server.URL, "GET", "/login"),
				Count:    2,
				Captures: []CaptureRule{
					{Name: "token", Type: CaptureJSON, Path: "$.token"},
				},
			},
			{
				ID: "buy",
				Template: serverTemplate(t, server.URL, "GET", "/buy",
					types.Header{Name: "Authorization", Value: "Bearer {{login.token}}"}),
				DependsOn: []string{"login"},
			},
		},
	}

	engine, err := New(def, quickConfig(), template.NewResolver(nil), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.States["login"] != StateCompleted {
		t.Errorf("login state = %s, want completed", result.States["login"])
	}
	if result.States["buy"] != StateFailed {
		t.Errorf("buy state = %s, want failed", result.States["buy"])
	}
	if got := buyHits.Load(); got != 0 {
		t.Errorf("buy step sent %d requests, want 0", got)
	}
}

func TestWorkflowSyncGroupSharedBarrier(t *testing.T) {
	const members = 2

	var arrived atomic.Int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		arrived.Add(1)
		deadline := time.Now().Add(2 * time.Second)
		for arrived.Load() < members {
			if time.Now().After(deadline) {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			time.Sleep(time.Millisecond)
		}
		w.WriteHeader(http.StatusOK)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/reserve", handler)
	mux.HandleFunc("/release", handler)
	server := httptest.NewServer(mux)
	defer server.Close()

	def := &Definition{
		Name: "collide",
		Steps: []*Step{
			{ID: "reserve", Template: serverTemplate(t, server.URL, "GET", "/reserve"), SyncGroup: "hit"},
			{ID: "release", Template: serverTemplate(t, server.URL, "GET", "/release"), SyncGroup: "hit"},
		},
	}

	engine, err := New(def, quickConfig(), template.NewResolver(nil), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Snapshot.StatusCounts[http.StatusOK] != members {
		t.Errorf("status counts = %v, want %d clustered 200s", result.Snapshot.StatusCounts, members)
	}
}

func TestWorkflowIndependentBranchContinues(t *testing.T) {
	var auditHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/audit", func(w http.ResponseWriter, r *http.Request) {
		auditHits.Add(1)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := quickConfig()
	cfg.Timeout = time.Second

	def := &Definition{
		Name: "partial",
		Steps: []*Step{
			{ID: "broken", Template: stubTemplate("192.0.2.1:9")},
			{ID: "audit", Template: serverTemplate(t, server.URL, "GET", "/audit")},
		},
	}

	engine, err := New(def, cfg, template.NewResolver(nil), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.States["broken"] != StateFailed {
		t.Errorf("broken state = %s, want failed", result.States["broken"])
	}
	if result.States["audit"] != StateCompleted {
		t.Errorf("audit state = %s, want completed", result.States["audit"])
	}
	if auditHits.Load() != 1 {
		t.Errorf("audit sent %d requests, want 1", auditHits.Load())
	}
}
