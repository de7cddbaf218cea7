package steps

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Iron-Ham/stagehand/internal/errors"
	"github.com/Iron-Ham/stagehand/internal/logging"
	"github.com/Iron-Ham/stagehand/internal/manifest"
	"github.com/Iron-Ham/stagehand/internal/readiness"
	"github.com/Iron-Ham/stagehand/internal/unit"
)

type fakeRun struct {
	signal   readiness.Signal
	services map[string]any
}

func (*fakeRun) RunID() string { return "run-test" }

func (*fakeRun) Generation() uint64 { return 1 }

func (r *fakeRun) OnReady(fn func()) readiness.Subscription { return r.signal.Subscribe(fn) }

func (r *fakeRun) Service(name string) (any, bool) {
	svc, ok := r.services[name]
	return svc, ok
}

func (*fakeRun) Logger() *logging.Logger { return logging.NopLogger() }

// setup builds step with the built-in registry and runs every unit of one
// instance, returning the instance and the first error.
func setup(t *testing.T, ctx context.Context, run unit.RunContext, step *manifest.Step) (*unit.Instance, error) {
	t.Helper()
	tmpl, err := NewRegistry().Build(step)
	if err != nil {
		t.Fatalf("Build(%s) error = %v", step.Kind, err)
	}
	inst, err := tmpl.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate() error = %v", err)
	}
	for _, u := range inst.Units {
		if err := unit.Run(ctx, u, run); err != nil {
			return inst, err
		}
	}
	return inst, nil
}

func TestRegisterAll(t *testing.T) {
	var names []string
	for _, k := range NewRegistry().Kinds() {
		names = append(names, k.Name)
		if k.Description == "" {
			t.Errorf("kind %q has no description", k.Name)
		}
	}
	want := []string{"delay", "empty", "env", "exec", "fail", "group", "http_check", "retry"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("Kinds() mismatch (-want +got):\n%s", diff)
	}
}

func TestFactories_RejectBadOptions(t *testing.T) {
	tests := []struct {
		name string
		step *manifest.Step
	}{
		{"delay unknown key", &manifest.Step{Kind: KindDelay, With: map[string]any{"durration": "1s"}}},
		{"delay negative", &manifest.Step{Kind: KindDelay, With: map[string]any{"duration": "-1s"}}},
		{"delay bad duration", &manifest.Step{Kind: KindDelay, With: map[string]any{"duration": "soon"}}},
		{"exec without command", &manifest.Step{Kind: KindExec}},
		{"http_check without url", &manifest.Step{Kind: KindHTTPCheck}},
		{"http_check relative url", &manifest.Step{Kind: KindHTTPCheck, With: map[string]any{"url": "/health"}}},
		{"empty with options", &manifest.Step{Kind: KindEmpty, With: map[string]any{"x": 1}}},
		{"group without children", &manifest.Step{Kind: KindGroup}},
		{"group with null child", &manifest.Step{Kind: KindGroup, Children: []*manifest.Step{nil}}},
		{"group with unknown child", &manifest.Step{Kind: KindGroup, Children: []*manifest.Step{{Kind: "teleport"}}}},
		{"retry without child", &manifest.Step{Kind: KindRetry}},
		{"retry with null child", &manifest.Step{Kind: KindRetry, Children: []*manifest.Step{nil}}},
		{"retry zero attempts", &manifest.Step{Kind: KindRetry, With: map[string]any{"attempts": 0}, Children: []*manifest.Step{{Kind: KindDelay}}}},
	}
	reg := NewRegistry()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := reg.Build(tt.step); err == nil {
				t.Error("Build() = nil error, want rejection")
			}
		})
	}
}

func TestDelay(t *testing.T) {
	step := &manifest.Step{Name: "warmup", Kind: KindDelay, With: map[string]any{"duration": "10ms"}}
	if _, err := setup(t, context.Background(), &fakeRun{}, step); err != nil {
		t.Errorf("Setup() error = %v", err)
	}
}

func TestDelay_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	step := &manifest.Step{Kind: KindDelay, With: map[string]any{"duration": "1h"}}
	_, err := setup(t, ctx, &fakeRun{}, step)
	if unit.Classify(ctx, err) != unit.Cancelled {
		t.Errorf("Classify(%v) = %v, want cancelled", err, unit.Classify(ctx, err))
	}
}

func TestExec(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}

	ok := &manifest.Step{Kind: KindExec, With: map[string]any{
		"command": "sh",
		"args":    []any{"-c", `test "$STAGEHAND_PROBE" = yes`},
		"env":     []any{"STAGEHAND_PROBE=yes"},
	}}
	if _, err := setup(t, context.Background(), &fakeRun{}, ok); err != nil {
		t.Errorf("Setup() error = %v", err)
	}

	bad := &manifest.Step{Kind: KindExec, With: map[string]any{
		"command": "sh",
		"args":    []any{"-c", "echo broken pipe >&2; exit 3"},
	}}
	_, err := setup(t, context.Background(), &fakeRun{}, bad)
	if err == nil || !strings.Contains(err.Error(), "broken pipe") {
		t.Errorf("Setup() = %v, want failure quoting output", err)
	}
	if unit.Classify(context.Background(), err) != unit.Failed {
		t.Error("non-zero exit should be a failure")
	}
}

func TestHTTPCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	tests := []struct {
		name    string
		with    map[string]any
		wantErr bool
	}{
		{"expected status", map[string]any{"url": srv.URL + "/health", "expect_status": 204}, false},
		{"default expects 200", map[string]any{"url": srv.URL + "/health"}, true},
		{"not found", map[string]any{"url": srv.URL + "/missing", "expect_status": 204}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := setup(t, context.Background(), &fakeRun{}, &manifest.Step{Kind: KindHTTPCheck, With: tt.with})
			if (err != nil) != tt.wantErr {
				t.Errorf("Setup() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

type countingDoer struct {
	calls int
}

func (d *countingDoer) Do(*http.Request) (*http.Response, error) {
	d.calls++
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
}

func TestHTTPCheck_UsesSharedClient(t *testing.T) {
	doer := &countingDoer{}
	run := &fakeRun{services: map[string]any{ServiceHTTPClient: doer}}

	step := &manifest.Step{Kind: KindHTTPCheck, With: map[string]any{"url": "http://stagehand.invalid/health"}}
	if _, err := setup(t, context.Background(), run, step); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if doer.calls != 1 {
		t.Errorf("shared client calls = %d, want 1", doer.calls)
	}
}

func TestHTTPClientPrerequisite(t *testing.T) {
	p := HTTPClientPrerequisite(time.Second)
	if p.Name != ServiceHTTPClient {
		t.Errorf("Name = %q", p.Name)
	}
	svc, err := p.Create(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	client, ok := svc.(*HTTPClient)
	if !ok || client.Timeout != time.Second {
		t.Fatalf("Create() = %#v", svc)
	}
	if _, ok := svc.(Doer); !ok {
		t.Error("shared client does not satisfy Doer")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestEnv_RequireAndRestore(t *testing.T) {
	t.Setenv("STAGEHAND_PRESENT", "1")
	t.Setenv("STAGEHAND_OVERWRITTEN", "before")
	t.Setenv("STAGEHAND_CREATED", "")
	_ = os.Unsetenv("STAGEHAND_CREATED")

	step := &manifest.Step{Kind: KindEnv, With: map[string]any{
		"require": []any{"STAGEHAND_PRESENT"},
		"set": map[string]any{
			"STAGEHAND_OVERWRITTEN": "after",
			"STAGEHAND_CREATED":     42,
		},
	}}
	inst, err := setup(t, context.Background(), &fakeRun{}, step)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if got := os.Getenv("STAGEHAND_OVERWRITTEN"); got != "after" {
		t.Errorf("STAGEHAND_OVERWRITTEN = %q", got)
	}
	if got := os.Getenv("STAGEHAND_CREATED"); got != "42" {
		t.Errorf("STAGEHAND_CREATED = %q", got)
	}

	if err := inst.Destroy(context.Background()); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if got := os.Getenv("STAGEHAND_OVERWRITTEN"); got != "before" {
		t.Errorf("after Destroy STAGEHAND_OVERWRITTEN = %q, want before", got)
	}
	if _, ok := os.LookupEnv("STAGEHAND_CREATED"); ok {
		t.Error("STAGEHAND_CREATED survived Destroy")
	}
}

func TestEnv_MissingRequired(t *testing.T) {
	step := &manifest.Step{Kind: KindEnv, With: map[string]any{"require": "STAGEHAND_NOPE_A,STAGEHAND_NOPE_B"}}
	_, err := setup(t, context.Background(), &fakeRun{}, step)
	if err == nil || !strings.Contains(err.Error(), "STAGEHAND_NOPE_A, STAGEHAND_NOPE_B") {
		t.Errorf("Setup() = %v, want both missing names", err)
	}
}

func TestFail(t *testing.T) {
	step := &manifest.Step{Kind: KindFail, With: map[string]any{"message": "drill"}}
	_, err := setup(t, context.Background(), &fakeRun{}, step)
	if err == nil || err.Error() != "drill" {
		t.Errorf("Setup() = %v, want drill", err)
	}
}

func TestEmpty(t *testing.T) {
	tmpl, err := NewRegistry().Build(&manifest.Step{Name: "hollow", Kind: KindEmpty})
	if err != nil {
		t.Fatal(err)
	}
	inst, err := tmpl.Instantiate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tmpl.UnitCount() != 0 || len(inst.Units) != 0 || inst.Template != "hollow" {
		t.Errorf("empty instance carries units: %+v", inst)
	}
}

type trackedTemplate struct {
	name string
	log  *[]string
	fail bool
}

func (t *trackedTemplate) Name() string { return t.name }

func (t *trackedTemplate) UnitCount() int { return 1 }

func (t *trackedTemplate) Instantiate(context.Context) (*unit.Instance, error) {
	if t.fail {
		return nil, errors.New("cannot build " + t.name)
	}
	inst := unit.NewInstance(t.name+"#1", t.name, unit.Func(func(context.Context, unit.RunContext) error {
		*t.log = append(*t.log, "setup:"+t.name)
		return nil
	}))
	inst.OnDestroy(func(context.Context) error {
		*t.log = append(*t.log, "destroy:"+t.name)
		return nil
	})
	return inst, nil
}

func TestGroup(t *testing.T) {
	var log []string
	g := NewGroup("services",
		&trackedTemplate{name: "a", log: &log},
		&trackedTemplate{name: "b", log: &log},
	)
	if g.UnitCount() != 2 {
		t.Errorf("UnitCount() = %d, want 2", g.UnitCount())
	}

	inst, err := g.Instantiate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(inst.ID, "services#") {
		t.Errorf("ID = %q", inst.ID)
	}

	var labels []string
	for _, u := range inst.Units {
		labels = append(labels, unit.Label(u, "?"))
		if err := u.Setup(context.Background(), &fakeRun{}); err != nil {
			t.Fatal(err)
		}
	}
	if diff := cmp.Diff([]string{"a", "b"}, labels); diff != "" {
		t.Errorf("unit labels mismatch (-want +got):\n%s", diff)
	}

	if err := inst.Destroy(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := []string{"setup:a", "setup:b", "destroy:b", "destroy:a"}
	if diff := cmp.Diff(want, log); diff != "" {
		t.Errorf("lifecycle mismatch (-want +got):\n%s", diff)
	}
}

func TestGroup_PartialInstantiateIsTornDown(t *testing.T) {
	var log []string
	g := NewGroup("services",
		&trackedTemplate{name: "a", log: &log},
		&trackedTemplate{name: "b", log: &log, fail: true},
	)
	if _, err := g.Instantiate(context.Background()); err == nil {
		t.Fatal("expected instantiate error")
	}
	if diff := cmp.Diff([]string{"destroy:a"}, log); diff != "" {
		t.Errorf("teardown mismatch (-want +got):\n%s", diff)
	}
}

func TestGroup_FromManifest(t *testing.T) {
	step := &manifest.Step{Name: "services", Kind: KindGroup, Children: []*manifest.Step{
		{Name: "pause", Kind: KindDelay},
		{Name: "hollow", Kind: KindEmpty},
		{Name: "boom", Kind: KindFail},
	}}
	tmpl, err := NewRegistry().Build(step)
	if err != nil {
		t.Fatal(err)
	}
	if tmpl.UnitCount() != 2 {
		t.Errorf("UnitCount() = %d, want 2", tmpl.UnitCount())
	}
	inst, err := tmpl.Instantiate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var labels []string
	for _, u := range inst.Units {
		labels = append(labels, unit.Label(u, "?"))
	}
	if diff := cmp.Diff([]string{"pause", "boom"}, labels); diff != "" {
		t.Errorf("unit labels mismatch (-want +got):\n%s", diff)
	}
}

type flakyUnit struct {
	failures int
	calls    int
}

func (f *flakyUnit) Name() string { return "flaky" }

func (f *flakyUnit) Setup(context.Context, unit.RunContext) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("not yet")
	}
	return nil
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	flaky := &flakyUnit{failures: 2}
	r := NewRetry("warmup", unit.Of("flaky", flaky), 3, 0)

	inst, err := r.Instantiate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := inst.Units[0].Setup(context.Background(), &fakeRun{}); err != nil {
		t.Fatalf("Setup() = %v, want success on the third attempt", err)
	}
	state, ok := r.State("flaky")
	if !ok {
		t.Fatal("no attempt state recorded")
	}
	want := AttemptState{Unit: "flaky", Attempts: 3, LastError: "not yet", Succeeded: true}
	if diff := cmp.Diff(want, state); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
}

func TestRetry_GivesUp(t *testing.T) {
	step := &manifest.Step{Name: "drill", Kind: KindRetry, With: map[string]any{"attempts": 2, "delay": "1ms"},
		Children: []*manifest.Step{{Name: "boom", Kind: KindFail, With: map[string]any{"message": "still broken"}}}}

	_, err := setup(t, context.Background(), &fakeRun{}, step)
	if err == nil || !strings.Contains(err.Error(), "gave up after 2 attempts: still broken") {
		t.Errorf("Setup() = %v", err)
	}
}

func TestRetry_StopsOnCancel(t *testing.T) {
	flaky := &flakyUnit{failures: 10}
	r := NewRetry("warmup", unit.Of("flaky", flaky), 5, time.Hour)
	inst, err := r.Instantiate(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)
	err = inst.Units[0].Setup(ctx, &fakeRun{})
	if !errors.IsCancellation(err) {
		t.Errorf("Setup() = %v, want cancellation", err)
	}
	if flaky.calls != 1 {
		t.Errorf("calls = %d, want 1", flaky.calls)
	}
}

func TestRetry_DestroysChildInstance(t *testing.T) {
	var log []string
	r := NewRetry("wrapped", &trackedTemplate{name: "a", log: &log}, 1, 0)
	inst, err := r.Instantiate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := inst.Units[0].Setup(context.Background(), &fakeRun{}); err != nil {
		t.Fatal(err)
	}
	if err := inst.Destroy(context.Background()); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"setup:a", "destroy:a"}, log); diff != "" {
		t.Errorf("lifecycle mismatch (-want +got):\n%s", diff)
	}
}
