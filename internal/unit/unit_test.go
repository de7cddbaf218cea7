package unit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestClassify(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want Outcome
	}{
		{"nil error", context.Background(), nil, Completed},
		{"context canceled", context.Background(), context.Canceled, Cancelled},
		{"wrapped canceled", context.Background(), fmt.Errorf("dial: %w", context.Canceled), Cancelled},
		{"plain error on cancelled ctx", cancelled, errors.New("interrupted"), Cancelled},
		{"nil error on cancelled ctx", cancelled, nil, Completed},
		{"own deadline is a failure", context.Background(), context.DeadlineExceeded, Failed},
		{"plain error", context.Background(), errors.New("boom"), Failed},
		{"nil ctx", nil, errors.New("boom"), Failed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.ctx, tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOutcome_String(t *testing.T) {
	for o, want := range map[Outcome]string{
		Completed:   "completed",
		Cancelled:   "cancelled",
		Failed:      "failed",
		Outcome(42): "unknown",
	} {
		if got := o.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(o), got, want)
		}
	}
}

func TestRun_RecoversPanic(t *testing.T) {
	u := Func(func(context.Context, RunContext) error { panic("kaboom") })

	err := Run(context.Background(), u, nil)
	if err == nil {
		t.Fatal("expected panic to surface as error")
	}
	if !strings.Contains(err.Error(), "kaboom") {
		t.Errorf("error %q does not mention panic value", err)
	}
	if Classify(context.Background(), err) != Failed {
		t.Error("panic should classify as failure")
	}
}

func TestRun_PassesThroughError(t *testing.T) {
	want := errors.New("boom")
	got := Run(context.Background(), Func(func(context.Context, RunContext) error { return want }), nil)
	if !errors.Is(got, want) {
		t.Errorf("Run() = %v, want %v", got, want)
	}
}

type recordingUnit struct {
	name  string
	log   *[]string
	fails bool
}

func (r *recordingUnit) Name() string { return r.name }

func (r *recordingUnit) Setup(context.Context, RunContext) error { return nil }

func (r *recordingUnit) Destroy(context.Context) error {
	*r.log = append(*r.log, "unit:"+r.name)
	if r.fails {
		return errors.New(r.name + " teardown failed")
	}
	return nil
}

func TestInstance_DestroyOrder(t *testing.T) {
	var log []string
	inst := NewInstance("svc#1", "svc",
		&recordingUnit{name: "a", log: &log},
		Func(func(context.Context, RunContext) error { return nil }),
		&recordingUnit{name: "b", log: &log, fails: true},
	)
	inst.OnDestroy(func(context.Context) error { log = append(log, "hook:1"); return nil })
	inst.OnDestroy(func(context.Context) error { log = append(log, "hook:2"); return nil })

	err := inst.Destroy(context.Background())
	if err == nil || !strings.Contains(err.Error(), "b teardown failed") {
		t.Errorf("Destroy() = %v, want joined teardown error", err)
	}

	want := []string{"unit:b", "unit:a", "hook:2", "hook:1"}
	if diff := cmp.Diff(want, log); diff != "" {
		t.Errorf("destroy order mismatch (-want +got):\n%s", diff)
	}

	if !inst.Destroyed() {
		t.Error("Destroyed() = false after Destroy")
	}
	if err := inst.Destroy(context.Background()); err != nil {
		t.Errorf("second Destroy() = %v, want nil", err)
	}
	if len(log) != 4 {
		t.Errorf("second Destroy ran teardown again: %v", log)
	}
}

func TestStaticTemplate(t *testing.T) {
	tmpl := Of("cache", Func(func(context.Context, RunContext) error { return nil }))

	if tmpl.UnitCount() != 1 {
		t.Errorf("UnitCount() = %d, want 1", tmpl.UnitCount())
	}

	first, err := tmpl.Instantiate(context.Background())
	if err != nil {
		t.Fatalf("Instantiate() error = %v", err)
	}
	second, _ := tmpl.Instantiate(context.Background())

	if first.ID == second.ID || !strings.HasPrefix(first.ID, "cache#") || !strings.HasPrefix(second.ID, "cache#") {
		t.Errorf("IDs = %q, %q", first.ID, second.ID)
	}
	other, _ := Of("cache").Instantiate(context.Background())
	if other.ID == first.ID || other.ID == second.ID {
		t.Errorf("same-named template reused ID %q", other.ID)
	}
	if first.Template != "cache" || len(first.Units) != 1 {
		t.Errorf("unexpected instance %+v", first)
	}
}

func TestStaticTemplate_BuildError(t *testing.T) {
	tmpl := &StaticTemplate{
		TemplateName: "broken",
		Build: func(context.Context) ([]Unit, error) {
			return nil, errors.New("missing asset")
		},
	}
	if _, err := tmpl.Instantiate(context.Background()); err == nil {
		t.Error("expected build error")
	}
}

func TestDeclarationLabel(t *testing.T) {
	tests := []struct {
		decl Declaration
		want string
	}{
		{Declaration{Template: Of("db")}, "db"},
		{Declaration{Ref: "missing"}, "missing"},
		{Declaration{}, "<null>"},
	}
	for _, tt := range tests {
		if got := tt.decl.Label(); got != tt.want {
			t.Errorf("Label() = %q, want %q", got, tt.want)
		}
	}
}

func TestLabel(t *testing.T) {
	var log []string
	if got := Label(&recordingUnit{name: "named", log: &log}, "fallback"); got != "named" {
		t.Errorf("Label() = %q", got)
	}
	if got := Label(Func(nil), "fallback"); got != "fallback" {
		t.Errorf("Label() = %q", got)
	}
}
