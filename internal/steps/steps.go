// Package steps provides the built-in step kinds a manifest can declare.
//
// Each kind is a [catalog.Factory]; [RegisterAll] installs them. Options
// come from the step's `with` map and are decoded with [catalog.Decode].
package steps

import (
	"github.com/Iron-Ham/stagehand/internal/catalog"
	"github.com/Iron-Ham/stagehand/internal/logging"
	"github.com/Iron-Ham/stagehand/internal/manifest"
	"github.com/Iron-Ham/stagehand/internal/unit"
)

// Kind names.
const (
	KindDelay     = "delay"
	KindExec      = "exec"
	KindHTTPCheck = "http_check"
	KindEnv       = "env"
	KindFail      = "fail"
	KindEmpty     = "empty"
	KindGroup     = manifest.GroupKind
	KindRetry     = manifest.RetryKind
)

// RegisterAll installs every built-in kind into reg.
func RegisterAll(reg *catalog.Registry) {
	reg.MustRegister(KindDelay, "wait for a fixed duration", newDelay)
	reg.MustRegister(KindExec, "run a command and require it to succeed", newExec)
	reg.MustRegister(KindHTTPCheck, "require an HTTP endpoint to answer with an expected status", newHTTPCheck)
	reg.MustRegister(KindEnv, "require environment variables and set others for later steps", newEnv)
	reg.MustRegister(KindFail, "always fail; for rehearsing failure handling", newFail)
	reg.MustRegister(KindEmpty, "an instance with nothing to run", newEmpty)
	reg.MustRegister(KindGroup, "fan-out container for child steps", newGroup)
	reg.MustRegister(KindRetry, "re-run a child step until it succeeds or its attempts run out", newRetry)
}

// NewRegistry returns a registry holding every built-in kind.
func NewRegistry() *catalog.Registry {
	reg := catalog.NewRegistry()
	RegisterAll(reg)
	return reg
}

func loggerOf(run unit.RunContext) *logging.Logger {
	if run == nil || run.Logger() == nil {
		return logging.NopLogger()
	}
	return run.Logger()
}
