package drain

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"ratesink/internal/cell"
	"ratesink/internal/registry"
	pkgreflect "ratesink/pkg/reflect"
)

// A supervised worker that runs to a clean, context-cancelled stop must
// leave no goroutines behind.
func TestSupervisorLeavesNoGoroutinesOnCleanShutdown(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("github.com/sirupsen/logrus.(*Entry).log"),
	)

	reg := registry.New(pkgreflect.StructReflector{}, cell.NewVersionCounter(1))
	worker := NewWorker(reg, SingleEmitter{Emitter: &recordingEmitter{}}, 1000, nil)
	sup := NewSupervisor(DefaultSupervisorConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	sup.Start(ctx, worker)

	time.Sleep(20 * time.Millisecond)
	cancel()
	sup.Wait()
}
