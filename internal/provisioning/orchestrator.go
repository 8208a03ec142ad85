package provisioning

import (
	"context"
	"fmt"
	"time"

	"github.com/plexica/tenantd/pkg/logger"
	"github.com/plexica/tenantd/prometheus"
	"go.uber.org/zap"
)

// Result is produced once per provisioning attempt.
type Result struct {
	Success        bool
	CompletedSteps []string
	Err            error
}

// Orchestrator sequences provisioning steps and compensates on failure.
type Orchestrator struct{}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator() *Orchestrator {
	return &Orchestrator{}
}

// Provision executes the steps in order. On the first failure it rolls back
// every completed step in reverse order and reports the failing step's error;
// rollback errors are logged and swallowed, never propagated. A hanging step
// hangs the whole run: steps carry no built-in timeout.
func (o *Orchestrator) Provision(ctx context.Context, pctx *Context, steps []Step) Result {
	log := logger.FromContext(ctx).With(
		zap.String("tenant_slug", pctx.TenantSlug),
		zap.String("tenant_id", pctx.TenantID.String()),
	)
	start := time.Now()
	defer func() {
		if prometheus.ProvisioningDurationHistogram != nil {
			prometheus.ProvisioningDurationHistogram.Observe(time.Since(start).Seconds())
		}
	}()

	completed := make([]Step, 0, len(steps))
	for _, step := range steps {
		log.Info("executing provisioning step", zap.String("step", step.Name()))

		if err := o.execute(ctx, step, pctx); err != nil {
			log.Error("provisioning step failed",
				zap.String("step", step.Name()),
				zap.Error(err))
			prometheus.RecordProvisioningStep(step.Name(), "failure")

			o.rollbackAll(ctx, log, pctx, completed)

			prometheus.RecordProvisioningRun("failure")
			return Result{
				Success:        false,
				CompletedSteps: stepNames(completed),
				Err:            &StepError{Step: step.Name(), Err: err},
			}
		}

		prometheus.RecordProvisioningStep(step.Name(), "success")
		completed = append(completed, step)
	}

	prometheus.RecordProvisioningRun("success")
	return Result{Success: true, CompletedSteps: stepNames(completed)}
}

// execute shields the orchestrator from panicking steps.
func (o *Orchestrator) execute(ctx context.Context, step Step, pctx *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step panicked: %v", r)
		}
	}()
	return step.Execute(ctx, pctx)
}

// rollbackAll compensates completed steps innermost-first. Later steps may
// depend on earlier ones, so undo runs in strictly reverse order. Each
// rollback is total at this boundary: errors and panics are logged, counted
// and swallowed.
func (o *Orchestrator) rollbackAll(ctx context.Context, log *zap.Logger, pctx *Context, completed []Step) {
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		log.Info("rolling back provisioning step", zap.String("step", step.Name()))
		prometheus.RecordRollback(step.Name())

		if err := o.rollback(ctx, step, pctx); err != nil {
			log.Error("rollback failed, continuing",
				zap.String("step", step.Name()),
				zap.Error(err))
			prometheus.RecordRollbackFailure(step.Name())
		}
	}
}

func (o *Orchestrator) rollback(ctx context.Context, step Step, pctx *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rollback panicked: %v", r)
		}
	}()
	return step.Rollback(ctx, pctx)
}

func stepNames(steps []Step) []string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.Name()
	}
	return names
}
