// Package cli implements the stockrecon operator commands.
package cli

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/stockrecon/internal/reconciliation"
	"github.com/odyssey-erp/stockrecon/jobs"
)

// Reconciler is the engine surface the commands drive. *reconciliation.Service satisfies it.
type Reconciler interface {
	Reconcile(ctx context.Context, tenantID uuid.UUID, req reconciliation.Request) (reconciliation.Response, error)
	Apply(ctx context.Context, tenantID uuid.UUID, req reconciliation.ApplyRequest) (reconciliation.ApplyResult, error)
}

// JobsAPI is the queue surface the jobs commands drive. *JobsCLI satisfies it.
type JobsAPI interface {
	TriggerScan(ctx context.Context, payload jobs.ReconciliationScanPayload) (*asynq.TaskInfo, error)
	InspectQueue(ctx context.Context) (QueueStats, error)
	ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error)
}

// Deps builds the backends lazily so that --help never dials a database.
// The returned close funcs release the backend.
type Deps struct {
	Reconciler func(ctx context.Context) (Reconciler, func(), error)
	Jobs       func(ctx context.Context) (JobsAPI, func(), error)
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string
	Tenant string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the stockrecon command tree.
func NewRootCommand(deps Deps) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "stockrecon",
		Short:         "Stock reconciliation operator tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Tenant, "tenant", "", "tenant UUID")

	cmd.AddCommand(newReconcileCommand(opts, deps))
	cmd.AddCommand(newApplyCommand(opts, deps))
	cmd.AddCommand(newJobsCommand(opts, deps))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) tenantID() (uuid.UUID, error) {
	if o.Tenant == "" {
		return uuid.Nil, fmt.Errorf("--tenant is required")
	}
	id, err := uuid.Parse(o.Tenant)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("--tenant %q is not a valid UUID", o.Tenant)
	}
	return id, nil
}

func optionalUUID(flag, value string) (uuid.UUID, error) {
	if value == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("--%s %q is not a valid UUID", flag, value)
	}
	return id, nil
}
