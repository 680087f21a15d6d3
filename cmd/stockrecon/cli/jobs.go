package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/stockrecon/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis options.
func NewJobsCLI(redisOpts asynq.RedisClientOpt) (*JobsCLI, error) {
	client, err := jobs.NewClient(redisOpts)
	if err != nil {
		return nil, err
	}
	return &JobsCLI{client: client, inspector: asynq.NewInspector(redisOpts)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// TriggerScan enqueues a reconciliation scan for one tenant.
func (c *JobsCLI) TriggerScan(ctx context.Context, payload jobs.ReconciliationScanPayload) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	return c.client.EnqueueReconciliationScan(ctx, payload)
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = int(info.Pending)
		stats.Active = int(info.Active)
		stats.Scheduled = int(info.Scheduled)
		stats.Retry = int(info.Retry)
	}
	return stats, nil
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}

func newJobsCommand(rootOpts *RootOptions, deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Trigger and inspect background reconciliation scans",
	}
	cmd.AddCommand(newJobsTriggerCommand(rootOpts, deps))
	cmd.AddCommand(newJobsInspectCommand(rootOpts, deps))
	return cmd
}

func newJobsTriggerCommand(rootOpts *RootOptions, deps Deps) *cobra.Command {
	var warehouse, threshold string
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Enqueue a reconciliation scan for the tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := rootOpts.tenantID()
			if err != nil {
				return err
			}
			payload := jobs.ReconciliationScanPayload{TenantID: tenantID, ScheduledFor: time.Now().UTC()}
			if warehouse != "" {
				id, err := optionalUUID("warehouse", warehouse)
				if err != nil {
					return err
				}
				payload.WarehouseID = &id
			}
			if threshold != "" {
				v, err := decimal.NewFromString(threshold)
				if err != nil {
					return fmt.Errorf("--threshold %q is not a number", threshold)
				}
				payload.Threshold = &v
			}
			if err := payload.Validate(); err != nil {
				return err
			}

			api, closeFn, err := deps.Jobs(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			info, err := api.TriggerScan(cmd.Context(), payload)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"task_id": info.ID, "queue": info.Queue})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s on %s\n", info.ID, info.Queue)
			return err
		},
	}
	cmd.Flags().StringVar(&warehouse, "warehouse", "", "restrict the scan to one warehouse")
	cmd.Flags().StringVar(&threshold, "threshold", "", "minor/major boundary in percent")
	return cmd
}

func newJobsInspectCommand(rootOpts *RootOptions, deps Deps) *cobra.Command {
	var scheduled int
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show queue depth and scheduled scans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, closeFn, err := deps.Jobs(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			stats, err := api.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			var tasks []*asynq.TaskInfo
			if scheduled > 0 {
				if tasks, err = api.ListScheduled(cmd.Context(), scheduled); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				ids := make([]string, 0, len(tasks))
				for _, task := range tasks {
					ids = append(ids, task.ID)
				}
				return writeJSON(out, struct {
					QueueStats
					ScheduledTasks []string `json:"scheduled_tasks"`
				}{stats, ids})
			}
			if _, err := fmt.Fprintf(out, "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
				stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry); err != nil {
				return err
			}
			for _, task := range tasks {
				if _, err := fmt.Fprintf(out, "%s %s next=%s\n", task.ID, task.Type, task.NextProcessAt.Format(time.RFC3339)); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&scheduled, "scheduled", 0, "also list up to N scheduled tasks")
	return cmd
}
