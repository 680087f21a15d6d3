package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/stockrecon/internal/reconciliation"
)

type applyOptions struct {
	stocks        []string
	reason        string
	actor         string
	noAdjustments bool
}

func newApplyCommand(rootOpts *RootOptions, deps Deps) *cobra.Command {
	opts := &applyOptions{}
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Correct stock rows to their recalculated quantity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd, rootOpts, opts, deps)
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&opts.stocks, "stock", nil, "stock UUID to correct (repeatable)")
	f.StringVar(&opts.reason, "reason", "", "reason recorded on adjustments and the audit log")
	f.StringVar(&opts.actor, "actor", "", "UUID of the operator performing the correction")
	f.BoolVar(&opts.noAdjustments, "no-adjustments", false, "update stock without writing adjustment movements")
	return cmd
}

func (o *applyOptions) request() (reconciliation.ApplyRequest, error) {
	ids := make([]uuid.UUID, 0, len(o.stocks))
	for _, raw := range o.stocks {
		id, err := uuid.Parse(raw)
		if err != nil {
			return reconciliation.ApplyRequest{}, fmt.Errorf("--stock %q is not a valid UUID", raw)
		}
		ids = append(ids, id)
	}
	req := reconciliation.NewApplyRequest(o.reason, ids...)
	req.CreateAdjustmentMovements = !o.noAdjustments
	actor, err := optionalUUID("actor", o.actor)
	if err != nil {
		return reconciliation.ApplyRequest{}, err
	}
	req.ActorID = actor
	return req, nil
}

func runApply(cmd *cobra.Command, rootOpts *RootOptions, opts *applyOptions, deps Deps) error {
	tenantID, err := rootOpts.tenantID()
	if err != nil {
		return err
	}
	req, err := opts.request()
	if err != nil {
		return err
	}
	svc, closeFn, err := deps.Reconciler(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	result, err := svc.Apply(cmd.Context(), tenantID, req)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if rootOpts.Format == "json" {
		err = writeJSON(out, result)
	} else {
		err = writeApplyText(out, result)
	}
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("apply rolled back: %s", result.ErrorMessage)
	}
	return nil
}
