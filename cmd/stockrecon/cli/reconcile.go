package cli

import (
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/stockrecon/internal/reconciliation"
)

type reconcileOptions struct {
	warehouse         string
	location          string
	product           string
	from              string
	to                string
	threshold         string
	startingQuantity  string
	onlyDiscrepancies bool
	noDocuments       bool
	noInventories     bool
	csv               bool
}

func newReconcileCommand(rootOpts *RootOptions, deps Deps) *cobra.Command {
	opts := &reconcileOptions{}
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Replay the ledger and compare it with recorded stock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, rootOpts, opts, deps)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.warehouse, "warehouse", "", "warehouse UUID")
	f.StringVar(&opts.location, "location", "", "location UUID")
	f.StringVar(&opts.product, "product", "", "product UUID")
	f.StringVar(&opts.from, "from", "", "include movements from this date (YYYY-MM-DD or RFC3339)")
	f.StringVar(&opts.to, "to", "", "include movements up to this date (YYYY-MM-DD or RFC3339)")
	f.StringVar(&opts.threshold, "threshold", "", "minor/major boundary in percent")
	f.StringVar(&opts.startingQuantity, "starting-quantity", "", "quantity the replay starts from")
	f.BoolVar(&opts.onlyDiscrepancies, "only-discrepancies", false, "omit correct items")
	f.BoolVar(&opts.noDocuments, "no-documents", false, "exclude document movements")
	f.BoolVar(&opts.noInventories, "no-inventories", false, "exclude inventory counts")
	f.BoolVar(&opts.csv, "csv", false, "write items as CSV")
	return cmd
}

func (o *reconcileOptions) request() (reconciliation.Request, error) {
	req := reconciliation.DefaultRequest()
	var err error
	if req.WarehouseID, err = optionalUUID("warehouse", o.warehouse); err != nil {
		return req, err
	}
	if req.LocationID, err = optionalUUID("location", o.location); err != nil {
		return req, err
	}
	if req.ProductID, err = optionalUUID("product", o.product); err != nil {
		return req, err
	}
	if req.FromDate, err = reconciliation.ParseDate("from", o.from, false); err != nil {
		return req, err
	}
	if req.ToDate, err = reconciliation.ParseDate("to", o.to, true); err != nil {
		return req, err
	}
	if o.threshold != "" {
		threshold, err := decimal.NewFromString(o.threshold)
		if err != nil {
			return req, &reconciliation.ValidationError{Field: "threshold", Message: "must be a number"}
		}
		req.DiscrepancyThreshold = &threshold
	}
	if o.startingQuantity != "" {
		if req.StartingQuantity, err = decimal.NewFromString(o.startingQuantity); err != nil {
			return req, &reconciliation.ValidationError{Field: "starting-quantity", Message: "must be a number"}
		}
	}
	req.IncludeDocuments = !o.noDocuments
	req.IncludeInventories = !o.noInventories
	req.OnlyWithDiscrepancies = o.onlyDiscrepancies
	return req, req.Validate()
}

func runReconcile(cmd *cobra.Command, rootOpts *RootOptions, opts *reconcileOptions, deps Deps) error {
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

	resp, err := svc.Reconcile(cmd.Context(), tenantID, req)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	switch {
	case opts.csv:
		return reconciliation.WriteCSV(out, resp.Items)
	case rootOpts.Format == "json":
		return writeJSON(out, resp)
	default:
		return writeResponseText(out, resp)
	}
}
