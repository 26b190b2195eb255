package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/born-ml/cellpose2onnx/internal/catalog"
)

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the models a full conversion would process",
		Long: "List built-in and user-registered models with their mean diameter, fold count\n" +
			"and weights files. Nothing is downloaded; missing files are marked.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := a.storage()
			r := catalog.NewResolver(s)
			ids, err := r.ListAllModels()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tDIAMETER\tFOLD\tWEIGHTS")
			for _, id := range ids {
				for fold := 0; fold < r.FoldCount(id); fold++ {
					path, err := s.ResolvePath(id, fold, false)
					if errors.Is(err, catalog.ErrNotFound) {
						path = catalog.WeightsBasename(id, fold) + " (missing)"
					} else if err != nil {
						return err
					}
					fmt.Fprintf(w, "%s\t%.1f\t%d\t%s\n", id, r.MeanDiameter(id), fold, path)
				}
			}
			return w.Flush()
		},
	}
}
