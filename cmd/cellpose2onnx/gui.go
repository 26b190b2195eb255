package main

import (
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/born-ml/cellpose2onnx/internal/gui"
)

func newGUICmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gui",
		Short: "Serve the conversion form on a local address",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			gin.SetMode(gin.ReleaseMode)
			s := gui.New(a.service(), gui.Options{
				OutputDir: a.cfg.OutputDirectory,
				BrowseDir: a.cfg.ModelsDir,
				Logger:    a.logger,
			})
			return s.ListenAndServe(a.cfg.GUI.Addr)
		},
	}
	cmd.Flags().String("addr", "", "Listen address (default 127.0.0.1:8086)")
	return cmd
}
