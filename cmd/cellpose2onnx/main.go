// Package main provides the cellpose2onnx command line tool.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/born-ml/cellpose2onnx/internal/catalog"
	"github.com/born-ml/cellpose2onnx/internal/config"
	"github.com/born-ml/cellpose2onnx/internal/convert"
)

const version = "v0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries what the subcommands share once flags are parsed.
type app struct {
	configFile string
	cfg        *config.Config
	logger     *logrus.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{logger: logrus.New()}

	var modelPath string
	var meanDiameter float64

	cmd := &cobra.Command{
		Use:   "cellpose2onnx",
		Short: "Convert Cellpose models to ONNX",
		Long: "Convert Cellpose model weights to ONNX.\n\n" +
			"With --model_path a single weights file is converted and --mean_diameter is required\n" +
			"(17.0 for nuclei-based models, otherwise 30.0). Without it every built-in and\n" +
			"user-registered model is converted, downloading missing weights.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := convert.Request{
				ModelPath:    modelPath,
				OutputDir:    a.cfg.OutputDirectory,
				MeanDiameter: meanDiameter,
			}
			if _, err := a.service().Run(req); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Output models are saved here: ", req.OutputDir)
			fmt.Fprintln(out, "Conversion completed.")
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "Config file (YAML, JSON or TOML)")
	pf.String("output_directory", "", "Output directory for converted models (default <models_dir>/output)")
	pf.String("models_dir", "", "Cellpose models directory (default $CELLPOSE_LOCAL_MODELS_PATH or ~/.cellpose/models)")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.String("log-format", "text", "Log format: text or json")

	cmd.Flags().StringVar(&modelPath, "model_path", "", "Full path to the individual cellpose model")
	cmd.Flags().Float64Var(&meanDiameter, "mean_diameter", 0,
		"Mean diameter used for training the given model. 17.0 for nuclei-based models, otherwise 30.0")

	cmd.AddCommand(
		newGUICmd(a),
		newListCmd(a),
		newInspectCmd(),
		newVersionCmd(),
	)
	return cmd
}

// init loads the configuration and sets up logging.
func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configFile, cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg
	initLogger(a.logger, cfg.Log, cmd.ErrOrStderr())
	return nil
}

func initLogger(l *logrus.Logger, cfg config.LogConfig, out io.Writer) {
	l.SetOutput(out)
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if cfg.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func (a *app) storage() *catalog.FileStorage {
	s := catalog.NewFileStorage(a.cfg.ModelsDir)
	s.ModelURL = a.cfg.ModelURL
	s.Builtins = a.cfg.BuiltinModels
	s.Logger = a.logger
	return s
}

func (a *app) service() *convert.Service {
	c := convert.New(convert.WithLogger(a.logger))
	return convert.NewService(c, catalog.NewResolver(a.storage()), a.logger)
}
