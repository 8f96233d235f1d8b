// Package main provides the qmnist CLI: train a quantized MNIST CNN and
// export it to QONNX.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/jonGuti13/qonnx2mdc/internal/config"
	"github.com/jonGuti13/qonnx2mdc/internal/model"
	"github.com/jonGuti13/qonnx2mdc/internal/onnx"
	"github.com/jonGuti13/qonnx2mdc/internal/pipeline"
)

const version = "v0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}
	var err error
	switch args[0] {
	case "train":
		err = cmdTrain(ctx, args[1:], stdout, stderr)
	case "export":
		err = cmdExport(args[1:], stdout, stderr)
	case "inspect":
		err = cmdInspect(args[1:], stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "qmnist %s\n", version)
	case "help", "-h", "--help":
		usage(stdout)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
		usage(stderr)
		return 2
	}
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "qmnist %s: %v\n", args[0], err)
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "qmnist - quantized MNIST training and QONNX export")
	fmt.Fprintf(w, "Version: %s\n\n", version)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  train      Train, save and export a model")
	fmt.Fprintln(w, "  export     Convert a saved .qmdl model to QONNX")
	fmt.Fprintln(w, "  inspect    Summarize a .onnx or .qmdl file")
	fmt.Fprintln(w, "  version    Show version")
}

func cmdTrain(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "", "path to YAML config (defaults apply when empty)")
	var o config.Overrides
	fs.StringVar(&o.Dataset, "dataset", "", "dataset name: mnist or synthetic")
	fs.StringVar(&o.DataDir, "data-dir", "", "directory with the MNIST IDX files")
	fs.IntVar(&o.Examples, "examples", 0, "synthetic training-set size")
	fs.IntVar(&o.Epochs, "epochs", 0, "epoch budget")
	fs.IntVar(&o.BatchSize, "batch-size", 0, "batch size")
	fs.Float64Var(&o.LR, "lr", 0, "learning rate")
	fs.Int64Var(&o.Seed, "seed", 0, "seed for data order and weight initialization")
	fs.StringVar(&o.OutputDir, "out", "", "output directory (default <parent of cwd>/"+config.OutputDirName+")")
	fs.StringVar(&o.LogLevel, "log-level", "", "debug, info, warn or error")
	fs.BoolVar(&o.NoExport, "no-export", false, "skip the QONNX export")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			return err
		}
	}
	cfg.ApplyOverrides(o)
	resolved, err := cfg.Resolve()
	if err != nil {
		return err
	}

	logger, err := resolved.Log.NewLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting", zap.String("version", version), zap.String("output_dir", resolved.OutputDir))

	res, err := pipeline.Run(ctx, resolved, logger)
	if err != nil {
		return err
	}
	last, _ := res.History.Last()
	fmt.Fprintf(stdout, "trained %d epochs (kept epoch %d): loss %.4f, accuracy %.4f",
		res.History.Len(), res.KeptEpoch, last.Loss, last.Accuracy)
	if res.History.Validated {
		fmt.Fprintf(stdout, ", val_loss %.4f, val_accuracy %.4f", last.ValLoss, last.ValAccuracy)
	}
	fmt.Fprintln(stdout)
	if res.Test.Examples > 0 {
		fmt.Fprintf(stdout, "test accuracy %.4f on %d examples\n", res.Test.Accuracy, res.Test.Examples)
	}
	fmt.Fprintln(stdout, "model:", res.ModelPath)
	fmt.Fprintln(stdout, "plot: ", res.PlotPath)
	if res.ONNXPath != "" {
		fmt.Fprintln(stdout, "qonnx:", res.ONNXPath)
	}
	return nil
}

func cmdExport(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	in := fs.String("in", "", "input .qmdl model")
	out := fs.String("out", "", "output .onnx file (default: "+pipeline.ONNXFile+" next to the input)")
	graph := fs.String("graph", "", "graph name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return errors.New("usage: qmnist export -in model.qmdl [-out qonnx_model.onnx] [-graph name]")
	}
	dst := *out
	if dst == "" {
		dst = filepath.Join(filepath.Dir(*in), pipeline.ONNXFile)
	}
	if _, err := pipeline.ExportFile(*in, dst, *graph); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "wrote", dst)
	return nil
}

func cmdInspect(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: qmnist inspect file.onnx|file.qmdl")
	}
	path := fs.Arg(0)

	if strings.EqualFold(filepath.Ext(path), ".qmdl") {
		art, err := model.Load(path)
		if err != nil {
			return err
		}
		h := art.Header
		fmt.Fprintf(stdout, "%s model, run %s, written by %s at %s\n",
			h.ModelType, h.RunID, h.Producer, h.CreatedAt.Format("2006-01-02 15:04:05"))
		if t := h.Training; t != nil {
			fmt.Fprintf(stdout, "trained %d epochs with %s, kept epoch %d: val_loss %.4f, val_accuracy %.4f, test_accuracy %.4f\n",
				t.Epochs, t.Optimizer, t.BestEpoch, t.ValLoss, t.ValAccuracy, t.TestAccuracy)
		}
		fmt.Fprint(stdout, art.Model.Summary())
		return nil
	}

	info, err := onnx.GetModelInfo(path)
	if err != nil {
		return err
	}
	fmt.Fprint(stdout, info.String())
	return nil
}
