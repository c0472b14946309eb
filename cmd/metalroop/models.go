package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/dudu/metalroop/internal/config"
	"github.com/dudu/metalroop/internal/engine"
	"github.com/dudu/metalroop/internal/ffmpeg"
	"github.com/dudu/metalroop/internal/inference"
	"github.com/dudu/metalroop/internal/models"
	"github.com/dudu/metalroop/internal/processor"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage model artifacts",
}

var downloadOpts struct {
	Processors    []string
	EnhancerModel string
}

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Fetch every model the processors need and check external tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.DefaultRun().WithProcessors(downloadOpts.Processors...)
		cfg.EnhancerModel = downloadOpts.EnhancerModel

		registry := engine.New(rtConfig, newStore(log), log)
		defer registry.Close()

		tool := ffmpeg.New(rtConfig.FFmpegPath, rtConfig.FFprobePath, log)
		procs, err := processor.NewAll(cfg, registry.Deps(tool, os.Stderr))
		if err != nil {
			return err
		}

		for _, p := range procs {
			if err := p.ReadyCheck(cmd.Context()); err != nil {
				return err
			}
			log.WithField("processor", p.Name()).Info("Ready")
		}
		if err := registry.Gate().ReadyCheck(cmd.Context()); err != nil {
			return err
		}
		log.WithField("models_dir", rtConfig.ModelsDir).Info("All models present")
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show known models and whether they are present",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := models.NewStore(rtConfig.ModelsDir, log)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "MODEL\tPRESENT\tSOURCE")
		for _, a := range []models.Artifact{
			models.ArtifactDetector,
			models.ArtifactRecognizer,
			models.ArtifactSwapper,
			models.ArtifactGFPGAN,
			models.ArtifactGPEN,
			models.ArtifactCodeFormer,
			models.ArtifactClassifier,
		} {
			a = rtConfig.Artifact(a)
			fmt.Fprintf(w, "%s\t%v\t%s\n", a.Name, store.Present(a), a.URL)
		}
		return w.Flush()
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect MODEL.onnx",
	Short: "Print the inputs, outputs and metadata of an ONNX model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		modelPath := args[0]
		if _, err := os.Stat(modelPath); err != nil {
			return err
		}

		err := inference.Initialize(inference.Options{
			LibraryPath: rtConfig.ORTLibrary,
			Target:      models.TargetCPU,
			Log:         log,
		})
		if err != nil {
			return err
		}
		defer inference.Shutdown()

		inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
		if err != nil {
			return fmt.Errorf("failed to get model info: %w", err)
		}

		fmt.Printf("Model: %s (ONNX Runtime %s)\n", modelPath, ort.GetVersion())
		fmt.Printf("\nInputs (%d):\n", len(inputs))
		for _, info := range inputs {
			fmt.Printf("  %s: shape=%v, type=%v\n", info.Name, info.Dimensions, info.DataType)
		}
		fmt.Printf("\nOutputs (%d):\n", len(outputs))
		for _, info := range outputs {
			fmt.Printf("  %s: shape=%v, type=%v\n", info.Name, info.Dimensions, info.DataType)
		}

		metadata, err := ort.GetModelMetadata(modelPath)
		if err != nil {
			fmt.Printf("\n(Could not read metadata: %v)\n", err)
			return nil
		}
		defer metadata.Destroy()

		fmt.Println("\nMetadata:")
		if producer, err := metadata.GetProducerName(); err == nil {
			fmt.Printf("  Producer: %s\n", producer)
		}
		if version, err := metadata.GetVersion(); err == nil {
			fmt.Printf("  Version: %d\n", version)
		}
		if domain, err := metadata.GetDomain(); err == nil {
			fmt.Printf("  Domain: %s\n", domain)
		}
		if desc, err := metadata.GetDescription(); err == nil && desc != "" {
			fmt.Printf("  Description: %s\n", desc)
		}
		return nil
	},
}

func init() {
	def := config.DefaultRun()
	downloadCmd.Flags().StringSliceVar(&downloadOpts.Processors, "frame-processor", def.Processors, "Frame processors to prepare")
	downloadCmd.Flags().StringVar(&downloadOpts.EnhancerModel, "enhancer-model", def.EnhancerModel, "Face enhancer model")

	modelsCmd.AddCommand(downloadCmd, listCmd, inspectCmd)
	rootCmd.AddCommand(modelsCmd)
}
