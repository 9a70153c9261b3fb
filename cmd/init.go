// cmd/init.go
package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/traintrack-ai/traintrack-cli/internal/job"
	"github.com/traintrack-ai/traintrack-cli/internal/runner"
	"github.com/traintrack-ai/traintrack-cli/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init [manifest.yaml]",
	Short: "Interactively scaffold a job manifest",
	Long: `Walk through the questions needed to build a job manifest and write
it as YAML. Submit the result with 'traintrack run'.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "job.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		return runInit(path)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func positiveInt(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("not a number")
	}
	if n < 1 {
		return fmt.Errorf("must be at least 1")
	}
	return nil
}

func validDuration(s string) error {
	if _, err := time.ParseDuration(s); err != nil {
		return fmt.Errorf("not a duration (try 2s or 500ms)")
	}
	return nil
}

func runInit(path string) error {
	if _, err := os.Stat(path); err == nil {
		overwrite, err := ui.AskConfirm(fmt.Sprintf("%s already exists. Overwrite?", path))
		if err != nil {
			return err
		}
		if !overwrite {
			return nil
		}
	}

	name, err := ui.AskInput("Job name", "resnet50-baseline", "")
	if err != nil {
		return err
	}

	kindStr, err := ui.AskSelect("Job kind", []string{
		string(job.KindTraining),
		string(job.KindHyperparamSearch),
	})
	if err != nil {
		return err
	}

	spec := runner.Spec{Name: name, Kind: job.Kind(kindStr)}

	epochDur, err := ui.AskValidated("Epoch duration (how long one epoch takes)", "2s", "2s", validDuration)
	if err != nil {
		return err
	}
	d, _ := time.ParseDuration(epochDur)
	spec.EpochDuration = runner.Duration(d)

	if spec.Kind == job.KindHyperparamSearch {
		trials, err := ui.AskValidated("Number of trials", "5", "5", positiveInt)
		if err != nil {
			return err
		}
		spec.Trials, _ = strconv.Atoi(trials)

		epochs, err := ui.AskValidated("Epochs per trial", "10", "10", positiveInt)
		if err != nil {
			return err
		}
		spec.EpochsPerTrial, _ = strconv.Atoi(epochs)

		metric, err := ui.AskInput("Metric to optimize", job.DefaultOptimizeMetric, job.DefaultOptimizeMetric)
		if err != nil {
			return err
		}
		spec.OptimizeMetric = metric
	} else {
		epochs, err := ui.AskValidated("Number of epochs", "10", "10", positiveInt)
		if err != nil {
			return err
		}
		spec.Epochs, _ = strconv.Atoi(epochs)
	}

	sample, err := ui.AskConfirm("Sample host CPU/memory alongside training metrics?")
	if err != nil {
		return err
	}
	spec.SampleResources = sample

	data, err := yaml.Marshal(&spec)
	if err != nil {
		return fmt.Errorf("failed to render manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	sl := ui.NewStatusLine()
	sl.Success(fmt.Sprintf("Wrote %s", path))
	fmt.Printf("\nSubmit it with: traintrack run %s\n", path)
	return nil
}
