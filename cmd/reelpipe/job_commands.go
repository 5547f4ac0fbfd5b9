package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"reelpipe/internal/api"
	"reelpipe/internal/apiclient"
	"reelpipe/internal/pipeline"
)

func newJobCommand(ctx *commandContext) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Create and inspect jobs",
	}

	jobCmd.AddCommand(newJobCreateCommand(ctx))
	jobCmd.AddCommand(newJobShowCommand(ctx))
	jobCmd.AddCommand(newJobRegenerateCommand(ctx))
	jobCmd.AddCommand(newJobReviewCommand(ctx))

	return jobCmd
}

func newJobCreateCommand(ctx *commandContext) *cobra.Command {
	var pipelinePath string
	var sourceURL string
	var imageURL string
	var modelID string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Queue a new job",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadPipeline(pipelinePath)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				job, err := client.CreateJob(cmd.Context(), api.CreateJobRequest{
					SourceVideoURL: sourceURL,
					ModelImageURL:  imageURL,
					ModelID:        modelID,
					Pipeline:       p,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued job %s (%s)\n", job.ID, job.PipelineName)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&pipelinePath, "pipeline", "", "Path to a pipeline definition (JSON)")
	cmd.Flags().StringVar(&sourceURL, "source", "", "Source video URL (TikTok page or storage reference)")
	cmd.Flags().StringVar(&imageURL, "image", "", "Persona image URL")
	cmd.Flags().StringVar(&modelID, "model", "", "Persona identifier")
	_ = cmd.MarkFlagRequired("pipeline")
	return cmd
}

func newJobShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job with its step results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				job, err := client.Job(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, api.JobResponse{Job: job})
				}
				printJob(cmd, job)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable output")
	return cmd
}

func newJobRegenerateCommand(ctx *commandContext) *cobra.Command {
	var fromStep int

	cmd := &cobra.Command{
		Use:   "regenerate <job-id>",
		Short: "Re-run a finished job from a given step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				job, err := client.Regenerate(cmd.Context(), args[0], fromStep)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued job %s from step %d\n", job.ID, fromStep)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&fromStep, "from-step", 0, "Zero-based step index to restart from")
	return cmd
}

func newJobReviewCommand(ctx *commandContext) *cobra.Command {
	var caption string

	cmd := &cobra.Command{
		Use:   "review <job-id> <posted|rejected>",
		Short: "Record a posting decision on a finished job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				job, err := client.Review(cmd.Context(), args[0], api.ReviewRequest{
					Status:  strings.ToLower(strings.TrimSpace(args[1])),
					Caption: caption,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s marked %s\n", job.ID, job.PostStatus)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&caption, "caption", "", "Caption to publish with the post")
	return cmd
}

func printJob(cmd *cobra.Command, job api.JobView) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job %s\n", job.ID)
	fmt.Fprintf(out, "  Pipeline: %s\n", job.PipelineName)
	fmt.Fprintf(out, "  Status:   %s", job.Status)
	if job.Step != "" {
		fmt.Fprintf(out, " (%s)", job.Step)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Progress: %d/%d steps\n", job.CurrentStep, job.TotalSteps)
	if job.BatchID != "" {
		fmt.Fprintf(out, "  Batch:    %s\n", job.BatchID)
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(out, "  Error:    %s\n", job.ErrorMessage)
	}
	if job.OutputURL != "" {
		fmt.Fprintf(out, "  Output:   %s\n", job.OutputURL)
	}
	if job.ResolvedURL != "" {
		fmt.Fprintf(out, "  Link:     %s\n", job.ResolvedURL)
	}
	if job.PostStatus != "" {
		fmt.Fprintf(out, "  Review:   %s\n", job.PostStatus)
	}
	if len(job.StepResults) > 0 {
		fmt.Fprintln(out, "  Steps:")
		for i, result := range job.StepResults {
			fmt.Fprintf(out, "    %d. %s", i+1, result.Label)
			if result.OutputURL != "" {
				fmt.Fprintf(out, " -> %s", result.OutputURL)
			}
			fmt.Fprintln(out)
			for _, item := range result.Items {
				if item.Error != "" {
					fmt.Fprintf(out, "       - %s: FAILED (%s)\n", item.InputURL, item.Error)
				} else {
					fmt.Fprintf(out, "       - %s -> %s\n", item.InputURL, item.OutputURL)
				}
			}
		}
	}
}

func loadPipeline(path string) (pipeline.Pipeline, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return pipeline.Pipeline{}, fmt.Errorf("pipeline definition path is required")
	}
	data, err := os.ReadFile(trimmed)
	if err != nil {
		return pipeline.Pipeline{}, fmt.Errorf("read pipeline definition: %w", err)
	}
	return pipeline.Decode(data)
}
