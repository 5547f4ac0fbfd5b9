package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"reelpipe/internal/api"
	"reelpipe/internal/apiclient"
	"reelpipe/internal/store"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Create and inspect batches",
	}

	batchCmd.AddCommand(newBatchCreateCommand(ctx))
	batchCmd.AddCommand(newBatchListCommand(ctx))
	batchCmd.AddCommand(newBatchShowCommand(ctx))
	batchCmd.AddCommand(newMasterBatchCreateCommand(ctx))

	return batchCmd
}

func newBatchCreateCommand(ctx *commandContext) *cobra.Command {
	var pipelinePath string
	var sources []string
	var imageURL string
	var modelID string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Fan one pipeline out over several source videos",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadPipeline(pipelinePath)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				batch, err := client.CreateBatch(cmd.Context(), api.CreateBatchRequest{
					SourceVideoURLs: sources,
					ModelImageURL:   imageURL,
					ModelID:         modelID,
					Pipeline:        p,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued batch %s with %d jobs\n", batch.ID, batch.TotalJobs)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&pipelinePath, "pipeline", "", "Path to a pipeline definition (JSON)")
	cmd.Flags().StringSliceVar(&sources, "source", nil, "Source video URL (repeatable)")
	cmd.Flags().StringVar(&imageURL, "image", "", "Persona image URL shared by all jobs")
	cmd.Flags().StringVar(&modelID, "model", "", "Persona identifier shared by all jobs")
	_ = cmd.MarkFlagRequired("pipeline")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func newMasterBatchCreateCommand(ctx *commandContext) *cobra.Command {
	var pipelinePath string
	var personas []string

	cmd := &cobra.Command{
		Use:   "create-master",
		Short: "Run one pipeline across several personas",
		Long:  "Each --persona takes the form id=imageURL; one job is queued per persona with its image substituted into the generation steps.",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadPipeline(pipelinePath)
			if err != nil {
				return err
			}
			refs := make([]api.PersonaRef, 0, len(personas))
			for _, raw := range personas {
				id, imageURL, ok := strings.Cut(raw, "=")
				if !ok || strings.TrimSpace(id) == "" || strings.TrimSpace(imageURL) == "" {
					return fmt.Errorf("invalid persona %q (expected id=imageURL)", raw)
				}
				refs = append(refs, api.PersonaRef{ID: strings.TrimSpace(id), ImageURL: strings.TrimSpace(imageURL)})
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				batch, err := client.CreateMasterBatch(cmd.Context(), api.CreateMasterBatchRequest{
					Personas: refs,
					Pipeline: p,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued master batch %s with %d jobs\n", batch.ID, batch.TotalJobs)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&pipelinePath, "pipeline", "", "Path to a pipeline definition (JSON)")
	cmd.Flags().StringSliceVar(&personas, "persona", nil, "Persona as id=imageURL (repeatable)")
	_ = cmd.MarkFlagRequired("pipeline")
	_ = cmd.MarkFlagRequired("persona")
	return cmd
}

func newBatchListCommand(ctx *commandContext) *cobra.Command {
	var kind string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				batches, err := client.Batches(cmd.Context(), store.BatchKind(kind))
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, api.BatchListResponse{Batches: batches})
				}
				if len(batches) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No batches")
					return nil
				}
				rows := make([][]string, 0, len(batches))
				for _, batch := range batches {
					rows = append(rows, []string{
						shortID(batch.ID),
						batch.PipelineName,
						batch.Status,
						fmt.Sprintf("%d/%d", batch.CompletedJobs, batch.TotalJobs),
						fmt.Sprintf("%d", batch.FailedJobs),
						formatDisplayTime(batch.CreatedAt),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Pipeline", "Status", "Done", "Failed", "Created"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", string(store.KindBatch), "Batch kind: batch or master")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable output")
	return cmd
}

func newBatchShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <batch-id>",
		Short: "Show a batch and its jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				batch, err := client.Batch(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, api.BatchResponse{Batch: batch})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Batch %s (%s)\n", batch.ID, batch.Kind)
				fmt.Fprintf(out, "  Pipeline: %s\n", batch.PipelineName)
				fmt.Fprintf(out, "  Status:   %s\n", batch.Status)
				fmt.Fprintf(out, "  Jobs:     %d total, %d completed, %d failed\n",
					batch.TotalJobs, batch.CompletedJobs, batch.FailedJobs)
				if len(batch.Jobs) > 0 {
					fmt.Fprintln(out, renderTable(
						[]string{"ID", "Status", "Step", "Review", "Error"},
						buildBatchJobRows(batch.Jobs),
						[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
					))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable output")
	return cmd
}

func buildBatchJobRows(jobs []api.JobView) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		step := job.Step
		if step == "" {
			step = fmt.Sprintf("%d/%d", job.CurrentStep, job.TotalSteps)
		}
		rows = append(rows, []string{
			shortID(job.ID),
			job.Status,
			step,
			job.PostStatus,
			job.ErrorMessage,
		})
	}
	return rows
}
