package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/danielnaab/site-scanning-engine/internal/app"
	"github.com/danielnaab/site-scanning-engine/internal/ingest"
	"github.com/danielnaab/site-scanning-engine/internal/model"
	"github.com/danielnaab/site-scanning-engine/internal/queue"
	"github.com/danielnaab/site-scanning-engine/internal/server"
)

func newScanCommand(opts *rootOptions) *cobra.Command {
	var (
		websiteID int64
		output    string
		save      bool
	)
	cmd := &cobra.Command{
		Use:   "scan [url]",
		Short: "Scan one website and print the result",
		Long: `Scan one website and print the result. With --website-id the target
defaults to the registry entry, and --save stores the result under it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "json" && output != "yaml" {
				return fmt.Errorf("unknown output format %q", output)
			}
			if save && websiteID == 0 {
				return errors.New("--save requires --website-id")
			}
			req := model.ScanRequest{WebsiteID: websiteID, ScanID: uuid.NewString()}
			if len(args) == 1 {
				req.TargetURL = args[0]
			}
			if req.TargetURL == "" && websiteID == 0 {
				return errors.New("a url or --website-id is required")
			}

			ctx := cmd.Context()
			return opts.withApp(ctx, func(a *app.Application) error {
				if req.TargetURL == "" {
					web, err := a.Registry.Get(ctx, websiteID)
					if err != nil {
						return err
					}
					req.TargetURL = web.Website
				}

				s, err := a.Scanner()
				if err != nil {
					return err
				}
				res, scanErr := s.Scan(ctx, req)
				if res != nil {
					if save {
						if err := a.Results.Save(ctx, res); err != nil {
							return errors.Join(scanErr, err)
						}
					}
					if err := writeResult(cmd.OutOrStdout(), res, output); err != nil {
						return errors.Join(scanErr, err)
					}
				}
				return scanErr
			})
		},
	}

	cmd.Flags().Int64Var(&websiteID, "website-id", 0, "registry website id of the target")
	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format (json, yaml)")
	cmd.Flags().BoolVar(&save, "save", false, "store the result under --website-id")
	return cmd
}

// writeResult prints res. YAML goes through the JSON form so fields that
// were not evaluated stay omitted and absent ones print as null.
func writeResult(w io.Writer, res *model.ScanResult, format string) error {
	raw, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	if format == "json" {
		_, err = fmt.Fprintln(w, string(raw))
		return err
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return opts.withApp(ctx, func(a *app.Application) error {
				if addr != "" {
					a.Config.Server.Addr = addr
				}
				s, err := server.NewServer(a)
				if err != nil {
					return err
				}
				runErr := s.Run(ctx)

				shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
				defer cancel()
				return errors.Join(runErr, a.Jobs.Shutdown(shutdownCtx))
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func newWorkerCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume scan jobs from the queue until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return opts.withApp(ctx, func(a *app.Application) error {
				w, err := a.Worker(ctx)
				if err != nil {
					return err
				}
				return w.Run(ctx)
			})
		},
	}
}

func newIngestCommand(opts *rootOptions) *cobra.Command {
	var (
		limit int
		file  string
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load the federal website index into the registry",
		Long: `Load the federal website index into the registry. A full run (no --limit)
also removes websites that are no longer listed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return opts.withApp(ctx, func(a *app.Application) error {
				ing, err := a.Ingester()
				if err != nil {
					return err
				}
				sum, err := ing.Run(ctx, ingest.Options{File: file, Limit: limit})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rows: %d saved: %d skipped: %d deleted: %d\n",
					sum.Rows, sum.Saved, sum.Skipped, sum.Deleted)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows to load (0 for all)")
	cmd.Flags().StringVar(&file, "file", "", "read a local CSV instead of downloading")
	return cmd
}

func newQueueScansCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "queue-scans",
		Short: "Enqueue a scan for every registered website",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return opts.withApp(ctx, func(a *app.Application) error {
				q, err := a.Queue(ctx)
				if err != nil {
					return err
				}
				n, err := queue.QueueScans(ctx, q, a.Registry)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued: %d\n", n)
				return nil
			})
		},
	}
}

func newClearQueueCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-queue",
		Short: "Drop every pending and delayed scan job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return opts.withApp(ctx, func(a *app.Application) error {
				q, err := a.Queue(ctx)
				if err != nil {
					return err
				}
				if err := queue.ClearQueue(ctx, q); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "queue cleared")
				return nil
			})
		},
	}
}

func newConfigCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
