package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"goalflow/internal/app"
	"goalflow/internal/diff"
	"goalflow/internal/schema"
)

func docCmd() *cobra.Command {
	doc := &cobra.Command{Use: "doc", Short: "Manage workflow documents"}
	doc.AddCommand(docCreateCmd())
	doc.AddCommand(docListCmd())
	doc.AddCommand(docShowCmd())
	doc.AddCommand(docImportCmd())
	doc.AddCommand(docExportCmd())
	doc.AddCommand(docHistoryCmd())
	doc.AddCommand(docDiffCmd())
	return doc
}

func docCreateCmd() *cobra.Command {
	var name, objective string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an empty document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, s *app.Service) error {
				v, err := s.CreateDocument(ctx, name, objective, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(v)
				}
				fmt.Printf("Created %s (version %d)\n", v.DocumentID, v.Version)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "document name")
	cmd.Flags().StringVar(&objective, "objective", "", "document objective")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("objective")
	return cmd
}

func docListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, s *app.Service) error {
				items, err := s.ListDocuments(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Version", "Created By", "Updated"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.Name, d.LatestVersion, d.CreatedBy, d.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func docShowCmd() *cobra.Command {
	var version int
	var format string
	cmd := &cobra.Command{
		Use:   "show <document-id>",
		Short: "Print a document version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, s *app.Service) error {
				v, err := s.Document(ctx, args[0], version)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(v)
				}
				out, err := app.EncodeDocument(v.Document, format)
				if err != nil {
					return err
				}
				fmt.Printf("# %s version %d by %s at %s\n", v.DocumentID, v.Version, v.ActorID, v.CreatedAt)
				os.Stdout.Write(out)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "version to show (0 = latest)")
	cmd.Flags().StringVar(&format, "format", app.FormatYAML, "output format: yaml or json")
	return cmd
}

func docImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Validate and store a JSON or YAML document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readDocument(args[0])
			if err != nil {
				return err
			}
			return withService(cmd.Context(), func(ctx context.Context, s *app.Service) error {
				v, err := s.ImportDocument(ctx, raw, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(v)
				}
				fmt.Printf("Imported %s (version %d)\n", v.DocumentID, v.Version)
				return nil
			})
		},
	}
}

func docExportCmd() *cobra.Command {
	var version int
	var out string
	cmd := &cobra.Command{
		Use:   "export <document-id>",
		Short: "Write a document version to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, s *app.Service) error {
				v, err := s.Document(ctx, args[0], version)
				if err != nil {
					return err
				}
				format := app.FormatJSON
				if out != "" {
					format = app.FormatOf(out)
				}
				data, err := app.EncodeDocument(v.Document, format)
				if err != nil {
					return err
				}
				if out == "" {
					_, err = os.Stdout.Write(data)
					return err
				}
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s version %d to %s\n", v.DocumentID, v.Version, out)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "version to export (0 = latest)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (.json, .yaml or .yml); stdout when empty")
	return cmd
}

func docHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <document-id>",
		Short: "List versions of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, s *app.Service) error {
				items, err := s.History(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Version", "Actor", "Summary", "Created"})
				for _, v := range items {
					tw.AppendRow(table.Row{v.Version, v.ActorID, v.Summary, v.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func docDiffCmd() *cobra.Command {
	var from, to int
	cmd := &cobra.Command{
		Use:   "diff <document-id>",
		Short: "Show line changes between two versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, s *app.Service) error {
				res, err := s.Diff(ctx, args[0], from, to)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				printDiff(res)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&from, "from", 0, "older version (default: the one before --to)")
	cmd.Flags().IntVar(&to, "to", 0, "newer version (0 = latest)")
	return cmd
}

func printDiff(res diff.Result) {
	if len(res.Hunks) == 0 {
		fmt.Println("no changes")
		return
	}
	for _, h := range res.Hunks {
		if len(h.Lines) > 0 {
			first := h.Lines[0]
			fmt.Printf("@@ -%d +%d @@\n", first.OldLine, first.NewLine)
		}
		for _, l := range h.Lines {
			switch l.Type {
			case diff.LineAdded:
				fmt.Println("+" + l.Text)
			case diff.LineRemoved:
				fmt.Println("-" + l.Text)
			default:
				fmt.Println(" " + l.Text)
			}
		}
	}
	fmt.Printf("%d added, %d removed", res.Added, res.Removed)
	if res.Truncated {
		fmt.Print(" (truncated)")
	}
	fmt.Println()
}

type fileResult struct {
	Path   string        `json:"path"`
	Result schema.Result `json:"result"`
	Err    string        `json:"error,omitempty"`
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate JSON or YAML documents without storing them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results := make([]fileResult, len(args))
			g, _ := errgroup.WithContext(cmd.Context())
			g.SetLimit(runtime.NumCPU())
			for i, path := range args {
				g.Go(func() error {
					results[i].Path = path
					raw, err := readDocument(path)
					if err != nil {
						results[i].Err = err.Error()
						return nil
					}
					results[i].Result = app.Validate(raw)
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			failed := 0
			for _, r := range results {
				if r.Err != "" || !r.Result.Valid {
					failed++
				}
			}
			if viper.GetBool("json") {
				if err := printJSON(results); err != nil {
					return err
				}
			} else {
				printValidation(results)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d file(s) invalid", failed, len(results))
			}
			return nil
		},
	}
}

func printValidation(results []fileResult) {
	tw := newTable()
	tw.AppendHeader(table.Row{"File", "Level", "Path", "Code", "Message"})
	for _, r := range results {
		if r.Err != "" {
			tw.AppendRow(table.Row{r.Path, "error", "", "", r.Err})
			continue
		}
		if r.Result.Valid && len(r.Result.Warnings) == 0 {
			tw.AppendRow(table.Row{r.Path, "ok", "", "", ""})
		}
		for _, is := range r.Result.Errors {
			tw.AppendRow(table.Row{r.Path, "error", is.Path, is.Code, is.Message})
		}
		for _, is := range r.Result.Warnings {
			tw.AppendRow(table.Row{r.Path, "warning", is.Path, is.Code, is.Message})
		}
	}
	tw.Render()
}

// readDocument loads a file and converts YAML to JSON so every document
// goes through the same validator.
func readDocument(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw, err := app.ToJSON(data, app.FormatOf(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", strings.TrimSpace(path), err)
	}
	return raw, nil
}
