// cogmem-cli is an operator CLI for inspecting and controlling a cogmem
// database directly, without going through the MCP or events adapters.
//
// Environment variables:
//
//	COGMEM_DB_PATH   — SQLite database path (default: platform data dir)
//	COGMEM_PROJECT   — explicit project scope ("" = auto-detect, "*" = global)
//	GEMINI_API_KEY   — Gemini API key for embeddings + optional reclassification
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	cogmem "github.com/cogmem/cogmem"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "cogmem-cli",
		Short: "cogmem — operator CLI for the memory engine",
		Long:  "Inspect and control a cogmem database: ingest, search, consolidate, manage links and sessions.",
	}

	root.AddCommand(
		rememberCmd(),
		recallCmd(),
		forgetCmd(),
		getCmd(),
		accessCmd(),
		statsCmd(),
		consolidateCmd(),
		sessionCmd(),
		linkCmd(),
		relatedCmd(),
		contradictionsCmd(),
		projectCmd(),
		pauseCmd(),
		resumeCmd(),
		statusCmd(),
		exportCmd(),
		importCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serviceFromEnv() (*cogmem.Service, error) {
	cfg := cogmem.Config{
		DBPath:       os.Getenv("COGMEM_DB_PATH"),
		Project:      os.Getenv("COGMEM_PROJECT"),
		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
	}
	return cogmem.Init(cfg)
}

func withService(f func(*cogmem.Service) error) error {
	svc, err := serviceFromEnv()
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer svc.Shutdown(context.Background())
	return f(svc)
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func rememberCmd() *cobra.Command {
	var project, scope, category, memType string
	var tags []string
	var salience float64

	cmd := &cobra.Command{
		Use:   "remember [title] [content]",
		Short: "Ingest a new memory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *cogmem.Service) error {
				m, err := svc.Remember(context.Background(), cogmem.MemoryInit{
					Title:    args[0],
					Content:  args[1],
					Project:  project,
					Scope:    cogmem.Scope(scope),
					Tags:     tags,
					Category: cogmem.Category(category),
					Type:     cogmem.MemoryType(memType),
					Salience: salience,
				})
				if err != nil {
					return err
				}
				printJSON(m)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Project scope override")
	cmd.Flags().StringVar(&scope, "scope", "", "project or global")
	cmd.Flags().StringVar(&category, "category", "", "Category override")
	cmd.Flags().StringVar(&memType, "type", "", "short_term, long_term, or episodic")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag (repeatable)")
	cmd.Flags().Float64Var(&salience, "salience", 0, "Salience override 0.0-1.0")
	return cmd
}

func recallCmd() *cobra.Command {
	var project, category, memType string
	var tags []string
	var limit int
	var includeDecayed bool

	cmd := &cobra.Command{
		Use:   "recall [query]",
		Short: "Hybrid search over memories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *cogmem.Service) error {
				results, err := svc.Recall(context.Background(), cogmem.SearchOptions{
					Query: args[0],
					Limit: limit,
					Filter: cogmem.Filter{
						Project:  project,
						Category: cogmem.Category(category),
						Type:     cogmem.MemoryType(memType),
						Tags:     tags,
					},
					IncludeDecayed: includeDecayed,
				})
				if err != nil {
					return err
				}
				if len(results) == 0 {
					fmt.Println("no matches")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSCORE\tCATEGORY\tTITLE")
				for _, r := range results {
					title := r.Title
					if len(title) > 50 {
						title = title[:47] + "..."
					}
					fmt.Fprintf(w, "%d\t%.3f\t%s\t%s\n", r.ID, r.RelevanceScore, r.Category, title)
				}
				w.Flush()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Project filter")
	cmd.Flags().StringVar(&category, "category", "", "Category filter")
	cmd.Flags().StringVar(&memType, "type", "", "Type filter")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag filter (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 10, "Max results")
	cmd.Flags().BoolVar(&includeDecayed, "include-decayed", false, "Include memories below the salience threshold")
	return cmd
}

func forgetCmd() *cobra.Command {
	var project, category string
	var tags []string
	var dryRun, confirm bool

	cmd := &cobra.Command{
		Use:   "forget [id]",
		Short: "Delete a memory by id, or bulk-delete by filter",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *cogmem.Service) error {
				if len(args) == 1 {
					var id int64
					if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
						return fmt.Errorf("invalid id %q", args[0])
					}
					ok, err := svc.Forget(id)
					if err != nil {
						return err
					}
					fmt.Printf("deleted: %v\n", ok)
					return nil
				}
				count, err := svc.ForgetBulk(cogmem.Filter{Project: project, Category: cogmem.Category(category), Tags: tags}, dryRun, confirm)
				if err != nil {
					return err
				}
				fmt.Printf("deleted: %d (dry_run=%v)\n", count, dryRun)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Bulk-delete filter: project")
	cmd.Flags().StringVar(&category, "category", "", "Bulk-delete filter: category")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Bulk-delete filter: tag (repeatable)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report the match count without deleting")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "Required to bulk-delete 2 or more memories")
	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [id]",
		Short: "Fetch a memory by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *cogmem.Service) error {
				var id int64
				if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
					return fmt.Errorf("invalid id %q", args[0])
				}
				m, err := svc.GetMemory(id)
				if err != nil {
					return err
				}
				if m == nil {
					fmt.Println("not found")
					return nil
				}
				printJSON(m)
				return nil
			})
		},
	}
}

func accessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "access [id]",
		Short: "Directly access a memory by id, reinforcing salience and spreading activation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *cogmem.Service) error {
				var id int64
				if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
					return fmt.Errorf("invalid id %q", args[0])
				}
				m, err := svc.AccessMemory(id)
				if err != nil {
					return err
				}
				if m == nil {
					fmt.Println("not found")
					return nil
				}
				printJSON(m)
				return nil
			})
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Report database size and thresholds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *cogmem.Service) error {
				info, err := svc.GetStats()
				if err != nil {
					return err
				}
				printJSON(info)
				return nil
			})
		},
	}
}

func consolidateCmd() *cobra.Command {
	var force, dryRun bool
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Run an on-demand consolidation pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *cogmem.Service) error {
				result, err := svc.Consolidate(force, dryRun)
				if err != nil {
					return err
				}
				printJSON(result)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Accepted for interface parity; has no effect")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Compute counts without writing anything")
	return cmd
}

func sessionCmd() *cobra.Command {
	sess := &cobra.Command{
		Use:   "session",
		Short: "Manage episodic sessions",
	}
	var project string
	start := &cobra.Command{
		Use:   "start",
		Short: "Open a new session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *cogmem.Service) error {
				s, err := svc.StartSession(project)
				if err != nil {
					return err
				}
				printJSON(s)
				return nil
			})
		},
	}
	start.Flags().StringVar(&project, "project", "", "Project scope for the session")

	var summary string
	end := &cobra.Command{
		Use:   "end",
		Short: "Close the active session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *cogmem.Service) error {
				if err := svc.EndSession(summary); err != nil {
					return err
				}
				fmt.Println("session ended")
				return nil
			})
		},
	}
	end.Flags().StringVar(&summary, "summary", "", "Optional session summary")

	sess.AddCommand(start, end)
	return sess
}

func linkCmd() *cobra.Command {
	var relationship string
	var strength float64
	cmd := &cobra.Command{
		Use:   "link [source-id] [target-id]",
		Short: "Create an explicit link between two memories",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *cogmem.Service) error {
				var src, tgt int64
				if _, err := fmt.Sscanf(args[0], "%d", &src); err != nil {
					return fmt.Errorf("invalid source id %q", args[0])
				}
				if _, err := fmt.Sscanf(args[1], "%d", &tgt); err != nil {
					return fmt.Errorf("invalid target id %q", args[1])
				}
				if strength == 0 {
					strength = 0.5
				}
				link, err := svc.LinkMemories(src, tgt, cogmem.Relationship(relationship), strength)
				if err != nil {
					return err
				}
				if link == nil {
					fmt.Println("rejected: self-link or duplicate")
					return nil
				}
				printJSON(link)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&relationship, "rel", string(cogmem.RelationshipRelated), "references, extends, contradicts, or related")
	cmd.Flags().Float64Var(&strength, "strength", 0.5, "Link strength (0,1]")
	return cmd
}

func relatedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "related [id]",
		Short: "List every memory linked to id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *cogmem.Service) error {
				var id int64
				if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
					return fmt.Errorf("invalid id %q", args[0])
				}
				links, err := svc.GetRelated(id)
				if err != nil {
					return err
				}
				printJSON(links)
				return nil
			})
		},
	}
}

func contradictionsCmd() *cobra.Command {
	var project string
	var minScore float64
	cmd := &cobra.Command{
		Use:   "contradictions",
		Short: "Scan for and link contradicting memories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *cogmem.Service) error {
				results, err := svc.DetectContradictions(cogmem.Filter{Project: project}, minScore)
				if err != nil {
					return err
				}
				printJSON(results)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Project filter")
	cmd.Flags().Float64Var(&minScore, "min-score", 0.40, "Minimum contradiction score")
	return cmd
}

func projectCmd() *cobra.Command {
	proj := &cobra.Command{
		Use:   "project",
		Short: "Get or set the active project scope",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *cogmem.Service) error {
				if len(args) == 1 {
					svc.SetProject(args[0])
				}
				fmt.Println(svc.GetProject())
				return nil
			})
		},
	}
	return proj
}

func pauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Block future write operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *cogmem.Service) error {
				svc.Pause()
				fmt.Println("paused")
				return nil
			})
		},
	}
}

func resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Re-enable write operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *cogmem.Service) error {
				svc.Resume()
				fmt.Println("resumed")
				return nil
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report pause state and active project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *cogmem.Service) error {
				paused, project := svc.GetControlStatus()
				fmt.Printf("paused:  %v\nproject: %s\n", paused, project)
				return nil
			})
		},
	}
}

func exportCmd() *cobra.Command {
	var project string
	return &cobra.Command{
		Use:   "export",
		Short: "Dump every memory matching project as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *cogmem.Service) error {
				data, err := svc.Export(cogmem.Filter{Project: project})
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			})
		},
	}
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [file]",
		Short: "Ingest a JSON array of memory records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *cogmem.Service) error {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return fmt.Errorf("read %s: %w", args[0], err)
				}
				imported, errs := svc.Import(context.Background(), data)
				fmt.Printf("imported: %d\n", imported)
				for _, e := range errs {
					fmt.Fprintln(os.Stderr, "rejected:", e)
				}
				if len(errs) > 0 {
					return fmt.Errorf("%d record(s) rejected", len(errs))
				}
				return nil
			})
		},
	}
}
