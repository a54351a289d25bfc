// cogmem-mcp exposes the cogmem memory engine as an MCP stdio server.
//
// Environment variables:
//
//	COGMEM_DB_PATH   — SQLite database path (default: platform data dir)
//	COGMEM_PROJECT   — explicit project scope ("" = auto-detect, "*" = global)
//	GEMINI_API_KEY   — Gemini API key for embeddings + optional reclassification
//
// Usage:
//
//	go install github.com/cogmem/cogmem/cmd/cogmem-mcp
//	cogmem-mcp
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	cogmem "github.com/cogmem/cogmem"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func main() {
	cfg := cogmem.Config{
		DBPath:       os.Getenv("COGMEM_DB_PATH"),
		Project:      os.Getenv("COGMEM_PROJECT"),
		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
	}

	svc, err := cogmem.Init(cfg)
	if err != nil {
		log.Fatalf("cogmem init: %v", err)
	}
	defer svc.Shutdown(context.Background())

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "cogmem-mcp",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remember",
		Description: "Store a new memory. Salience, category, tags, and scope are auto-scored when left empty.",
	}, rememberHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "recall",
		Description: "Hybrid search over memories (keyword + vector + graph + activation), ranked by relevance.",
	}, recallHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "forget",
		Description: "Delete a memory by id, or bulk-delete by filter. Deleting 2+ memories requires confirm=true.",
	}, forgetHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_memory",
		Description: "Fetch a single memory by id without affecting its access stats.",
	}, getMemoryHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "access_memory",
		Description: "Directly access a memory by id: reinforces salience, spreads activation, and strengthens co-access links.",
	}, accessMemoryHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_stats",
		Description: "Report the database's on-disk footprint and size thresholds.",
	}, getStatsHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "consolidate",
		Description: "Run an on-demand consolidation pass: promote, delete, merge, and evolve salience.",
	}, consolidateHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "start_session",
		Description: "Open a new episodic session bounding a conversation.",
	}, startSessionHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "end_session",
		Description: "Close the active session with an optional summary.",
	}, endSessionHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_related",
		Description: "List every memory linked to a given memory, sorted by link strength.",
	}, getRelatedHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "link_memories",
		Description: "Create an explicit link between two memories.",
	}, linkMemoriesHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "detect_contradictions",
		Description: "Scan memories for conflicting claims and link the contradictions found.",
	}, detectContradictionsHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_project",
		Description: "Override the active project scope. Use \"*\" for global-only.",
	}, setProjectHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_project",
		Description: "Report the active project scope.",
	}, getProjectHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "pause",
		Description: "Block future write operations (remember, forget, consolidate) until resumed.",
	}, pauseHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "resume",
		Description: "Re-enable write operations after a pause.",
	}, resumeHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_control_status",
		Description: "Report whether the engine is paused and the active project scope.",
	}, getControlStatusHandler(svc))

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Fatalf("cogmem-mcp: %v", err)
	}
}

// --- Input types ---

type rememberInput struct {
	Title        string   `json:"title"                  jsonschema:"Short title for the memory"`
	Content      string   `json:"content"                jsonschema:"The memory text, up to 10 KiB"`
	Project      string   `json:"project,omitempty"      jsonschema:"Project scope override; default is the active project"`
	Scope        string   `json:"scope,omitempty"        jsonschema:"project or global; auto-detected when empty"`
	Transferable bool     `json:"transferable,omitempty" jsonschema:"Whether this memory should be searchable across projects"`
	Tags         []string `json:"tags,omitempty"         jsonschema:"Tags; auto-extracted when empty"`
	Category     string   `json:"category,omitempty"     jsonschema:"architecture, pattern, preference, error, context, learning, todo, note, relationship, custom"`
	Type         string   `json:"type,omitempty"         jsonschema:"short_term, long_term, or episodic (default short_term)"`
	Salience     float64  `json:"salience,omitempty"     jsonschema:"Optional salience override 0.0-1.0; auto-scored when 0"`
}

type recallInput struct {
	Query          string   `json:"query"                     jsonschema:"Search query"`
	Project        string   `json:"project,omitempty"         jsonschema:"Project filter; default is the active project plus global"`
	Category       string   `json:"category,omitempty"        jsonschema:"Filter to a single category"`
	Type           string   `json:"type,omitempty"            jsonschema:"Filter to a single memory type"`
	Tags           []string `json:"tags,omitempty"            jsonschema:"Filter to memories matching any of these tags"`
	MinSalience    float64  `json:"min_salience,omitempty"    jsonschema:"Minimum salience floor"`
	Limit          int      `json:"limit,omitempty"           jsonschema:"Max results (default 10)"`
	IncludeDecayed bool     `json:"include_decayed,omitempty" jsonschema:"Include memories below the salience threshold"`
}

type forgetInput struct {
	ID       int64    `json:"id,omitempty"       jsonschema:"Delete a single memory by id"`
	Project  string   `json:"project,omitempty"  jsonschema:"Bulk-delete filter: project"`
	Category string   `json:"category,omitempty" jsonschema:"Bulk-delete filter: category"`
	Tags     []string `json:"tags,omitempty"     jsonschema:"Bulk-delete filter: tags"`
	DryRun   bool     `json:"dry_run,omitempty"  jsonschema:"Report the match count without deleting"`
	Confirm  bool     `json:"confirm,omitempty"  jsonschema:"Required to bulk-delete 2 or more memories"`
}

type getMemoryInput struct {
	ID int64 `json:"id" jsonschema:"Memory id"`
}

type accessMemoryInput struct {
	ID int64 `json:"id" jsonschema:"Memory id"`
}

type getStatsInput struct{}

type consolidateInput struct {
	Force  bool `json:"force,omitempty"   jsonschema:"Accepted for interface parity; an explicit call is never throttled"`
	DryRun bool `json:"dry_run,omitempty" jsonschema:"Compute counts without writing anything"`
}

type startSessionInput struct {
	Project string `json:"project,omitempty" jsonschema:"Project scope for the session; default is the active project"`
}

type endSessionInput struct {
	Summary string `json:"summary,omitempty" jsonschema:"Optional summary of the session"`
}

type getRelatedInput struct {
	ID int64 `json:"id" jsonschema:"Memory id"`
}

type linkMemoriesInput struct {
	SourceID     int64   `json:"source_id"         jsonschema:"Source memory id"`
	TargetID     int64   `json:"target_id"         jsonschema:"Target memory id"`
	Relationship string  `json:"relationship"      jsonschema:"references, extends, contradicts, or related"`
	Strength     float64 `json:"strength,omitempty" jsonschema:"Link strength (0,1]; default 0.5"`
}

type detectContradictionsInput struct {
	Project  string  `json:"project,omitempty"   jsonschema:"Project filter; default is the active project plus global"`
	MinScore float64 `json:"min_score,omitempty" jsonschema:"Minimum contradiction score (default 0.40)"`
}

type setProjectInput struct {
	Project string `json:"project" jsonschema:"Project name, or \"*\" for global-only"`
}

type getProjectInput struct{}
type pauseInput struct{}
type resumeInput struct{}
type getControlStatusInput struct{}

// --- Handlers ---

func rememberHandler(svc *cogmem.Service) func(context.Context, *mcp.CallToolRequest, rememberInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input rememberInput) (*mcp.CallToolResult, any, error) {
		init := cogmem.MemoryInit{
			Title:        input.Title,
			Content:      input.Content,
			Project:      input.Project,
			Scope:        cogmem.Scope(input.Scope),
			Transferable: input.Transferable,
			Tags:         input.Tags,
			Category:     cogmem.Category(input.Category),
			Type:         cogmem.MemoryType(input.Type),
			Salience:     input.Salience,
		}
		m, err := svc.Remember(ctx, init)
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(jsonString(memoryToMap(*m))), nil, nil
	}
}

func recallHandler(svc *cogmem.Service) func(context.Context, *mcp.CallToolRequest, recallInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input recallInput) (*mcp.CallToolResult, any, error) {
		opts := cogmem.SearchOptions{
			Query: input.Query,
			Limit: input.Limit,
			Filter: cogmem.Filter{
				Project:     input.Project,
				Category:    cogmem.Category(input.Category),
				Type:        cogmem.MemoryType(input.Type),
				Tags:        input.Tags,
				MinSalience: input.MinSalience,
			},
			IncludeDecayed: input.IncludeDecayed,
		}
		results, err := svc.Recall(ctx, opts)
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		out := make([]map[string]any, len(results))
		for i, r := range results {
			out[i] = searchResultToMap(r)
		}
		return textResult(jsonString(out)), nil, nil
	}
}

func forgetHandler(svc *cogmem.Service) func(context.Context, *mcp.CallToolRequest, forgetInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input forgetInput) (*mcp.CallToolResult, any, error) {
		if input.ID != 0 {
			ok, err := svc.Forget(input.ID)
			if err != nil {
				return textResult(fmt.Sprintf("error: %v", err)), nil, nil
			}
			return textResult(jsonString(map[string]any{"deleted": ok})), nil, nil
		}
		filter := cogmem.Filter{Project: input.Project, Category: cogmem.Category(input.Category), Tags: input.Tags}
		count, err := svc.ForgetBulk(filter, input.DryRun, input.Confirm)
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(jsonString(map[string]any{"deleted": count, "dry_run": input.DryRun})), nil, nil
	}
}

func getMemoryHandler(svc *cogmem.Service) func(context.Context, *mcp.CallToolRequest, getMemoryInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input getMemoryInput) (*mcp.CallToolResult, any, error) {
		m, err := svc.GetMemory(input.ID)
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		if m == nil {
			return textResult(`{"error": "not found"}`), nil, nil
		}
		return textResult(jsonString(memoryToMap(*m))), nil, nil
	}
}

func accessMemoryHandler(svc *cogmem.Service) func(context.Context, *mcp.CallToolRequest, accessMemoryInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input accessMemoryInput) (*mcp.CallToolResult, any, error) {
		m, err := svc.AccessMemory(input.ID)
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		if m == nil {
			return textResult(`{"error": "not found"}`), nil, nil
		}
		return textResult(jsonString(memoryToMap(*m))), nil, nil
	}
}

func getStatsHandler(svc *cogmem.Service) func(context.Context, *mcp.CallToolRequest, getStatsInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input getStatsInput) (*mcp.CallToolResult, any, error) {
		info, err := svc.GetStats()
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(jsonString(info)), nil, nil
	}
}

func consolidateHandler(svc *cogmem.Service) func(context.Context, *mcp.CallToolRequest, consolidateInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input consolidateInput) (*mcp.CallToolResult, any, error) {
		result, err := svc.Consolidate(input.Force, input.DryRun)
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(jsonString(result)), nil, nil
	}
}

func startSessionHandler(svc *cogmem.Service) func(context.Context, *mcp.CallToolRequest, startSessionInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input startSessionInput) (*mcp.CallToolResult, any, error) {
		sess, err := svc.StartSession(input.Project)
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(jsonString(sess)), nil, nil
	}
}

func endSessionHandler(svc *cogmem.Service) func(context.Context, *mcp.CallToolRequest, endSessionInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input endSessionInput) (*mcp.CallToolResult, any, error) {
		if err := svc.EndSession(input.Summary); err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(`{"status": "ended"}`), nil, nil
	}
}

func getRelatedHandler(svc *cogmem.Service) func(context.Context, *mcp.CallToolRequest, getRelatedInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input getRelatedInput) (*mcp.CallToolResult, any, error) {
		links, err := svc.GetRelated(input.ID)
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(jsonString(links)), nil, nil
	}
}

func linkMemoriesHandler(svc *cogmem.Service) func(context.Context, *mcp.CallToolRequest, linkMemoriesInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input linkMemoriesInput) (*mcp.CallToolResult, any, error) {
		strength := input.Strength
		if strength == 0 {
			strength = 0.5
		}
		link, err := svc.LinkMemories(input.SourceID, input.TargetID, cogmem.Relationship(input.Relationship), strength)
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		if link == nil {
			return textResult(`{"status": "rejected", "reason": "self-link or duplicate"}`), nil, nil
		}
		return textResult(jsonString(link)), nil, nil
	}
}

func detectContradictionsHandler(svc *cogmem.Service) func(context.Context, *mcp.CallToolRequest, detectContradictionsInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input detectContradictionsInput) (*mcp.CallToolResult, any, error) {
		results, err := svc.DetectContradictions(cogmem.Filter{Project: input.Project}, input.MinScore)
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(jsonString(results)), nil, nil
	}
}

func setProjectHandler(svc *cogmem.Service) func(context.Context, *mcp.CallToolRequest, setProjectInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input setProjectInput) (*mcp.CallToolResult, any, error) {
		svc.SetProject(input.Project)
		return textResult(jsonString(map[string]any{"project": svc.GetProject()})), nil, nil
	}
}

func getProjectHandler(svc *cogmem.Service) func(context.Context, *mcp.CallToolRequest, getProjectInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input getProjectInput) (*mcp.CallToolResult, any, error) {
		return textResult(jsonString(map[string]any{"project": svc.GetProject()})), nil, nil
	}
}

func pauseHandler(svc *cogmem.Service) func(context.Context, *mcp.CallToolRequest, pauseInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input pauseInput) (*mcp.CallToolResult, any, error) {
		svc.Pause()
		return textResult(`{"status": "paused"}`), nil, nil
	}
}

func resumeHandler(svc *cogmem.Service) func(context.Context, *mcp.CallToolRequest, resumeInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input resumeInput) (*mcp.CallToolResult, any, error) {
		svc.Resume()
		return textResult(`{"status": "resumed"}`), nil, nil
	}
}

func getControlStatusHandler(svc *cogmem.Service) func(context.Context, *mcp.CallToolRequest, getControlStatusInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input getControlStatusInput) (*mcp.CallToolResult, any, error) {
		paused, project := svc.GetControlStatus()
		return textResult(jsonString(map[string]any{"paused": paused, "project": project})), nil, nil
	}
}

// --- Helpers ---

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func memoryToMap(m cogmem.Memory) map[string]any {
	return map[string]any{
		"id":              m.ID,
		"type":            m.Type,
		"category":        m.Category,
		"title":           m.Title,
		"content":         m.Content,
		"project":         m.Project,
		"scope":           m.Scope,
		"transferable":    m.Transferable,
		"tags":            m.Tags,
		"salience":        m.Salience,
		"decayed_score":   m.DecayedScore,
		"access_count":    m.AccessCount,
		"last_accessed":   m.LastAccessedAt,
		"created_at":      m.CreatedAt,
	}
}

func searchResultToMap(r cogmem.SearchResult) map[string]any {
	m := memoryToMap(r.Memory)
	m["relevance_score"] = r.RelevanceScore
	m["fts_score"] = r.FTSScore
	m["vector_score"] = r.VectorScore
	return m
}

func jsonString(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": "marshal: %v"}`, err)
	}
	return string(data)
}
