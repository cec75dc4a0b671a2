package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/paxtone-io/openkodo/internal/contextgen"
	"github.com/paxtone-io/openkodo/internal/extract"
	"github.com/paxtone-io/openkodo/internal/index"
	"github.com/paxtone-io/openkodo/internal/store"
)

type queryInput struct {
	Query          string  `json:"query" jsonschema:"required,Free text to rank records against"`
	Limit          int     `json:"limit,omitempty" jsonschema:"Maximum results to return (default: 10)"`
	MinScore       float64 `json:"min_score,omitempty" jsonschema:"Drop results ranked below this score"`
	Agent          string  `json:"agent,omitempty" jsonschema:"Also include records scoped to this agent"`
	IncludePending bool    `json:"include_pending,omitempty" jsonschema:"Include learnings still awaiting review"`
}

type queryOutput struct {
	Query   string               `json:"query" jsonschema:"Query the ranking used"`
	Count   int                  `json:"count" jsonschema:"Number of results"`
	Results []index.RankedResult `json:"results" jsonschema:"Matching records, best first"`
}

type recordInput struct {
	Category  string `json:"category" jsonschema:"required,One of: rule, decision, tech_stack, workflow, domain, convention"`
	Statement string `json:"statement" jsonschema:"required,The learning as one standalone sentence"`
	Signal    string `json:"signal,omitempty" jsonschema:"Language strength behind the statement: corrective, confirmed, or speculative (default: confirmed)"`
	Agent     string `json:"agent,omitempty" jsonschema:"Scope the learning to one agent instead of the whole project"`
	SessionID string `json:"session_id,omitempty" jsonschema:"Session the learning came from"`
	Excerpt   string `json:"excerpt,omitempty" jsonschema:"Short quote backing the learning"`
}

type recordOutput struct {
	Outcome      string          `json:"outcome" jsonschema:"created for a new record, merged when it folded into an existing one"`
	Learning     *store.Learning `json:"learning" jsonschema:"The resulting record"`
	Contradicted int             `json:"contradicted" jsonschema:"Active rules archived because this statement contradicts them"`
}

type contextInput struct {
	Prompt   string   `json:"prompt,omitempty" jsonschema:"Upcoming task or message to rank records against"`
	Files    []string `json:"files,omitempty" jsonschema:"Paths the session is touching"`
	MaxItems int      `json:"max_items,omitempty" jsonschema:"Cap on bundle items (default: 10)"`
	MinScore float64  `json:"min_score,omitempty" jsonschema:"Drop records ranked below this score"`
	Agent    string   `json:"agent,omitempty" jsonschema:"Also include records scoped to this agent"`
	Detail   string   `json:"detail,omitempty" jsonschema:"Render level: compact, full, or timeline (default: compact)"`
}

type contextOutput struct {
	Markdown    string `json:"markdown" jsonschema:"Bundle rendered for prompt injection"`
	Items       int    `json:"items" jsonschema:"Records included"`
	TotalTokens int    `json:"total_tokens" jsonschema:"Estimated tokens spent"`
	Budget      int    `json:"budget" jsonschema:"Token budget for the detail level"`
	Truncated   bool   `json:"truncated" jsonschema:"Whether the budget cut candidates"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "query_records",
		Description: "Search recorded learnings and context entries by relevance. Returns ranked records with scores; use include_pending to also see learnings awaiting review.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args queryInput) (*mcp.CallToolResult, queryOutput, error) {
		out, err := s.queryRecords(ctx, args)
		return nil, out, err
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "record_learning",
		Description: "Record a learning from the current session. Duplicates merge into the existing record as fresh evidence, and a rule stating the opposite of an active rule archives it.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args recordInput) (*mcp.CallToolResult, recordOutput, error) {
		out, err := s.recordLearning(ctx, args)
		if err != nil {
			return nil, recordOutput{}, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Learning %s: %s", out.Outcome, out.Learning.ID)},
			},
		}, out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "generate_context",
		Description: "Build a token-budgeted markdown block of the records most relevant to an upcoming task. Rank against a prompt, a list of files being touched, or both; with neither, the highest-confidence records win.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args contextInput) (*mcp.CallToolResult, contextOutput, error) {
		out, err := s.generateContext(ctx, args)
		if err != nil {
			return nil, contextOutput{}, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: out.Markdown},
			},
		}, out, nil
	})
}

func (s *Server) queryRecords(ctx context.Context, args queryInput) (queryOutput, error) {
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return queryOutput{}, errors.New("query is required")
	}

	results, err := s.index.Search(ctx, query, index.SearchOptions{
		Limit:          args.Limit,
		MinScore:       args.MinScore,
		AgentScope:     args.Agent,
		IncludePending: args.IncludePending,
	})
	if err != nil {
		s.logger.Error("query tool failed", zap.String("query", query), zap.Error(err))
		return queryOutput{}, fmt.Errorf("search: %w", err)
	}
	if results == nil {
		results = []index.RankedResult{}
	}
	return queryOutput{Query: query, Count: len(results), Results: results}, nil
}

func (s *Server) recordLearning(ctx context.Context, args recordInput) (recordOutput, error) {
	category := store.Category(strings.ToLower(strings.TrimSpace(args.Category)))
	if !store.IsValidCategory(category) {
		return recordOutput{}, fmt.Errorf("unknown category %q", args.Category)
	}
	statement := strings.TrimSpace(args.Statement)
	if statement == "" {
		return recordOutput{}, errors.New("statement is required")
	}
	signal := extract.SignalConfirmed
	if args.Signal != "" {
		signal = extract.Signal(strings.ToLower(strings.TrimSpace(args.Signal)))
		if !extract.ValidSignals[signal] {
			return recordOutput{}, fmt.Errorf("unknown signal %q", args.Signal)
		}
	}

	result, err := s.curator.Ingest(ctx, []extract.Candidate{{
		Category:   category,
		Statement:  statement,
		Signal:     signal,
		Pattern:    "mcp:record_learning",
		AgentScope: args.Agent,
		Evidence: store.EvidenceRef{
			SessionID: args.SessionID,
			Excerpt:   args.Excerpt,
		},
	}})
	if err != nil {
		s.logger.Error("record tool failed", zap.Error(err))
		return recordOutput{}, fmt.Errorf("recording learning: %w", err)
	}

	out := recordOutput{Contradicted: len(result.Contradicted)}
	switch {
	case len(result.Created) == 1:
		out.Outcome = "created"
		out.Learning = result.Created[0]
	case len(result.Merged) == 1:
		out.Outcome = "merged"
		out.Learning = result.Merged[0]
	default:
		return recordOutput{}, errors.New("statement was rejected; provide one standalone sentence")
	}
	return out, nil
}

func (s *Server) generateContext(ctx context.Context, args contextInput) (contextOutput, error) {
	detail := contextgen.Detail(args.Detail)
	if detail != "" && !detail.Valid() {
		return contextOutput{}, fmt.Errorf("unknown detail level %q", args.Detail)
	}

	bundle, err := s.generator.Generate(ctx, contextgen.Request{
		Prompt:     args.Prompt,
		Files:      args.Files,
		MaxItems:   args.MaxItems,
		MinScore:   args.MinScore,
		AgentScope: args.Agent,
		Detail:     detail,
	})
	if err != nil {
		s.logger.Error("context tool failed", zap.Error(err))
		return contextOutput{}, fmt.Errorf("generating context: %w", err)
	}
	return contextOutput{
		Markdown:    bundle.Markdown(),
		Items:       len(bundle.Items),
		TotalTokens: bundle.TotalTokens,
		Budget:      bundle.Budget,
		Truncated:   bundle.Truncated,
	}, nil
}
