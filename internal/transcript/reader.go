package transcript

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// maxLineSize bounds a single transcript line. Longer lines are counted
// as malformed and skipped, but still advance the offset.
const maxLineSize = 10 * 1024 * 1024 // 10MB

// maxStoredErrors caps how many parse errors a result retains.
const maxStoredErrors = 10

// Reader parses transcript bytes beyond a given offset.
type Reader struct {
	logger *zap.Logger
}

// NewReader creates a transcript reader. A nil logger falls back to a no-op.
func NewReader(logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{logger: logger}
}

// ReadResult holds the events decoded past the starting offset plus the
// offset the cursor should advance to.
type ReadResult struct {
	// Events are the decoded user/assistant events, in file order.
	Events []Event

	// NextOffset is the byte offset just past the last complete line
	// consumed. A trailing line without a newline is left for the next
	// call, so NextOffset never lands mid-record.
	NextOffset int64

	// SkippedLines counts malformed lines that were passed over.
	SkippedLines int

	// Errors holds a capped sample of parse failures.
	Errors []ParseError
}

// ReadFrom reads events starting at offset. A missing transcript is not
// an error: there is simply nothing new yet. The offset of a previously
// observed, since-truncated file is held rather than rewound.
func (r *Reader) ReadFrom(ctx context.Context, path string, offset int64) (*ReadResult, error) {
	result := &ReadResult{NextOffset: offset}
	if path == "" {
		return result, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return result, nil
		}
		return nil, fmt.Errorf("opening transcript %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat transcript %s: %w", path, err)
	}
	if offset >= info.Size() {
		if offset > info.Size() {
			r.logger.Warn("transcript shorter than stored cursor, holding position",
				zap.String("path", path),
				zap.Int64("offset", offset),
				zap.Int64("size", info.Size()))
		}
		return result, nil
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking transcript %s: %w", path, err)
	}

	br := bufio.NewReaderSize(f, 64*1024)
	pos := offset
	lineNum := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := br.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Unterminated trailing line: hold the offset here and
				// retry once the writer finishes it.
				break
			}
			return nil, fmt.Errorf("reading transcript %s: %w", path, err)
		}
		lineNum++
		pos += int64(len(line))
		result.NextOffset = pos

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		if len(line) > maxLineSize {
			r.recordError(result, lineNum, fmt.Sprintf("line exceeds %d bytes", maxLineSize))
			continue
		}
		ev, perr := decodeLine(trimmed, path)
		if perr != nil {
			r.recordError(result, lineNum, perr.Error())
			continue
		}
		if ev != nil {
			result.Events = append(result.Events, *ev)
		}
	}

	if result.SkippedLines > 0 {
		r.logger.Debug("skipped malformed transcript lines",
			zap.String("path", path),
			zap.Int("skipped", result.SkippedLines))
	}
	return result, nil
}

func (r *Reader) recordError(result *ReadResult, line int, msg string) {
	result.SkippedLines++
	if len(result.Errors) < maxStoredErrors {
		result.Errors = append(result.Errors, ParseError{Line: line, Error: msg})
	}
}

// jsonlLine is the raw on-disk shape of one transcript line.
type jsonlLine struct {
	UUID       string          `json:"uuid"`
	ParentUUID string          `json:"parentUuid,omitempty"`
	Type       string          `json:"type"`
	Message    json.RawMessage `json:"message,omitempty"`
	Timestamp  string          `json:"timestamp,omitempty"`
	SessionID  string          `json:"sessionId,omitempty"`
	CWD        string          `json:"cwd,omitempty"`
	GitBranch  string          `json:"gitBranch,omitempty"`
}

// messageBody is the nested role/content payload.
type messageBody struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// decodeLine turns one JSONL line into an Event. Non-conversational
// lines (summaries, system events) decode to (nil, nil).
func decodeLine(line []byte, path string) (*Event, error) {
	var jl jsonlLine
	if err := json.Unmarshal(line, &jl); err != nil {
		return nil, fmt.Errorf("json parse error: %v", err)
	}
	if jl.Type != "user" && jl.Type != "assistant" {
		return nil, nil
	}

	sessionID := jl.SessionID
	if sessionID == "" {
		sessionID = strings.TrimSuffix(filepath.Base(path), ".jsonl")
	}

	var ts time.Time
	if jl.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, jl.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp %q", jl.Timestamp)
		}
		ts = parsed
	}

	text, toolCalls, err := decodeBody(jl.Type, jl.Message)
	if err != nil {
		return nil, err
	}
	if text == "" && len(toolCalls) == 0 {
		return nil, nil
	}

	role := RoleUser
	if jl.Type == "assistant" {
		role = RoleAssistant
	}
	return &Event{
		SessionID: sessionID,
		EventID:   jl.UUID,
		ParentID:  jl.ParentUUID,
		Timestamp: ts,
		Role:      role,
		Text:      text,
		ToolCalls: toolCalls,
		WorkDir:   jl.CWD,
		GitBranch: jl.GitBranch,
	}, nil
}

func decodeBody(msgType string, raw json.RawMessage) (string, []ToolCall, error) {
	if len(raw) == 0 {
		return "", nil, nil
	}

	// User messages are sometimes a bare string.
	if msgType == "user" {
		var plain string
		if err := json.Unmarshal(raw, &plain); err == nil {
			return plain, nil, nil
		}
	}

	var body messageBody
	if err := json.Unmarshal(raw, &body); err != nil {
		// Content can also be a single string field.
		var alt struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}
		if err2 := json.Unmarshal(raw, &alt); err2 == nil {
			return alt.Content, nil, nil
		}
		return "", nil, fmt.Errorf("message parse error: %v", err)
	}

	var textParts []string
	var toolCalls []ToolCall
	for _, block := range body.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				textParts = append(textParts, block.Text)
			}
		case "tool_use":
			tc := ToolCall{Name: block.Name, Params: make(map[string]string)}
			var input map[string]any
			if err := json.Unmarshal(block.Input, &input); err == nil {
				for k, v := range input {
					tc.Params[k] = fmt.Sprintf("%v", v)
				}
			}
			toolCalls = append(toolCalls, tc)
		case "tool_result":
			if len(block.Content) == 0 || len(toolCalls) == 0 {
				continue
			}
			var resultText string
			if err := json.Unmarshal(block.Content, &resultText); err != nil {
				resultText = string(block.Content)
			}
			toolCalls[len(toolCalls)-1].Result = resultText
		}
	}
	return strings.Join(textParts, "\n"), toolCalls, nil
}
