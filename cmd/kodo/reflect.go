package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/paxtone-io/openkodo/internal/engine"
	"github.com/paxtone-io/openkodo/internal/watch"
)

var (
	// reflect command flags
	reflectHook           string
	reflectSessionID      string
	reflectTranscript     string
	reflectCheckThreshold bool
	reflectAuto           bool
	reflectQuiet          bool
	reflectForce          bool
	reflectWatch          bool
)

func init() {
	rootCmd.AddCommand(reflectCmd)

	reflectCmd.Flags().StringVar(&reflectHook, "hook", "", "hook event name (reads session JSON from stdin)")
	reflectCmd.Flags().StringVar(&reflectSessionID, "session-id", "", "session identifier")
	reflectCmd.Flags().StringVar(&reflectTranscript, "transcript", "", "path to the session transcript (JSONL)")
	reflectCmd.Flags().BoolVar(&reflectCheckThreshold, "check-threshold", false, "report whether a reflection would fire, without side effects")
	reflectCmd.Flags().BoolVar(&reflectAuto, "auto", false, "run the pipeline on fire even if learning.auto_reflect is off")
	reflectCmd.Flags().BoolVar(&reflectQuiet, "quiet", false, "suppress output (for hook wiring)")
	reflectCmd.Flags().BoolVar(&reflectForce, "force", false, "reset the session cursor and reprocess the whole transcript")
	reflectCmd.Flags().BoolVar(&reflectWatch, "watch", false, "keep running and reflect whenever the transcript changes")
}

var reflectCmd = &cobra.Command{
	Use:   "reflect",
	Short: "Extract learnings from a session transcript",
	Long: `Advance the session cursor over a JSONL transcript, extract learning
candidates from the new events, and file them through the curator.

Invoked directly it runs the pipeline once. With --hook it records the
event against the trigger controller first and only runs the pipeline
when the message threshold or reflection interval fires. Hook payloads
may supply session_id and transcript_path as JSON on stdin.

Examples:
  # Reflect on a transcript right now
  kodo reflect --session-id abc123 --transcript ~/.agent/sessions/abc123.jsonl

  # Hook wiring: runs only when the trigger says it is time
  kodo reflect --hook post-message --quiet

  # Probe the trigger without side effects
  kodo reflect --session-id abc123 --check-threshold

  # Reprocess from the beginning
  kodo reflect --session-id abc123 --transcript session.jsonl --force

  # Follow the transcript while the session runs
  kodo reflect --session-id abc123 --transcript session.jsonl --watch`,
	Args: exactArgs(0),
	RunE: runReflect,
}

// hookPayload is the JSON an agent hook pipes on stdin.
type hookPayload struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
}

func runReflect(cmd *cobra.Command, args []string) error {
	if reflectWatch && (reflectHook != "" || reflectCheckThreshold) {
		return usageErr("--watch cannot be combined with --hook or --check-threshold")
	}

	sessionID := reflectSessionID
	transcript := reflectTranscript
	if reflectHook != "" && (sessionID == "" || transcript == "") {
		if p := readHookPayload(); p != nil {
			if sessionID == "" {
				sessionID = p.SessionID
			}
			if transcript == "" {
				transcript = p.TranscriptPath
			}
		}
	}
	if sessionID == "" && transcript != "" {
		sessionID = sessionFromTranscript(transcript)
	}
	if sessionID == "" {
		return usageErr("--session-id or --transcript is required")
	}
	if reflectWatch && transcript == "" {
		return usageErr("--watch requires --transcript")
	}

	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx := cmd.Context()

	if reflectCheckThreshold {
		decision, err := eng.Trigger().Check(ctx, sessionID)
		if err != nil {
			return err
		}
		if !reflectQuiet {
			printDecision(decision.Fire, string(decision.Reason), decision.Messages)
		}
		return nil
	}

	if reflectHook != "" {
		decision, err := eng.Trigger().Record(ctx, sessionID)
		if err != nil {
			return err
		}
		if !decision.Fire {
			if !reflectQuiet {
				printDecision(false, "", decision.Messages)
			}
			return nil
		}
		if !cfg.Learning.AutoReflect && !reflectAuto {
			if !reflectQuiet {
				fmt.Printf("trigger fired (%s) but learning.auto_reflect is off; run 'kodo reflect --session-id %s'\n",
					decision.Reason, sessionID)
			}
			return nil
		}
	}

	if reflectWatch {
		return watchReflect(ctx, eng, sessionID, transcript)
	}

	result, err := eng.Reflect(ctx, engine.ReflectRequest{
		SessionID:      sessionID,
		TranscriptPath: transcript,
		Force:          reflectForce,
	})
	if err != nil {
		return err
	}
	if !reflectQuiet {
		printReflectResult(result)
	}
	return nil
}

// sessionFromTranscript derives the session ID from the transcript
// file name. Transcript files are named after their session.
func sessionFromTranscript(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// readHookPayload decodes the hook JSON from stdin. A terminal on
// stdin means no payload was piped; malformed payloads are ignored
// because a hook must never fail the caller's workflow.
func readHookPayload() *hookPayload {
	info, err := os.Stdin.Stat()
	if err != nil || info.Mode()&os.ModeCharDevice != 0 {
		return nil
	}
	var p hookPayload
	if err := json.NewDecoder(os.Stdin).Decode(&p); err != nil {
		return nil
	}
	return &p
}

func printDecision(fire bool, reason string, messages int) {
	if fire {
		fmt.Printf("fire (%s): %d messages\n", reason, messages)
		return
	}
	fmt.Printf("accumulating: %d messages\n", messages)
}

func printReflectResult(result *engine.ReflectResult) {
	if result.Events == 0 {
		fmt.Println("Nothing new to reflect on.")
		return
	}
	fmt.Printf("Processed %d events, %d candidates: %d created, %d merged",
		result.Events, result.Candidates,
		len(result.Ingest.Created), len(result.Ingest.Merged))
	if n := len(result.Ingest.Contradicted); n > 0 {
		fmt.Printf(", %d contradicted", n)
	}
	fmt.Println()
	for _, rec := range result.Ingest.Created {
		fmt.Printf("  + [%s] %s\n", rec.Category, truncate(rec.Statement, 70))
	}
}

// watchReflect tails the transcript and reflects after each quiet
// period. Pipeline errors log and keep the watch alive; only the
// watcher itself failing ends the loop.
func watchReflect(ctx context.Context, eng *engine.Engine, sessionID, transcript string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := watch.New(watch.Options{Path: transcript, Logger: logger})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	if !reflectQuiet {
		fmt.Printf("Watching %s (ctrl-c to stop)\n", transcript)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.Events():
			result, err := eng.Reflect(ctx, engine.ReflectRequest{
				SessionID:      sessionID,
				TranscriptPath: transcript,
			})
			if err != nil {
				logger.Warn("reflection failed", zap.Error(err))
				continue
			}
			if !reflectQuiet && result.Candidates > 0 {
				printReflectResult(result)
			}
		}
	}
}
