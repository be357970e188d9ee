package main

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/youruser/tandem/internal/config"
	"github.com/youruser/tandem/internal/dispatch"
	"github.com/youruser/tandem/internal/llm"
	"github.com/youruser/tandem/internal/logging"
	"github.com/youruser/tandem/internal/session"
	"github.com/youruser/tandem/internal/shell"
	"github.com/youruser/tandem/internal/stream"
	"github.com/youruser/tandem/internal/workspace"
)

//go:embed system_prompt.txt
var systemPrompt string

//go:embed version.txt
var version string

// buildCommit is set via -ldflags or falls back to VCS info from debug.ReadBuildInfo.
var buildCommit string

var (
	appConfig *config.Config
	llmClient *llm.Client
	log       = logging.Get()

	respondMu sync.Mutex
	configMu  sync.Mutex

	sessionMu  sync.Mutex
	appSession *session.Session
)

type streamState struct {
	mu        sync.Mutex
	cancel    context.CancelFunc
	requestID string
	canceled  bool
}

var activeStream streamState

// getBuildCommit returns the short commit hash, resolving from VCS build info if needed.
func getBuildCommit() string {
	if buildCommit != "" {
		return buildCommit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && len(setting.Value) >= 7 {
			return setting.Value[:7]
		}
	}
	return ""
}

func versionString() string {
	v := strings.TrimSpace(version)
	if commit := getBuildCommit(); commit != "" {
		return v + " (" + commit + ")"
	}
	return v
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v":
			fmt.Printf("tandem %s\n", versionString())
			return
		case "--build":
			if commit := getBuildCommit(); commit != "" {
				fmt.Println(commit)
			} else {
				fmt.Println("unknown")
			}
			return
		}
	}

	if os.Getenv("TANDEM_DEBUG") == "1" {
		fmt.Fprintf(os.Stderr, "tandem: process started with TANDEM_DEBUG=1\n")
	}
	logBuildInfo()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		handleRequest(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			respond("", map[string]any{
				"type":    "error",
				"message": "Request too large (max 1MB). Split the request.",
			})
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "stdin error: %v\n", err)
		os.Exit(1)
	}
}

func logBuildInfo() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		log.Info("Build info: unavailable")
		return
	}

	var revision string
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			revision = setting.Value
		}
	}

	v := info.Main.Version
	if revision != "" {
		v = revision
	}
	log.Info("Build: %s; go=%s", v, runtime.Version())
}

// ensureConfig loads config lazily on first use.
func ensureConfig() error {
	configMu.Lock()
	defer configMu.Unlock()

	if appConfig != nil {
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	appConfig = cfg
	llmClient = llm.NewClient(cfg.BaseURL, cfg.APIKey)
	return nil
}

// runnerAdapter lifts the concrete shell runner to the dispatcher's interface.
type runnerAdapter struct {
	r *shell.Runner
}

func (a runnerAdapter) Start(ctx context.Context, command string) (dispatch.Process, error) {
	return a.r.Start(ctx, command)
}

// ensureSession builds the session on first use; root overrides the
// configured workspace root when non-empty.
func ensureSession(root, model string) (*session.Session, error) {
	if err := ensureConfig(); err != nil {
		return nil, err
	}

	sessionMu.Lock()
	defer sessionMu.Unlock()

	if appSession != nil {
		return appSession, nil
	}

	if root == "" {
		root = appConfig.WorkspaceRoot
	}
	if model == "" {
		model = appConfig.DefaultModel
	}

	ws := workspace.New(root)
	runner := shell.NewRunner(root, time.Duration(*appConfig.ShellTimeoutSec)*time.Second)
	appSession = session.New(llmClient, ws, runnerAdapter{r: runner}, session.Options{
		Model:             model,
		SystemPrompt:      systemPrompt,
		MaxRepairAttempts: *appConfig.MaxRepairAttempts,
		AnswerPrompts:     *appConfig.AnswerPrompts,
	})
	log.Info("Session ready (root=%s, model=%s)", root, model)
	return appSession, nil
}

func reserveActiveStream(reqID string) bool {
	activeStream.mu.Lock()
	defer activeStream.mu.Unlock()
	if activeStream.requestID != "" {
		return false
	}
	activeStream.requestID = reqID
	activeStream.cancel = nil
	activeStream.canceled = false
	return true
}

func setActiveStreamCancel(reqID string, cancel context.CancelFunc) bool {
	activeStream.mu.Lock()
	defer activeStream.mu.Unlock()
	if activeStream.requestID != reqID {
		return false
	}
	activeStream.cancel = cancel
	return true
}

func clearActiveStream(reqID string) {
	activeStream.mu.Lock()
	defer activeStream.mu.Unlock()
	if activeStream.requestID != reqID {
		return
	}
	activeStream.requestID = ""
	activeStream.cancel = nil
	activeStream.canceled = false
}

func cancelActiveStream(targetID string) bool {
	activeStream.mu.Lock()
	if activeStream.requestID == "" {
		activeStream.mu.Unlock()
		return false
	}
	if targetID != "" && activeStream.requestID != targetID {
		activeStream.mu.Unlock()
		return false
	}
	cancel := activeStream.cancel
	activeStream.canceled = true
	activeStream.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return true
}

func wasStreamCanceled(reqID string) bool {
	activeStream.mu.Lock()
	defer activeStream.mu.Unlock()
	return activeStream.requestID == reqID && activeStream.canceled
}

func handleRequest(line string) {
	var req map[string]any
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		log.Error("Invalid JSON request: %s", line)
		respond("", map[string]any{"type": "error", "message": "Invalid JSON"})
		return
	}

	action, _ := req["action"].(string)
	log.Request(action, line)
	reqID := requestID(req)

	switch action {
	case "ping":
		respond(reqID, map[string]any{"type": "ok"})

	case "version":
		respond(reqID, map[string]any{"type": "version", "version": versionString()})

	case "init":
		root, _ := req["workspace_root"].(string)
		model, _ := req["model"].(string)
		if _, err := ensureSession(root, model); err != nil {
			respond(reqID, errorResponse(err))
			return
		}
		respond(reqID, map[string]any{"type": "ok"})

	case "send":
		prompt, _ := req["prompt"].(string)
		if prompt == "" {
			respond(reqID, map[string]any{"type": "error", "message": "Missing required field: prompt"})
			return
		}
		if !reserveActiveStream(reqID) {
			respond(reqID, map[string]any{"type": "error", "message": "Another request is already in progress"})
			return
		}
		go handleSend(reqID, prompt, req)

	case "cancel":
		targetID, _ := req["target_request_id"].(string)
		if !cancelActiveStream(targetID) {
			respond(reqID, map[string]any{"type": "error", "message": "No active request to cancel"})
			return
		}
		respond(reqID, map[string]any{"type": "ok"})

	case "reset":
		sessionMu.Lock()
		if appSession != nil {
			appSession.Reset()
		}
		sessionMu.Unlock()
		respond(reqID, map[string]any{"type": "ok"})

	case "estimate_tokens":
		text, _ := req["text"].(string)
		count, err := llm.EstimateTokens(text)
		if err != nil {
			respond(reqID, errorResponse(err))
			return
		}
		respond(reqID, map[string]any{"type": "token_estimate", "tokens": count})

	case "shutdown":
		os.Exit(0)

	default:
		respond(reqID, map[string]any{"type": "error", "message": fmt.Sprintf("Unknown action: %s", action)})
	}
}

// jsonSink projects session progress onto the stdout protocol.
type jsonSink struct {
	reqID string
}

func (s *jsonSink) OnBlockOpen(b *stream.Block) {
	resp := map[string]any{"type": "block_open", "block_id": b.ID, "kind": b.Kind.String()}
	if b.Path != "" {
		resp["path"] = b.Path
	}
	respond(s.reqID, resp)
}

func (s *jsonSink) OnDelta(blockID, text string) {
	respond(s.reqID, map[string]any{"type": "chunk", "block_id": blockID, "content": text})
}

func (s *jsonSink) OnBlockComplete(b *stream.Block) {
	respond(s.reqID, map[string]any{"type": "block_done", "block_id": b.ID, "label": b.Label()})
}

func (s *jsonSink) OnOutcome(o dispatch.Outcome) {
	resp := map[string]any{"type": "outcome"}
	if o.Block != nil {
		resp["block_id"] = o.Block.ID
	}
	if o.Path != "" {
		resp["path"] = o.Path
	}
	if o.Command != "" {
		resp["command"] = o.Command
		resp["output_lines"] = len(o.Output)
	}
	if o.Err != nil {
		resp["error"] = o.Err.Error()
	}
	respond(s.reqID, resp)
}

func (s *jsonSink) OnRepair(path string, attempt int) {
	respond(s.reqID, map[string]any{"type": "repair", "path": path, "attempt": attempt})
}

func handleSend(reqID, prompt string, req map[string]any) {
	defer clearActiveStream(reqID)

	root, _ := req["workspace_root"].(string)
	model, _ := req["model"].(string)
	sess, err := ensureSession(root, model)
	if err != nil {
		respond(reqID, errorResponse(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if !setActiveStreamCancel(reqID, cancel) {
		respond(reqID, map[string]any{"type": "error", "message": "Request no longer active"})
		return
	}

	result, runErr := sess.RunWithSink(ctx, prompt, &jsonSink{reqID: reqID})
	if runErr != nil {
		if wasStreamCanceled(reqID) || errors.Is(runErr, context.Canceled) {
			respond(reqID, map[string]any{"type": "canceled"})
			return
		}
		respond(reqID, errorResponse(runErr))
		return
	}

	var applied []string
	var failed []string
	for _, o := range result.Outcomes {
		switch {
		case o.Err != nil && o.Path != "":
			failed = append(failed, o.Path)
		case o.Path != "":
			applied = append(applied, o.Path)
		}
	}

	doneResp := map[string]any{
		"type":         "done",
		"applied":      applied,
		"failed":       failed,
		"repair_turns": result.RepairTurns,
	}
	if result.Usage != nil {
		doneResp["usage"] = map[string]any{
			"prompt_tokens":     result.Usage.PromptTokens,
			"completion_tokens": result.Usage.CompletionTokens,
			"total_tokens":      result.Usage.TotalTokens,
		}
	}
	respond(reqID, doneResp)
}

func errorResponse(err error) map[string]any {
	var msg string
	switch {
	case errors.Is(err, config.ErrNoConfig):
		msg = "Config file not found: ~/.config/tandem/config.yaml"
	case errors.Is(err, config.ErrNoAPIKey):
		msg = "API key not set in config"
	default:
		msg = err.Error()
	}
	return map[string]any{"type": "error", "message": msg}
}

func respond(reqID string, data map[string]any) {
	out, _ := json.Marshal(addResponseID(reqID, data))
	msgType, _ := data["type"].(string)
	respondMu.Lock()
	defer respondMu.Unlock()
	log.Response(msgType, string(out))
	fmt.Println(string(out))
}

func addResponseID(reqID string, data map[string]any) map[string]any {
	if reqID == "" {
		return data
	}
	data["request_id"] = reqID
	return data
}

func requestID(req map[string]any) string {
	switch v := req["request_id"].(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	default:
		return ""
	}
}
