// Package toolsurface implements the Tool Surface Adapter (C10): exactly
// five invocation-surface operations, each with a validated argument
// schema and a single response shape. Adapted from internal/mcp/server.go's
// tool registry and ToolCallResult/ContentBlock response shape, trimmed to
// the fixed operation set and stripped of the websocket transport layer.
// The broker exposes this adapter however its embedder wires it in
// (stdio, HTTP, or in-process), not as an MCP server itself.
package toolsurface

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	"sessionbroker/internal/admission"
	"sessionbroker/internal/brokererr"
	"sessionbroker/internal/execengine"
	"sessionbroker/internal/health"
	"sessionbroker/internal/langregistry"
	"sessionbroker/internal/policy"
	"sessionbroker/internal/session"
	"sessionbroker/internal/sessionkind"
)

// ContentBlock is one piece of a tool result, mirroring the MCP shape this
// broker's transport layers (stdio, HTTP) render verbatim.
type ContentBlock struct {
	Type string `json:"type"` // always "text" for this adapter
	Text string `json:"text"`
}

// Result is the single response shape shared by all five operations.
type Result struct {
	Content []ContentBlock         `json:"content"`
	IsError bool                   `json:"isError,omitempty"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}

func textResult(fields map[string]interface{}, text string) *Result {
	return &Result{Content: []ContentBlock{{Type: "text", Text: text}}, Fields: fields}
}

func errorResult(err error) *Result {
	return &Result{Content: []ContentBlock{{Type: "text", Text: err.Error()}}, IsError: true}
}

// Adapter dispatches the five fixed operations against the broker's core
// components.
type Adapter struct {
	sessions  *session.Manager
	kinds     *sessionkind.Kinds
	engine    *execengine.Engine
	screener  *policy.Screener
	admission *admission.Controller
	reporter  *health.Reporter
	sharedKey string
}

// New constructs an Adapter wired to the broker's live components. sharedKey
// is the value every call's presented key is compared against (BROKER_SHARED_KEY);
// an empty sharedKey disables the check, which is only appropriate for local
// development.
func New(sessions *session.Manager, kinds *sessionkind.Kinds, engine *execengine.Engine, screener *policy.Screener, ac *admission.Controller, reporter *health.Reporter, sharedKey string) *Adapter {
	return &Adapter{sessions: sessions, kinds: kinds, engine: engine, screener: screener, admission: ac, reporter: reporter, sharedKey: sharedKey}
}

// authorize compares presentedKey against the configured shared key, per
// spec.md §1's "shared-key check" (not cryptographic authentication beyond
// that). A constant-time comparison avoids leaking key length/prefix via
// timing.
func (a *Adapter) authorize(presentedKey string) error {
	if a.sharedKey == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(presentedKey), []byte(a.sharedKey)) != 1 {
		return brokererr.New(brokererr.Unauthorized, "invalid or missing shared key")
	}
	return nil
}

// ExecuteCodeArgs are execute_code's validated inputs.
type ExecuteCodeArgs struct {
	Language  string
	Code      string
	SessionID string
	TimeoutMs int
	Stdin     string
}

// ExecuteCode runs args.Code in args.Language, per spec.md §6 operation 1. If
// args.SessionID is empty, a transient execution session is created, used, and
// destroyed around the single call.
func (a *Adapter) ExecuteCode(ctx context.Context, key, identity string, args ExecuteCodeArgs) *Result {
	if err := a.authorize(key); err != nil {
		return errorResult(err)
	}
	if args.Language == "" || strings.TrimSpace(args.Code) == "" {
		return errorResult(brokererr.New(brokererr.BadRequest, "language and code are required"))
	}
	if args.TimeoutMs != 0 && (args.TimeoutMs < 1000 || args.TimeoutMs > 300000) {
		return errorResult(brokererr.New(brokererr.BadRequest, "timeoutMs must be in [1000, 300000]"))
	}
	if _, ok := langregistry.Lookup(args.Language); !ok {
		return errorResult(brokererr.New(brokererr.Unsupported, "unsupported language: "+args.Language))
	}

	if err := a.admission.Admit(identity, 1); err != nil {
		return errorResult(err)
	}

	verdict := a.screener.Screen(args.Language, args.Code)
	if !verdict.Valid {
		return errorResult(brokererr.New(brokererr.PolicyRejected, verdict.Reason))
	}

	sessionID := args.SessionID
	transient := sessionID == ""
	if transient {
		sess, err := a.kinds.CreateExecutionSession(ctx, args.Language, "", identity)
		if err != nil {
			return errorResult(err)
		}
		sessionID = sess.ID
		defer a.kinds.DestroyTransient(ctx, sessionID)
	}

	result, err := a.engine.Execute(ctx, execengine.Request{
		SessionID: sessionID,
		Language:  args.Language,
		Code:      args.Code,
		Stdin:     args.Stdin,
		TimeoutMs: args.TimeoutMs,
	})
	if err != nil {
		return errorResult(err)
	}

	var b strings.Builder
	if result.Stdout != "" {
		fmt.Fprintf(&b, "Output:\n%s\n", result.Stdout)
	}
	if result.Stderr != "" {
		fmt.Fprintf(&b, "Errors:\n%s\n", result.Stderr)
	}
	fmt.Fprintf(&b, "Exit Code: %d\n", result.ExitCode)
	fmt.Fprintf(&b, "Execution Time: %dms\n", result.WallTimeMs)
	if result.HasPeakMemory {
		fmt.Fprintf(&b, "Memory Usage: %dMiB\n", result.PeakMemoryMiB)
	}

	fields := map[string]interface{}{
		"exitCode":      result.ExitCode,
		"executionTime": result.WallTimeMs,
	}
	if result.HasPeakMemory {
		fields["memoryUsageMiB"] = result.PeakMemoryMiB
	}
	return textResult(fields, b.String())
}

// CreateVSCodeSessionArgs are create_vscode_session's validated inputs.
type CreateVSCodeSessionArgs struct {
	Language string
	Template string
	Memory   string
}

var validTemplates = map[string]bool{"basic": true, "web": true, "api": true, "data-science": true, "machine-learning": true}
var validMemory = map[string]bool{"1g": true, "2g": true, "4g": true, "8g": true}

// CreateVSCodeSession provisions a web-IDE session, per spec.md §6 operation 2.
func (a *Adapter) CreateVSCodeSession(ctx context.Context, key, identity string, args CreateVSCodeSessionArgs) *Result {
	if err := a.authorize(key); err != nil {
		return errorResult(err)
	}
	if args.Template != "" && !validTemplates[args.Template] {
		return errorResult(brokererr.New(brokererr.BadRequest, "invalid template: "+args.Template))
	}
	if args.Memory != "" && !validMemory[args.Memory] {
		return errorResult(brokererr.New(brokererr.BadRequest, "invalid memory: "+args.Memory))
	}
	if err := a.admission.Admit(identity, 1); err != nil {
		return errorResult(err)
	}

	sess, err := a.kinds.CreateVSCodeSession(ctx, args.Language, args.Template, args.Memory, identity)
	if err != nil {
		return errorResult(err)
	}

	endpoint := sess.Endpoints["vscode"]
	text := fmt.Sprintf("Session: %s\nLanguage: %s\nTemplate: %s\nMemory: %s\nStatus: %s\nEndpoint: %s\n",
		sess.ID, args.Language, args.Template, args.Memory, sess.Status, endpoint)
	return textResult(map[string]interface{}{
		"sessionId": sess.ID, "language": args.Language, "template": args.Template,
		"memory": args.Memory, "status": string(sess.Status), "endpoint": endpoint,
	}, text)
}

// CreatePlaywrightSessionArgs are create_playwright_session's validated inputs.
type CreatePlaywrightSessionArgs struct {
	Browser  string
	Headless bool
	Width    int
	Height   int
	Memory   string
}

var validBrowsers = map[string]bool{"chromium": true, "firefox": true, "webkit": true}
var validPlaywrightMemory = map[string]bool{"2g": true, "4g": true, "8g": true}

// CreatePlaywrightSession provisions a browser-automation session, per
// spec.md §6 operation 3.
func (a *Adapter) CreatePlaywrightSession(ctx context.Context, key, identity string, args CreatePlaywrightSessionArgs) *Result {
	if err := a.authorize(key); err != nil {
		return errorResult(err)
	}
	browser := args.Browser
	if browser == "" {
		browser = "chromium"
	}
	if !validBrowsers[browser] {
		return errorResult(brokererr.New(brokererr.BadRequest, "invalid browser: "+browser))
	}
	if args.Memory != "" && !validPlaywrightMemory[args.Memory] {
		return errorResult(brokererr.New(brokererr.BadRequest, "invalid memory: "+args.Memory))
	}
	if args.Width != 0 && (args.Width < 320 || args.Width > 3840) {
		return errorResult(brokererr.New(brokererr.BadRequest, "viewport width out of range"))
	}
	if args.Height != 0 && (args.Height < 240 || args.Height > 2160) {
		return errorResult(brokererr.New(brokererr.BadRequest, "viewport height out of range"))
	}
	if err := a.admission.Admit(identity, 1); err != nil {
		return errorResult(err)
	}

	sess, err := a.kinds.CreatePlaywrightSession(ctx, browser, args.Memory, identity)
	if err != nil {
		return errorResult(err)
	}

	text := fmt.Sprintf("Session: %s\nBrowser: %s\nHeadless: %t\nStatus: %s\nContext: %s\nPage: %s\n",
		sess.ID, browser, args.Headless, sess.Status, sess.Endpoints["contextId"], sess.Endpoints["pageURL"])
	return textResult(map[string]interface{}{
		"sessionId": sess.ID, "browser": browser, "headless": args.Headless,
		"memory": args.Memory, "status": string(sess.Status),
		"contextId": sess.Endpoints["contextId"], "pageURL": sess.Endpoints["pageURL"],
	}, text)
}

// ManageSessionsArgs are manage_sessions' validated inputs.
type ManageSessionsArgs struct {
	Action    string // list, get, destroy
	SessionID string
}

// ManageSessions lists, retrieves, or destroys sessions, per spec.md §6
// operation 4.
func (a *Adapter) ManageSessions(ctx context.Context, key, identity string, args ManageSessionsArgs) *Result {
	if err := a.authorize(key); err != nil {
		return errorResult(err)
	}
	switch args.Action {
	case "list":
		sessions, err := a.sessions.ListSessions(ctx, identity)
		if err != nil {
			return errorResult(err)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%d session(s):\n", len(sessions))
		for _, s := range sessions {
			fmt.Fprintf(&b, "- %s [%s/%s] status=%s\n", s.ID, s.Type, s.Language, s.Status)
		}
		return textResult(map[string]interface{}{"count": len(sessions)}, b.String())

	case "get":
		if args.SessionID == "" {
			return errorResult(brokererr.New(brokererr.BadRequest, "sessionId is required for get"))
		}
		sess, err := a.sessions.Get(ctx, args.SessionID)
		if err != nil {
			return errorResult(err)
		}
		text := fmt.Sprintf("Session: %s\nType: %s\nLanguage: %s\nStatus: %s\nCreated: %s\nLastAccessed: %s\n",
			sess.ID, sess.Type, sess.Language, sess.Status, sess.CreatedAt, sess.LastAccessedAt)
		return textResult(map[string]interface{}{"session": sess}, text)

	case "destroy":
		if args.SessionID == "" {
			return errorResult(brokererr.New(brokererr.BadRequest, "sessionId is required for destroy"))
		}
		a.kinds.DestroyTransient(ctx, args.SessionID)
		return textResult(map[string]interface{}{"sessionId": args.SessionID}, "Session destroyed: "+args.SessionID)

	default:
		return errorResult(brokererr.New(brokererr.BadRequest, "action must be one of list, get, destroy"))
	}
}

// SystemHealthArgs are system_health's validated inputs.
type SystemHealthArgs struct {
	Detailed bool
}

// SystemHealth reports overall broker health, per spec.md §6 operation 5.
func (a *Adapter) SystemHealth(ctx context.Context, key string, args SystemHealthArgs) *Result {
	if err := a.authorize(key); err != nil {
		return errorResult(err)
	}
	doc := a.reporter.Status(ctx)

	var b strings.Builder
	fmt.Fprintf(&b, "Status: %s\n", doc.Overall)
	fmt.Fprintf(&b, "Uptime: %.0fs\n", doc.UptimeSeconds)
	fmt.Fprintf(&b, "Memory: rss=%d heapUsed=%d heapTotal=%d external=%d\n",
		doc.Memory.RSSBytes, doc.Memory.HeapUsedBytes, doc.Memory.HeapTotalBytes, doc.Memory.ExternalBytes)
	fmt.Fprintf(&b, "Sessions by type: %v\n", doc.SessionsByType)
	fmt.Fprintf(&b, "Sessions by status: %v\n", doc.SessionsByStatus)
	fmt.Fprintf(&b, "Sessions by language: %v\n", doc.SessionsByLang)
	if args.Detailed {
		for _, c := range doc.Components {
			fmt.Fprintf(&b, "- %s: %s %s\n", c.Name, c.Status, c.Detail)
		}
	}

	fields := map[string]interface{}{
		"overall":          string(doc.Overall),
		"uptimeSeconds":    doc.UptimeSeconds,
		"sessionsByType":   doc.SessionsByType,
		"sessionsByStatus": doc.SessionsByStatus,
		"sessionsByLang":   doc.SessionsByLang,
	}
	if args.Detailed {
		fields["components"] = doc.Components
	}
	return textResult(fields, b.String())
}
