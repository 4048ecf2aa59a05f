package toolbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/Sirius1942/Omniparser-tars/internal/engine"
)

// ToolFunc executes one local tool call. The returned map is merged into
// the invocation result; errors are converted to failure payloads by the
// broker, never surfaced to the caller.
type ToolFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

// Tool is a locally registered tool with a JSON schema describing its
// arguments.
type Tool struct {
	Name        string
	Description string
	SchemaJSON  string
	Fn          ToolFunc
}

// ValidateArgs validates the provided arguments against the tool's JSON schema.
func (t Tool) ValidateArgs(args map[string]any) error {
	schemaLoader := gojsonschema.NewStringLoader(t.SchemaJSON)
	documentLoader := gojsonschema.NewGoLoader(args)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		msg := "invalid arguments"
		if errs := result.Errors(); len(errs) > 0 {
			msg = errs[0].String()
		}
		return fmt.Errorf("invalid arguments for %s: %s", t.Name, msg)
	}
	return nil
}

var _ engine.ToolInvoker = (*Broker)(nil)

// RemoteDispatcher is a connection to an external tool server. The broker
// treats it as best-effort: any error downgrades to the static tool list
// or a failure payload.
type RemoteDispatcher interface {
	Ping(ctx context.Context) error
	ListTools(ctx context.Context) ([]string, error)
	CallTool(ctx context.Context, name string, args map[string]any) (map[string]any, error)
}

// staticRemoteTools is the assumed device tool surface when the remote
// server cannot be reached or enumerated. Calls against these will fail at
// dispatch time if the server stays down, which is still reported as a
// per-call failure rather than a run abort.
var staticRemoteTools = []string{
	"take_screenshot",
	"click_screen",
	"input_text",
	"wake_screen",
	"go_home",
}

// Broker routes tool calls to local tools first, then to the remote
// dispatcher. It satisfies the engine's tool invoker contract: Invoke
// always returns a result map and never an error.
type Broker struct {
	local      map[string]Tool
	remote     RemoteDispatcher
	log        *zap.Logger
	screenshot *ScreenshotStore

	mu          sync.Mutex
	remoteTools []string
	probed      bool
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithRemote attaches a remote dispatcher for device tools.
func WithRemote(rd RemoteDispatcher) BrokerOption {
	return func(b *Broker) { b.remote = rd }
}

// WithLogger sets the broker's logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) BrokerOption {
	return func(b *Broker) { b.log = l }
}

// WithScreenshotDir enables saving screenshot payloads to the given
// directory. Tool results carrying base64 image data get the payload
// replaced with the saved file path.
func WithScreenshotDir(dir string) BrokerOption {
	return func(b *Broker) { b.screenshot = &ScreenshotStore{Dir: dir} }
}

// NewBroker builds a broker with the built-in local tools registered.
func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{
		local: make(map[string]Tool),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	for _, t := range builtinTools() {
		b.local[t.Name] = t
	}
	return b
}

// Register adds or replaces a local tool.
func (b *Broker) Register(t Tool) {
	b.local[t.Name] = t
}

// Probe checks remote availability and caches the remote tool list. On any
// failure the static device tool list is assumed, and the error is
// returned so callers can log it. Probe is called once per task run.
func (b *Broker) Probe(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probed = true

	if b.remote == nil {
		b.remoteTools = nil
		return nil
	}
	if err := b.remote.Ping(ctx); err != nil {
		b.remoteTools = append([]string(nil), staticRemoteTools...)
		return fmt.Errorf("remote tool server unreachable: %w", err)
	}
	names, err := b.remote.ListTools(ctx)
	if err != nil || len(names) == 0 {
		b.remoteTools = append([]string(nil), staticRemoteTools...)
		if err != nil {
			return fmt.Errorf("remote tool listing failed: %w", err)
		}
		return nil
	}
	b.remoteTools = names
	return nil
}

// AvailableTools returns local and remote tool names, sorted. If the
// broker was never probed, the static remote list stands in for remote
// tools when a dispatcher is configured.
func (b *Broker) AvailableTools() []string {
	b.mu.Lock()
	remote := b.remoteTools
	probed := b.probed
	b.mu.Unlock()

	if !probed && b.remote != nil {
		remote = staticRemoteTools
	}

	names := make([]string, 0, len(b.local)+len(remote))
	for name := range b.local {
		names = append(names, name)
	}
	names = append(names, remote...)
	sort.Strings(names)
	return names
}

// Invoke runs one tool call and always returns a result payload. Failures
// of any kind (unknown tool, invalid arguments, execution error, remote
// error) come back as {"success": false, "error": ...} so the loop can
// carry them into the next criticism phase.
func (b *Broker) Invoke(ctx context.Context, name string, args map[string]any) map[string]any {
	start := time.Now()
	result := b.invoke(ctx, name, args)
	b.log.Debug("tool invoked",
		zap.String("tool", name),
		zap.Bool("success", result["success"] == true),
		zap.Duration("elapsed", time.Since(start)))
	return result
}

func (b *Broker) invoke(ctx context.Context, name string, args map[string]any) map[string]any {
	if args == nil {
		args = map[string]any{}
	}

	if t, ok := b.local[name]; ok {
		if err := t.ValidateArgs(args); err != nil {
			return failure(err.Error())
		}
		out, err := t.Fn(ctx, args)
		if err != nil {
			return failure(err.Error())
		}
		return success(out)
	}

	if b.remote != nil && b.isRemoteTool(name) {
		out, err := b.remote.CallTool(ctx, name, args)
		if err != nil {
			return failure(fmt.Sprintf("remote call %s failed: %v", name, err))
		}
		return success(b.postprocess(name, out))
	}

	return failure(fmt.Sprintf("unknown tool: %s", name))
}

func (b *Broker) isRemoteTool(name string) bool {
	b.mu.Lock()
	remote := b.remoteTools
	probed := b.probed
	b.mu.Unlock()
	if !probed {
		remote = staticRemoteTools
	}
	for _, n := range remote {
		if n == name {
			return true
		}
	}
	return false
}

// postprocess rewrites bulky payloads before they enter the task state.
// Screenshot image data is written to disk and replaced with its path so
// the conversation history stays small.
func (b *Broker) postprocess(name string, out map[string]any) map[string]any {
	if b.screenshot == nil || out == nil {
		return out
	}
	data, ok := out["image_data"].(string)
	if !ok || data == "" {
		return out
	}
	path, err := b.screenshot.Save(name, data)
	if err != nil {
		b.log.Warn("screenshot save failed", zap.Error(err))
		return out
	}
	delete(out, "image_data")
	out["saved_path"] = path
	return out
}

func success(out map[string]any) map[string]any {
	res := map[string]any{"success": true}
	for k, v := range out {
		if k == "success" {
			// A tool may report its own failure in-band.
			res["success"] = v == true
			continue
		}
		res[k] = v
	}
	return res
}

func failure(msg string) map[string]any {
	return map[string]any{"success": false, "error": msg}
}
