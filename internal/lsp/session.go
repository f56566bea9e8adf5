package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// State represents the client-visible session lifecycle.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateRunning
	StateShuttingDown
	StateStopped
	// StateCrashed is terminal for the current channel; a restart acquires
	// a fresh one.
	StateCrashed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting down"
	case StateStopped:
		return "stopped"
	case StateCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// SessionConfig describes one workspace's connection to the MythicYAML
// language server.
type SessionConfig struct {
	// Channel selects how the server endpoint is obtained.
	Channel ChannelConfig

	// WorkspaceRoot is the host editor's workspace directory.
	WorkspaceRoot string

	// InitializationOptions are passed through in the initialize request.
	InitializationOptions any

	// Settings is the workspace/didChangeConfiguration payload base. The
	// current trace level is always merged in under the "trace" key.
	Settings map[string]any

	// InitializeTimeout bounds the initialize handshake. Default 15s.
	InitializeTimeout time.Duration

	// ShutdownTimeout bounds the shutdown request and the subsequent wait
	// for the server process to exit. Default 5s.
	ShutdownTimeout time.Duration
}

func (c *SessionConfig) applyDefaults() {
	if c.InitializeTimeout == 0 {
		c.InitializeTimeout = 15 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// Dialer acquires a channel. The default dialer uses AcquireChannel with
// the session's ChannelConfig; tests and embedded servers substitute their
// own.
type Dialer func(ctx context.Context) (Channel, error)

// NotificationHandler handles a server notification the session does not
// consume itself.
type NotificationHandler func(method string, params json.RawMessage)

// Session owns the lifecycle of the connection to the language server: the
// channel, the initialize handshake, the pending-request table and the
// teardown paths. One session exists per editor workspace.
type Session struct {
	config SessionConfig
	logger zerolog.Logger
	trace  *traceLogger
	dial   Dialer

	// lifeMu serializes Start/Shutdown/Restart. mu guards the fields below.
	lifeMu sync.Mutex
	mu     sync.Mutex

	channel    Channel
	caps       protocol.ServerCapabilities
	serverInfo *protocol.ServerInfo

	state   atomic.Int32
	nextID  atomic.Int64
	pending *pendingTable
	writeMu sync.Mutex

	diagnostics map[uri.URI][]protocol.Diagnostic
	diagMu      sync.RWMutex

	onDiagnostics func(protocol.PublishDiagnosticsParams)
	onCrash       func(error)
	onReady       func()
	handlers      map[string]NotificationHandler
}

// SessionOption configures the session.
type SessionOption func(*Session)

// WithLogger sets the session logger. Trace output and server stderr go
// through it.
func WithLogger(logger zerolog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithTraceLevel sets the initial trace level.
func WithTraceLevel(level TraceLevel) SessionOption {
	return func(s *Session) {
		s.trace = newTraceLogger(s.logger, level)
	}
}

// WithDialer overrides channel acquisition.
func WithDialer(d Dialer) SessionOption {
	return func(s *Session) {
		s.dial = d
	}
}

// WithDiagnosticsHandler forwards textDocument/publishDiagnostics to the
// host's diagnostics surface.
func WithDiagnosticsHandler(h func(protocol.PublishDiagnosticsParams)) SessionOption {
	return func(s *Session) {
		s.onDiagnostics = h
	}
}

// WithCrashHandler is invoked when the channel closes unexpectedly, so the
// host can offer a restart.
func WithCrashHandler(h func(error)) SessionOption {
	return func(s *Session) {
		s.onCrash = h
	}
}

// WithNotificationHandler registers a handler for a server notification
// method the session does not consume itself.
func WithNotificationHandler(method string, h NotificationHandler) SessionOption {
	return func(s *Session) {
		s.handlers[method] = h
	}
}

// NewSession creates a session in the uninitialized state.
func NewSession(config SessionConfig, opts ...SessionOption) *Session {
	config.applyDefaults()

	s := &Session{
		config:      config,
		logger:      zerolog.Nop(),
		pending:     newPendingTable(),
		diagnostics: make(map[uri.URI][]protocol.Diagnostic),
		handlers:    make(map[string]NotificationHandler),
	}
	s.state.Store(int32(StateUninitialized))

	for _, opt := range opts {
		opt(s)
	}
	if s.trace == nil {
		s.trace = newTraceLogger(s.logger, TraceOff)
	}
	if s.dial == nil {
		s.dial = func(ctx context.Context) (Channel, error) {
			return AcquireChannel(ctx, s.config.Channel, s.logger)
		}
	}
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Capabilities returns the server capabilities negotiated at initialize.
func (s *Session) Capabilities() protocol.ServerCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

// ServerInfo returns the name/version the server reported, if any.
func (s *Session) ServerInfo() *protocol.ServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverInfo
}

// TraceLevel returns the current trace level.
func (s *Session) TraceLevel() TraceLevel {
	return s.trace.Level()
}

// SyncKind interprets the negotiated textDocumentSync capability. Absent or
// unrecognized capabilities fall back to full-text replacement.
func (s *Session) SyncKind() protocol.TextDocumentSyncKind {
	caps := s.Capabilities()
	switch v := caps.TextDocumentSync.(type) {
	case float64:
		return protocol.TextDocumentSyncKind(v)
	case map[string]any:
		if change, ok := v["change"].(float64); ok {
			return protocol.TextDocumentSyncKind(change)
		}
	}
	return protocol.TextDocumentSyncKindFull
}

// Start acquires a channel, runs the initialize handshake and transitions
// to running. Valid from uninitialized, stopped or crashed; the latter two
// make Restart possible.
func (s *Session) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	switch s.State() {
	case StateUninitialized, StateStopped, StateCrashed:
	default:
		return ErrAlreadyStarted
	}

	ch, err := s.dial(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.channel = ch
	s.setState(StateInitializing)
	s.mu.Unlock()

	go s.readLoop(ch)

	if err := s.initialize(ctx); err != nil {
		// A channel that died mid-handshake already went through crash();
		// otherwise move to stopped before teardown so the reader does not
		// mistake the deliberate close for a crash.
		if s.State() == StateInitializing {
			s.setState(StateStopped)
			s.teardown(ch, &SessionError{Reason: SessionCancelled})
		}
		return err
	}

	s.setState(StateRunning)
	s.logger.Info().Str("state", s.State().String()).Msg("session running")

	if s.onReady != nil {
		s.onReady()
	}
	return nil
}

// initialize performs the handshake: initialize request, capability
// storage, initialized notification.
func (s *Session) initialize(ctx context.Context) error {
	root := s.config.WorkspaceRoot
	params := protocol.InitializeParams{
		ProcessID:             int32(os.Getpid()),
		ClientInfo:            &protocol.ClientInfo{Name: "mythicls", Version: Version},
		Capabilities:          clientCapabilities(),
		InitializationOptions: s.config.InitializationOptions,
		Trace:                 protocol.TraceValue(s.trace.Level().String()),
	}
	if root != "" {
		rootURI := uri.File(root)
		params.RootURI = rootURI
		params.WorkspaceFolders = []protocol.WorkspaceFolder{
			{URI: string(rootURI), Name: "workspace"},
		}
	}

	ictx, cancel := context.WithTimeout(ctx, s.config.InitializeTimeout)
	defer cancel()

	call, err := s.request(protocol.MethodInitialize, params)
	if err != nil {
		return fmt.Errorf("initialize request: %w", err)
	}

	var result protocol.InitializeResult
	if err := call.Await(ictx, &result); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrInitializeTimeout
		}
		return fmt.Errorf("initialize: %w", err)
	}

	s.mu.Lock()
	s.caps = result.Capabilities
	s.serverInfo = result.ServerInfo
	s.mu.Unlock()

	if err := s.notification(protocol.MethodInitialized, protocol.InitializedParams{}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}
	return nil
}

// clientCapabilities advertises what this client supports. The MythicYAML
// server keys off text sync and publishDiagnostics only.
func clientCapabilities() protocol.ClientCapabilities {
	return protocol.ClientCapabilities{
		TextDocument: &protocol.TextDocumentClientCapabilities{
			Synchronization: &protocol.TextDocumentSyncClientCapabilities{
				DidSave: true,
			},
			PublishDiagnostics: &protocol.PublishDiagnosticsClientCapabilities{
				RelatedInformation: true,
			},
		},
	}
}

// Shutdown performs the graceful teardown sequence: shutdown request with a
// bounded timeout, exit notification, channel close and, for spawned
// servers, a force-terminate if the process lingers. Valid from running;
// stopped and crashed collapse to stopped without touching the wire.
func (s *Session) Shutdown(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	switch s.State() {
	case StateStopped:
		return nil
	case StateCrashed:
		s.setState(StateStopped)
		return nil
	case StateRunning:
	default:
		return ErrNotRunning
	}

	s.setState(StateShuttingDown)

	sctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if call, err := s.request(protocol.MethodShutdown, nil); err == nil {
		if err := call.Await(sctx, nil); err != nil {
			s.logger.Warn().Err(err).Msg("shutdown request not answered, forcing exit")
		}
	}
	if err := s.notification(protocol.MethodExit, nil); err != nil {
		s.logger.Warn().Err(err).Msg("exit notification failed")
	}

	s.mu.Lock()
	ch := s.channel
	s.channel = nil
	s.mu.Unlock()

	if ch != nil {
		ch.Close()
		if proc, ok := ch.(Process); ok {
			if err := proc.Terminate(s.config.ShutdownTimeout); err != nil {
				s.logger.Warn().Err(err).Msg("server process terminated forcibly")
			}
		}
	}

	s.pending.drain(&SessionError{Reason: SessionCancelled})
	s.setState(StateStopped)
	s.logger.Info().Msg("session stopped")
	return nil
}

// Restart tears the session down best-effort and starts it again. Server
// state was lost, so the document bridge replays every tracked document as
// a fresh didOpen once the new session is running.
func (s *Session) Restart(ctx context.Context) error {
	if err := s.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("shutdown before restart failed")
	}
	return s.Start(ctx)
}

// Call issues a request and returns its pending handle immediately.
// Outside the running state nothing is written and the caller gets
// SessionError{not-ready}; the session never queues requests.
func (s *Session) Call(method string, params any) (*Call, error) {
	if s.State() != StateRunning {
		return nil, &SessionError{Reason: SessionNotReady, Method: method}
	}
	return s.request(method, params)
}

// Notify sends a notification. Subject to the same running-state gate as
// Call.
func (s *Session) Notify(method string, params any) error {
	if s.State() != StateRunning {
		return &SessionError{Reason: SessionNotReady, Method: method}
	}
	return s.notification(method, params)
}

// Cancel resolves the call with a cancelled error immediately and tells the
// server via $/cancelRequest, whether or not it ever acknowledges.
func (s *Session) Cancel(call *Call) {
	if c, ok := s.pending.remove(call.id); ok {
		c.resolve(nil, &SessionError{Reason: SessionCancelled, Method: call.method})
	}
	if s.State() == StateRunning {
		if err := s.notification("$/cancelRequest", cancelParams{ID: call.id}); err != nil {
			s.logger.Debug().Err(err).Int64("id", call.id).Msg("cancel notification failed")
		}
	}
}

// SetTraceLevel updates the trace level immediately (affecting subsequent
// logging only) and, while running, pushes the new settings payload to the
// server.
func (s *Session) SetTraceLevel(level TraceLevel) {
	s.trace.SetLevel(level)
	if s.State() == StateRunning {
		if err := s.PushConfiguration(); err != nil {
			s.logger.Warn().Err(err).Msg("configuration push failed")
		}
	}
}

// PushConfiguration sends workspace/didChangeConfiguration with the current
// settings payload.
func (s *Session) PushConfiguration() error {
	if s.State() != StateRunning {
		return &SessionError{Reason: SessionNotReady, Method: protocol.MethodWorkspaceDidChangeConfiguration}
	}
	return s.notification(protocol.MethodWorkspaceDidChangeConfiguration, protocol.DidChangeConfigurationParams{
		Settings: s.settingsPayload(),
	})
}

// settingsPayload merges the configured settings with the live trace level
// under the language's configuration section.
func (s *Session) settingsPayload() any {
	section := make(map[string]any, len(s.config.Settings)+1)
	for k, v := range s.config.Settings {
		section[k] = v
	}
	section["trace"] = s.trace.Level().String()
	return map[string]any{"mythicyaml": section}
}

// Diagnostics returns the last published diagnostics for a document.
func (s *Session) Diagnostics(u uri.URI) []protocol.Diagnostic {
	s.diagMu.RLock()
	defer s.diagMu.RUnlock()
	return s.diagnostics[u]
}

// AllDiagnostics returns the last published diagnostics for every document.
func (s *Session) AllDiagnostics() map[uri.URI][]protocol.Diagnostic {
	s.diagMu.RLock()
	defer s.diagMu.RUnlock()
	out := make(map[uri.URI][]protocol.Diagnostic, len(s.diagnostics))
	for k, v := range s.diagnostics {
		out[k] = v
	}
	return out
}

// setReadyHook registers the document bridge's replay callback. It runs
// synchronously at the end of Start, before any host event can race it.
func (s *Session) setReadyHook(f func()) {
	s.onReady = f
}

// --- wire-level send paths (no state gate; the handshake and shutdown
// sequences use these from their own states) ---

func (s *Session) request(method string, params any) (*Call, error) {
	id := s.nextID.Add(1)
	call := newCall(id, method)

	body, err := json.Marshal(Request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", method, err)
	}

	s.pending.add(call)
	s.trace.Outbound(method, id, body)
	if err := s.write(encodeFrame(body)); err != nil {
		s.pending.remove(id)
		return nil, err
	}
	return call, nil
}

func (s *Session) notification(method string, params any) error {
	body, err := json.Marshal(Request{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}
	s.trace.Outbound(method, 0, body)
	return s.write(encodeFrame(body))
}

func (s *Session) write(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	ch := s.channel
	s.mu.Unlock()
	if ch == nil {
		return ErrChannelClosed
	}
	if _, err := ch.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// --- inbound path ---

// readLoop drains the channel until it closes or the framing breaks. It is
// the only reader; response resolution happens here so callers never block
// it.
func (s *Session) readLoop(ch Channel) {
	dec := NewDecoder(ch)
	for {
		msg, raw, err := dec.Next()
		if err != nil {
			s.handleReadFailure(ch, err)
			return
		}
		s.trace.Inbound(msg, raw)

		switch {
		case msg.IsResponse():
			if call, ok := s.pending.remove(*msg.ID); ok {
				if msg.Error != nil {
					call.resolve(nil, msg.Error)
				} else {
					call.resolve(msg.Result, nil)
				}
			}
		case msg.IsNotification():
			s.dispatchNotification(msg)
		case msg.IsServerRequest():
			s.rejectServerRequest(msg)
		}
	}
}

// handleReadFailure classifies the end of the inbound stream. An expected
// close during shutdown is silent; everything else crashes the session.
func (s *Session) handleReadFailure(ch Channel, err error) {
	switch s.State() {
	case StateShuttingDown, StateStopped, StateUninitialized:
		return
	}

	s.mu.Lock()
	stale := s.channel != ch
	s.mu.Unlock()
	if stale {
		return
	}

	if err == io.EOF || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) {
		err = ErrChannelClosed
	}
	s.crash(err)
}

// crash transitions to the crashed state, rejects every pending request
// exactly once and surfaces the failure to the host. Reachable from any
// non-stopped state.
func (s *Session) crash(cause error) {
	s.mu.Lock()
	switch s.State() {
	case StateStopped, StateCrashed:
		s.mu.Unlock()
		return
	}
	s.setState(StateCrashed)
	ch := s.channel
	s.channel = nil
	s.mu.Unlock()

	if ch != nil {
		ch.Close()
		if proc, ok := ch.(Process); ok {
			go proc.Terminate(s.config.ShutdownTimeout)
		}
	}

	s.pending.drain(&SessionError{Reason: SessionCrashed})
	s.logger.Error().Err(cause).Msg("session crashed")

	if s.onCrash != nil {
		s.onCrash(cause)
	}
}

// teardown closes the channel after a failed handshake.
func (s *Session) teardown(ch Channel, drainErr error) {
	s.mu.Lock()
	if s.channel == ch {
		s.channel = nil
	}
	s.mu.Unlock()

	ch.Close()
	if proc, ok := ch.(Process); ok {
		go proc.Terminate(s.config.ShutdownTimeout)
	}
	s.pending.drain(drainErr)
}

func (s *Session) dispatchNotification(msg *Message) {
	switch msg.Method {
	case protocol.MethodTextDocumentPublishDiagnostics:
		var params protocol.PublishDiagnosticsParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.logger.Warn().Err(err).Msg("bad publishDiagnostics payload")
			return
		}
		s.diagMu.Lock()
		if len(params.Diagnostics) == 0 {
			delete(s.diagnostics, params.URI)
		} else {
			s.diagnostics[params.URI] = params.Diagnostics
		}
		s.diagMu.Unlock()
		if s.onDiagnostics != nil {
			go s.onDiagnostics(params)
		}

	case protocol.MethodWindowLogMessage:
		var params protocol.LogMessageParams
		if err := json.Unmarshal(msg.Params, &params); err == nil {
			s.logger.Debug().Int("type", int(params.Type)).Str("source", "server").Msg(params.Message)
		}

	case protocol.MethodWindowShowMessage:
		var params protocol.ShowMessageParams
		if err := json.Unmarshal(msg.Params, &params); err == nil {
			s.logger.Info().Int("type", int(params.Type)).Str("source", "server").Msg(params.Message)
		}

	default:
		s.mu.Lock()
		handler := s.handlers[msg.Method]
		if handler == nil {
			handler = s.handlers["*"]
		}
		s.mu.Unlock()
		if handler != nil {
			go handler(msg.Method, msg.Params)
		}
	}
}

// rejectServerRequest answers server-to-client requests this client does
// not implement, so the server is not left waiting.
func (s *Session) rejectServerRequest(msg *Message) {
	resp := Response{
		JSONRPC: "2.0",
		ID:      *msg.ID,
		Error:   &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("method not supported: %s", msg.Method)},
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return
	}
	s.trace.Outbound(msg.Method, *msg.ID, body)
	if err := s.write(encodeFrame(body)); err != nil {
		s.logger.Debug().Err(err).Str("method", msg.Method).Msg("reject response failed")
	}
}
