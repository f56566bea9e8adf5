// Package lsp implements the editor-side client for the MythicYAML language
// server.
//
// The layer owns everything between a host editor and one server instance:
// acquiring a communication channel, speaking the Content-Length framed
// JSON-RPC base protocol, driving the initialize/shutdown lifecycle, keeping
// the server's view of open documents in sync, and reacting to crashes.
//
// # Architecture
//
// The package is organized around these core components:
//
//   - Session: lifecycle state machine, request/response correlation, crash
//     and shutdown paths
//   - Channel: the transport abstraction — spawned subprocess, TCP, or unix
//     socket
//   - Decoder / EncodeMessage: the framed JSON-RPC codec
//   - Bridge: document synchronization (didOpen/didChange/didSave/didClose)
//   - Supervisor: crash recovery with a single automatic restart
//   - Selector: decides which files belong to the MythicYAML language
//
// # Quick Start
//
// Create a session, wrap it in a bridge and supervisor, and start it:
//
//	session := lsp.NewSession(lsp.SessionConfig{
//	    Channel:       lsp.ChannelConfig{Command: "mythic-language-server"},
//	    WorkspaceRoot: "/path/to/pack",
//	}, lsp.WithLogger(logger))
//
//	bridge := lsp.NewBridge(session, lsp.NewSelector())
//	sup := lsp.NewSupervisor(session, lsp.DefaultSupervisorConfig(), logger)
//
//	if err := sup.Start(ctx); err != nil {
//	    log.Fatal().Err(err).Msg("language server unavailable")
//	}
//	defer sup.Stop(ctx)
//
//	bridge.DidOpen("/path/to/pack/mobs/boss.yml", content)
//
// # Lifecycle
//
// A session moves uninitialized → initializing → running → shutting down →
// stopped. An unexpected channel close from any active state lands in
// crashed, which rejects all pending requests and notifies the supervisor.
// Requests and notifications are only accepted while running; anything else
// fails fast with SessionError rather than queueing.
//
// # Document Sync
//
// The Bridge relays host document events in order, versioning each document
// monotonically from 1. Events while the server is down are dropped, not
// buffered; after a restart every tracked document is replayed as a fresh
// didOpen because the server lost all state.
//
// # Crash Recovery
//
// The Supervisor performs at most one automatic restart per healthy run. A
// second crash inside the healthy window means the server command itself is
// probably broken, so the session stays down until the host asks for a
// manual restart.
//
// # Thread Safety
//
// Session, Bridge and Supervisor are safe for concurrent use.
package lsp
