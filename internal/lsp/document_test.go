package lsp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.lsp.dev/protocol"
)

func startBridge(t *testing.T, endpoint *fakeEndpoint) (*Session, *Bridge) {
	t.Helper()
	session := newTestSession(t, endpoint)
	bridge := NewBridge(session, NewSelector())
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { session.Shutdown(context.Background()) })
	return session, bridge
}

func decodeDidOpen(t *testing.T, msg Message) protocol.DidOpenTextDocumentParams {
	t.Helper()
	var params protocol.DidOpenTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		t.Fatalf("decode didOpen: %v", err)
	}
	return params
}

func decodeDidChange(t *testing.T, msg Message) protocol.DidChangeTextDocumentParams {
	t.Helper()
	var params protocol.DidChangeTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		t.Fatalf("decode didChange: %v", err)
	}
	return params
}

func TestBridge_OpenChangeSaveClose(t *testing.T) {
	endpoint := &fakeEndpoint{t: t}
	_, bridge := startBridge(t, endpoint)

	const path = "/home/user/pack/mobs/mob.yml"

	if err := bridge.DidOpen(path, "A"); err != nil {
		t.Fatalf("DidOpen() error = %v", err)
	}
	if err := bridge.DidChange(path, "AB", nil); err != nil {
		t.Fatalf("DidChange() error = %v", err)
	}
	if err := bridge.DidChange(path, "ABC", nil); err != nil {
		t.Fatalf("DidChange() error = %v", err)
	}
	if err := bridge.DidSave(path); err != nil {
		t.Fatalf("DidSave() error = %v", err)
	}
	if err := bridge.DidClose(path); err != nil {
		t.Fatalf("DidClose() error = %v", err)
	}

	srv := endpoint.current()
	if !srv.waitForMethod("textDocument/didClose", 2*time.Second) {
		t.Fatal("didClose never arrived")
	}

	opens := srv.inboundByMethod("textDocument/didOpen")
	if len(opens) != 1 {
		t.Fatalf("didOpen count = %d", len(opens))
	}
	open := decodeDidOpen(t, opens[0])
	if open.TextDocument.LanguageID != "MythicYAML" {
		t.Errorf("LanguageID = %q, want MythicYAML", open.TextDocument.LanguageID)
	}
	if open.TextDocument.Version != 1 || open.TextDocument.Text != "A" {
		t.Errorf("didOpen = version %d text %q, want 1 A", open.TextDocument.Version, open.TextDocument.Text)
	}

	changes := srv.inboundByMethod("textDocument/didChange")
	if len(changes) != 2 {
		t.Fatalf("didChange count = %d", len(changes))
	}
	for i, want := range []struct {
		version int32
		text    string
	}{{2, "AB"}, {3, "ABC"}} {
		params := decodeDidChange(t, changes[i])
		if params.TextDocument.Version != want.version {
			t.Errorf("didChange %d version = %d, want %d", i, params.TextDocument.Version, want.version)
		}
		if len(params.ContentChanges) != 1 || params.ContentChanges[0].Text != want.text {
			t.Errorf("didChange %d changes = %+v", i, params.ContentChanges)
		}
	}

	if len(srv.inboundByMethod("textDocument/didSave")) != 1 {
		t.Error("didSave never arrived")
	}
	if bridge.IsOpen(path) {
		t.Error("Document still tracked after DidClose")
	}
}

func TestBridge_SelectorGating(t *testing.T) {
	endpoint := &fakeEndpoint{t: t}
	_, bridge := startBridge(t, endpoint)

	if err := bridge.DidOpen("/home/user/pack/README.md", "# readme"); err != nil {
		t.Fatalf("DidOpen() error = %v", err)
	}
	if bridge.IsOpen("/home/user/pack/README.md") {
		t.Error("Non-matching document tracked")
	}
	if got := endpoint.current().inboundByMethod("textDocument/didOpen"); len(got) != 0 {
		t.Errorf("didOpen sent for non-matching document: %v", got)
	}
}

func TestBridge_UntrackedEventsAreNoOps(t *testing.T) {
	endpoint := &fakeEndpoint{t: t}
	_, bridge := startBridge(t, endpoint)

	const path = "/home/user/pack/skills/burn.yml"
	if err := bridge.DidChange(path, "text", nil); err != nil {
		t.Errorf("DidChange() for untracked error = %v", err)
	}
	if err := bridge.DidSave(path); err != nil {
		t.Errorf("DidSave() for untracked error = %v", err)
	}
	if err := bridge.DidClose(path); err != nil {
		t.Errorf("DidClose() for untracked error = %v", err)
	}
	if len(endpoint.current().inboundByMethod("textDocument/didChange")) != 0 {
		t.Error("didChange sent for untracked document")
	}
}

func TestBridge_OpenBeforeStartReplays(t *testing.T) {
	endpoint := &fakeEndpoint{t: t}
	session := newTestSession(t, endpoint)
	bridge := NewBridge(session, NewSelector())

	const path = "/home/user/pack/mobs/boss.yml"
	if err := bridge.DidOpen(path, "boss: {}"); err != nil {
		t.Fatalf("DidOpen() error = %v", err)
	}
	if endpoint.dialCount() != 0 {
		t.Fatal("Bridge touched the wire before Start")
	}

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer session.Shutdown(context.Background())

	if !endpoint.current().waitForMethod("textDocument/didOpen", 2*time.Second) {
		t.Fatal("didOpen never replayed")
	}
	opens := endpoint.current().inboundByMethod("textDocument/didOpen")
	if len(opens) != 1 {
		t.Fatalf("didOpen count = %d after replay", len(opens))
	}
	open := decodeDidOpen(t, opens[0])
	if open.TextDocument.Version != 1 || open.TextDocument.Text != "boss: {}" {
		t.Errorf("Replayed didOpen = version %d text %q", open.TextDocument.Version, open.TextDocument.Text)
	}
}

func TestBridge_DropsWhileDownAndReplaysOnRestart(t *testing.T) {
	endpoint := &fakeEndpoint{t: t}
	session, bridge := startBridge(t, endpoint)

	const path = "/home/user/pack/mobs/mob.yml"
	if err := bridge.DidOpen(path, "v1"); err != nil {
		t.Fatalf("DidOpen() error = %v", err)
	}
	if err := bridge.DidChange(path, "v2", nil); err != nil {
		t.Fatalf("DidChange() error = %v", err)
	}
	if v, _ := bridge.Version(path); v != 2 {
		t.Fatalf("Version = %d, want 2", v)
	}

	endpoint.current().crash()
	deadline := time.Now().Add(2 * time.Second)
	for session.State() != StateCrashed && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	// Edits keep flowing from the host while the server is down. They are
	// dropped from the wire but the tracked text stays current, and the
	// version counter does not advance for unsent changes.
	if err := bridge.DidChange(path, "v3-offline", nil); err != nil {
		t.Fatalf("DidChange() while down error = %v", err)
	}
	if v, _ := bridge.Version(path); v != 2 {
		t.Errorf("Version = %d after dropped change, want 2", v)
	}

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start() after crash error = %v", err)
	}

	if !endpoint.current().waitForMethod("textDocument/didOpen", 2*time.Second) {
		t.Fatal("didOpen never replayed")
	}
	opens := endpoint.current().inboundByMethod("textDocument/didOpen")
	if len(opens) != 1 {
		t.Fatalf("didOpen count = %d after replay", len(opens))
	}
	open := decodeDidOpen(t, opens[0])
	if open.TextDocument.Version != 1 {
		t.Errorf("Replayed version = %d, want 1", open.TextDocument.Version)
	}
	if open.TextDocument.Text != "v3-offline" {
		t.Errorf("Replayed text = %q, want the latest host content", open.TextDocument.Text)
	}

	// Versioning resumes from the fresh didOpen.
	if err := bridge.DidChange(path, "v4", nil); err != nil {
		t.Fatalf("DidChange() after replay error = %v", err)
	}
	if !endpoint.current().waitForMethod("textDocument/didChange", 2*time.Second) {
		t.Fatal("didChange never arrived")
	}
	changes := endpoint.current().inboundByMethod("textDocument/didChange")
	if len(changes) != 1 {
		t.Fatalf("didChange count = %d", len(changes))
	}
	if params := decodeDidChange(t, changes[0]); params.TextDocument.Version != 2 {
		t.Errorf("Version after replay = %d, want 2", params.TextDocument.Version)
	}
}

func TestBridge_IncrementalSyncSendsDeltas(t *testing.T) {
	endpoint := &fakeEndpoint{t: t, syncKind: 2}
	session, bridge := startBridge(t, endpoint)

	if got := session.SyncKind(); got != protocol.TextDocumentSyncKindIncremental {
		t.Fatalf("SyncKind() = %v, want incremental", got)
	}

	const path = "/home/user/pack/skills/meteor.yml"
	if err := bridge.DidOpen(path, "Damage: 1"); err != nil {
		t.Fatalf("DidOpen() error = %v", err)
	}

	delta := []protocol.TextDocumentContentChangeEvent{{
		Range: protocol.Range{
			Start: protocol.Position{Line: 0, Character: 8},
			End:   protocol.Position{Line: 0, Character: 9},
		},
		Text: "2",
	}}
	if err := bridge.DidChange(path, "Damage: 2", delta); err != nil {
		t.Fatalf("DidChange() error = %v", err)
	}

	// The host may fail to produce deltas; the bridge then falls back to
	// full content even under incremental sync.
	if err := bridge.DidChange(path, "Damage: 3", nil); err != nil {
		t.Fatalf("DidChange() without deltas error = %v", err)
	}

	if !endpoint.current().waitForMethodCount("textDocument/didChange", 2, 2*time.Second) {
		t.Fatal("didChange messages never arrived")
	}
	changes := endpoint.current().inboundByMethod("textDocument/didChange")
	if len(changes) != 2 {
		t.Fatalf("didChange count = %d", len(changes))
	}

	first := decodeDidChange(t, changes[0])
	if len(first.ContentChanges) != 1 || first.ContentChanges[0].Text != "2" {
		t.Fatalf("ContentChanges = %+v, want the delta passed through", first.ContentChanges)
	}
	if got := first.ContentChanges[0].Range.End.Character; got != 9 {
		t.Errorf("Range.End.Character = %d, want 9", got)
	}

	second := decodeDidChange(t, changes[1])
	if len(second.ContentChanges) != 1 || second.ContentChanges[0].Text != "Damage: 3" {
		t.Errorf("ContentChanges = %+v, want full content fallback", second.ContentChanges)
	}
}

func TestBridge_DuplicateOpenIgnored(t *testing.T) {
	endpoint := &fakeEndpoint{t: t}
	_, bridge := startBridge(t, endpoint)

	const path = "/home/user/pack/items/sword.yaml"
	if err := bridge.DidOpen(path, "one"); err != nil {
		t.Fatalf("DidOpen() error = %v", err)
	}
	if err := bridge.DidOpen(path, "two"); err != nil {
		t.Fatalf("Second DidOpen() error = %v", err)
	}
	if !endpoint.current().waitForMethod("textDocument/didOpen", 2*time.Second) {
		t.Fatal("didOpen never arrived")
	}
	if got := endpoint.current().inboundByMethod("textDocument/didOpen"); len(got) != 1 {
		t.Errorf("didOpen count = %d, want 1", len(got))
	}
}
