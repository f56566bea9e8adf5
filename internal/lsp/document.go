package lsp

import (
	"sync"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// Document is one open text buffer matching the MythicYAML selector, as the
// server sees it. Version counts only synchronization messages actually
// sent, so the sequence the server receives is contiguous.
type Document struct {
	URI     uri.URI
	Path    string
	Version int32
	Text    string

	// open is true once the server has received didOpen for this document
	// on the current channel.
	open bool
}

// Bridge mirrors host editor document events into textDocument/*
// synchronization notifications. Events arrive from the host one at a time
// and are relayed in that exact order; nothing is coalesced or reordered
// here.
//
// Events for documents the selector rejects, and change/close events for
// untracked documents, are no-ops. Events while the session is not running
// are dropped rather than buffered — except that tracked documents are
// replayed as fresh didOpen notifications whenever a (re)started session
// reaches the running state, because the server lost all state.
type Bridge struct {
	mu       sync.Mutex
	session  *Session
	selector *Selector
	docs     map[uri.URI]*Document
}

// NewBridge creates the document bridge and hooks document replay into the
// session's start sequence.
func NewBridge(session *Session, selector *Selector) *Bridge {
	if selector == nil {
		selector = NewSelector()
	}
	b := &Bridge{
		session:  session,
		selector: selector,
		docs:     make(map[uri.URI]*Document),
	}
	session.setReadyHook(b.replay)
	return b
}

// DidOpen handles a host "document opened" event. The document is tracked
// regardless of session state; didOpen reaches the server immediately only
// when the session is running, otherwise at the next replay.
func (b *Bridge) DidOpen(path, text string) error {
	if !b.selector.Matches(path) {
		return nil
	}
	u := uri.File(path)

	b.mu.Lock()
	if _, exists := b.docs[u]; exists {
		b.mu.Unlock()
		return nil
	}
	doc := &Document{URI: u, Path: path, Version: 1, Text: text}
	b.docs[u] = doc

	running := b.session.State() == StateRunning
	if running {
		doc.open = true
	}
	b.mu.Unlock()

	if !running {
		return nil
	}
	return b.session.notification(protocol.MethodTextDocumentDidOpen, protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        u,
			LanguageID: LanguageID,
			Version:    1,
			Text:       text,
		},
	})
}

// DidChange handles a host "document changed" event. text is the full
// post-change content (always tracked for replay); changes optionally carry
// the incremental deltas, used only when the server negotiated incremental
// sync. While the session is not running the event is dropped, not
// buffered, and the version counter does not advance.
func (b *Bridge) DidChange(path, text string, changes []protocol.TextDocumentContentChangeEvent) error {
	u := uri.File(path)

	b.mu.Lock()
	doc, exists := b.docs[u]
	if !exists {
		b.mu.Unlock()
		return nil
	}
	doc.Text = text

	if b.session.State() != StateRunning || !doc.open {
		b.mu.Unlock()
		return nil
	}
	doc.Version++
	version := doc.Version
	b.mu.Unlock()

	if len(changes) == 0 || b.session.SyncKind() != protocol.TextDocumentSyncKindIncremental {
		changes = []protocol.TextDocumentContentChangeEvent{{Text: text}}
	}
	return b.session.notification(protocol.MethodTextDocumentDidChange, protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: u},
			Version:                version,
		},
		ContentChanges: changes,
	})
}

// DidSave handles a host "document saved" event.
func (b *Bridge) DidSave(path string) error {
	u := uri.File(path)

	b.mu.Lock()
	doc, exists := b.docs[u]
	if !exists || !doc.open || b.session.State() != StateRunning {
		b.mu.Unlock()
		return nil
	}
	text := doc.Text
	b.mu.Unlock()

	return b.session.notification(protocol.MethodTextDocumentDidSave, protocol.DidSaveTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: u},
		Text:         text,
	})
}

// DidClose handles a host "document closed" event. The entry is removed
// even when the session is down; only an open document generates didClose.
func (b *Bridge) DidClose(path string) error {
	u := uri.File(path)

	b.mu.Lock()
	doc, exists := b.docs[u]
	if exists {
		delete(b.docs, u)
	}
	wasOpen := exists && doc.open && b.session.State() == StateRunning
	b.mu.Unlock()

	if !wasOpen {
		return nil
	}
	return b.session.notification(protocol.MethodTextDocumentDidClose, protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: u},
	})
}

// replay re-opens every tracked document against a freshly running session.
// Versions reset to 1: these are fresh didOpen notifications, the previous
// numbering died with the old server.
func (b *Bridge) replay() {
	b.mu.Lock()
	docs := make([]*Document, 0, len(b.docs))
	for _, doc := range b.docs {
		doc.Version = 1
		doc.open = true
		docs = append(docs, doc)
	}
	b.mu.Unlock()

	for _, doc := range docs {
		err := b.session.notification(protocol.MethodTextDocumentDidOpen, protocol.DidOpenTextDocumentParams{
			TextDocument: protocol.TextDocumentItem{
				URI:        doc.URI,
				LanguageID: LanguageID,
				Version:    1,
				Text:       doc.Text,
			},
		})
		if err != nil {
			b.session.logger.Warn().Err(err).Str("uri", string(doc.URI)).Msg("document replay failed")
		}
	}
}

// IsOpen reports whether the server currently has the document open.
func (b *Bridge) IsOpen(path string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	doc, exists := b.docs[uri.File(path)]
	return exists && doc.open
}

// Version returns the version last sent for the document.
func (b *Bridge) Version(path string) (int32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	doc, exists := b.docs[uri.File(path)]
	if !exists {
		return 0, false
	}
	return doc.Version, true
}

// TrackedDocuments returns a snapshot of every tracked document.
func (b *Bridge) TrackedDocuments() []Document {
	b.mu.Lock()
	defer b.mu.Unlock()
	docs := make([]Document, 0, len(b.docs))
	for _, doc := range b.docs {
		docs = append(docs, *doc)
	}
	return docs
}
