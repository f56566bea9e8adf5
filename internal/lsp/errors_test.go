package lsp

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestTransportError(t *testing.T) {
	underlying := errors.New("no such file or directory")
	err := &TransportError{Reason: TransportSpawnFailed, Endpoint: "mythic-language-server", Err: underlying}

	if !strings.Contains(err.Error(), "spawn-failed") {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, underlying) {
		t.Error("Unwrap chain broken")
	}

	var terr *TransportError
	wrapped := fmt.Errorf("starting session: %w", err)
	if !errors.As(wrapped, &terr) {
		t.Error("errors.As through wrapping failed")
	}
}

func TestCodecError(t *testing.T) {
	err := &CodecError{Reason: CodecTruncatedBody, Detail: "expected 100 body bytes"}
	if !strings.Contains(err.Error(), "truncated-body") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestIsSessionError(t *testing.T) {
	err := fmt.Errorf("lint: %w", &SessionError{Reason: SessionNotReady, Method: "mythic/lint"})

	if !IsSessionError(err, SessionNotReady) {
		t.Error("IsSessionError missed a wrapped match")
	}
	if IsSessionError(err, SessionCrashed) {
		t.Error("IsSessionError matched the wrong reason")
	}
	if IsSessionError(errors.New("plain"), SessionNotReady) {
		t.Error("IsSessionError matched a plain error")
	}
}

func TestRPCError(t *testing.T) {
	err := &RPCError{Code: CodeRequestCancelled, Message: "request cancelled"}
	if !strings.Contains(err.Error(), "-32800") {
		t.Errorf("Error() = %q", err.Error())
	}

	withData := &RPCError{Code: CodeInvalidParams, Message: "bad", Data: "line 3"}
	if !strings.Contains(withData.Error(), "line 3") {
		t.Errorf("Error() = %q", withData.Error())
	}
}
