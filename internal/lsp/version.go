package lsp

// Version is reported to the server in the initialize handshake and by the
// CLI. Overridden at release time via -ldflags.
var Version = "dev"
