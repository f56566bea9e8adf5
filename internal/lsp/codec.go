package lsp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// encodeFrame prefixes a message body with the LSP base-protocol header.
func encodeFrame(body []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Content-Length: %d\r\n\r\n", len(body))
	buf.Write(body)
	return buf.Bytes()
}

// EncodeMessage marshals msg and wraps it in a Content-Length frame.
func EncodeMessage(msg any) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return encodeFrame(body), nil
}

// Decoder reads Content-Length framed JSON-RPC messages from a byte stream.
// Partial frames are buffered across read boundaries; a Decoder is bound to
// one channel and is not restartable after an error.
type Decoder struct {
	reader *bufio.Reader
}

// NewDecoder creates a decoder over the channel's read side.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Next reads one complete frame and returns the decoded message together
// with the raw body bytes (for verbose tracing). A clean end of stream at a
// frame boundary returns io.EOF; corrupt input returns a *CodecError, after
// which the stream must be abandoned.
func (d *Decoder) Next() (*Message, []byte, error) {
	contentLen := -1
	sawHeader := false
	for {
		line, err := d.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF && !sawHeader && line == "" {
				return nil, nil, io.EOF
			}
			if err == io.EOF || err == io.ErrClosedPipe {
				return nil, nil, &CodecError{Reason: CodecMalformedHeader, Detail: "stream ended mid-header", Err: err}
			}
			return nil, nil, fmt.Errorf("reading header: %w", err)
		}
		sawHeader = true
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			return nil, nil, &CodecError{Reason: CodecMalformedHeader, Detail: fmt.Sprintf("header line %q has no separator", line)}
		}
		key := strings.TrimSpace(line[:colon])
		val := strings.TrimSpace(line[colon+1:])

		if strings.EqualFold(key, "Content-Length") {
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 {
				return nil, nil, &CodecError{Reason: CodecMalformedHeader, Detail: fmt.Sprintf("invalid Content-Length %q", val), Err: err}
			}
			contentLen = n
		}
		// Content-Type and any other headers are ignored.
	}

	if contentLen < 0 {
		return nil, nil, &CodecError{Reason: CodecMalformedHeader, Detail: "missing Content-Length header"}
	}

	body := make([]byte, contentLen)
	if _, err := io.ReadFull(d.reader, body); err != nil {
		return nil, nil, &CodecError{Reason: CodecTruncatedBody, Detail: fmt.Sprintf("expected %d body bytes", contentLen), Err: err}
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, nil, &CodecError{Reason: CodecInvalidJSON, Err: err}
	}
	return &msg, body, nil
}
