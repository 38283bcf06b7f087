// stdio.go — stdio message reader supporting line-delimited and Content-Length framing.
package bridge

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
)

// StdioFraming identifies how a message was framed on the input stream.
// Replies are written with the same framing as the request they answer.
type StdioFraming int

const (
	StdioFramingLine StdioFraming = iota
	StdioFramingContentLength
)

// String returns a short label for logs.
func (f StdioFraming) String() string {
	if f == StdioFramingContentLength {
		return "content-length"
	}
	return "line"
}

// ErrMessageTooLarge is returned when a single line exceeds the configured cap.
var ErrMessageTooLarge = errors.New("stdio message exceeds size limit")

// ReadStdioMessage reads one message from a buffered reader.
// Supports both line-delimited JSON and Content-Length framed messages.
// maxBodySize caps both a single line and the Content-Length value to prevent
// memory exhaustion. Blank lines are skipped.
func ReadStdioMessage(reader *bufio.Reader, maxBodySize int) ([]byte, StdioFraming, error) {
	for {
		firstLineBytes, err := readLine(reader, maxBodySize)
		if err != nil {
			if errors.Is(err, io.EOF) {
				trimmed := bytes.TrimSpace(firstLineBytes)
				if len(trimmed) == 0 {
					return nil, StdioFramingLine, io.EOF
				}
				return trimmed, StdioFramingLine, nil
			}
			return nil, StdioFramingLine, err
		}

		firstLine := strings.TrimSpace(string(firstLineBytes))
		if firstLine == "" {
			continue
		}

		if !strings.HasPrefix(strings.ToLower(firstLine), "content-length:") {
			return []byte(firstLine), StdioFramingLine, nil
		}

		parts := strings.SplitN(firstLine, ":", 2)
		contentLength, convErr := strconv.Atoi(strings.TrimSpace(parts[1]))
		if convErr != nil || contentLength < 0 || contentLength > maxBodySize {
			// Not a usable header; hand the line to the caller as-is so it is
			// rejected as malformed JSON rather than silently swallowed.
			return []byte(firstLine), StdioFramingLine, nil
		}

		// Consume remaining headers until blank line.
		for {
			headerLine, headerErr := readLine(reader, maxBodySize)
			if headerErr != nil {
				return nil, StdioFramingContentLength, headerErr
			}
			if strings.TrimSpace(string(headerLine)) == "" {
				break
			}
		}

		payload := make([]byte, contentLength)
		if _, readErr := io.ReadFull(reader, payload); readErr != nil {
			return nil, StdioFramingContentLength, readErr
		}
		return bytes.TrimSpace(payload), StdioFramingContentLength, nil
	}
}

// readLine reads up to and including '\n', failing once the line grows past limit.
func readLine(reader *bufio.Reader, limit int) ([]byte, error) {
	var line []byte
	for {
		chunk, err := reader.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > limit+1 {
			if errors.Is(err, bufio.ErrBufferFull) {
				discardLine(reader)
			}
			return nil, ErrMessageTooLarge
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line, err
	}
}

// discardLine drops the remainder of an oversized line so reading can resume.
func discardLine(reader *bufio.Reader) {
	for {
		_, err := reader.ReadSlice('\n')
		if !errors.Is(err, bufio.ErrBufferFull) {
			return
		}
	}
}
