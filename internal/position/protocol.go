// Package position implements the plain-text playback-position
// synchronization protocol carried over a long-lived full-duplex channel
// backed per collection by the same embedded KV store the index
// package uses.
package position

import (
	"errors"
	"strconv"
	"strings"
)

var (
	ErrMalformed  = errors.New("position: malformed message")
	ErrNoPrevious = errors.New("position: short update with no prior long update on this connection")
)

// MessageKind distinguishes the five message shapes of the wire grammar.
type MessageKind int

const (
	KindUpdateLong MessageKind = iota
	KindUpdateLongTS
	KindUpdateShort
	KindQuery
	KindGenericQuery
)

// Message is one parsed client message.
type Message struct {
	Kind     MessageKind
	Secs     float64
	Group    string
	Col      int
	RelPath  string
	UnixSecs int64 // only set for KindUpdateLongTS
}

// Parse decodes one line of the position protocol.
func Parse(raw string) (Message, error) {
	raw = strings.TrimRight(raw, "\r\n")
	if raw == "" || raw == "?" {
		return Message{Kind: KindGenericQuery}, nil
	}

	if strings.Contains(raw, "|") {
		return parseUpdate(raw)
	}
	return parseQuery(raw)
}

func parseUpdate(raw string) (Message, error) {
	parts := strings.Split(raw, "|")
	secs, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return Message{}, ErrMalformed
	}

	switch len(parts) {
	case 2:
		if parts[1] == "" {
			return Message{Kind: KindUpdateShort, Secs: secs}, nil
		}
		group, col, rel, err := splitGroupColPath(parts[1])
		if err != nil {
			return Message{}, err
		}
		return Message{Kind: KindUpdateLong, Secs: secs, Group: group, Col: col, RelPath: rel}, nil
	case 3:
		group, col, rel, err := splitGroupColPath(parts[1])
		if err != nil {
			return Message{}, err
		}
		ts, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return Message{}, ErrMalformed
		}
		return Message{Kind: KindUpdateLongTS, Secs: secs, Group: group, Col: col, RelPath: rel, UnixSecs: ts}, nil
	default:
		return Message{}, ErrMalformed
	}
}

func parseQuery(raw string) (Message, error) {
	group, col, rel, err := splitGroupColPath(raw)
	if err != nil {
		return Message{}, err
	}
	return Message{Kind: KindQuery, Group: group, Col: col, RelPath: rel}, nil
}

// splitGroupColPath decodes "<group>/<col>/<rel_path>".
func splitGroupColPath(s string) (group string, col int, relPath string, err error) {
	parts := strings.SplitN(s, "/", 3)
	if len(parts) != 3 {
		return "", 0, "", ErrMalformed
	}
	col, convErr := strconv.Atoi(parts[1])
	if convErr != nil {
		return "", 0, "", ErrMalformed
	}
	return parts[0], col, parts[2], nil
}

// folderOf returns the directory part of a chapter-or-file relative path,
// the record key is (group, col, folder_of(rel_path)).
func folderOf(relPath string) string {
	i := strings.LastIndexByte(relPath, '/')
	if i < 0 {
		return ""
	}
	return relPath[:i]
}
