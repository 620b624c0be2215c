package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Patch maps slash-separated field paths (relative to the room document root) to new values.
// A nil value removes the field. Paths are merged into the document; untouched fields keep
// their current value.
type Patch map[string]any

// MaxParticipantIDLength bounds ids accepted from clients.
const MaxParticipantIDLength = 64

// ValidParticipantID reports whether id can be used as a single path segment.
func ValidParticipantID(id string) bool {
	if id == "" || len(id) > MaxParticipantIDLength || strings.TrimSpace(id) != id {
		return false
	}
	return !strings.ContainsAny(id, "/\x00")
}

func PlayerPath(participantID string) string {
	return "players/" + participantID
}

func GuessPath(participantID string) string {
	return "roundState/guesses/" + participantID
}

func VotePath(participantID string) string {
	return "roundState/votes/" + participantID
}

// ApplyPatch merges p into doc and returns doc. Values are normalized through JSON so typed
// structs and generic maps end up in the same representation.
func ApplyPatch(doc map[string]any, p Patch) (map[string]any, error) {
	if doc == nil {
		doc = make(map[string]any)
	}
	// Shorter paths first so a parent replacement never clobbers a child set in the same patch.
	paths := make([]string, 0, len(p))
	for path := range p {
		paths = append(paths, path)
	}
	sort.Slice(paths, func(i, j int) bool {
		di, dj := strings.Count(paths[i], "/"), strings.Count(paths[j], "/")
		if di != dj {
			return di < dj
		}
		return paths[i] < paths[j]
	})

	for _, path := range paths {
		segments, err := splitPath(path)
		if err != nil {
			return nil, err
		}
		value, err := normalize(p[path])
		if err != nil {
			return nil, fmt.Errorf("normalize %s: %w", path, err)
		}

		node := doc
		for _, seg := range segments[:len(segments)-1] {
			child, ok := node[seg].(map[string]any)
			if !ok {
				if value == nil {
					node = nil
					break
				}
				child = make(map[string]any)
				node[seg] = child
			}
			node = child
		}
		if node == nil {
			continue
		}
		last := segments[len(segments)-1]
		if value == nil {
			delete(node, last)
		} else {
			node[last] = value
		}
	}
	return doc, nil
}

// EncodeRoom converts a room into the generic document form.
func EncodeRoom(room Room) (map[string]any, error) {
	raw, err := json.Marshal(room)
	if err != nil {
		return nil, fmt.Errorf("marshal room: %w", err)
	}
	doc := make(map[string]any)
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal room document: %w", err)
	}
	return doc, nil
}

// DecodeRoom converts a generic document into a Room with the given id.
func DecodeRoom(id string, doc map[string]any) (Room, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return Room{}, fmt.Errorf("marshal room document: %w", err)
	}
	var room Room
	if err := json.Unmarshal(raw, &room); err != nil {
		return Room{}, fmt.Errorf("unmarshal room: %w", err)
	}
	room.ID = id
	return room, nil
}

func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, ErrInvalidPatch
	}
	segments := strings.Split(path, "/")
	for _, seg := range segments {
		if seg == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPatch, path)
		}
	}
	return segments, nil
}

func normalize(v any) (any, error) {
	switch v.(type) {
	case nil:
		return nil, nil
	case string, bool, float64:
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
