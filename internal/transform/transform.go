// internal/transform/transform.go
package transform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/user/memorial/internal/types"
)

const (
	emptyMessage       = "Empty message"
	unparseableMessage = "Unable to parse message"
)

// Transform converts one stored turn into a renderable message. It never
// fails: malformed payloads degrade to plain text.
func Transform(turn types.StoredTurn, sources SourceMap) types.NormalizedMessage {
	out := types.NormalizedMessage{ID: turn.ID, SessionID: turn.SessionID}

	v := decode(turn.Message)
	switch v.kind {
	case plainText:
		out.Message = types.Message{Type: types.MessageHuman, Content: types.TextContent(v.text)}
	case envelope:
		out.Message = fromEnvelope(turn.ID, v.env, sources)
	default:
		slog.Debug("unparseable stored turn", "turn_id", turn.ID)
		out.Message = types.Message{Type: types.MessageHuman, Content: types.TextContent(unparseableMessage)}
	}
	return out
}

// TransformAll transforms turns in order against one snapshot of sources.
func TransformAll(turns []types.StoredTurn, sources []types.Source) []types.NormalizedMessage {
	sm := NewSourceMap(sources)
	msgs := make([]types.NormalizedMessage, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, Transform(t, sm))
	}
	return msgs
}

func fromEnvelope(id types.TurnID, env envelopeFields, sources SourceMap) types.Message {
	typ, _ := stringValue(env.Type)
	msg := types.Message{
		Type:             types.MessageAI,
		AdditionalKwargs: nonNull(env.AdditionalKwargs),
		ResponseMetadata: nonNull(env.ResponseMetadata),
		ToolCalls:        nonNull(env.ToolCalls),
		InvalidToolCalls: nonNull(env.InvalidToolCalls),
	}

	if text, ok := stringValue(env.Content); ok && typ == string(types.MessageAI) {
		structured, err := parseOutput(text, sources)
		if err != nil {
			slog.Debug("ai content kept as text", "turn_id", id, "reason", err)
			msg.Content = types.TextContent(text)
			return msg
		}
		msg.Content = types.MessageContent{Structured: structured}
		return msg
	}

	if typ == string(types.MessageHuman) {
		msg.Type = types.MessageHuman
	}
	if isFalsy(env.Content) {
		msg.Content = types.TextContent(emptyMessage)
		return msg
	}
	if err := json.Unmarshal(env.Content, &msg.Content); err != nil {
		msg.Content = types.TextContent(emptyMessage)
		return msg
	}
	if msg.Content.Structured != nil {
		dropDangling(msg.Content.Structured)
	}
	return msg
}

// parseOutput builds segmented content from an answer payload of the form
// {"output": [{"text": ..., "citations": [...]}, ...]}.
func parseOutput(text string, sources SourceMap) (*types.StructuredContent, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("parse answer payload: %w", err)
	}
	items, ok := lenientArray(payload["output"])
	if !ok {
		return nil, fmt.Errorf("answer payload has no output array")
	}
	return buildSegments(items, sources), nil
}

type outputItem struct {
	Text      json.RawMessage `json:"text"`
	Citations json.RawMessage `json:"citations"`
}

type rawCitation struct {
	ChunkSourceID  json.RawMessage `json:"chunk_source_id"`
	ChunkText      json.RawMessage `json:"chunk_text"`
	ChunkIndex     json.RawMessage `json:"chunk_index"`
	ChunkLinesFrom json.RawMessage `json:"chunk_lines_from"`
	ChunkLinesTo   json.RawMessage `json:"chunk_lines_to"`
}

// buildSegments folds output items into segments and citations. The
// citation counter advances once per item that carries citations; items
// with several citations share one id and only the first is kept.
func buildSegments(items []json.RawMessage, sources SourceMap) *types.StructuredContent {
	sc := &types.StructuredContent{
		Segments:  make([]types.Segment, 0, len(items)),
		Citations: []types.Citation{},
	}
	next := 1
	for _, raw := range items {
		var item outputItem
		if err := json.Unmarshal(raw, &item); err != nil {
			item = outputItem{}
		}
		seg := types.Segment{Text: lenientString(item.Text)}

		cits, _ := lenientArray(item.Citations)
		var first *rawCitation
		for _, c := range cits {
			// null and non-object entries carry no source to point at.
			obj := nonNull(c)
			if len(obj) == 0 || obj[0] != '{' {
				continue
			}
			var rc rawCitation
			if json.Unmarshal(obj, &rc) == nil {
				first = &rc
				break
			}
		}
		if first != nil {
			id := next
			seg.CitationID = &id
			sc.Citations = append(sc.Citations, resolveCitation(id, *first, sources))
			next++
		}
		sc.Segments = append(sc.Segments, seg)
	}
	return sc
}

func resolveCitation(id int, rc rawCitation, sources SourceMap) types.Citation {
	reported := types.SourceID(lenientString(rc.ChunkSourceID))
	sourceID, info, found := sources.resolve(reported)
	if !found {
		slog.Debug("citation source unresolved", "source_id", reported, "known_sources", sources.Len())
	} else if sourceID != reported {
		slog.Debug("citation source substituted", "reported", reported, "source_id", sourceID)
	}
	title, typ := label(info)

	c := types.Citation{
		CitationID:     id,
		SourceID:       sourceID,
		SourceTitle:    title,
		SourceType:     typ,
		ChunkIndex:     lenientInt(rc.ChunkIndex),
		ChunkLinesFrom: lenientInt(rc.ChunkLinesFrom),
		ChunkLinesTo:   lenientInt(rc.ChunkLinesTo),
	}
	c.Excerpt, _ = stringValue(rc.ChunkText)
	if c.Excerpt == "" {
		c.Excerpt = fmt.Sprintf("Lines %s-%s", bound(c.ChunkLinesFrom), bound(c.ChunkLinesTo))
	}
	return c
}

func bound(n *int) string {
	if n == nil {
		return "?"
	}
	return fmt.Sprint(*n)
}

// dropDangling clears segment markers that point at no citation.
func dropDangling(sc *types.StructuredContent) {
	for i := range sc.Segments {
		id := sc.Segments[i].CitationID
		if id == nil {
			continue
		}
		if _, ok := sc.Citation(*id); !ok {
			sc.Segments[i].CitationID = nil
		}
	}
}

func nonNull(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return trimmed
}
