// internal/transform/sources.go
package transform

import "github.com/user/memorial/internal/types"

const (
	unknownSourceTitle = "Unknown Source"
	defaultSourceType  = types.SourceTypePDF
)

// SourceInfo is the part of a Source needed to label a citation.
type SourceInfo struct {
	Title string
	Type  types.SourceType
}

// SourceMap resolves citation source ids against the notebook's sources.
type SourceMap struct {
	entries map[types.SourceID]SourceInfo
}

func NewSourceMap(sources []types.Source) SourceMap {
	m := SourceMap{entries: make(map[types.SourceID]SourceInfo, len(sources))}
	for _, s := range sources {
		m.entries[s.ID] = SourceInfo{Title: s.Title, Type: s.Type}
	}
	return m
}

func (m SourceMap) Len() int { return len(m.entries) }

func (m SourceMap) Lookup(id types.SourceID) (SourceInfo, bool) {
	info, ok := m.entries[id]
	return info, ok
}

// resolve maps a reported source id to a known source. When the id is
// unknown and the notebook holds exactly one source, that source is used:
// the answer pipeline has been seen tagging chunks with a stale id in
// single-source notebooks. The returned flag is false when the citation
// must be shown with placeholder labels.
func (m SourceMap) resolve(id types.SourceID) (types.SourceID, SourceInfo, bool) {
	if info, ok := m.entries[id]; ok {
		return id, info, true
	}
	if len(m.entries) == 1 {
		for only, info := range m.entries {
			return only, info, true
		}
	}
	return id, SourceInfo{}, false
}

// label fills placeholder title and type for whatever the source lacks.
func label(info SourceInfo) (string, types.SourceType) {
	title, typ := info.Title, info.Type
	if title == "" {
		title = unknownSourceTitle
	}
	if typ == "" {
		typ = defaultSourceType
	}
	return title, typ
}
