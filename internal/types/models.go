// internal/types/models.go
package types

import (
	"bytes"
	"encoding/json"
	"strconv"
)

type SourceType string

const (
	SourceTypePDF     SourceType = "pdf"
	SourceTypeText    SourceType = "text"
	SourceTypeWebsite SourceType = "website"
	SourceTypeYouTube SourceType = "youtube"
	SourceTypeAudio   SourceType = "audio"
)

const (
	StatusPending    = "pending"
	StatusUploading  = "uploading"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Source is a document registered under a notebook for retrieval.
// Timestamps are kept as the backend's strings.
type Source struct {
	ID               SourceID   `json:"id"`
	NotebookID       NotebookID `json:"notebook_id"`
	Title            string     `json:"title"`
	Type             SourceType `json:"type"`
	Content          *string    `json:"content"`
	Summary          *string    `json:"summary"`
	URL              *string    `json:"url"`
	ProcessingStatus *string    `json:"processing_status"`
	CreatedAt        string     `json:"created_at,omitempty"`
	UpdatedAt        string     `json:"updated_at,omitempty"`
}

// IsProcessed reports whether ingestion finished for the source.
func (s Source) IsProcessed() bool {
	return s.ProcessingStatus != nil && *s.ProcessingStatus == StatusCompleted
}

// HasProcessedSource reports whether at least one source can be chatted with.
func HasProcessedSource(sources []Source) bool {
	for _, s := range sources {
		if s.IsProcessed() {
			return true
		}
	}
	return false
}

// StoredTurn is one persisted conversation row. Message is kept raw because
// its shape varies between backends and pipeline versions.
type StoredTurn struct {
	ID        TurnID          `json:"id"`
	SessionID SessionID       `json:"session_id"`
	Message   json.RawMessage `json:"message"`
}

type MessageType string

const (
	MessageHuman MessageType = "human"
	MessageAI    MessageType = "ai"
)

// Segment is a contiguous span of answer text with at most one citation marker.
type Segment struct {
	Text       string `json:"text"`
	CitationID *int   `json:"citation_id,omitempty"`
}

// Citation points a segment at a line range of a source document.
type Citation struct {
	CitationID     int        `json:"citation_id"`
	SourceID       SourceID   `json:"source_id"`
	SourceTitle    string     `json:"source_title"`
	SourceType     SourceType `json:"source_type"`
	ChunkIndex     *int       `json:"chunk_index,omitempty"`
	Excerpt        string     `json:"excerpt,omitempty"`
	ChunkLinesFrom *int       `json:"chunk_lines_from,omitempty"`
	ChunkLinesTo   *int       `json:"chunk_lines_to,omitempty"`
}

type StructuredContent struct {
	Segments  []Segment  `json:"segments"`
	Citations []Citation `json:"citations"`
}

// Citation returns the citation with the given id.
func (c *StructuredContent) Citation(id int) (Citation, bool) {
	for _, cit := range c.Citations {
		if cit.CitationID == id {
			return cit, true
		}
	}
	return Citation{}, false
}

// MessageContent is either plain text or segmented content with citations.
// Raw holds an object payload that is neither, passed through untouched.
type MessageContent struct {
	Text       string
	Structured *StructuredContent
	Raw        json.RawMessage
}

func TextContent(text string) MessageContent {
	return MessageContent{Text: text}
}

func (c MessageContent) IsStructured() bool {
	return c.Structured != nil
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	switch {
	case c.Structured != nil:
		return json.Marshal(c.Structured)
	case len(c.Raw) > 0:
		return c.Raw, nil
	default:
		return json.Marshal(c.Text)
	}
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	*c = MessageContent{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		return json.Unmarshal(trimmed, &c.Text)
	}
	var probe struct {
		Segments json.RawMessage `json:"segments"`
	}
	if err := json.Unmarshal(trimmed, &probe); err == nil && len(probe.Segments) > 0 {
		var sc StructuredContent
		if err := json.Unmarshal(trimmed, &sc); err == nil {
			c.Structured = &sc
			return nil
		}
	}
	c.Raw = append(json.RawMessage(nil), trimmed...)
	return nil
}

type Message struct {
	Type             MessageType     `json:"type"`
	Content          MessageContent  `json:"content"`
	AdditionalKwargs json.RawMessage `json:"additional_kwargs,omitempty"`
	ResponseMetadata json.RawMessage `json:"response_metadata,omitempty"`
	ToolCalls        json.RawMessage `json:"tool_calls,omitempty"`
	InvalidToolCalls json.RawMessage `json:"invalid_tool_calls,omitempty"`
}

// NormalizedMessage is a stored turn decoded into a renderable message.
type NormalizedMessage struct {
	ID        TurnID    `json:"id"`
	SessionID SessionID `json:"session_id"`
	Message   Message   `json:"message"`
}

func (m NormalizedMessage) IsUser() bool {
	return m.Message.Type == MessageHuman
}

// SendRequest is the body of the answer delivery call.
type SendRequest struct {
	SessionID  SessionID  `json:"session_id"`
	NotebookID NotebookID `json:"notebook_id"`
	Message    string     `json:"message"`
	UserID     string     `json:"user_id"`
}

// Tribute is one guestbook row.
type Tribute struct {
	ID        TributeID `json:"id,omitempty"`
	Name      string    `json:"name"`
	Position  *string   `json:"position"`
	Contents  *string   `json:"contents"`
	ImageURL  *string   `json:"image_url"`
	IsDeleted bool      `json:"is_deleted"`
	CreatedAt string    `json:"created_at,omitempty"`
}

// NewTribute is the create request as submitted by a visitor.
type NewTribute struct {
	Name     string `json:"name"`
	Position string `json:"position"`
	Contents string `json:"contents"`
	ImageURL string `json:"image_url"`
}

type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"hasMore"`
}

// UnmarshalJSON accepts both numeric and string row ids.
func (id *TributeID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*id = TributeID(s)
		return nil
	}
	if bytes.Equal(trimmed, []byte("null")) {
		*id = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*id = TributeID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = TributeID(n.String())
	return nil
}
