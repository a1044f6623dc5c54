package models

import (
	"strconv"
)

// Payload keys a chunk carries into the vector index next to its document metadata.
const (
	PayloadDocumentID = "document_id"
	PayloadText       = "text"
	PayloadOffset     = "offset"
	PayloadLength     = "length"
	PayloadOrdinal    = "ordinal"
	PayloadTokens     = "token_count"
	PayloadPage       = "page"
	PayloadTitle      = "title"
	PayloadSource     = "source"
)

// structural keys are rebuilt into Chunk fields and are not part of Chunk.Metadata.
var structuralKeys = map[string]bool{
	PayloadDocumentID: true,
	PayloadText:       true,
	PayloadOffset:     true,
	PayloadLength:     true,
	PayloadOrdinal:    true,
	PayloadTokens:     true,
}

// Payload flattens the chunk into the string map stored with its vector. Structural keys
// win over metadata keys of the same name.
func (c *Chunk) Payload() map[string]string {
	p := make(map[string]string, len(c.Metadata)+len(structuralKeys))
	for k, v := range c.Metadata {
		p[k] = v
	}
	p[PayloadDocumentID] = c.DocumentID
	p[PayloadText] = c.Text
	p[PayloadOffset] = strconv.Itoa(c.Offset)
	p[PayloadLength] = strconv.Itoa(c.Length)
	p[PayloadOrdinal] = strconv.Itoa(c.Ordinal)
	p[PayloadTokens] = strconv.Itoa(c.TokenCount)
	if c.Page > 0 {
		p[PayloadPage] = strconv.Itoa(c.Page)
	}
	return p
}

// ChunkFromPayload rebuilds a chunk from a vector index hit. Unparseable numbers read as 0.
func ChunkFromPayload(id string, payload map[string]string) Chunk {
	c := Chunk{
		ID:         id,
		DocumentID: payload[PayloadDocumentID],
		Text:       payload[PayloadText],
		Offset:     atoi(payload[PayloadOffset]),
		Length:     atoi(payload[PayloadLength]),
		Ordinal:    atoi(payload[PayloadOrdinal]),
		TokenCount: atoi(payload[PayloadTokens]),
		Page:       atoi(payload[PayloadPage]),
		Metadata:   make(map[string]string),
	}
	for k, v := range payload {
		if !structuralKeys[k] {
			c.Metadata[k] = v
		}
	}
	return c
}

// Title returns the title of the chunk's document, if known.
func (c *Chunk) Title() string {
	return c.Metadata[PayloadTitle]
}

// Source returns the source of the chunk's document, if known.
func (c *Chunk) Source() string {
	return c.Metadata[PayloadSource]
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
