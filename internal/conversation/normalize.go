// internal/conversation/normalize.go
package conversation

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/threadline/internal/types"
)

// statusTypes are transport-level signals, not content; they never reach
// the visible list.
var statusTypes = map[string]bool{
	"status":        true,
	"status_update": true,
}

// emptyMetadata is the default for records with no metadata.
var emptyMetadata = json.RawMessage(`{}`)

// Normalize transforms raw message records into the consistent internal
// form: status records are dropped, missing fields are defaulted rather
// than failing the batch, HTML payloads are converted to markdown, and the
// result is ordered by CreatedAt ascending (stable, so records sharing a
// timestamp keep their fetch order). Normalizing an already-normalized
// list is a no-op.
func Normalize(raw []types.RawMessage) []types.Message {
	now := time.Now().UTC()

	messages := make([]types.Message, 0, len(raw))
	for _, r := range raw {
		if statusTypes[r.Type] {
			continue
		}

		msg := types.Message{
			MessageID: types.MessageID(r.MessageID),
			ThreadID:  types.ThreadID(r.ThreadID),
			Type:      r.Type,
			IsLLM:     r.IsLLM,
			Content:   r.Content,
			Metadata:  r.Metadata,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if len(msg.Metadata) == 0 {
			msg.Metadata = emptyMetadata
		}
		if r.CreatedAt != nil {
			msg.CreatedAt = *r.CreatedAt
		}
		if r.UpdatedAt != nil {
			msg.UpdatedAt = *r.UpdatedAt
		} else if r.CreatedAt != nil {
			msg.UpdatedAt = *r.CreatedAt
		}
		if isHTML(msg.Metadata) {
			if md, ok := htmlToMarkdown(msg.Content); ok {
				msg.Content = md
				// Re-tag so a second normalization pass does not convert
				// the markdown again.
				msg.Metadata = setFormat(msg.Metadata, "markdown")
			}
		}
		messages = append(messages, msg)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages
}

// isHTML reports whether the record's metadata marks the content as HTML.
// The backend's browser tooling tags such payloads with format "html".
func isHTML(metadata json.RawMessage) bool {
	var meta struct {
		Format string `json:"format"`
	}
	if err := json.Unmarshal(metadata, &meta); err != nil {
		return false
	}
	return strings.EqualFold(meta.Format, "html")
}

// htmlToMarkdown converts an HTML payload to markdown. On conversion
// failure the original content is kept; one malformed record never costs
// the batch.
func htmlToMarkdown(content string) (string, bool) {
	md, err := htmltomarkdown.ConvertString(content)
	if err != nil {
		return content, false
	}
	return md, true
}

// setFormat returns the metadata with its format field replaced. The
// original bytes are returned unchanged if they do not parse.
func setFormat(metadata json.RawMessage, format string) json.RawMessage {
	var meta map[string]any
	if err := json.Unmarshal(metadata, &meta); err != nil {
		return metadata
	}
	meta["format"] = format
	out, err := json.Marshal(meta)
	if err != nil {
		return metadata
	}
	return out
}
