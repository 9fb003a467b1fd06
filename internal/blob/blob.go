// ABOUTME: Blob storage abstraction for message attachments
// ABOUTME: Defines the Uploader contract and the deterministic attachment path layout

package blob

import (
	"context"
	"path"
	"strings"

	"github.com/dingdoor/chat-gateway/internal/store"
)

// Uploader stores raw attachment bytes and describes where they landed.
type Uploader interface {
	Upload(ctx context.Context, objectPath string, data []byte, contentType string) (*store.Attachment, error)
}

// AttachmentPath builds the storage key for a message attachment:
// conversations/{userId}/{conversationId}/{messageId}/{filename}.
// Every segment has its path separators flattened and dot names replaced,
// so client supplied ids and filenames stay inside their own prefix.
func AttachmentPath(userID, conversationID, messageID, filename string) string {
	return path.Join("conversations",
		segment(userID, "unknown"),
		segment(conversationID, "unknown"),
		segment(messageID, "unknown"),
		segment(filename, "file"))
}

var separators = strings.NewReplacer("/", "_", "\\", "_")

// segment makes s safe as a single key component, using fallback for empty or dot names
func segment(s, fallback string) string {
	s = separators.Replace(strings.TrimSpace(s))
	if s == "" || s == "." || s == ".." {
		return fallback
	}
	return s
}
