// ABOUTME: Attachment upload and reconciliation with the assistant's file registry
// ABOUTME: Uploads run in parallel under one errgroup bounded by the request context

package conversation

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dingdoor/chat-gateway/internal/assistant"
	"github.com/dingdoor/chat-gateway/internal/blob"
	"github.com/dingdoor/chat-gateway/internal/store"
)

const maxParallelUploads = 4

// uploadAttachments stores every file under the reserved message id.
// The result keeps the input order. A nil uploader stores nothing.
func (s *Service) uploadAttachments(ctx context.Context, userID, conversationID, messageID string, files []assistant.File) ([]store.Attachment, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if s.uploader == nil {
		s.logger.Debug("attachment storage disabled, skipping upload",
			"conversation_id", conversationID,
			"files", len(files))
		return nil, nil
	}

	out := make([]store.Attachment, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelUploads)

	for i, f := range files {
		g.Go(func() error {
			objectPath := blob.AttachmentPath(userID, conversationID, messageID, f.Filename)
			att, err := s.uploader.Upload(gctx, objectPath, f.Data, f.ContentType)
			if err != nil {
				return fmt.Errorf("uploading %q: %w", f.Filename, err)
			}
			// Reconciliation matches on the name the client sent
			att.Filename = f.Filename
			out[i] = *att
			s.metrics.Uploaded(att.Bytes)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReconcileAttachments joins uploaded attachments with the assistant's file map
// by exact filename. A match copies the assistant file id and fills in a missing
// content type. Unmatched attachments are left unchanged.
func ReconcileAttachments(attachments []store.Attachment, refs []assistant.FileRef) []store.Attachment {
	if len(attachments) == 0 || len(refs) == 0 {
		return attachments
	}

	byName := make(map[string]assistant.FileRef, len(refs))
	for _, ref := range refs {
		if ref.Filename == "" {
			continue
		}
		byName[ref.Filename] = ref
	}

	out := make([]store.Attachment, len(attachments))
	for i, att := range attachments {
		if ref, ok := byName[att.Filename]; ok {
			if ref.FileID != "" {
				att.FileID = ref.FileID
			}
			if att.ContentType == "" && ref.ContentType != "" {
				att.ContentType = ref.ContentType
			}
		}
		out[i] = att
	}
	return out
}
