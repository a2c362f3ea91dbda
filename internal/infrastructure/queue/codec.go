// Package queue holds the two durable outbound queues: upload jobs for
// multi-part product submissions and queued mutations for write requests
// that failed while offline.
package queue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/vendorhub/storefront/internal/domain/offline"
	"github.com/vendorhub/storefront/internal/infrastructure/storage"
	"go.uber.org/zap"
)

// PayloadCodec turns submissions into storable payloads and payloads back
// into multipart request bodies. Attachments larger than the spill threshold
// are moved to the attachment store when one is configured.
type PayloadCodec struct {
	store          storage.AttachmentStore
	spillThreshold int64
	logger         *zap.Logger
}

// NewPayloadCodec creates a codec. A nil store keeps every attachment inline.
func NewPayloadCodec(store storage.AttachmentStore, spillThreshold int64, logger *zap.Logger) *PayloadCodec {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PayloadCodec{store: store, spillThreshold: spillThreshold, logger: logger}
}

// Serialize reads every attachment fully. The submission's readers are
// consumed but not closed.
func (c *PayloadCodec) Serialize(ctx context.Context, sub *offline.Submission) (offline.SerializedPayload, error) {
	payload := offline.SerializedPayload{
		ScalarFields: make(map[string]string, len(sub.Fields)),
		Attachments:  make([]offline.Attachment, 0, len(sub.Files)),
	}
	for k, v := range sub.Fields {
		payload.ScalarFields[k] = v
	}

	for _, f := range sub.Files {
		data, err := io.ReadAll(f.Reader)
		if err != nil {
			c.Release(ctx, payload)
			return offline.SerializedPayload{}, fmt.Errorf("failed to read attachment %q: %w", f.Filename, err)
		}

		att := offline.Attachment{
			FieldKey: f.FieldKey,
			Filename: f.Filename,
			MimeType: f.MimeType,
			ByteSize: int64(len(data)),
		}
		if att.MimeType == "" {
			att.MimeType = "application/octet-stream"
		}

		if c.shouldSpill(att.ByteSize) {
			key := storage.NewObjectKey(f.Filename)
			if err := c.store.Put(ctx, key, data, att.MimeType); err != nil {
				c.Release(ctx, payload)
				return offline.SerializedPayload{}, fmt.Errorf("failed to spill attachment %q: %w", f.Filename, err)
			}
			att.ObjectKey = key
		} else {
			att.Bytes = data
		}
		payload.Attachments = append(payload.Attachments, att)
	}
	return payload, nil
}

func (c *PayloadCodec) shouldSpill(size int64) bool {
	return c.store != nil && c.spillThreshold > 0 && size > c.spillThreshold
}

// BuildMultipart writes the scalar fields in key order followed by the
// attachments in their original order. Several attachments sharing a field
// key become repeated parts under that key.
func (c *PayloadCodec) BuildMultipart(ctx context.Context, payload offline.SerializedPayload) (string, *bytes.Buffer, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	for _, key := range payload.SortedFieldKeys() {
		if err := w.WriteField(key, payload.ScalarFields[key]); err != nil {
			return "", nil, fmt.Errorf("failed to write field %q: %w", key, err)
		}
	}

	for _, att := range payload.Attachments {
		data := att.Bytes
		if att.IsSpilled() {
			if c.store == nil {
				return "", nil, fmt.Errorf("attachment %q is spilled but no attachment store is configured", att.Filename)
			}
			var err error
			if data, err = c.store.Get(ctx, att.ObjectKey); err != nil {
				return "", nil, err
			}
		}

		part, err := w.CreatePart(filePartHeader(att))
		if err != nil {
			return "", nil, fmt.Errorf("failed to create part for %q: %w", att.Filename, err)
		}
		if _, err := part.Write(data); err != nil {
			return "", nil, fmt.Errorf("failed to write part for %q: %w", att.Filename, err)
		}
	}

	if err := w.Close(); err != nil {
		return "", nil, err
	}
	return w.FormDataContentType(), body, nil
}

// Release deletes spilled attachment content. Failures are logged only.
func (c *PayloadCodec) Release(ctx context.Context, payload offline.SerializedPayload) {
	if c.store == nil {
		return
	}
	for _, att := range payload.Attachments {
		if !att.IsSpilled() {
			continue
		}
		if err := c.store.Delete(ctx, att.ObjectKey); err != nil {
			c.logger.Warn("failed to delete spilled attachment", zap.String("key", att.ObjectKey), zap.Error(err))
		}
	}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func filePartHeader(att offline.Attachment) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(att.FieldKey), quoteEscaper.Replace(att.Filename)))
	h.Set("Content-Type", att.MimeType)
	return h
}
