package queue

import (
	"bytes"
	"context"
	"io"
	"mime"
	"mime/multipart"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vendorhub/storefront/internal/domain/offline"
	"github.com/vendorhub/storefront/internal/infrastructure/persistence/models"
	"github.com/vendorhub/storefront/internal/infrastructure/storage"
)

type parsedPart struct {
	field    string
	filename string
	mimeType string
	data     []byte
}

func parseMultipart(t *testing.T, contentType string, body io.Reader) (map[string]string, []parsedPart) {
	t.Helper()
	mediaType, params, err := mime.ParseMediaType(contentType)
	require.NoError(t, err)
	require.Equal(t, "multipart/form-data", mediaType)

	fields := map[string]string{}
	var files []parsedPart
	r := multipart.NewReader(body, params["boundary"])
	for {
		p, err := r.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(p)
		require.NoError(t, err)
		if p.FileName() == "" {
			fields[p.FormName()] = string(data)
			continue
		}
		files = append(files, parsedPart{
			field:    p.FormName(),
			filename: p.FileName(),
			mimeType: p.Header.Get("Content-Type"),
			data:     data,
		})
	}
	return fields, files
}

func sampleSubmission() *offline.Submission {
	return &offline.Submission{
		Fields: map[string]string{
			"name":        "Linen shirt",
			"price":       "39.90",
			"description": "Relaxed fit, \"washed\" linen",
		},
		Files: []offline.FileField{
			{FieldKey: "images", Filename: "front.jpg", MimeType: "image/jpeg", Reader: strings.NewReader("front-bytes")},
			{FieldKey: "images", Filename: "back.jpg", MimeType: "image/jpeg", Reader: strings.NewReader("back-bytes")},
			{FieldKey: "manual", Filename: "care.pdf", MimeType: "application/pdf", Reader: bytes.NewReader([]byte{0x25, 0x50, 0x44, 0x46, 0x00, 0xff})},
			{FieldKey: "extra", Filename: "notes.bin", Reader: strings.NewReader("")},
		},
	}
}

func TestPayloadCodec_RoundTrip(t *testing.T) {
	ctx := context.Background()
	codec := NewPayloadCodec(nil, 0, nil)

	payload, err := codec.Serialize(ctx, sampleSubmission())
	require.NoError(t, err)
	require.Len(t, payload.Attachments, 4)
	assert.Equal(t, "application/octet-stream", payload.Attachments[3].MimeType)
	assert.Equal(t, int64(len("front-bytes")+len("back-bytes")+6), payload.TotalBytes())

	// the payload survives the persisted encoding
	blob, err := models.EncodePayload(payload)
	require.NoError(t, err)
	decoded, err := models.DecodePayload(blob)
	require.NoError(t, err)

	contentType, body, err := codec.BuildMultipart(ctx, decoded)
	require.NoError(t, err)

	fields, files := parseMultipart(t, contentType, body)
	assert.Equal(t, sampleSubmission().Fields, fields)
	require.Len(t, files, 4)

	assert.Equal(t, parsedPart{"images", "front.jpg", "image/jpeg", []byte("front-bytes")}, files[0])
	assert.Equal(t, parsedPart{"images", "back.jpg", "image/jpeg", []byte("back-bytes")}, files[1])
	assert.Equal(t, "care.pdf", files[2].filename)
	assert.Equal(t, []byte{0x25, 0x50, 0x44, 0x46, 0x00, 0xff}, files[2].data)
	assert.Equal(t, "extra", files[3].field)
	assert.Empty(t, files[3].data)
}

func TestPayloadCodec_FieldOrderDoesNotMatter(t *testing.T) {
	ctx := context.Background()
	codec := NewPayloadCodec(nil, 0, nil)

	// maps iterate in random order; every serialization must rebuild the same fields
	for i := 0; i < 20; i++ {
		sub := &offline.Submission{Fields: map[string]string{}}
		for _, k := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
			sub.Fields[k] = strings.Repeat(k, 3)
		}
		payload, err := codec.Serialize(ctx, sub)
		require.NoError(t, err)

		contentType, body, err := codec.BuildMultipart(ctx, payload)
		require.NoError(t, err)
		fields, files := parseMultipart(t, contentType, body)
		assert.Equal(t, sub.Fields, fields)
		assert.Empty(t, files)
	}
}

func TestPayloadCodec_Spill(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryAttachmentStore()
	codec := NewPayloadCodec(store, 8, nil)

	payload, err := codec.Serialize(ctx, &offline.Submission{
		Files: []offline.FileField{
			{FieldKey: "images", Filename: "small.png", MimeType: "image/png", Reader: strings.NewReader("tiny")},
			{FieldKey: "images", Filename: "large.png", MimeType: "image/png", Reader: strings.NewReader("much larger content")},
		},
	})
	require.NoError(t, err)

	assert.False(t, payload.Attachments[0].IsSpilled())
	assert.True(t, payload.Attachments[1].IsSpilled())
	assert.Empty(t, payload.Attachments[1].Bytes)
	assert.Equal(t, int64(len("much larger content")), payload.Attachments[1].ByteSize)
	assert.Equal(t, 1, store.Len())

	contentType, body, err := codec.BuildMultipart(ctx, payload)
	require.NoError(t, err)
	_, files := parseMultipart(t, contentType, body)
	require.Len(t, files, 2)
	assert.Equal(t, []byte("much larger content"), files[1].data)

	codec.Release(ctx, payload)
	assert.Equal(t, 0, store.Len())

	_, _, err = codec.BuildMultipart(ctx, payload)
	assert.Error(t, err, "released content can no longer be sent")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestPayloadCodec_SerializeReadError(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryAttachmentStore()
	codec := NewPayloadCodec(store, 1, nil)

	_, err := codec.Serialize(ctx, &offline.Submission{
		Files: []offline.FileField{
			{FieldKey: "a", Filename: "ok.bin", Reader: strings.NewReader("spilled")},
			{FieldKey: "b", Filename: "broken.bin", Reader: failingReader{}},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.bin")
	assert.Equal(t, 0, store.Len(), "already spilled content is cleaned up")
}
