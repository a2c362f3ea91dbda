package offline

import (
	"fmt"
	"io"
	"mime/multipart"
	"sort"
)

// Submission is a multi-part product submission as handed over by the caller.
// File contents are readers and cannot be persisted as-is.
type Submission struct {
	Fields map[string]string
	Files  []FileField `validate:"dive"`
}

// FileField is one attachment of a submission. Several files may share a
// FieldKey; they are sent as repeated parts under that key.
type FileField struct {
	FieldKey string `validate:"required"`
	Filename string `validate:"required"`
	MimeType string
	Reader   io.Reader `validate:"required"`
}

// SerializedPayload is the storable form of a submission
type SerializedPayload struct {
	ScalarFields map[string]string `msgpack:"f"`
	Attachments  []Attachment      `msgpack:"a"`
}

// Attachment is a byte-sequence attachment. Bytes is empty when the content
// was spilled to object storage, in which case ObjectKey locates it.
type Attachment struct {
	FieldKey  string `msgpack:"k"`
	Filename  string `msgpack:"n"`
	MimeType  string `msgpack:"m"`
	ByteSize  int64  `msgpack:"s"`
	Bytes     []byte `msgpack:"b,omitempty"`
	ObjectKey string `msgpack:"o,omitempty"`
}

// IsSpilled reports whether the attachment content lives outside the job record
func (a Attachment) IsSpilled() bool {
	return a.ObjectKey != ""
}

// SortedFieldKeys returns scalar field keys in a stable order
func (p SerializedPayload) SortedFieldKeys() []string {
	keys := make([]string, 0, len(p.ScalarFields))
	for k := range p.ScalarFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// TotalBytes is the sum of all attachment sizes
func (p SerializedPayload) TotalBytes() int64 {
	var total int64
	for _, a := range p.Attachments {
		total += a.ByteSize
	}
	return total
}

// openAttachment is swapped in tests to observe reader lifetimes
var openAttachment = func(fh *multipart.FileHeader) (multipart.File, error) {
	return fh.Open()
}

// SubmissionFromMultipartForm converts a parsed multipart form into a
// submission. Repeated scalar keys keep their first value. When an
// attachment cannot be opened, the ones already opened are closed.
func SubmissionFromMultipartForm(form *multipart.Form) (*Submission, error) {
	sub := &Submission{Fields: make(map[string]string, len(form.Value))}
	for key, values := range form.Value {
		if len(values) > 0 {
			sub.Fields[key] = values[0]
		}
	}

	keys := make([]string, 0, len(form.File))
	for key := range form.File {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		for _, fh := range form.File[key] {
			f, err := openAttachment(fh)
			if err != nil {
				// readers opened so far would leak with the discarded submission
				_ = sub.Close()
				return nil, fmt.Errorf("failed to open attachment %q: %w", fh.Filename, err)
			}
			sub.Files = append(sub.Files, FileField{
				FieldKey: key,
				Filename: fh.Filename,
				MimeType: fh.Header.Get("Content-Type"),
				Reader:   f,
			})
		}
	}
	return sub, nil
}

// Close closes every file reader that implements io.Closer
func (s *Submission) Close() error {
	var first error
	for _, f := range s.Files {
		if c, ok := f.Reader.(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
