package objectstore

import (
	"bytes"
	"io"
	"mime"
	"path"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultContentType is sent when nothing better is known
const DefaultContentType = "application/octet-stream"

const sniffLen = 3072

// DetectContentType sniffs the head of r and returns the content type along
// with a reader that still yields the full stream. Extension lookup is used
// when the content is not recognised.
func DetectContentType(name string, r io.Reader) (string, io.Reader, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", nil, err
	}
	head = head[:n]
	rest := io.MultiReader(bytes.NewReader(head), r)

	if n > 0 {
		if mt := mimetype.Detect(head); mt != nil && mt.String() != DefaultContentType {
			return mt.String(), rest, nil
		}
	}
	if byExt := mime.TypeByExtension(path.Ext(name)); byExt != "" {
		return byExt, rest, nil
	}
	return DefaultContentType, rest, nil
}
