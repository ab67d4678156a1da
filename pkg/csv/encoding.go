package csv

import (
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"github.com/ajitpratap0/nebula-csv/pkg/errors"
)

// newDecoder resolves an encoding label. UTF-8 variants need no transcoding
// and return a nil encoding.
func newDecoder(label string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "", EncodingUTF8, "utf-8", EncodingUTF8Lossy:
		return nil, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "unsupported encoding").
			WithDetail("encoding", label)
	}
	return enc, nil
}

// decodeReader wraps r so the tokenizer always sees UTF-8.
func decodeReader(r io.Reader, label string) (io.Reader, error) {
	enc, err := newDecoder(label)
	if err != nil || enc == nil {
		return r, err
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

func lossyUTF8(label string) bool {
	return strings.EqualFold(strings.TrimSpace(label), EncodingUTF8Lossy)
}
