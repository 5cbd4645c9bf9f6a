// Package integrations decodes outbreak reports arriving in field formats
// (spreadsheet exports, SMS gateway dumps) into ingestion requests.
package integrations

import (
    "io"

    "healthnav/internal/model"
)

// ReportDecoder turns one uploaded document into report submissions.
type ReportDecoder interface {
    Name() string
    // ContentType is the media type the decoder accepts.
    ContentType() string
    Decode(r io.Reader) ([]model.ObservationIn, error)
}

// Registry looks decoders up by media type.
type Registry map[string]ReportDecoder

func NewRegistry(decoders ...ReportDecoder) Registry {
    reg := Registry{}
    for _, d := range decoders {
        reg[d.ContentType()] = d
    }
    return reg
}

func (r Registry) For(contentType string) (ReportDecoder, bool) {
    d, ok := r[contentType]
    return d, ok
}
