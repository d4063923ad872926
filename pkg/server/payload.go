package server

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"proofread/internal/models"
	"proofread/pkg/editing"
	"proofread/pkg/volumeio"
)

// EditPayload is the JSON body of /api/mask/update. Either Z and FullPNG carry a
// single slice, or FullBatch carries several. When both are present the batch
// is used.
type EditPayload struct {
	Z         *int         `json:"z,omitempty"`
	FullPNG   string       `json:"full_png,omitempty"`
	FullBatch []SlicePatch `json:"full_batch,omitempty"`
}

// SlicePatch is one entry of a batch edit.
type SlicePatch struct {
	Z   int    `json:"z"`
	PNG string `json:"png"`
}

// Request decodes every bitmap of the payload. Any undecodable entry fails the
// whole request with editing.ErrBadBitmap.
func (p EditPayload) Request() (models.EditRequest, error) {
	if len(p.FullBatch) > 0 {
		list := make([]models.SliceEdit, len(p.FullBatch))
		for i, patch := range p.FullBatch {
			edit, err := decodePatch(patch.Z, patch.PNG)
			if err != nil {
				return nil, fmt.Errorf("batch entry %d: %w", i, err)
			}
			list[i] = edit
		}
		return models.BatchEdit{List: list}, nil
	}
	if p.FullPNG == "" {
		return nil, fmt.Errorf("%w: expected full_png or full_batch", editing.ErrBadBitmap)
	}
	z := 0
	if p.Z != nil {
		z = *p.Z
	}
	edit, err := decodePatch(z, p.FullPNG)
	if err != nil {
		return nil, err
	}
	return models.SingleEdit{Edit: edit}, nil
}

func decodePatch(z int, encoded string) (models.SliceEdit, error) {
	// Canvas exports arrive as data URLs.
	if i := strings.Index(encoded, ";base64,"); i >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return models.SliceEdit{}, fmt.Errorf("%w: bad base64: %v", editing.ErrBadBitmap, err)
	}
	img, err := volumeio.DecodeBitmap(data)
	if err != nil {
		return models.SliceEdit{}, err
	}
	return models.SliceEdit{Z: z, Bitmap: img}, nil
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

// formFile returns the name and content of an optional upload field. A missing
// field yields nil data.
func formFile(r *http.Request, field string) (string, []byte, error) {
	f, hdr, err := r.FormFile(field)
	if err == http.ErrMissingFile {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("reading %s: %w", field, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", nil, fmt.Errorf("reading %s: %w", field, err)
	}
	return hdr.Filename, data, nil
}
