// Package zip bundles a run's finished images into a single downloadable
// archive.
package zip

import (
	"archive/zip"
	"bytes"
	"time"
)

// Asset is one file of the export archive.
type Asset struct {
	Filename string
	MIME     string
	Data     []byte
}

// ArchiveAssets builds an in-memory zip of the given assets. Images are
// already compressed, so entries are stored rather than deflated. Assets
// without data are skipped.
func ArchiveAssets(assets []Asset) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	now := time.Now().UTC()
	for _, asset := range assets {
		if len(asset.Data) == 0 {
			continue
		}
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     asset.Filename,
			Method:   zip.Store,
			Modified: now,
		})
		if err != nil {
			continue
		}
		if _, err := w.Write(asset.Data); err != nil {
			return nil
		}
	}
	if err := zw.Close(); err != nil {
		return nil
	}
	return buf.Bytes()
}
