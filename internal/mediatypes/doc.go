// Package mediatypes maps audio file extensions to containers and MIME
// types.
//
// It has no dependencies so the extractor, transcoder and HTTP handlers can
// share it without import cycles:
//
//	if mediatypes.IsMP3(filepath.Ext(path)) {
//	    // candidate for passthrough
//	}
//	w.Header().Set("Content-Type", mediatypes.GetMimeType(filepath.Ext(path)))
package mediatypes
