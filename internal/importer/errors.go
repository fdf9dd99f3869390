package importer

import "errors"

var (
	// ErrAborted is returned by a processor when the listener asked it to
	// stop after an error.
	ErrAborted = errors.New("importer: aborted by listener")

	ErrNoProcessor = errors.New("importer: no processor for mime type")
)
