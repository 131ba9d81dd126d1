package rbxdom

import (
	"fmt"
	"io"
	"sort"
	"sync"
)

// Codec reads and writes a model file format. The binary (.rbxm) and XML
// (.rbxmx) formats register implementations here; the engine treats their
// contents as opaque beyond the decoded document.
type Codec interface {
	// Decode parses a model stream. The returned document's root is a
	// synthetic container; its children are the file's top-level instances.
	Decode(r io.Reader) (*Dom, error)

	// Encode serializes the given instances of dom, in order, as the
	// file's top-level instances.
	Encode(w io.Writer, dom *Dom, roots []Ref) error
}

var (
	codecMu sync.RWMutex
	codecs  = make(map[string]Codec)
)

// RegisterCodec binds a codec to a file extension such as ".rbxmx".
// Registering the same extension twice panics, mirroring database/sql.
func RegisterCodec(ext string, c Codec) {
	codecMu.Lock()
	defer codecMu.Unlock()
	if _, dup := codecs[ext]; dup {
		panic(fmt.Sprintf("rbxdom: codec for %s registered twice", ext))
	}
	codecs[ext] = c
}

// CodecFor returns the codec registered for ext.
func CodecFor(ext string) (Codec, error) {
	codecMu.RLock()
	defer codecMu.RUnlock()
	c, ok := codecs[ext]
	if !ok {
		return nil, fmt.Errorf("no model codec registered for %s (registered: %v)", ext, registeredExts())
	}
	return c, nil
}

func registeredExts() []string {
	exts := make([]string, 0, len(codecs))
	for ext := range codecs {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
