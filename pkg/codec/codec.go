// Package codec saves the hook parameters of a session as a configuration
// document and replays such documents through the driver.
//
// A document is a flat JSON object mapping hook names (text, stack, heap,
// stackmagic) to hexadecimal strings:
//
//	{"text":"0x555555555000","heap":"0x2000"}
//
// Absent keys leave the corresponding hook untouched.
package codec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/piehook/piectl/pkg/addr"
	"github.com/piehook/piectl/pkg/hook"
	"github.com/piehook/piectl/pkg/ledger"
	"github.com/piehook/piectl/pkg/logflags"
)

var (
	// ErrSinkUnavailable means the document could not be created or written.
	ErrSinkUnavailable = errors.New("cannot write configuration document")
	// ErrSourceUnavailable means the document could not be opened or read.
	ErrSourceUnavailable = errors.New("cannot read configuration document")
	// ErrEmptyDocument means the document has no content.
	ErrEmptyDocument = errors.New("configuration document is empty")
	// ErrMalformedDocument means the document is not a flat object of
	// string values.
	ErrMalformedDocument = errors.New("malformed configuration document")
)

// Document maps hook names to their textual values.
type Document map[string]string

// replayOrder is the order in which Replay applies document keys.
var replayOrder = []hook.Kind{hook.Text, hook.Heap, hook.StackOffset, hook.StackBase}

// Encode builds the document for l. When a kind was appended more than once
// the most recent value is kept.
func Encode(l *ledger.Ledger) ([]byte, error) {
	doc := []byte("{}")
	seen := make(map[hook.Kind]bool)
	for e := range l.All() {
		if seen[e.Kind] {
			continue
		}
		seen[e.Kind] = true
		var err error
		doc, err = sjson.SetBytes(doc, e.Kind.Name(), addr.Format(e.Value))
		if err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// Export writes the document for l to w.
func Export(l *ledger.Ledger, w io.Writer) error {
	doc, err := Encode(l)
	if err != nil {
		return err
	}
	if _, err := w.Write(doc); err != nil {
		return fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}
	logflags.CodecLogger().Debugf("exported %d entries as %s", l.Len(), doc)
	return nil
}

// ExportFile writes the document for l to the file at path, replacing any
// previous content.
func ExportFile(l *ledger.Ledger, path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}
	if err := Export(l, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}
	return nil
}

// Decode parses a document. Unknown keys are kept, callers ignore them.
func Decode(data []byte) (Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyDocument
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedDocument)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: expected an object", ErrMalformedDocument)
	}
	doc := make(Document)
	var err error
	root.ForEach(func(key, value gjson.Result) bool {
		if value.Type != gjson.String {
			err = fmt.Errorf("%w: value of %q is not a string", ErrMalformedDocument, key.String())
			return false
		}
		doc[key.String()] = value.String()
		return true
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Applier applies a single hook. *hook.Client implements it.
type Applier interface {
	Apply(ctx context.Context, k hook.Kind, value uint64) (hook.Outcome, error)
}

// Applied is the result of replaying one document key.
type Applied struct {
	Kind    hook.Kind
	Value   uint64
	Outcome hook.Outcome
	Err     error
}

// Replay applies every recognized key of doc through a, in the order text,
// heap, stackmagic, stack. A failing key does not stop the others.
func Replay(ctx context.Context, doc Document, a Applier) []Applied {
	logger := logflags.CodecLogger()
	var r []Applied
	for _, k := range replayOrder {
		s, ok := doc[k.Name()]
		if !ok {
			continue
		}
		v := addr.Parse(s)
		out, err := a.Apply(ctx, k, v)
		logger.Debugf("replayed %s=%q (%#x): %v", k.Name(), s, v, err)
		r = append(r, Applied{Kind: k, Value: v, Outcome: out, Err: err})
	}
	return r
}

// Import reads a document from rd and replays it through a. The returned
// error only covers reading and decoding, per key failures are reported
// in the Applied slice.
func Import(ctx context.Context, rd io.Reader, a Applier) ([]Applied, error) {
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	doc, err := Decode(data)
	if err != nil {
		return nil, err
	}
	logflags.CodecLogger().Debugf("decoded document with %d keys", len(doc))
	return Replay(ctx, doc, a), nil
}

// ImportFile is like Import but reads the document from path.
func ImportFile(ctx context.Context, path string, a Applier) ([]Applied, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	defer f.Close()
	return Import(ctx, f, a)
}
