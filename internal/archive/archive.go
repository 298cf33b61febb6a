// internal/archive/archive.go
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Bundle is the exported form of a session: its metadata document plus the
// raw JSONL transcript, packed into one compressed file.
type Bundle struct {
	ExportedAt time.Time       `json:"exported_at"`
	SessionID  string          `json:"session_id"`
	Session    json.RawMessage `json:"session"`
	Transcript []byte          `json:"transcript"`
}

// Archiver writes and reads zstd-compressed session bundles
type Archiver struct {
	dir     string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New creates an Archiver writing bundles under dir
func New(dir string, compressionLevel int) (*Archiver, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
	if err != nil {
		return nil, fmt.Errorf("create encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}

	return &Archiver{dir: dir, encoder: encoder, decoder: decoder}, nil
}

// bundlePath returns the archive file for a session
func (a *Archiver) bundlePath(sessionID string) string {
	return filepath.Join(a.dir, sessionID+".bundle.zst")
}

// Export writes a compressed bundle for a session and returns its path
func (a *Archiver) Export(sessionID string, sessionDoc json.RawMessage, transcriptLog []byte) (string, error) {
	bundle := Bundle{
		ExportedAt: time.Now(),
		SessionID:  sessionID,
		Session:    sessionDoc,
		Transcript: transcriptLog,
	}

	raw, err := json.Marshal(&bundle)
	if err != nil {
		return "", fmt.Errorf("marshal bundle: %w", err)
	}

	compressed := a.encoder.EncodeAll(raw, nil)
	path := a.bundlePath(sessionID)
	if err := os.WriteFile(path, compressed, 0644); err != nil {
		return "", fmt.Errorf("write bundle: %w", err)
	}
	return path, nil
}

// Import reads a bundle back from the archive
func (a *Archiver) Import(sessionID string) (*Bundle, error) {
	compressed, err := os.ReadFile(a.bundlePath(sessionID))
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}

	raw, err := a.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress bundle: %w", err)
	}

	var bundle Bundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return nil, fmt.Errorf("unmarshal bundle: %w", err)
	}
	return &bundle, nil
}

// Has reports whether a bundle exists for a session
func (a *Archiver) Has(sessionID string) bool {
	_, err := os.Stat(a.bundlePath(sessionID))
	return err == nil
}
