package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/roach88/crmorbit/internal/domain"
	"github.com/roach88/crmorbit/internal/event"
	"github.com/roach88/crmorbit/internal/merge"
	"github.com/roach88/crmorbit/internal/value"
)

// Version is the backup format version.
const Version = 1

// maxPlaintext bounds decompression of untrusted input.
const maxPlaintext = 512 << 20

// Mode selects how Import applies a backup.
type Mode string

const (
	// ModeReplace swaps the whole local log for the backup's events.
	ModeReplace Mode = "replace"

	// ModeMerge merges the backup's events into the local log.
	ModeMerge Mode = "merge"
)

// ParseMode accepts "replace" or "merge".
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeReplace, ModeMerge:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown import mode %q (want replace or merge)", s)
}

// Options selects what Export includes.
type Options struct {
	IncludeDocument bool
	IncludeEvents   bool
}

// Backup is the decoded plaintext.
type Backup struct {
	Version    int              `json:"version"`
	DeviceID   string           `json:"deviceId"`
	ExportedAt string           `json:"exportedAt"`
	Document   *domain.Snapshot `json:"document,omitempty"`
	Events     *[]event.Event   `json:"events,omitempty"`
}

// HasEvents reports whether the backup carries an event log.
func (b *Backup) HasEvents() bool {
	return b.Events != nil
}

// Source is what Export reads.
type Source interface {
	DeviceID() string
	Document() *domain.Document
	Events() []event.Event
}

// Target is what Import writes.
type Target interface {
	Merge(ctx context.Context, remote []event.Event) (merge.Result, error)
	Replace(ctx context.Context, events []event.Event) (merge.Result, error)
}

// Codec exports and imports backups through a Cipher.
type Codec struct {
	cipher Cipher
	now    func() time.Time
	logger *slog.Logger
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithNow replaces the clock stamping exportedAt.
func WithNow(now func() time.Time) CodecOption {
	return func(c *Codec) {
		c.now = now
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) CodecOption {
	return func(c *Codec) {
		c.logger = l
	}
}

// New creates a codec using cipher.
func New(cipher Cipher, opts ...CodecOption) *Codec {
	c := &Codec{cipher: cipher, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Export builds, compresses and encrypts a backup of src.
func (c *Codec) Export(ctx context.Context, src Source, opts Options) (string, error) {
	if !opts.IncludeDocument && !opts.IncludeEvents {
		return "", errors.New("export: nothing selected")
	}

	b := Backup{
		Version:    Version,
		DeviceID:   src.DeviceID(),
		ExportedAt: event.FormatTime(c.now()),
	}
	if opts.IncludeDocument {
		snap := src.Document().Snapshot()
		b.Document = &snap
	}
	if opts.IncludeEvents {
		events := src.Events()
		b.Events = &events
	}

	plain, err := encode(b)
	if err != nil {
		return "", fmt.Errorf("export: %w", err)
	}
	packed, err := compress(plain)
	if err != nil {
		return "", fmt.Errorf("export: %w", err)
	}
	out, err := c.cipher.Encrypt(ctx, packed, b.DeviceID)
	if err != nil {
		return "", fmt.Errorf("export: %w", err)
	}

	c.logger.Info("backup exported",
		"device_id", b.DeviceID,
		"document", opts.IncludeDocument,
		"events", opts.IncludeEvents,
		"plaintext_bytes", len(plain),
		"compressed_bytes", len(packed),
	)
	return out, nil
}

// Open decrypts, decompresses and validates a backup without applying it.
func (c *Codec) Open(ctx context.Context, ciphertext string) (*Backup, error) {
	packed, err := c.cipher.Decrypt(ctx, ciphertext)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, asDecryptionFailed(err)
	}
	plain, err := decompress(packed)
	if err != nil {
		return nil, err
	}
	return decode(plain)
}

// Import opens ciphertext and applies its events to dst under mode.
// Backups without an event log cannot be imported.
func (c *Codec) Import(ctx context.Context, dst Target, ciphertext string, mode Mode) (merge.Result, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return merge.Result{}, fmt.Errorf("import: %w", err)
	}
	b, err := c.Open(ctx, ciphertext)
	if err != nil {
		return merge.Result{}, err
	}
	if !b.HasEvents() {
		return merge.Result{}, invalidBackup("import", "backup holds no event log")
	}

	var res merge.Result
	switch mode {
	case ModeReplace:
		res, err = dst.Replace(ctx, *b.Events)
	case ModeMerge:
		res, err = dst.Merge(ctx, *b.Events)
	}
	if err != nil {
		return merge.Result{}, fmt.Errorf("import: %w", err)
	}

	c.logger.Info("backup imported",
		"source_device", b.DeviceID,
		"exported_at", b.ExportedAt,
		"mode", mode,
		"events", len(*b.Events),
		"added", res.Added,
		"rejected", len(res.Rejections),
	)
	return res, nil
}

func encode(b Backup) ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode backup: %w", err)
	}
	return value.Canonicalize(data)
}

func decode(plain []byte) (*Backup, error) {
	var b Backup
	if err := json.Unmarshal(plain, &b); err != nil {
		return nil, invalidBackup("decode", "%v", err)
	}
	if b.Version != Version {
		return nil, invalidBackup("decode", "unsupported version %d", b.Version)
	}
	if b.DeviceID == "" {
		return nil, invalidBackup("decode", "deviceId is required")
	}
	if _, err := event.ParseTime(b.ExportedAt); err != nil {
		return nil, invalidBackup("decode", "exportedAt: %v", err)
	}
	if b.Document == nil && b.Events == nil {
		return nil, invalidBackup("decode", "backup holds neither document nor events")
	}
	if b.Events != nil {
		for i, ev := range *b.Events {
			if err := ev.Validate(); err != nil {
				return nil, invalidBackup("decode", "event %d: %v", i, err)
			}
		}
	}
	return &b, nil
}

func compress(plain []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder: %w", err)
	}
	if _, err := enc.Write(plain); err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close encoder: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(packed []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(packed), zstd.WithDecoderMaxMemory(maxPlaintext))
	if err != nil {
		return nil, invalidBackup("decompress", "%v", err)
	}
	defer dec.Close()

	plain, err := io.ReadAll(io.LimitReader(dec, maxPlaintext+1))
	if err != nil {
		return nil, invalidBackup("decompress", "%v", err)
	}
	if len(plain) > maxPlaintext {
		return nil, invalidBackup("decompress", "plaintext exceeds %d bytes", maxPlaintext)
	}
	return plain, nil
}

// asDecryptionFailed classifies a cipher error. Ciphers that already
// return *Error keep their classification.
func asDecryptionFailed(err error) error {
	var be *Error
	if errors.As(err, &be) {
		return err
	}
	return decryptionFailed("decrypt", err)
}
