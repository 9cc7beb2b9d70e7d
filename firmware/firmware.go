// Package firmware streams a binary image to the controller's bootloader
// over the link, in fixed 8-byte chunks with a running CRC-32.
//
// The exchange is strictly sequential: enter bootloader, ping, begin with
// the image size, the data chunks, then end with the final CRC. Any failed
// send aborts the whole transfer; there is no per-step retry. Cancellation
// is cooperative and leaves the controller in an indeterminate state (the
// bootloader performs no rollback).
package firmware

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/CK6170/suspscale-go/canbus"
)

// ChunkSize is the number of image bytes carried per data frame.
const ChunkSize = 8

// Sender is the outbound half of the link the transfer runs over. Sends are
// serialized against normal traffic by the link's write lock.
type Sender interface {
	SendMessage(id uint16, payload []byte) error
}

// ProgressFunc receives (chunksSent, totalChunks) after every chunk.
type ProgressFunc func(chunksSent, totalChunks int)

// Config holds the transfer tunables.
type Config struct {
	// EnterDelay is the settle time between the bootloader-entry command and
	// the ping.
	EnterDelay time.Duration

	// ChunkDelay paces data frames to the controller's ingestion rate.
	ChunkDelay time.Duration

	// Progress is called after each chunk (optional).
	Progress ProgressFunc
}

func defaultConfig() Config {
	return Config{
		EnterDelay: 300 * time.Millisecond,
		ChunkDelay: 2 * time.Millisecond,
	}
}

// Option is a functional option for configuring a transfer.
type Option func(*Config)

// WithProgress sets a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(c *Config) { c.Progress = fn }
}

// WithChunkDelay overrides the inter-chunk delay.
func WithChunkDelay(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.ChunkDelay = d
		}
	}
}

// WithEnterDelay overrides the settle time after bootloader entry.
func WithEnterDelay(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.EnterDelay = d
		}
	}
}

// session tracks one transfer; it exists only for the duration of the
// exchange and is discarded on completion or failure.
type session struct {
	totalChunks int
	chunksSent  int
	runningCrc  uint32
}

// Flash reads a binary image from path and transfers it. See FlashImage.
func Flash(ctx context.Context, link Sender, path string, opts ...Option) error {
	img, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read firmware image: %w", err)
	}
	return FlashImage(ctx, link, img, opts...)
}

// FlashImage streams img to the bootloader. The returned error names the
// step that failed; a nil return means the controller acknowledged nothing
// (the protocol is fire-and-forget per frame) but every send succeeded and
// the final CRC was delivered.
func FlashImage(ctx context.Context, link Sender, img []byte, opts ...Option) error {
	if len(img) == 0 {
		return fmt.Errorf("firmware image is empty")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &session{
		totalChunks: (len(img) + ChunkSize - 1) / ChunkSize,
		runningCrc:  CRC32Initial,
	}

	if err := link.SendMessage(canbus.IDBootCommand, []byte{canbus.BootEnter}); err != nil {
		return fmt.Errorf("enter bootloader: %w", err)
	}
	if err := sleepCtx(ctx, cfg.EnterDelay); err != nil {
		return err
	}
	if err := link.SendMessage(canbus.IDBootCommand, []byte{canbus.BootPing}); err != nil {
		return fmt.Errorf("ping bootloader: %w", err)
	}

	begin := make([]byte, 5)
	begin[0] = canbus.BootBegin
	binary.LittleEndian.PutUint32(begin[1:], uint32(len(img)))
	if err := link.SendMessage(canbus.IDBootCommand, begin); err != nil {
		return fmt.Errorf("begin transfer: %w", err)
	}

	for i := 0; i < s.totalChunks; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled at chunk %d/%d: %w", i, s.totalChunks, err)
		}

		start := i * ChunkSize
		end := start + ChunkSize
		if end > len(img) {
			end = len(img)
		}
		chunk := img[start:end]

		// Frames are always 8 bytes; the CRC covers only the real image
		// bytes, never the padding.
		frame := make([]byte, ChunkSize)
		copy(frame, chunk)
		for j := len(chunk); j < ChunkSize; j++ {
			frame[j] = 0xFF
		}
		s.runningCrc = crcUpdate(s.runningCrc, chunk)

		if err := link.SendMessage(canbus.IDBootData, frame); err != nil {
			return fmt.Errorf("send chunk %d/%d: %w", i, s.totalChunks, err)
		}
		s.chunksSent++
		if cfg.Progress != nil {
			cfg.Progress(s.chunksSent, s.totalChunks)
		}
		if cfg.ChunkDelay > 0 {
			if err := sleepCtx(ctx, cfg.ChunkDelay); err != nil {
				return fmt.Errorf("cancelled at chunk %d/%d: %w", s.chunksSent, s.totalChunks, err)
			}
		}
	}

	final := make([]byte, 5)
	final[0] = canbus.BootEnd
	binary.LittleEndian.PutUint32(final[1:], s.runningCrc^CRC32FinalXOR)
	if err := link.SendMessage(canbus.IDBootCommand, final); err != nil {
		return fmt.Errorf("end transfer: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
