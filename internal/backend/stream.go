package backend

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"ollama2api/internal/convert"
	"ollama2api/internal/core"
)

// ProcessNDJSONStream calls onLine for every non-empty line until onLine returns false or the body ends.
func ProcessNDJSONStream(ctx context.Context, body io.Reader, onLine func(line []byte) bool) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), core.MaxScannerBufferSize)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !onLine(line) {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("stream read error: %w", err)
	}
	return nil
}

// ChunkStream delivers decoded backend chunks over a channel with capacity 1.
type ChunkStream struct {
	ch        chan core.StreamChunk
	body      io.ReadCloser
	cancel    context.CancelFunc
	logger    core.Logger
	err       error
	closeOnce sync.Once
}

func newChunkStream(ctx context.Context, cancel context.CancelFunc, body io.ReadCloser, logger core.Logger) *ChunkStream {
	s := &ChunkStream{
		ch:     make(chan core.StreamChunk, 1),
		body:   body,
		cancel: cancel,
		logger: logger,
	}
	go s.run(ctx)
	return s
}

func (s *ChunkStream) run(ctx context.Context) {
	defer s.Close()
	defer close(s.ch)
	defer func() { _ = s.body.Close() }()

	sawDone := false
	var lineErr error
	err := ProcessNDJSONStream(ctx, s.body, func(line []byte) bool {
		chunk, err := convert.ParseStreamChunk(line)
		if err != nil {
			lineErr = err
			return false
		}
		select {
		case s.ch <- chunk:
		case <-ctx.Done():
			lineErr = ctx.Err()
			return false
		}
		if chunk.Done {
			sawDone = true
			return false
		}
		return true
	})

	switch {
	case lineErr != nil:
		s.err = lineErr
	case err != nil:
		s.err = err
	case !sawDone:
		s.err = &core.TranslationError{Reason: "backend stream ended without a final chunk"}
	}
	if idle, ok := s.body.(*idleReader); ok {
		s.err = idle.mapErr(s.err)
	}
	if s.err != nil {
		s.logger.Debug("Backend stream finished with error: %v", s.err)
	}
}

// Chunks returns the receive side. It is closed after the final chunk or on failure.
func (s *ChunkStream) Chunks() <-chan core.StreamChunk { return s.ch }

// Err is valid once Chunks is closed.
func (s *ChunkStream) Err() error { return s.err }

// Close aborts the backend request. Safe to call more than once.
func (s *ChunkStream) Close() {
	s.closeOnce.Do(s.cancel)
}

// Collect drains the stream and returns every chunk received.
func Collect(stream core.ChunkStream) ([]core.StreamChunk, error) {
	defer stream.Close()
	var chunks []core.StreamChunk
	for chunk := range stream.Chunks() {
		chunks = append(chunks, chunk)
	}
	return chunks, stream.Err()
}
