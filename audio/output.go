package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// StreamOutput writes f32le mono samples to a writer in real time order.
// Gaps between scheduled chunks are filled with silence so the consumer's
// playback position tracks the schedule.
type StreamOutput struct {
	mu         sync.Mutex
	w          io.Writer
	closer     io.Closer
	sampleRate int
	started    time.Time
	now        func() time.Time
	written    int64
}

// NewStreamOutput starts the output clock now
func NewStreamOutput(w io.Writer, sampleRate int) *StreamOutput {
	o := &StreamOutput{
		w:          w,
		sampleRate: sampleRate,
		now:        time.Now,
	}
	if c, ok := w.(io.Closer); ok {
		o.closer = c
	}
	o.started = o.now()
	return o
}

// Now returns the elapsed time since the output was opened
func (o *StreamOutput) Now() time.Duration {
	return o.now().Sub(o.started)
}

// Play writes samples at the given offset. Offsets behind the write head are written immediately.
func (o *StreamOutput) Play(at time.Duration, samples []float32) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	pos := int64(at) * int64(o.sampleRate) / int64(time.Second)
	gap := pos - o.written
	if gap < 0 {
		gap = 0
	}

	buf := make([]byte, (gap+int64(len(samples)))*4)
	off := gap * 4
	for _, v := range samples {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
		off += 4
	}

	if _, err := o.w.Write(buf); err != nil {
		return fmt.Errorf("failed to write samples: %w", err)
	}
	o.written += gap + int64(len(samples))
	return nil
}

// Written returns the number of samples emitted, silence included
func (o *StreamOutput) Written() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.written
}

// Close closes the underlying writer when it is closable
func (o *StreamOutput) Close() error {
	if o.closer != nil {
		return o.closer.Close()
	}
	return nil
}

// WriterFactory returns a factory that reuses one writer across resets
func WriterFactory(w io.Writer) OutputFactory {
	return func(sampleRate int) (Output, error) {
		return NewStreamOutput(nopCloser{w}, sampleRate), nil
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// FFPlayFactory spawns one ffplay process per output, fed on stdin
func FFPlayFactory(ctx context.Context, ffplayPath string) OutputFactory {
	if ffplayPath == "" {
		ffplayPath = "ffplay"
	}
	return func(sampleRate int) (Output, error) {
		cmd := exec.CommandContext(ctx, ffplayPath, ffplayArgs(sampleRate)...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to open ffplay stdin: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("failed to start ffplay: %w", err)
		}
		return NewStreamOutput(&processWriter{WriteCloser: stdin, cmd: cmd}, sampleRate), nil
	}
}

// ffplayArgs reads mono f32le from stdin. ffplay takes -ch_layout, not the ffmpeg -ac flag.
func ffplayArgs(sampleRate int) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "quiet",
		"-nodisp",
		"-autoexit",
		"-f", "f32le",
		"-ch_layout", "mono",
		"-ar", strconv.Itoa(sampleRate),
		"-i", "-",
	}
}

type processWriter struct {
	io.WriteCloser
	cmd *exec.Cmd
}

// Close ends the input stream. The player drains what it has buffered and
// exits by itself; the process is reaped in the background.
func (p *processWriter) Close() error {
	err := p.WriteCloser.Close()
	go func() { _ = p.cmd.Wait() }()
	return err
}
