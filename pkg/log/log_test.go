package log

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func sampleEvent() Event {
	return Event{
		Timestamp: time.Now().UTC(),
		Direction: DirectionIn,
		Layer:     LayerNetwork,
		Category:  CategoryMessage,
		Src:       0x1201,
		Dst:       0x0003,
		Seq:       0x3129AB,
		PDU:       &PDUEvent{TTL: 4, Segmented: true},
	}
}

func TestEncodeDecodeEvent(t *testing.T) {
	event := sampleEvent()
	data, err := EncodeEvent(event)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Src != event.Src || decoded.Dst != event.Dst || decoded.Seq != event.Seq {
		t.Errorf("addressing lost: %+v", decoded)
	}
	if decoded.PDU == nil || decoded.PDU.TTL != 4 || !decoded.PDU.Segmented {
		t.Errorf("pdu payload lost: %+v", decoded.PDU)
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	event := sampleEvent()
	a, err := EncodeEvent(event)
	if err != nil {
		t.Fatal(err)
	}
	b, err := EncodeEvent(event)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("same event encoded differently")
	}
}

func TestFileLoggerAndReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.mlog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatal(err)
	}

	in := sampleEvent()
	out := sampleEvent()
	out.Direction = DirectionOut
	out.Layer = LayerBearer
	out.PDU = nil
	out.Frame = &FrameEvent{Kind: 0x29, Size: 3, Data: []byte{0x01, 0x02, 0x03}}
	logger.Log(in)
	logger.Log(out)
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}
	// Log after close is a no-op, not a panic.
	logger.Log(in)
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	direction := DirectionOut
	reader, err := NewFilteredReader(path, Filter{Direction: &direction})
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()

	event, err := reader.Next()
	if err != nil {
		t.Fatal(err)
	}
	if event.Frame == nil || event.Frame.Kind != 0x29 {
		t.Errorf("filtered event = %+v", event)
	}
	if _, err := reader.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestMultiLogger(t *testing.T) {
	var a, b countingLogger
	m := NewMultiLogger(&a, &b)
	m.Log(sampleEvent())
	m.Log(sampleEvent())
	if a.count != 2 || b.count != 2 {
		t.Errorf("counts = %d/%d, want 2/2", a.count, b.count)
	}
}

type countingLogger struct{ count int }

func (l *countingLogger) Log(Event) { l.count++ }

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	adapter := NewSlogAdapter(logger)
	adapter.Log(sampleEvent())

	errEvent := Event{
		Timestamp: time.Now(),
		Layer:     LayerUpper,
		Category:  CategoryError,
		Error:     &ErrorEventData{Layer: LayerUpper, Message: "authentication failed"},
	}
	adapter.Log(errEvent)

	output := buf.String()
	if !bytes.Contains([]byte(output), []byte("NETWORK")) {
		t.Errorf("missing layer in output: %s", output)
	}
	if !bytes.Contains([]byte(output), []byte("authentication failed")) {
		t.Errorf("missing error in output: %s", output)
	}
}

func TestNoopLogger(t *testing.T) {
	// Must not panic on the zero value.
	NoopLogger{}.Log(sampleEvent())
}

func TestReaderMissingFile(t *testing.T) {
	if _, err := NewReader(filepath.Join(t.TempDir(), "absent.mlog")); !os.IsNotExist(err) {
		t.Errorf("err = %v, want not-exist", err)
	}
}
