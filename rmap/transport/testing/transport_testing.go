package testing

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/15201047795/outpost-core/rmap/transport"
)

// PairFactory creates two connected transport endpoints. The suite closes
// both endpoints when a test is done.
type PairFactory func(t *testing.T) (a, b transport.Transport)

// RunTransportTests runs the conformance suite for a transport implementation
func RunTransportTests(t *testing.T, name string, factory PairFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("SendReceive", func(t *testing.T) {
			a, b := pair(t, factory)
			testSendReceive(t, a, b)
		})

		t.Run("EndMarker", func(t *testing.T) {
			a, b := pair(t, factory)
			testEndMarker(t, a, b)
		})

		t.Run("Bidirectional", func(t *testing.T) {
			a, b := pair(t, factory)
			testBidirectional(t, a, b)
		})

		t.Run("ReceiveTimeout", func(t *testing.T) {
			a, _ := pair(t, factory)
			testReceiveTimeout(t, a)
		})

		t.Run("BufferReuse", func(t *testing.T) {
			a, b := pair(t, factory)
			testBufferReuse(t, a, b)
		})

		t.Run("FrameOrder", func(t *testing.T) {
			a, b := pair(t, factory)
			testFrameOrder(t, a, b)
		})

		t.Run("ConcurrentSenders", func(t *testing.T) {
			a, b := pair(t, factory)
			testConcurrentSenders(t, a, b)
		})

		t.Run("Close", func(t *testing.T) {
			a, _ := pair(t, factory)
			testClose(t, a)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

const waitTimeout = 2 * time.Second

func pair(t *testing.T, factory PairFactory) (transport.Transport, transport.Transport) {
	a, b := factory(t)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

// trySend copies payload into a fresh buffer and sends it
func trySend(tr transport.Transport, payload []byte, end transport.EndMarker) error {
	buf, err := tr.RequestBuffer(waitTimeout)
	if err != nil {
		return fmt.Errorf("request buffer: %w", err)
	}
	if err := buf.Resize(len(payload)); err != nil {
		tr.ReleaseBuffer(buf)
		return fmt.Errorf("resize to %d: %w", len(payload), err)
	}
	copy(buf.Data, payload)
	buf.End = end

	if err := tr.Send(buf, waitTimeout); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func send(t testing.TB, tr transport.Transport, payload []byte, end transport.EndMarker) {
	t.Helper()
	if err := trySend(tr, payload, end); err != nil {
		t.Fatalf("Sending %d bytes failed: %v", len(payload), err)
	}
}

// receive waits for one frame and returns a copy of it
func receive(t testing.TB, tr transport.Transport) ([]byte, transport.EndMarker) {
	t.Helper()

	buf, err := tr.Receive(waitTimeout)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	defer tr.ReleaseBuffer(buf)
	return append([]byte(nil), buf.Data...), buf.End
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSendReceive(t *testing.T, a, b transport.Transport) {
	payload := []byte{0xFE, 0x01, 0x4C, 0x00, 0xDE, 0xAD}
	send(t, a, payload, transport.EOP)

	got, end := receive(t, b)
	if !bytes.Equal(got, payload) {
		t.Errorf("Expected %x, got %x", payload, got)
	}
	if end != transport.EOP {
		t.Errorf("Expected EOP, got %s", end)
	}
}

func testEndMarker(t *testing.T, a, b transport.Transport) {
	send(t, a, []byte{0x01, 0x02}, transport.EEP)

	_, end := receive(t, b)
	if end != transport.EEP {
		t.Errorf("Expected EEP, got %s", end)
	}
}

func testBidirectional(t *testing.T, a, b transport.Transport) {
	send(t, a, []byte("ping"), transport.EOP)
	got, _ := receive(t, b)
	if string(got) != "ping" {
		t.Errorf("Expected ping, got %q", got)
	}

	send(t, b, []byte("pong"), transport.EOP)
	got, _ = receive(t, a)
	if string(got) != "pong" {
		t.Errorf("Expected pong, got %q", got)
	}
}

func testReceiveTimeout(t *testing.T, a transport.Transport) {
	start := time.Now()
	_, err := a.Receive(30 * time.Millisecond)
	if !errors.Is(err, transport.ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("Receive returned after %s, expected about 30ms", elapsed)
	}
}

func testBufferReuse(t *testing.T, a, b transport.Transport) {
	// more round trips than any implementation has buffers
	for i := 0; i < 500; i++ {
		buf, err := a.RequestBuffer(waitTimeout)
		if err != nil {
			t.Fatalf("RequestBuffer %d failed (buffer leak?): %v", i, err)
		}
		a.ReleaseBuffer(buf)

		send(t, a, []byte{byte(i)}, transport.EOP)
		got, _ := receive(t, b)
		if len(got) != 1 || got[0] != byte(i) {
			t.Fatalf("Frame %d: unexpected payload %x", i, got)
		}
	}
}

func testFrameOrder(t *testing.T, a, b transport.Transport) {
	const frames = 20

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < frames; i++ {
			if err := trySend(a, []byte{byte(i), byte(i + 1)}, transport.EOP); err != nil {
				t.Errorf("Frame %d: %v", i, err)
				return
			}
		}
	}()

	for i := 0; i < frames; i++ {
		got, _ := receive(t, b)
		if got[0] != byte(i) {
			t.Fatalf("Expected frame %d, got frame %d", i, got[0])
		}
	}
	<-done
}

func testConcurrentSenders(t *testing.T, a, b transport.Transport) {
	const senders = 8
	const perSender = 25

	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				if err := trySend(a, []byte(fmt.Sprintf("%d-%d", s, i)), transport.EOP); err != nil {
					t.Errorf("Sender %d frame %d: %v", s, i, err)
					return
				}
			}
		}(s)
	}

	seen := make(map[string]bool)
	for i := 0; i < senders*perSender; i++ {
		got, _ := receive(t, b)
		if seen[string(got)] {
			t.Errorf("Duplicate frame %q", got)
		}
		seen[string(got)] = true
	}
	wg.Wait()

	if len(seen) != senders*perSender {
		t.Errorf("Expected %d distinct frames, got %d", senders*perSender, len(seen))
	}
}

func testClose(t *testing.T, a transport.Transport) {
	errCh := make(chan error, 1)
	go func() {
		_, err := a.Receive(-1)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, transport.ErrClosed) {
			t.Errorf("Expected ErrClosed, got %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Receive not woken by Close")
	}

	if _, err := a.RequestBuffer(0); err == nil {
		t.Errorf("Expected RequestBuffer to fail after Close")
	}
}
