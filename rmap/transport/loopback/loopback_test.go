package loopback

import (
	"testing"
	"time"

	"github.com/15201047795/outpost-core/rmap/common"
	"github.com/15201047795/outpost-core/rmap/transport"
	transporttesting "github.com/15201047795/outpost-core/rmap/transport/testing"
)

func newPair(t *testing.T) (*Endpoint, *Endpoint) {
	config := common.DefaultTransportConfig()
	config.Buffers = 16
	config.QueueDepth = 8
	a, b, err := NewPair(config)
	if err != nil {
		t.Fatalf("NewPair failed: %v", err)
	}
	return a, b
}

func TestLoopbackTransport(t *testing.T) {
	transporttesting.RunTransportTests(t, "Loopback", func(t *testing.T) (transport.Transport, transport.Transport) {
		return newPair(t)
	})
}

func TestSendHandsBufferWithoutCopy(t *testing.T) {
	a, b := newPair(t)
	defer a.Close()

	buf, err := a.RequestBuffer(0)
	if err != nil {
		t.Fatalf("RequestBuffer failed: %v", err)
	}
	buf.Resize(3)
	copy(buf.Data, []byte{1, 2, 3})
	sent := &buf.Data[0]

	if err := a.Send(buf, time.Second); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if a.FreeBuffers() != 15 {
		t.Errorf("Expected 15 free buffers while the frame is queued, got %d", a.FreeBuffers())
	}

	got, err := b.Receive(time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if &got.Data[0] != sent {
		t.Errorf("Expected the peer to receive the sender's buffer")
	}

	b.ReleaseBuffer(got)
	if a.FreeBuffers() != 16 {
		t.Errorf("Expected all buffers free after release, got %d", a.FreeBuffers())
	}
}

func TestSendTimeoutReleasesBuffer(t *testing.T) {
	a, _ := newPair(t)
	defer a.Close()

	// fill the peer's queue
	for i := 0; i < 8; i++ {
		buf, _ := a.RequestBuffer(0)
		if err := a.Send(buf, 0); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}

	buf, _ := a.RequestBuffer(0)
	if err := a.Send(buf, 10*time.Millisecond); err != transport.ErrTimeout {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
	if a.FreeBuffers() != 8 {
		t.Errorf("Expected 8 free buffers, got %d", a.FreeBuffers())
	}
}

func TestInjectFrame(t *testing.T) {
	a, _ := newPair(t)
	defer a.Close()

	if err := a.InjectFrame([]byte{0xAA, 0xBB}, transport.EEP); err != nil {
		t.Fatalf("InjectFrame failed: %v", err)
	}

	buf, err := a.Receive(time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	defer a.ReleaseBuffer(buf)

	if len(buf.Data) != 2 || buf.Data[0] != 0xAA || buf.End != transport.EEP {
		t.Errorf("Unexpected frame %x end=%s", buf.Data, buf.End)
	}
}

func TestCloseReleasesQueuedBuffers(t *testing.T) {
	a, b := newPair(t)

	for i := 0; i < 4; i++ {
		buf, _ := a.RequestBuffer(0)
		a.Send(buf, 0)
	}
	b.Close()

	if a.FreeBuffers() != 16 {
		t.Errorf("Expected queued buffers to be released on close, got %d free", a.FreeBuffers())
	}
	if _, err := b.Receive(0); err != transport.ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
