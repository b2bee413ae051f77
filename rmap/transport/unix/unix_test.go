package unix

import (
	"path/filepath"
	"testing"

	"github.com/15201047795/outpost-core/rmap/common"
	"github.com/15201047795/outpost-core/rmap/transport"
	transporttesting "github.com/15201047795/outpost-core/rmap/transport/testing"
)

func TestUnixTransport(t *testing.T) {
	transporttesting.RunTransportTests(t, "Unix", func(t *testing.T) (transport.Transport, transport.Transport) {
		config := common.DefaultTransportConfig()
		config.Endpoint = filepath.Join(t.TempDir(), "rmap.sock")

		listener, err := Listen(config)
		if err != nil {
			t.Fatalf("Listen failed: %v", err)
		}
		defer listener.Close()

		accepted := make(chan transport.Transport, 1)
		go func() {
			tr, err := listener.Accept()
			if err != nil {
				t.Errorf("Accept failed: %v", err)
			}
			accepted <- tr
		}()

		client, err := Dial(config)
		if err != nil {
			t.Fatalf("Dial failed: %v", err)
		}
		server := <-accepted
		if server == nil {
			client.Close()
			t.FailNow()
		}
		return client, server
	})
}
