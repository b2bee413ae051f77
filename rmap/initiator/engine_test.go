package initiator

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/15201047795/outpost-core/lib/heartbeat"
	"github.com/15201047795/outpost-core/lib/simtarget"
	"github.com/15201047795/outpost-core/lib/targets"
	"github.com/15201047795/outpost-core/lib/topic"
	"github.com/15201047795/outpost-core/rmap/codec"
	"github.com/15201047795/outpost-core/rmap/common"
	"github.com/15201047795/outpost-core/rmap/transport"
	"github.com/15201047795/outpost-core/rmap/transport/loopback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const (
	targetLA    = 0x42
	targetKey   = 0x20
	initiatorLA = 0xFE
	overrideLA  = 0x30
)

type fixture struct {
	engine *Engine
	target *simtarget.Target
	link   *loopback.Endpoint // initiator side of the loopback pair
}

func testRegistry(t *testing.T) *targets.Registry {
	t.Helper()
	registry, err := targets.NewRegistry(
		targets.TargetNode{Name: "X", LogicalAddress: targetLA, Key: targetKey, TargetPath: []byte{0x01}},
		targets.TargetNode{Name: "Y", LogicalAddress: targetLA, Key: targetKey,
			InitiatorLogicalAddress: overrideLA, OverrideInitiator: true},
		targets.TargetNode{Name: "locked", LogicalAddress: targetLA, Key: targetKey + 1},
	)
	require.NoError(t, err)
	return registry
}

func newFixture(t *testing.T, maxTransactions int, opts ...Option) *fixture {
	t.Helper()

	initiatorSide, targetSide, err := loopback.NewPair(common.DefaultTransportConfig())
	require.NoError(t, err)

	targetConfig := common.DefaultTargetConfig()
	targetConfig.LogicalAddress = targetLA
	targetConfig.Key = targetKey
	targetConfig.MemorySize = 1 << 16
	target, err := simtarget.New(targetConfig)
	require.NoError(t, err)
	target.Go(targetSide)

	config := common.DefaultInitiatorConfig()
	config.Name = fmt.Sprintf("test-%s", t.Name())
	config.InitiatorLogicalAddress = initiatorLA
	config.MaxTransactions = maxTransactions
	config.MaxTransferSize = 256

	engine, err := New(config, initiatorSide, append([]Option{WithRegistry(testRegistry(t))}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, engine.Start())

	t.Cleanup(func() {
		engine.Stop()
		initiatorSide.Close()
		target.Close()
	})
	return &fixture{engine: engine, target: target, link: initiatorSide}
}

// replyFrame encodes a reply as the target at targetLA would send it
func replyFrame(t *testing.T, write bool, initiator byte, id uint16, data []byte) []byte {
	t.Helper()
	reply := &common.Packet{
		InitiatorLogicalAddress: initiator,
		TargetLogicalAddress:    targetLA,
		TransactionID:           id,
	}
	reply.SetReplyPacket()
	reply.SetReplyRequested(true)
	if write {
		reply.SetWrite()
	} else {
		reply.DataLength = uint32(len(data))
		reply.Data = data
	}
	frame, err := codec.EncodeReply(reply)
	require.NoError(t, err)
	return frame
}

// --------------------------------------------------------------------------
// Write
// --------------------------------------------------------------------------

func TestWriteWithReply(t *testing.T) {
	f := newFixture(t, 4)

	err := f.engine.Write("X", Options{Increment: true, ReplyRequested: true}, 0x1000, []byte{1, 2, 3}, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, common.ResultSuccess, common.ResultOf(err))

	assert.Equal(t, []byte{1, 2, 3}, f.target.Peek(0, 0x1000, 3))
	assert.Equal(t, 0, f.engine.InFlight())

	counters := f.engine.Counters()
	assert.Equal(t, uint64(1), counters.CommandsSent)
	assert.Equal(t, uint64(1), counters.RepliesReceived)
	assert.Equal(t, int64(1), f.engine.Stats().Write.Count())
}

func TestWriteWithVerifyAndExtendedAddress(t *testing.T) {
	f := newFixture(t, 4)

	opts := Options{Increment: true, Verify: true, ReplyRequested: true, ExtendedAddress: 0x00}
	require.NoError(t, f.engine.Write("X", opts, 0x20, []byte{9, 8, 7, 6}, 100*time.Millisecond))
	assert.Equal(t, []byte{9, 8, 7, 6}, f.target.Peek(0, 0x20, 4))
}

func TestWriteWithoutReply(t *testing.T) {
	f := newFixture(t, 4)

	err := f.engine.Write("X", Options{Increment: true}, 0x2000, []byte{0xCA, 0xFE}, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 0, f.engine.InFlight(), "fire and forget must not keep its transaction")

	assert.Eventually(t, func() bool {
		return bytes.Equal(f.target.Peek(0, 0x2000, 2), []byte{0xCA, 0xFE})
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, uint64(0), f.target.Stats().Replies)
	assert.Equal(t, int64(1), f.engine.Stats().Post.Count())
}

func TestWriteWithoutReplyWhileStopped(t *testing.T) {
	f := newFixture(t, 4)
	f.engine.Stop()

	require.NoError(t, f.engine.Write("X", Options{Increment: true}, 0x10, []byte{1}, 100*time.Millisecond))

	err := f.engine.Write("X", Options{Increment: true, ReplyRequested: true}, 0x10, []byte{1}, 100*time.Millisecond)
	assert.ErrorIs(t, err, common.ErrStopped)
}

func TestWriteExecutionFailed(t *testing.T) {
	f := newFixture(t, 4)

	err := f.engine.Write("locked", Options{Increment: true, ReplyRequested: true}, 0x10, []byte{1}, 100*time.Millisecond)
	require.ErrorIs(t, err, common.ErrExecutionFailed)

	status, ok := common.StatusOf(err)
	require.True(t, ok)
	assert.Equal(t, common.StatusInvalidKey, status)
	assert.Equal(t, common.ResultExecutionFailed, common.ResultOf(err))
}

func TestWriteSendFailed(t *testing.T) {
	f := newFixture(t, 4)
	require.NoError(t, f.link.Close())

	err := f.engine.Write("X", Options{Increment: true}, 0x10, []byte{1}, 50*time.Millisecond)
	require.ErrorIs(t, err, common.ErrSendFailed)
	assert.Equal(t, 0, f.engine.InFlight())
	assert.Equal(t, uint64(1), f.engine.Counters().SendFailures)
}

// --------------------------------------------------------------------------
// Read
// --------------------------------------------------------------------------

func TestReadSuccess(t *testing.T) {
	f := newFixture(t, 4)
	f.target.Poke(0, 0x400, []byte{0x11, 0x22, 0x33, 0x44})

	dst := make([]byte, 4)
	n, err := f.engine.Read("X", Options{Increment: true}, 0x400, dst, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte{0x11, 0x22, 0x33, 0x44}, dst)
	assert.Equal(t, int64(1), f.engine.Stats().Read.Count())
}

func TestReadReplyTooShort(t *testing.T) {
	f := newFixture(t, 4)
	f.target.SetFaults(simtarget.Faults{DataLength: 4, OverrideLength: true})

	dst := bytes.Repeat([]byte{0xAA}, 8)
	n, err := f.engine.Read("X", Options{Increment: true}, 0, dst, 100*time.Millisecond)
	require.ErrorIs(t, err, common.ErrReplyTooShort)
	assert.Equal(t, 0, n)
	assert.Equal(t, bytes.Repeat([]byte{0xAA}, 8), dst, "destination must stay untouched")
}

func TestReadReplyTooLong(t *testing.T) {
	f := newFixture(t, 4)
	f.target.SetFaults(simtarget.Faults{DataLength: 8, OverrideLength: true})

	dst := bytes.Repeat([]byte{0xAA}, 4)
	_, err := f.engine.Read("X", Options{Increment: true}, 0, dst, 100*time.Millisecond)
	require.ErrorIs(t, err, common.ErrInvalidReply)
	assert.Equal(t, bytes.Repeat([]byte{0xAA}, 4), dst)
}

func TestReadForcedStatus(t *testing.T) {
	f := newFixture(t, 4)
	f.target.SetFaults(simtarget.Faults{ForceStatus: common.StatusGeneralError, OverrideStatus: true})

	_, err := f.engine.Read("X", Options{Increment: true}, 0, make([]byte, 4), 100*time.Millisecond)

	var execErr *common.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, common.StatusGeneralError, execErr.Status)
}

func TestReadWithOverriddenInitiator(t *testing.T) {
	f := newFixture(t, 4)
	f.target.Poke(0, 0x80, []byte{5, 6})

	dst := make([]byte, 2)
	_, err := f.engine.Read("Y", Options{Increment: true}, 0x80, dst, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 6}, dst)
}

func TestConcurrentReadsUseSeparateStaging(t *testing.T) {
	const readers = 8
	f := newFixture(t, readers)

	for i := 0; i < readers; i++ {
		f.target.Poke(0, uint32(i*0x100), bytes.Repeat([]byte{byte(i + 1)}, 32))
	}

	var wg sync.WaitGroup
	errs := make(chan error, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for round := 0; round < 20; round++ {
				dst := make([]byte, 32)
				if _, err := f.engine.Read("X", Options{Increment: true}, uint32(i*0x100), dst, time.Second); err != nil {
					errs <- err
					return
				}
				if !bytes.Equal(dst, bytes.Repeat([]byte{byte(i + 1)}, 32)) {
					errs <- fmt.Errorf("reader %d got foreign data % X", i, dst[:4])
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, 0, f.engine.InFlight())
}

// --------------------------------------------------------------------------
// Timeouts and stale replies
// --------------------------------------------------------------------------

func TestTimeoutReleasesTransaction(t *testing.T) {
	f := newFixture(t, 1)
	f.target.SetFaults(simtarget.Faults{DropReplies: true})

	start := time.Now()
	_, err := f.engine.Read("X", Options{Increment: true}, 0, make([]byte, 4), 30*time.Millisecond)
	require.ErrorIs(t, err, common.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, 0, f.engine.InFlight())
	assert.Equal(t, uint64(1), f.engine.Counters().Timeouts)

	// the only slot is usable again
	f.target.SetFaults(simtarget.Faults{})
	_, err = f.engine.Read("X", Options{Increment: true}, 0, make([]byte, 4), 100*time.Millisecond)
	require.NoError(t, err)
}

func TestLateReplyIsDiscarded(t *testing.T) {
	f := newFixture(t, 1)
	f.target.SetFaults(simtarget.Faults{Delay: 60 * time.Millisecond})

	_, err := f.engine.Read("X", Options{Increment: true}, 0, make([]byte, 4), 20*time.Millisecond)
	require.ErrorIs(t, err, common.ErrTimeout)

	// the slot is reused under a new id before the late reply arrives
	f.target.SetFaults(simtarget.Faults{})
	f.target.Poke(0, 0x40, []byte{7})
	dst := make([]byte, 1)
	_, err = f.engine.Read("X", Options{Increment: true}, 0x40, dst, 200*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, dst)

	require.Eventually(t, func() bool {
		return f.engine.Counters().DiscardedReplies == 1
	}, time.Second, 5*time.Millisecond)

	late, ok := f.engine.LastDiscarded()
	require.True(t, ok)
	assert.Equal(t, uint16(0), late.TransactionID)
	assert.Equal(t, uint32(4), late.DataLength)
}

func TestUnknownTransactionIsDiscarded(t *testing.T) {
	f := newFixture(t, 2)
	f.target.SetFaults(simtarget.Faults{TransactionIDDelta: 1})

	err := f.engine.Write("X", Options{Increment: true, ReplyRequested: true}, 0, []byte{1}, 30*time.Millisecond)
	require.ErrorIs(t, err, common.ErrTimeout)

	require.Eventually(t, func() bool {
		return f.engine.Counters().DiscardedReplies == 1
	}, time.Second, 5*time.Millisecond)

	_, ok := f.engine.LastDiscarded()
	assert.True(t, ok)
}

func TestNoFreeTransactions(t *testing.T) {
	f := newFixture(t, 2)
	f.target.SetFaults(simtarget.Faults{Delay: 50 * time.Millisecond})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Read("X", Options{Increment: true}, 0, make([]byte, 4), time.Second)
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return f.engine.InFlight() == 2 }, time.Second, time.Millisecond)

	_, err := f.engine.Read("X", Options{Increment: true}, 0, make([]byte, 4), time.Second)
	assert.ErrorIs(t, err, common.ErrNoFreeTransactions)

	wg.Wait()
	assert.Equal(t, 0, f.engine.InFlight())
}

// --------------------------------------------------------------------------
// Inbound traffic classification
// --------------------------------------------------------------------------

func TestCorruptReplyIsForeignTraffic(t *testing.T) {
	foreign := topic.New[ForeignFrame]("test/foreign")
	sub := foreign.Subscribe()
	defer sub.Close()

	f := newFixture(t, 2, WithForeignTopic(foreign))
	f.target.SetFaults(simtarget.Faults{CorruptHeaderCRC: true})

	_, err := f.engine.Read("X", Options{Increment: true}, 0, make([]byte, 4), 30*time.Millisecond)
	require.ErrorIs(t, err, common.ErrTimeout)

	select {
	case frame := <-sub.C():
		assert.Equal(t, f.engine.Name(), frame.Engine)
		assert.ErrorIs(t, frame.Err, codec.ErrHeaderCRC)
		assert.NotEmpty(t, frame.Data)
	case <-time.After(time.Second):
		t.Fatal("no foreign frame published")
	}

	counters := f.engine.Counters()
	assert.Equal(t, uint64(1), counters.NonRmapPackets)
	assert.Equal(t, uint64(0), counters.RepliesReceived)
}

func TestNonRmapFrameIsForeignTraffic(t *testing.T) {
	foreign := topic.New[ForeignFrame]("test/foreign")
	sub := foreign.Subscribe()
	defer sub.Close()

	f := newFixture(t, 2, WithForeignTopic(foreign))
	require.NoError(t, f.link.InjectFrame([]byte{initiatorLA, 0x02, 0x00, 0x00}, transport.EOP))

	select {
	case frame := <-sub.C():
		assert.ErrorIs(t, frame.Err, codec.ErrNotRmap)
		assert.Equal(t, []byte{initiatorLA, 0x02, 0x00, 0x00}, frame.Data)
	case <-time.After(time.Second):
		t.Fatal("no foreign frame published")
	}
}

func TestWrongEndMarkerIsCounted(t *testing.T) {
	f := newFixture(t, 2)

	require.NoError(t, f.link.InjectFrame(replyFrame(t, true, initiatorLA, 0, nil), transport.EEP))

	require.Eventually(t, func() bool {
		return f.engine.Counters().WrongEndMarkers == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(0), f.engine.Counters().RepliesReceived)
}

func TestReplyToOtherInitiatorIsForeignTraffic(t *testing.T) {
	foreign := topic.New[ForeignFrame]("test/foreign")
	sub := foreign.Subscribe()
	defer sub.Close()

	f := newFixture(t, 2, WithForeignTopic(foreign))
	require.NoError(t, f.link.InjectFrame(replyFrame(t, true, 0x77, 0, nil), transport.EOP))

	select {
	case frame := <-sub.C():
		assert.ErrorIs(t, frame.Err, codec.ErrWrongInitiator)
		assert.Equal(t, byte(0x77), frame.Data[0])
	case <-time.After(time.Second):
		t.Fatal("no foreign frame published")
	}

	counters := f.engine.Counters()
	assert.Equal(t, uint64(1), counters.NonRmapPackets)
	assert.Equal(t, uint64(0), counters.ErroneousReplies)
	assert.Equal(t, uint64(0), counters.RepliesReceived)
	assert.Equal(t, uint64(0), counters.DiscardedReplies)
}

func TestUnexpectedCommandIsErroneous(t *testing.T) {
	f := newFixture(t, 2)

	cmd := &common.Packet{
		InitiatorLogicalAddress: targetLA,
		TargetLogicalAddress:    initiatorLA,
		DataLength:              1,
	}
	cmd.SetCommand()
	cmd.SetWrite()
	frame := make([]byte, cmd.FrameLength()+1)
	n, err := codec.EncodeCommand(cmd, []byte{1}, frame)
	require.NoError(t, err)
	require.NoError(t, f.link.InjectFrame(frame[:n], transport.EOP))

	require.Eventually(t, func() bool {
		return f.engine.Counters().ErroneousReplies == 1
	}, time.Second, 5*time.Millisecond)
}

func TestReplyOfWrongKindIsDiscarded(t *testing.T) {
	f := newFixture(t, 1)
	f.target.SetFaults(simtarget.Faults{DropReplies: true})

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.Read("X", Options{Increment: true}, 0, make([]byte, 1), 100*time.Millisecond)
		done <- err
	}()
	require.Eventually(t, func() bool { return f.engine.InFlight() == 1 }, time.Second, time.Millisecond)

	// a write reply carrying the read's id must not complete the read
	require.NoError(t, f.link.InjectFrame(replyFrame(t, true, initiatorLA, 0, nil), transport.EOP))

	assert.ErrorIs(t, <-done, common.ErrTimeout)
	assert.Equal(t, uint64(1), f.engine.Counters().DiscardedReplies)
}

// --------------------------------------------------------------------------
// Parameters and lifecycle
// --------------------------------------------------------------------------

func TestInvalidParameters(t *testing.T) {
	f := newFixture(t, 2)

	tests := []struct {
		name string
		call func() error
	}{
		{"unknown target", func() error {
			return f.engine.Write("nope", Options{}, 0, []byte{1}, time.Second)
		}},
		{"empty payload", func() error {
			return f.engine.Write("X", Options{}, 0, nil, time.Second)
		}},
		{"payload too large", func() error {
			return f.engine.Write("X", Options{}, 0, make([]byte, 257), time.Second)
		}},
		{"zero timeout", func() error {
			return f.engine.Write("X", Options{ReplyRequested: true}, 0, []byte{1}, 0)
		}},
		{"nil node", func() error {
			return f.engine.WriteNode(nil, Options{}, 0, []byte{1}, time.Second)
		}},
		{"empty destination", func() error {
			_, err := f.engine.Read("X", Options{}, 0, nil, time.Second)
			return err
		}},
		{"destination too large", func() error {
			_, err := f.engine.Read("X", Options{}, 0, make([]byte, 257), time.Second)
			return err
		}},
		{"negative timeout", func() error {
			_, err := f.engine.Read("X", Options{}, 0, make([]byte, 1), -time.Second)
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			assert.ErrorIs(t, err, common.ErrInvalidParameters)
			assert.Equal(t, common.ResultInvalidParameters, common.ResultOf(err))
		})
	}

	assert.Equal(t, uint64(0), f.engine.Counters().CommandsSent)
	assert.Equal(t, 0, f.engine.InFlight())
}

func TestReadWhileStopped(t *testing.T) {
	f := newFixture(t, 2)
	f.engine.Stop()
	assert.False(t, f.engine.Running())

	_, err := f.engine.Read("X", Options{}, 0, make([]byte, 1), time.Second)
	assert.ErrorIs(t, err, common.ErrStopped)

	require.NoError(t, f.engine.Start())
	assert.Error(t, f.engine.Start(), "second start must fail")
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	a, _, err := loopback.NewPair(common.DefaultTransportConfig())
	require.NoError(t, err)
	defer a.Close()

	config := common.DefaultInitiatorConfig()
	config.MaxTransactions = 0
	_, err = New(config, a)
	assert.Error(t, err)

	_, err = New(common.DefaultInitiatorConfig(), nil)
	assert.ErrorIs(t, err, common.ErrInvalidParameters)

	engine, err := New(common.DefaultInitiatorConfig(), a)
	require.NoError(t, err)
	assert.Contains(t, engine.Name(), "initiator-")
}

func TestReceiverReportsLiveness(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := heartbeat.NewMockSink(ctrl)

	a, _, err := loopback.NewPair(common.DefaultTransportConfig())
	require.NoError(t, err)
	defer a.Close()

	config := common.DefaultInitiatorConfig()
	config.Name = "liveness"
	engine, err := New(config, a, WithHeartbeat(sink))
	require.NoError(t, err)

	sink.EXPECT().Send("liveness", 2*config.ReceiveTimeout).MinTimes(1)
	sink.EXPECT().Suspend("liveness").Times(1)

	require.NoError(t, engine.Start())
	time.Sleep(3 * config.ReceiveTimeout)
	engine.Stop()
}

func TestWritePrometheus(t *testing.T) {
	f := newFixture(t, 2)
	require.NoError(t, f.engine.Write("X", Options{ReplyRequested: true}, 0, []byte{1}, 100*time.Millisecond))
	_ = f.engine.Write("nope", Options{}, 0, []byte{1}, 100*time.Millisecond)

	var out bytes.Buffer
	f.engine.WritePrometheus(&out)
	text := out.String()

	assert.Contains(t, text, fmt.Sprintf(`rmap_initiator_commands_sent_total{engine=%q} 1`, f.engine.Name()))
	assert.Contains(t, text, `result="success"`)
	assert.Contains(t, text, `result="invalid_parameters"`)
	assert.Contains(t, text, "rmap_initiator_transactions_in_flight")
	assert.Contains(t, text, "rmap_initiator_round_trip_seconds")

	assert.Contains(t, f.engine.Stats().String(), "write")
}
