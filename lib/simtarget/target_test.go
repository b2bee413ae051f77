package simtarget

import (
	"testing"
	"time"

	"github.com/15201047795/outpost-core/rmap/codec"
	"github.com/15201047795/outpost-core/rmap/common"
	"github.com/15201047795/outpost-core/rmap/transport"
	"github.com/15201047795/outpost-core/rmap/transport/loopback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	targetLA    = 0x42
	targetKey   = 0x20
	initiatorLA = 0xFE
)

func setup(t *testing.T) (*Target, *loopback.Endpoint) {
	t.Helper()

	initiatorSide, targetSide, err := loopback.NewPair(common.DefaultTransportConfig())
	require.NoError(t, err)

	config := common.DefaultTargetConfig()
	config.LogicalAddress = targetLA
	config.Key = targetKey
	config.MemorySize = 1 << 16

	target, err := New(config)
	require.NoError(t, err)
	target.Go(targetSide)

	t.Cleanup(func() {
		initiatorSide.Close()
		target.Close()
	})
	return target, initiatorSide
}

func command(write bool, address uint32, length uint32) *common.Packet {
	cmd := &common.Packet{
		TargetPath:              []byte{0x01, 0x03},
		InitiatorLogicalAddress: initiatorLA,
		TargetLogicalAddress:    targetLA,
		Key:                     targetKey,
		Address:                 address,
		TransactionID:           77,
		DataLength:              length,
	}
	cmd.SetCommand()
	if write {
		cmd.SetWrite()
	}
	cmd.SetIncrement(true)
	cmd.SetReplyRequested(true)
	return cmd
}

// exchange sends a command and returns the decoded reply, or nil if none
// arrived within 200ms
func exchange(t *testing.T, ep *loopback.Endpoint, cmd *common.Packet, data []byte) *common.Packet {
	t.Helper()

	buf, err := ep.RequestBuffer(time.Second)
	require.NoError(t, err)
	frame := buf.Data[:cap(buf.Data)]
	n, err := codec.EncodeCommand(cmd, data, frame)
	require.NoError(t, err)
	buf.Data = frame[:n]
	require.NoError(t, ep.Send(buf, time.Second))

	return receiveReply(t, ep)
}

// sendRaw sends an already encoded frame
func sendRaw(t *testing.T, ep *loopback.Endpoint, frame []byte) {
	t.Helper()

	buf, err := ep.RequestBuffer(time.Second)
	require.NoError(t, err)
	require.NoError(t, buf.Resize(len(frame)))
	copy(buf.Data, frame)
	require.NoError(t, ep.Send(buf, time.Second))
}

func receiveReply(t *testing.T, ep *loopback.Endpoint) *common.Packet {
	t.Helper()

	buf, err := ep.Receive(200 * time.Millisecond)
	if err == transport.ErrTimeout {
		return nil
	}
	require.NoError(t, err)
	defer ep.ReleaseBuffer(buf)

	var reply common.Packet
	require.NoError(t, codec.DecodeReply(buf.Data, &reply, initiatorLA))
	reply.Data = append([]byte(nil), reply.Data...)
	return &reply
}

func TestWriteThenRead(t *testing.T) {
	target, ep := setup(t)

	data := []byte{0xCA, 0xFE, 0xBA, 0xBE}
	reply := exchange(t, ep, command(true, 0x1000, 4), data)
	require.NotNil(t, reply)
	assert.Equal(t, common.StatusSuccess, reply.Status)
	assert.True(t, reply.IsWrite())
	assert.Equal(t, uint16(77), reply.TransactionID)
	assert.Equal(t, byte(targetLA), reply.TargetLogicalAddress)
	assert.Equal(t, data, target.Peek(0, 0x1000, 4))

	reply = exchange(t, ep, command(false, 0x1000, 4), nil)
	require.NotNil(t, reply)
	assert.Equal(t, common.StatusSuccess, reply.Status)
	assert.Equal(t, uint32(4), reply.DataLength)
	assert.Equal(t, data, reply.Data)

	stats := target.Stats()
	assert.Equal(t, uint64(2), stats.Commands)
	assert.Equal(t, uint64(2), stats.Replies)
}

func TestReadUntouchedMemoryIsZero(t *testing.T) {
	_, ep := setup(t)

	reply := exchange(t, ep, command(false, 0x2000, 8), nil)
	require.NotNil(t, reply)
	assert.Equal(t, make([]byte, 8), reply.Data)
}

func TestNonIncrementingAccess(t *testing.T) {
	target, ep := setup(t)

	cmd := command(true, 0x10, 3)
	cmd.SetIncrement(false)
	reply := exchange(t, ep, cmd, []byte{1, 2, 3})
	require.NotNil(t, reply)

	// every byte went to the same register, the last one wins
	assert.Equal(t, []byte{3, 0, 0}, target.Peek(0, 0x10, 3))
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(cmd *common.Packet)
		want   common.Status
	}{
		{"wrong key", func(cmd *common.Packet) { cmd.Key = 0x99 }, common.StatusInvalidKey},
		{"wrong logical address", func(cmd *common.Packet) { cmd.TargetLogicalAddress = 0x50 }, common.StatusInvalidLogicalAddress},
		{"out of range", func(cmd *common.Packet) { cmd.Address = 0xFFFF }, common.StatusNotImplemented},
		{"read modify write", func(cmd *common.Packet) { cmd.SetVerify(true) }, common.StatusNotImplemented},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ep := setup(t)

			cmd := command(false, 0x100, 4)
			tt.modify(cmd)
			reply := exchange(t, ep, cmd, nil)
			require.NotNil(t, reply)
			assert.Equal(t, tt.want, reply.Status)
			assert.Equal(t, uint32(0), reply.DataLength)
		})
	}
}

func TestDataCRCError(t *testing.T) {
	target, ep := setup(t)

	cmd := command(true, 0x100, 2)
	cmd.TargetPath = nil
	frame := make([]byte, 64)
	n, err := codec.EncodeCommand(cmd, []byte{0x01, 0x02}, frame)
	require.NoError(t, err)
	frame[n-1] ^= 0xFF

	sendRaw(t, ep, frame[:n])
	reply := receiveReply(t, ep)
	require.NotNil(t, reply)
	assert.Equal(t, common.StatusInvalidDataCRC, reply.Status)
	assert.Equal(t, []byte{0, 0}, target.Peek(0, 0x100, 2))
}

func TestHeaderCRCErrorIsNotAnswered(t *testing.T) {
	target, ep := setup(t)

	cmd := command(false, 0x100, 4)
	cmd.TargetPath = nil
	frame := make([]byte, 64)
	n, err := codec.EncodeCommand(cmd, nil, frame)
	require.NoError(t, err)
	frame[n-1] ^= 0xFF

	sendRaw(t, ep, frame[:n])
	assert.Nil(t, receiveReply(t, ep))
	assert.Equal(t, uint64(1), target.Stats().Discarded)
}

func TestNoReplyRequested(t *testing.T) {
	target, ep := setup(t)

	cmd := command(true, 0x300, 1)
	cmd.SetReplyRequested(false)
	assert.Nil(t, exchange(t, ep, cmd, []byte{0x55}))
	assert.Equal(t, []byte{0x55}, target.Peek(0, 0x300, 1))
}

func TestFaultInjection(t *testing.T) {
	t.Run("drop", func(t *testing.T) {
		target, ep := setup(t)
		target.SetFaults(Faults{DropReplies: true})
		assert.Nil(t, exchange(t, ep, command(false, 0, 4), nil))
	})

	t.Run("force status", func(t *testing.T) {
		target, ep := setup(t)
		target.SetFaults(Faults{OverrideStatus: true, ForceStatus: common.StatusGeneralError})
		reply := exchange(t, ep, command(true, 0, 1), []byte{1})
		require.NotNil(t, reply)
		assert.Equal(t, common.StatusGeneralError, reply.Status)
	})

	t.Run("override length", func(t *testing.T) {
		target, ep := setup(t)
		target.Poke(0, 0, []byte{9, 8, 7, 6, 5, 4, 3, 2})
		target.SetFaults(Faults{OverrideLength: true, DataLength: 4})
		reply := exchange(t, ep, command(false, 0, 8), nil)
		require.NotNil(t, reply)
		assert.Equal(t, uint32(4), reply.DataLength)
		assert.Equal(t, []byte{9, 8, 7, 6}, reply.Data)
	})

	t.Run("transaction id delta", func(t *testing.T) {
		target, ep := setup(t)
		target.SetFaults(Faults{TransactionIDDelta: 3})
		reply := exchange(t, ep, command(false, 0, 1), nil)
		require.NotNil(t, reply)
		assert.Equal(t, uint16(80), reply.TransactionID)
	})

	t.Run("corrupt crc", func(t *testing.T) {
		target, ep := setup(t)
		target.SetFaults(Faults{CorruptHeaderCRC: true})
		sendRaw(t, ep, mustEncode(t, command(false, 0, 1)))

		buf, err := ep.Receive(time.Second)
		require.NoError(t, err)
		defer ep.ReleaseBuffer(buf)
		var reply common.Packet
		assert.ErrorIs(t, codec.Decode(buf.Data, &reply), codec.ErrHeaderCRC)
	})

	t.Run("delay", func(t *testing.T) {
		target, ep := setup(t)
		target.SetFaults(Faults{Delay: 50 * time.Millisecond})
		start := time.Now()
		reply := exchange(t, ep, command(false, 0, 1), nil)
		require.NotNil(t, reply)
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	})
}

func mustEncode(t *testing.T, cmd *common.Packet) []byte {
	t.Helper()
	frame := make([]byte, cmd.FrameLength())
	n, err := codec.EncodeCommand(cmd, nil, frame)
	require.NoError(t, err)
	return frame[:n]
}

func TestCloseWaitsForServeLoops(t *testing.T) {
	a, b, err := loopback.NewPair(common.DefaultTransportConfig())
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	config := common.DefaultTargetConfig()
	config.LogicalAddress = targetLA
	config.Key = targetKey
	config.ReceiveTimeout = 50 * time.Millisecond
	target, err := New(config)
	require.NoError(t, err)

	loops := make([]<-chan error, 8)
	for i := range loops {
		loops[i] = target.Go(b)
	}
	target.Close()

	for i, errc := range loops {
		select {
		case err := <-errc:
			assert.NoError(t, err)
		default:
			t.Fatalf("loop %d still running after Close", i)
		}
	}

	// serving a closed target returns immediately
	assert.NoError(t, target.Serve(b))
	assert.NoError(t, <-target.Go(b))
	target.Close()
}
