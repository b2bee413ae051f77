package initiator

import (
	"time"

	"github.com/15201047795/outpost-core/lib/topic"
	"github.com/rs/xid"
)

// ForeignFrame is a received frame that could not be decoded as an RMAP
// packet or is a reply addressed to another initiator
type ForeignFrame struct {
	ID       xid.ID
	Engine   string
	Received time.Time
	Data     []byte // copy of the frame, owned by the subscriber
	Err      error  // why decoding failed
}

// NonRmapPackets is the topic every engine publishes foreign frames to unless
// it was given its own topic with WithForeignTopic
var NonRmapPackets = topic.New[ForeignFrame]("rmap/non-rmap-packets")
