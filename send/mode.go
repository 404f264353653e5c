package send

import "github.com/blue-rdma/rdma-driver/hash/xfnv"

// Mode selects how many send/meta-report channels the device is wired for,
// mirroring the hardware's 1/2/4-channel configuration modes.
type Mode uint8

const (
	Mode1Channel Mode = iota
	Mode2Channel
	Mode4Channel
)

// ChannelCount returns the number of channels for m, defaulting to 1 for
// an unrecognized value rather than panicking on a bad config read.
func (m Mode) ChannelCount() int {
	switch m {
	case Mode2Channel:
		return 2
	case Mode4Channel:
		return 4
	default:
		return 1
	}
}

// ChannelForQpn hashes qpn into [0, channelCount) so every chunk belonging
// to one QP always lands on the same channel, which is what keeps chunks
// for that QP in PSN order end to end.
func ChannelForQpn(qpn uint32, channelCount int) int {
	if channelCount <= 1 {
		return 0
	}
	return int(xfnv.HashU32(qpn) % uint64(channelCount))
}
