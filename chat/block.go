package chat

import (
	pb "github.com/mqy/minichat/proto"
)

// BlockState is the block and presence view of one conversation.
type BlockState struct {
	SelfBlockedPeer bool
	PeerBlockedSelf bool
	PeerOnline      bool
}

// ChatEnabled is false once the peer blocked the current user.
func (b BlockState) ChatEnabled() bool {
	return !b.PeerBlockedSelf
}

// applyProfile maps the server profile flags: `blocked` means the peer
// blocked us, `other_blocked` means we blocked the peer.
func (b *BlockState) applyProfile(p *pb.Profile) {
	if p == nil {
		return
	}
	b.PeerBlockedSelf = p.Blocked
	b.SelfBlockedPeer = p.OtherBlocked
}
