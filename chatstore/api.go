package chatstore

import (
	pb "github.com/mqy/minichat/proto"
)

// TodaySection is the label the server files live messages under.
const TodaySection = "Today"

// IStore is the message store of one conversation.
// A message id appears at most once across all sections.
type IStore interface {
	// Upsert replaces the message with the same id in place, preserving its section;
	// otherwise it appends to `section`, creating the section if absent.
	// Returns true when an existing message was replaced.
	Upsert(section string, msg *pb.Message) bool

	// ReplaceAll discards every section and installs the snapshot verbatim.
	ReplaceAll(snapshot pb.Sections)

	// Remove installs the server's post-delete view after deleting `id`.
	Remove(id int64, postDelete pb.Sections)

	// Sections returns a deep copy of the current sections in order.
	Sections() pb.Sections

	Get(id int64) (*pb.Message, bool)
	Len() int
}
