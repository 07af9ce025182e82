package chatstore

import (
	"sync"

	"github.com/golang/glog"

	pb "github.com/mqy/minichat/proto"
)

// Store is the in-memory IStore. It is safe for concurrent use, although a
// conversation only mutates it from its dispatch loop and its send pipeline.
type Store struct {
	sync.RWMutex

	labels   []string                 // section order
	sections map[string][]*pb.Message // label -> messages in arrival order
	index    map[int64]string         // message id -> label
}

func New() *Store {
	s := &Store{}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.labels = nil
	s.sections = make(map[string][]*pb.Message)
	s.index = make(map[int64]string)
}

func (s *Store) Upsert(section string, msg *pb.Message) bool {
	if msg == nil {
		return false
	}
	s.Lock()
	defer s.Unlock()
	return s.upsert(section, msg.Clone())
}

// upsert requires the write lock. Id 0 has no identity and is always appended.
func (s *Store) upsert(section string, msg *pb.Message) bool {
	if msg.Id != 0 {
		if label, ok := s.index[msg.Id]; ok {
			msgs := s.sections[label]
			for i, m := range msgs {
				if m.Id == msg.Id {
					msgs[i] = msg
					return true
				}
			}
			// index out of sync, should not happen.
			glog.Errorf("chatstore: id %d indexed under %q but not found", msg.Id, label)
			delete(s.index, msg.Id)
		}
	}

	if _, ok := s.sections[section]; !ok {
		s.labels = append(s.labels, section)
	}
	s.sections[section] = append(s.sections[section], msg)
	if msg.Id != 0 {
		s.index[msg.Id] = section
	}
	return false
}

func (s *Store) ReplaceAll(snapshot pb.Sections) {
	s.Lock()
	defer s.Unlock()
	s.install(snapshot)
}

// install requires the write lock. A repeated id inside the snapshot merges into its
// first occurrence so the one-entry-per-id invariant survives a sloppy server.
func (s *Store) install(snapshot pb.Sections) {
	s.reset()
	for _, sec := range snapshot {
		if _, ok := s.sections[sec.Label]; !ok {
			s.labels = append(s.labels, sec.Label)
			s.sections[sec.Label] = []*pb.Message{}
		}
		for _, m := range sec.Messages {
			if m == nil {
				continue
			}
			if s.upsert(sec.Label, m.Clone()) {
				glog.V(2).Infof("chatstore: snapshot repeats message id %d", m.Id)
			}
		}
	}
}

func (s *Store) Remove(id int64, postDelete pb.Sections) {
	s.Lock()
	defer s.Unlock()
	s.install(postDelete)
	if label, ok := s.index[id]; ok {
		glog.Warningf("chatstore: deleted message %d still present in section %q", id, label)
	}
}

func (s *Store) Sections() pb.Sections {
	s.RLock()
	defer s.RUnlock()

	out := make(pb.Sections, 0, len(s.labels))
	for _, label := range s.labels {
		msgs := s.sections[label]
		cp := make([]*pb.Message, 0, len(msgs))
		for _, m := range msgs {
			cp = append(cp, m.Clone())
		}
		out = append(out, pb.Section{Label: label, Messages: cp})
	}
	return out
}

func (s *Store) Get(id int64) (*pb.Message, bool) {
	s.RLock()
	defer s.RUnlock()
	label, ok := s.index[id]
	if !ok {
		return nil, false
	}
	for _, m := range s.sections[label] {
		if m.Id == id {
			return m.Clone(), true
		}
	}
	return nil, false
}

func (s *Store) Len() int {
	s.RLock()
	defer s.RUnlock()
	n := 0
	for _, msgs := range s.sections {
		n += len(msgs)
	}
	return n
}
