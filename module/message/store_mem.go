package message

import (
	"context"
	"sort"
	"sync"

	"threadline/tools/errs"
)

// MemStore implements Store in memory, with the same uniqueness and
// watermark semantics as PgStore. Single-process only; used by tests and
// by client-side engines that want the full contract without a database.
type MemStore struct {
	mu      sync.RWMutex
	threads map[string]*Thread
	msgs    map[string][]*Message          // thread -> ascending (created_at, server_id)
	byCID   map[string]*Message            // thread|client_msg_id
	recs    map[string]map[int64]*Receipt  // recipient -> msgID -> receipt
	marks   map[string]int64               // thread|user -> last_read_msg_id
	mutes   map[string]muteRec             // thread|user
	blocks  map[string]struct{}            // blocker|blocked
}

type muteRec struct {
	muted   bool
	untilMS int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		threads: make(map[string]*Thread),
		msgs:    make(map[string][]*Message),
		byCID:   make(map[string]*Message),
		recs:    make(map[string]map[int64]*Receipt),
		marks:   make(map[string]int64),
		mutes:   make(map[string]muteRec),
		blocks:  make(map[string]struct{}),
	}
}

func keyCID(thread, cid string) string   { return thread + "|" + cid }
func keyMark(thread, user string) string { return thread + "|" + user }

func (s *MemStore) CreateThread(_ context.Context, t *Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[t.ID]; ok {
		return nil
	}
	cp := *t
	cp.Participants = append([]string(nil), t.Participants...)
	s.threads[t.ID] = &cp
	return nil
}

func (s *MemStore) GetThread(_ context.Context, id string) (*Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, errs.ErrNotFound.WithDetail("thread " + id)
	}
	cp := *t
	cp.Participants = append([]string(nil), t.Participants...)
	return &cp, nil
}

// Block records a one-directional block; test setup helper.
func (s *MemStore) Block(blocker, blocked string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[blocker+"|"+blocked] = struct{}{}
}

func (s *MemStore) Blocked(_ context.Context, a, b string) (bool, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ab := s.blocks[a+"|"+b]
	_, ba := s.blocks[b+"|"+a]
	return ab, ba, nil
}

func (s *MemStore) InsertMessage(_ context.Context, m *Message) (*Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := keyCID(m.ThreadID, m.ClientMsgID)
	if existing, ok := s.byCID[k]; ok {
		cp := *existing
		return &cp, false, nil
	}
	cp := *m
	cp.Attachments = append([]Attachment(nil), m.Attachments...)
	s.byCID[k] = &cp
	lst := append(s.msgs[m.ThreadID], &cp)
	sort.SliceStable(lst, func(i, j int) bool {
		return CompareMessages(lst[i], lst[j]) < 0
	})
	s.msgs[m.ThreadID] = lst
	out := cp
	return &out, true, nil
}

func (s *MemStore) PageMessages(_ context.Context, threadID string, cur *Cursor, dir Direction, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.msgs[threadID]

	var out []*Message
	switch {
	case dir == Older && cur == nil:
		start := len(all) - limit
		if start < 0 {
			start = 0
		}
		out = all[start:]
	case dir == Older:
		// strictly before cursor, the page immediately preceding it
		end := sort.Search(len(all), func(i int) bool {
			return CursorOf(all[i]).Compare(*cur) >= 0
		})
		start := end - limit
		if start < 0 {
			start = 0
		}
		out = all[start:end]
	case cur == nil:
		if len(all) > limit {
			out = all[:limit]
		} else {
			out = all
		}
	default:
		start := sort.Search(len(all), func(i int) bool {
			return CursorOf(all[i]).Compare(*cur) > 0
		})
		end := start + limit
		if end > len(all) {
			end = len(all)
		}
		out = all[start:end]
	}

	cps := make([]*Message, len(out))
	for i, m := range out {
		cp := *m
		cps[i] = &cp
	}
	return cps, nil
}

func (s *MemStore) GetMessage(_ context.Context, threadID string, serverID int64) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.msgs[threadID] {
		if m.ServerID == serverID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound.WithDetail("message")
}

func (s *MemStore) EditMessage(_ context.Context, threadID string, serverID int64, body string, nowMS int64) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.msgs[threadID] {
		if m.ServerID == serverID && !m.Deleted() {
			m.Body = body
			m.EditedAtMS = nowMS
			cp := *m
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound.WithDetail("message")
}

func (s *MemStore) DeleteMessage(_ context.Context, threadID string, serverID int64, nowMS int64) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.msgs[threadID] {
		if m.ServerID == serverID && !m.Deleted() {
			m.Body = ""
			m.Attachments = nil
			m.DeletedAtMS = nowMS
			cp := *m
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound.WithDetail("message")
}

func (s *MemStore) receipt(msgID int64, recipient string) *Receipt {
	byUser := s.recs[recipient]
	if byUser == nil {
		byUser = make(map[int64]*Receipt)
		s.recs[recipient] = byUser
	}
	r := byUser[msgID]
	if r == nil {
		r = &Receipt{MessageID: msgID, RecipientID: recipient}
		byUser[msgID] = r
	}
	return r
}

func (s *MemStore) MarkDelivered(_ context.Context, threadID, recipientID string, msgIDs []int64, nowMS int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range msgIDs {
		s.receipt(id, recipientID).Advance(ReceiptDelivered, nowMS)
	}
	return nil
}

func (s *MemStore) MarkRead(_ context.Context, threadID, recipientID string, upTo int64, nowMS int64) (int64, []int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok || !t.HasParticipant(recipientID) {
		return 0, nil, errs.ErrNotParticipant.WithDetail(recipientID)
	}
	mk := keyMark(threadID, recipientID)
	last := s.marks[mk]
	if upTo <= last {
		return last, nil, nil
	}
	var ids []int64
	for _, m := range s.msgs[threadID] {
		if m.ServerID > last && m.ServerID <= upTo && m.SenderID != recipientID {
			s.receipt(m.ServerID, recipientID).Advance(ReceiptRead, nowMS)
			ids = append(ids, m.ServerID)
		}
	}
	s.marks[mk] = upTo
	return upTo, ids, nil
}

func (s *MemStore) GetReceipt(_ context.Context, messageID int64, recipientID string) (*Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if byUser := s.recs[recipientID]; byUser != nil {
		if r, ok := byUser[messageID]; ok {
			cp := *r
			return &cp, nil
		}
	}
	return &Receipt{MessageID: messageID, RecipientID: recipientID}, nil
}

func (s *MemStore) ListThreads(_ context.Context, userID string, limit int) ([]*ThreadSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ThreadSummary
	for _, t := range s.threads {
		if !t.HasParticipant(userID) {
			continue
		}
		cp := *t
		cp.Participants = append([]string(nil), t.Participants...)
		sum := &ThreadSummary{Thread: &cp}
		sum.LastReadMsgID = s.marks[keyMark(t.ID, userID)]
		if mr, ok := s.mutes[keyMark(t.ID, userID)]; ok {
			sum.Muted = mr.muted
			sum.MutedUntilMS = mr.untilMS
		}
		msgs := s.msgs[t.ID]
		if len(msgs) > 0 {
			last := *msgs[len(msgs)-1]
			sum.LastMessage = &last
		}
		for _, m := range msgs {
			if m.ServerID > sum.LastReadMsgID && m.SenderID != userID && !m.Deleted() {
				sum.UnreadCount++
			}
		}
		out = append(out, sum)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return activityCursor(out[i]).Compare(activityCursor(out[j])) > 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) SetThreadMute(_ context.Context, threadID, userID string, muted bool, untilMS int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok || !t.HasParticipant(userID) {
		return errs.ErrNotParticipant.WithDetail(userID)
	}
	s.mutes[keyMark(threadID, userID)] = muteRec{muted: muted, untilMS: untilMS}
	return nil
}

func (s *MemStore) GetThreadMute(_ context.Context, threadID, userID string) (bool, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[threadID]
	if !ok || !t.HasParticipant(userID) {
		return false, 0, errs.ErrNotParticipant.WithDetail(userID)
	}
	mr := s.mutes[keyMark(threadID, userID)]
	return mr.muted, mr.untilMS, nil
}
