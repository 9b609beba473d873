package reconcile

import (
	"sort"
	"sync"

	"threadline/module/message"
)

// LocalStatus is the optimistic lifecycle of a locally-originated message.
// It is independent of recipient receipts: sending/sent/failed concerns
// the local copy, delivered/read concerns the other side.
type LocalStatus int

const (
	StatusSending LocalStatus = iota
	StatusSent
	StatusFailed
)

func (s LocalStatus) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusFailed:
		return "failed"
	default:
		return "sending"
	}
}

// Entry is one row of the client view: the message plus its local status.
type Entry struct {
	Msg    message.Message
	Status LocalStatus
}

// View is the reconciliation store for one thread: an ordered map keyed by
// client_msg_id that merges optimistic local writes, server confirmations
// and fan-out events into one de-duplicated, newest-first list.
type View struct {
	mu    sync.Mutex
	byCID map[string]*Entry
	order []*Entry // (created_at, server_id) descending
}

func NewView() *View {
	return &View{byCID: make(map[string]*Entry)}
}

// Merge is the pure reconciliation contract: field-wise merge of incoming
// into existing. Server-assigned fields (server id, created_at) win once
// present; zero-valued incoming fields never clobber populated ones;
// everything else is last-write-wins.
func Merge(existing, incoming Entry) Entry {
	out := existing
	in := &incoming.Msg
	if in.ServerID != 0 {
		out.Msg.ServerID = in.ServerID
	}
	if in.CreatedAtMS != 0 {
		out.Msg.CreatedAtMS = in.CreatedAtMS
	}
	if in.ThreadID != "" {
		out.Msg.ThreadID = in.ThreadID
	}
	if in.SenderID != "" {
		out.Msg.SenderID = in.SenderID
	}
	if in.Kind != 0 {
		out.Msg.Kind = in.Kind
	}
	if in.Body != "" {
		out.Msg.Body = in.Body
	}
	if len(in.Attachments) > 0 {
		out.Msg.Attachments = in.Attachments
	}
	if in.EditedAtMS != 0 {
		out.Msg.EditedAtMS = in.EditedAtMS
	}
	if in.DeletedAtMS != 0 {
		out.Msg.DeletedAtMS = in.DeletedAtMS
		out.Msg.Body = ""
		out.Msg.Attachments = nil
	}
	out.Status = mergeStatus(out.Status, incoming.Status)
	return out
}

// mergeStatus: sent is terminal-good and wins over everything (a failed
// entry is revived by a late confirmation); failed beats sending; a merge
// never regresses to sending.
func mergeStatus(cur, in LocalStatus) LocalStatus {
	if cur == StatusSent || in == StatusSent {
		return StatusSent
	}
	if in == StatusFailed {
		return StatusFailed
	}
	return cur
}

// UpsertLocal merges a locally-originated (optimistic) entry into the view
// and re-sorts. The first upsert for a client_msg_id creates the row with
// status sending.
func (v *View) UpsertLocal(partial Entry) {
	cid := partial.Msg.ClientMsgID
	if cid == "" {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if ex, ok := v.byCID[cid]; ok {
		merged := Merge(*ex, partial)
		*ex = merged
	} else {
		e := partial
		e.Msg.ClientMsgID = cid
		v.byCID[cid] = &e
		v.order = append(v.order, &e)
	}
	v.resort()
}

// AddIncoming applies a fan-out message. The anti-duplication rule: if an
// entry with this client_msg_id already exists locally (the sender's own
// optimistic copy being echoed back), the insert is a no-op and the echo
// merely confirms it. Returns true when a new row appeared.
func (v *View) AddIncoming(m *message.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if ex, ok := v.byCID[m.ClientMsgID]; ok {
		merged := Merge(*ex, Entry{Msg: *m, Status: StatusSent})
		*ex = merged
		v.resort()
		return false
	}
	e := &Entry{Msg: *m, Status: StatusSent}
	v.byCID[m.ClientMsgID] = e
	v.order = append(v.order, e)
	v.resort()
	return true
}

// Confirm merges the server's response to our own send and marks it sent.
func (v *View) Confirm(m *message.Message) {
	v.UpsertLocal(Entry{Msg: *m, Status: StatusSent})
}

// Fail marks a local entry terminally failed (outbox gave up).
func (v *View) Fail(clientMsgID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if ex, ok := v.byCID[clientMsgID]; ok && ex.Status != StatusSent {
		ex.Status = StatusFailed
	}
}

// ApplyUpdate folds a fan-out update/delete event into the matching entry,
// if present.
func (v *View) ApplyUpdate(m *message.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if ex, ok := v.byCID[m.ClientMsgID]; ok {
		merged := Merge(*ex, Entry{Msg: *m, Status: ex.Status})
		*ex = merged
		v.resort()
	}
}

// Snapshot returns the rendered order: newest first, the reverse of the
// server's ascending cursor order, because the client renders that way.
func (v *View) Snapshot() []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Entry, len(v.order))
	for i, e := range v.order {
		out[i] = *e
	}
	return out
}

// Get looks up one entry by client_msg_id.
func (v *View) Get(clientMsgID string) (Entry, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if e, ok := v.byCID[clientMsgID]; ok {
		return *e, true
	}
	return Entry{}, false
}

func (v *View) resort() {
	sort.SliceStable(v.order, func(i, j int) bool {
		a, b := &v.order[i].Msg, &v.order[j].Msg
		if a.CreatedAtMS != b.CreatedAtMS {
			return a.CreatedAtMS > b.CreatedAtMS
		}
		return a.ServerID > b.ServerID
	})
}
