package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/dharsanguruparan/VaultSign/internal/model"
)

type seqTask struct {
	seq int64
	v   model.Task
}

type seqFile struct {
	seq int64
	v   model.File
}

type seqRecipient struct {
	seq int64
	v   model.Recipient
}

type seqPosition struct {
	seq int64
	v   model.SignaturePosition
}

// Memory keeps every entity in maps guarded by an RWMutex. Values are copied
// in and out so callers never share memory with the store. Task locks are
// separate mutexes so that code running under WithTaskLock can still use the
// store.
type Memory struct {
	mu         sync.RWMutex
	seq        int64
	tasks      map[string]*seqTask
	files      map[string]*seqFile
	recipients map[string]*seqRecipient
	positions  map[string]*seqPosition

	lockMu    sync.Mutex
	taskLocks map[string]*sync.Mutex
}

// NewMemory constructs an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		tasks:      make(map[string]*seqTask),
		files:      make(map[string]*seqFile),
		recipients: make(map[string]*seqRecipient),
		positions:  make(map[string]*seqPosition),
		taskLocks:  make(map[string]*sync.Mutex),
	}
}

func (m *Memory) next() int64 {
	m.seq++
	return m.seq
}

func (m *Memory) CreateTask(ctx context.Context, task *model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; ok {
		return ErrDuplicate
	}
	m.tasks[task.ID] = &seqTask{seq: m.next(), v: *task}
	return nil
}

func (m *Memory) GetTask(ctx context.Context, id string) (*model.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := rec.v
	return &out, nil
}

func (m *Memory) ListTasks(ctx context.Context, ownerID string) ([]*model.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var recs []*seqTask
	for _, rec := range m.tasks {
		if rec.v.OwnerID == ownerID {
			recs = append(recs, rec)
		}
	}
	// newest first, matching the Postgres ORDER BY created_at DESC
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq > recs[j].seq })
	out := make([]*model.Task, 0, len(recs))
	for _, rec := range recs {
		v := rec.v
		out = append(out, &v)
	}
	return out, nil
}

func (m *Memory) UpdateTask(ctx context.Context, task *model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tasks[task.ID]
	if !ok {
		return ErrNotFound
	}
	rec.v = *task
	return nil
}

func (m *Memory) DeleteTask(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(m.tasks, id)
	for fid, f := range m.files {
		if f.v.TaskID == id {
			m.deleteFileLocked(fid)
		}
	}
	for rid, r := range m.recipients {
		if r.v.TaskID == id {
			m.deleteRecipientLocked(rid)
		}
	}
	return nil
}

func (m *Memory) CreateFile(ctx context.Context, file *model.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[file.TaskID]; !ok {
		return ErrNotFound
	}
	for _, f := range m.files {
		if f.v.TaskID == file.TaskID && f.v.OrderIndex == file.OrderIndex {
			return ErrDuplicate
		}
	}
	m.files[file.ID] = &seqFile{seq: m.next(), v: *file}
	return nil
}

func (m *Memory) GetFile(ctx context.Context, id string) (*model.File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := rec.v
	return &out, nil
}

func (m *Memory) ListFiles(ctx context.Context, taskID string) ([]*model.File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.File
	for _, rec := range m.files {
		if rec.v.TaskID == taskID {
			v := rec.v
			out = append(out, &v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

func (m *Memory) UpdateFile(ctx context.Context, file *model.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.files[file.ID]
	if !ok {
		return ErrNotFound
	}
	for id, f := range m.files {
		if id != file.ID && f.v.TaskID == file.TaskID && f.v.OrderIndex == file.OrderIndex {
			return ErrDuplicate
		}
	}
	rec.v = *file
	return nil
}

func (m *Memory) DeleteFile(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[id]; !ok {
		return ErrNotFound
	}
	m.deleteFileLocked(id)
	return nil
}

func (m *Memory) deleteFileLocked(id string) {
	delete(m.files, id)
	for pid, p := range m.positions {
		if p.v.FileID == id {
			delete(m.positions, pid)
		}
	}
}

func (m *Memory) NextFileOrder(ctx context.Context, taskID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	next := 0
	for _, f := range m.files {
		if f.v.TaskID == taskID && f.v.OrderIndex >= next {
			next = f.v.OrderIndex + 1
		}
	}
	return next, nil
}

func (m *Memory) CreateRecipient(ctx context.Context, r *model.Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[r.TaskID]; !ok {
		return ErrNotFound
	}
	if m.emailTakenLocked(r.TaskID, r.Email, r.ID) {
		return ErrDuplicate
	}
	m.recipients[r.ID] = &seqRecipient{seq: m.next(), v: *r}
	return nil
}

func (m *Memory) emailTakenLocked(taskID, email, exceptID string) bool {
	for id, rec := range m.recipients {
		if id != exceptID && rec.v.TaskID == taskID && rec.v.Email == email {
			return true
		}
	}
	return false
}

func (m *Memory) GetRecipient(ctx context.Context, id string) (*model.Recipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recipients[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := rec.v
	return &out, nil
}

func (m *Memory) GetRecipientByToken(ctx context.Context, token string) (*model.Recipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.recipients {
		if rec.v.Token == token {
			out := rec.v
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListRecipients(ctx context.Context, taskID string) ([]*model.Recipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var recs []*seqRecipient
	for _, rec := range m.recipients {
		if rec.v.TaskID == taskID {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
	out := make([]*model.Recipient, 0, len(recs))
	for _, rec := range recs {
		v := rec.v
		out = append(out, &v)
	}
	return out, nil
}

func (m *Memory) UpdateRecipient(ctx context.Context, r *model.Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recipients[r.ID]
	if !ok {
		return ErrNotFound
	}
	if m.emailTakenLocked(r.TaskID, r.Email, r.ID) {
		return ErrDuplicate
	}
	rec.v = *r
	return nil
}

func (m *Memory) DeleteRecipient(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recipients[id]; !ok {
		return ErrNotFound
	}
	m.deleteRecipientLocked(id)
	return nil
}

func (m *Memory) deleteRecipientLocked(id string) {
	delete(m.recipients, id)
	for pid, p := range m.positions {
		if p.v.RecipientID == id {
			delete(m.positions, pid)
		}
	}
}

func (m *Memory) CreatePosition(ctx context.Context, p *model.SignaturePosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recipients[p.RecipientID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.files[p.FileID]; !ok {
		return ErrNotFound
	}
	m.positions[p.ID] = &seqPosition{seq: m.next(), v: *p}
	return nil
}

func (m *Memory) GetPosition(ctx context.Context, id string) (*model.SignaturePosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.positions[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := rec.v
	return &out, nil
}

func (m *Memory) listPositions(match func(*model.SignaturePosition) bool) []*model.SignaturePosition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var recs []*seqPosition
	for _, rec := range m.positions {
		if match(&rec.v) {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
	out := make([]*model.SignaturePosition, 0, len(recs))
	for _, rec := range recs {
		v := rec.v
		out = append(out, &v)
	}
	return out
}

func (m *Memory) ListPositionsByRecipient(ctx context.Context, recipientID string) ([]*model.SignaturePosition, error) {
	return m.listPositions(func(p *model.SignaturePosition) bool { return p.RecipientID == recipientID }), nil
}

func (m *Memory) ListPositionsByFile(ctx context.Context, fileID string) ([]*model.SignaturePosition, error) {
	return m.listPositions(func(p *model.SignaturePosition) bool { return p.FileID == fileID }), nil
}

func (m *Memory) UpdatePosition(ctx context.Context, p *model.SignaturePosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.positions[p.ID]
	if !ok {
		return ErrNotFound
	}
	rec.v = *p
	return nil
}

func (m *Memory) DeletePosition(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.positions[id]; !ok {
		return ErrNotFound
	}
	delete(m.positions, id)
	return nil
}

func (m *Memory) taskLock(id string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	l, ok := m.taskLocks[id]
	if !ok {
		l = &sync.Mutex{}
		m.taskLocks[id] = l
	}
	return l
}

// WithTaskLock serializes fn with every other WithTaskLock call for the same
// task. Writes made by fn are applied immediately; there is no rollback.
func (m *Memory) WithTaskLock(ctx context.Context, taskID string, fn TxFunc) error {
	l := m.taskLock(taskID)
	l.Lock()
	defer l.Unlock()
	task, err := m.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	return fn(ctx, m, task)
}
