package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
)

// Broadcaster 是 service.Broadcaster 的 mock
type Broadcaster struct {
	mock.Mock
}

func (m *Broadcaster) BroadcastToRoom(ctx context.Context, roomID, event string, payload interface{}) error {
	args := m.Called(ctx, roomID, event, payload)
	return args.Error(0)
}

func (m *Broadcaster) AddConnectionToRoom(ctx context.Context, connID, roomID string) error {
	args := m.Called(ctx, connID, roomID)
	return args.Error(0)
}

func (m *Broadcaster) RemoveConnectionFromRoom(ctx context.Context, connID, roomID string) error {
	args := m.Called(ctx, connID, roomID)
	return args.Error(0)
}

// Broadcast 是一次被记录的推送
type Broadcast struct {
	RoomID  string
	Event   string
	Payload interface{}
}

// RecordingBroadcaster 记录所有推送，适合只关心推送内容和顺序的测试
type RecordingBroadcaster struct {
	mu     sync.Mutex
	events []Broadcast
	groups map[string]map[string]bool
}

func NewRecordingBroadcaster() *RecordingBroadcaster {
	return &RecordingBroadcaster{groups: make(map[string]map[string]bool)}
}

func (r *RecordingBroadcaster) BroadcastToRoom(_ context.Context, roomID, event string, payload interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Broadcast{RoomID: roomID, Event: event, Payload: payload})
	return nil
}

func (r *RecordingBroadcaster) AddConnectionToRoom(_ context.Context, connID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.groups[roomID] == nil {
		r.groups[roomID] = make(map[string]bool)
	}
	r.groups[roomID][connID] = true
	return nil
}

func (r *RecordingBroadcaster) RemoveConnectionFromRoom(_ context.Context, connID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groups[roomID], connID)
	return nil
}

// Events 返回指定事件名的推送，event 为空时返回全部。
func (r *RecordingBroadcaster) Events(event string) []Broadcast {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Broadcast
	for _, b := range r.events {
		if event == "" || b.Event == event {
			out = append(out, b)
		}
	}
	return out
}

// Last 返回指定事件名的最后一次推送。
func (r *RecordingBroadcaster) Last(event string) (Broadcast, bool) {
	all := r.Events(event)
	if len(all) == 0 {
		return Broadcast{}, false
	}
	return all[len(all)-1], true
}

// InGroup 报告连接是否在房间分组中。
func (r *RecordingBroadcaster) InGroup(roomID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.groups[roomID][connID]
}

// FlushRetrier 是 service.FlushRetrier 的 mock
type FlushRetrier struct {
	mock.Mock
}

func (m *FlushRetrier) EnqueueFlush(ctx context.Context, roomID string) error {
	args := m.Called(ctx, roomID)
	return args.Error(0)
}
