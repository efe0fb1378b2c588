// Package editor 提供实时编辑使用的简历状态对象。
//
// Store 是显式持有的状态：会话创建它并按引用传给预览管线，
// 订阅者只会收到快照，不会拿到内部可变值。
package editor

import (
	"fmt"
	"sort"
	"sync"

	"civy/internal/resume"
)

// Store 持有一份可编辑的简历与版本号。
type Store struct {
	mu      sync.Mutex
	current resume.Resume
	version uint64
	saved   uint64
	nextSub int
	subs    map[int]func(resume.Resume)
}

// NewStore 以初始数据构造 Store，初始版本视为已保存。
func NewStore(initial resume.Resume) *Store {
	return &Store{
		current: initial.Clone(),
		subs:    make(map[int]func(resume.Resume)),
	}
}

// Snapshot 返回当前数据的深拷贝。
func (s *Store) Snapshot() resume.Resume {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// Version 返回单调递增的修改版本号。
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Dirty 表示存在尚未保存的修改。
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version != s.saved
}

// MarkSaved 记录 version 已持久化；旧版本的保存结果不会覆盖更新的标记。
func (s *Store) MarkSaved(version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if version > s.saved {
		s.saved = version
	}
}

// Subscribe 注册变更回调，返回取消函数。回调在 Apply 返回前按注册顺序同步调用。
func (s *Store) Subscribe(fn func(resume.Resume)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Apply 执行一次编辑操作，成功后通知订阅者。
// 结果未通过 Validate 时返回 *errcode.ValidationError，Store 保持不变。
func (s *Store) Apply(op Op) error {
	s.mu.Lock()
	next := s.current.Clone()
	if err := op.apply(&next); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("apply %s: %w", op.Kind, err)
	}
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("apply %s: %w", op.Kind, err)
	}
	s.current = next
	s.version++

	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(resume.Resume), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, s.subs[id])
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(next.Clone())
	}
	return nil
}
