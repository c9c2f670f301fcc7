// Package jobs は非同期の PDF 圧縮ジョブと進捗管理を提供します。
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store はジョブ状態の保存先です。
//
// Get/List は複製を返し、呼び出し側が変更しても保存内容には影響しません。
// Update は同じIDに対する他の操作と排他的に mutate を適用します。
type Store interface {
	Create(ctx context.Context, record *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	Update(ctx context.Context, id string, mutate func(*Record) error) error
	Delete(ctx context.Context, id string) (*Record, error)
	DeleteAll(ctx context.Context) (int, error)
	List(ctx context.Context) ([]*Record, error)
}

// MemoryStore はプロセス内のマップにジョブを保持します。
//
// 各レコードの書き手は1つの Runner だけなので、マップ全体のロックで十分です。
// 臨界区間はコピーと mutate の適用のみで、外部呼び出しは含みません。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore は MemoryStore を作成します。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// Create はジョブを登録します。
func (s *MemoryStore) Create(ctx context.Context, record *Record) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[record.ID]; ok {
		return ErrDuplicateID
	}
	stored := record.Clone()
	now := s.now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.records[stored.ID] = stored
	return nil
}

// Get はジョブの複製を返します。
func (s *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return record.Clone(), nil
}

// Update は mutate を適用します。mutate がエラーを返した場合は何も変更しません。
func (s *MemoryStore) Update(ctx context.Context, id string, mutate func(*Record) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	working := record.Clone()
	if err := mutate(working); err != nil {
		return err
	}
	working.ID = record.ID
	working.CreatedAt = record.CreatedAt
	working.UpdatedAt = s.now().UTC()
	s.records[id] = working
	return nil
}

// Delete はジョブを削除し、削除したレコードを返します。
func (s *MemoryStore) Delete(ctx context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.records, id)
	return record, nil
}

// DeleteAll はすべてのジョブを削除し、削除件数を返します。
func (s *MemoryStore) DeleteAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.records)
	s.records = make(map[string]*Record)
	return n, nil
}

// List はすべてのジョブの複製を返します。
func (s *MemoryStore) List(ctx context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record.Clone())
	}
	return out, nil
}

func validateRecord(record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	if record.ID == "" {
		return fmt.Errorf("record.ID is required")
	}
	return nil
}
