// Package store provides in-memory perks.Backend implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/perk-engine/generic"
	"github.com/warp/perk-engine/perks"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	records     map[perks.RecordID]perks.RedemptionRecord
	definitions map[perks.PerkID]perks.PerkDefinition
	enrollments map[perks.EnrollmentID]perks.CardEnrollment
	deliveries  map[string]time.Time

	// uniqueCycle mirrors the SQLite unique index on
	// (user, perk, cycle_reset_at) when enabled.
	uniqueCycle bool
}

func NewMemory() *Memory {
	return &Memory{
		records:     make(map[perks.RecordID]perks.RedemptionRecord),
		definitions: make(map[perks.PerkID]perks.PerkDefinition),
		enrollments: make(map[perks.EnrollmentID]perks.CardEnrollment),
		deliveries:  make(map[string]time.Time),
	}
}

// WithUniqueCycleIndex makes inserts fail like the SQLite unique index.
func (m *Memory) WithUniqueCycleIndex() *Memory {
	m.uniqueCycle = true
	return m
}

// =============================================================================
// REDEMPTION RECORDS
// =============================================================================

func (m *Memory) InsertRecord(_ context.Context, r perks.RedemptionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(r)
}

func (m *Memory) insertLocked(r perks.RedemptionRecord) error {
	if _, exists := m.records[r.ID]; exists {
		return generic.WrapStorage("insert record", generic.ErrDuplicateActiveRecord)
	}
	if m.uniqueCycle {
		for _, other := range m.records {
			if other.UserID == r.UserID && other.PerkDefinitionID == r.PerkDefinitionID &&
				other.CycleResetAt.Equal(r.CycleResetAt) {
				return generic.WrapStorage("insert record", generic.ErrDuplicateActiveRecord)
			}
		}
	}
	m.records[r.ID] = r
	return nil
}

func (m *Memory) QueryRecords(_ context.Context, f perks.RecordFilter) ([]perks.RedemptionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queryLocked(f), nil
}

func (m *Memory) queryLocked(f perks.RecordFilter) []perks.RedemptionRecord {
	var result []perks.RedemptionRecord
	for _, r := range m.records {
		if f.Matches(r) {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].RedeemedAt.Equal(result[j].RedeemedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].RedeemedAt.Before(result[j].RedeemedAt)
	})
	return result
}

func (m *Memory) DeleteRecords(_ context.Context, f perks.RecordFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(f)
}

func (m *Memory) deleteLocked(f perks.RecordFilter) (int, error) {
	if !f.Scoped() {
		return 0, perks.ErrUnscopedFilter
	}
	n := 0
	for id, r := range m.records {
		if f.Matches(r) {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) GetRecord(_ context.Context, id perks.RecordID) (*perks.RedemptionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// =============================================================================
// CATALOG
// =============================================================================

func (m *Memory) SaveDefinition(_ context.Context, d perks.PerkDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.definitions[d.ID] = d
	return nil
}

func (m *Memory) GetDefinition(_ context.Context, id perks.PerkID) (*perks.PerkDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.definitions[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *Memory) ListDefinitions(_ context.Context, cardProductID perks.CardProductID) ([]perks.PerkDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []perks.PerkDefinition
	for _, d := range m.definitions {
		if cardProductID == "" || d.CardProductID == cardProductID {
			result = append(result, d)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// =============================================================================
// ENROLLMENTS
// =============================================================================

func (m *Memory) SaveEnrollment(_ context.Context, e perks.CardEnrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrollments[e.ID] = e
	return nil
}

func (m *Memory) GetEnrollment(_ context.Context, id perks.EnrollmentID) (*perks.CardEnrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.enrollments[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *Memory) ListEnrollments(_ context.Context, userID perks.UserID, includeDeleted bool) ([]perks.CardEnrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []perks.CardEnrollment
	for _, e := range m.enrollments {
		if e.UserID != userID {
			continue
		}
		if !includeDeleted && !e.IsActive() {
			continue
		}
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) SoftDeleteEnrollment(_ context.Context, id perks.EnrollmentID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok || !e.IsActive() {
		return nil
	}
	e.DeletedAt = &at
	m.enrollments[id] = e
	return nil
}

func (m *Memory) ListUsers(_ context.Context) ([]perks.UserID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[perks.UserID]bool)
	var users []perks.UserID
	for _, e := range m.enrollments {
		if e.IsActive() && !seen[e.UserID] {
			seen[e.UserID] = true
			users = append(users, e.UserID)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(perks.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make(map[perks.RecordID]perks.RedemptionRecord, len(m.records))
	for k, v := range m.records {
		snapshot[k] = v
	}

	if err := fn(&txView{parent: m}); err != nil {
		m.records = snapshot
		return err
	}
	return nil
}

// txView runs against the locked parent.
type txView struct {
	parent *Memory
}

func (tv *txView) InsertRecord(_ context.Context, r perks.RedemptionRecord) error {
	return tv.parent.insertLocked(r)
}

func (tv *txView) QueryRecords(_ context.Context, f perks.RecordFilter) ([]perks.RedemptionRecord, error) {
	return tv.parent.queryLocked(f), nil
}

func (tv *txView) DeleteRecords(_ context.Context, f perks.RecordFilter) (int, error) {
	return tv.parent.deleteLocked(f)
}

func (tv *txView) GetRecord(_ context.Context, id perks.RecordID) (*perks.RedemptionRecord, error) {
	r, ok := tv.parent.records[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// =============================================================================
// REMINDER DELIVERIES
// =============================================================================

func deliveryKey(userID perks.UserID, r perks.ScheduledReminder) string {
	return fmt.Sprintf("%s|%d|%d|%d", userID, r.PeriodMonths, r.CycleEnd.UnixNano(), r.OffsetDays)
}

// ClaimReminder reports false when the reminder was already claimed.
func (m *Memory) ClaimReminder(_ context.Context, userID perks.UserID, r perks.ScheduledReminder) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := deliveryKey(userID, r)
	if _, done := m.deliveries[key]; done {
		return false, nil
	}
	m.deliveries[key] = time.Now()
	return true, nil
}

func (m *Memory) ReleaseReminder(_ context.Context, userID perks.UserID, r perks.ScheduledReminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deliveries, deliveryKey(userID, r))
	return nil
}

// Reset clears all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[perks.RecordID]perks.RedemptionRecord)
	m.definitions = make(map[perks.PerkID]perks.PerkDefinition)
	m.enrollments = make(map[perks.EnrollmentID]perks.CardEnrollment)
	m.deliveries = make(map[string]time.Time)
	return nil
}

var _ perks.Backend = (*Memory)(nil)
