// Package queue provides the durable offline mutation queue.
//
// A Store is the single source of truth for one (user, organization)
// partition's pending mutations. It owns admission control (payload size,
// byte budget, item cap, binary rejection) and merge logic, and it never
// talks to the network. Cross-partition access is impossible by
// construction: each Store is bound to exactly one partition key.
//
// The backing persistence is last-writer-wins per partition row; concurrent
// processes sharing one partition are outside the store's guarantees.
package queue

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	fserrors "github.com/fieldsync/fieldsync/internal/errors"
	"github.com/fieldsync/fieldsync/internal/logging"
	"github.com/fieldsync/fieldsync/internal/models"
	"github.com/fieldsync/fieldsync/internal/uuid"
)

// Persistence stores the serialized item array for a partition key.
type Persistence interface {
	// Load reads a partition's items. A missing partition returns (nil, nil).
	Load(key string) ([]*models.QueueItem, error)
	// Save replaces a partition's items.
	Save(key string, items []*models.QueueItem) error
}

// Limits holds the queue admission limits.
type Limits struct {
	MaxItems           int
	MaxQueueBytes      int
	MaxItemBytes       int
	MaxRetries         int
	BinaryRunThreshold int
}

// DefaultLimits returns the default queue limits.
func DefaultLimits() Limits {
	return Limits{
		MaxItems:           100,
		MaxQueueBytes:      512 * 1024,
		MaxItemBytes:       64 * 1024,
		MaxRetries:         5,
		BinaryRunThreshold: DefaultBinaryRunThreshold,
	}
}

// Store manages the pending mutations of one (user, organization) partition.
type Store struct {
	mu         sync.Mutex
	userID     string
	orgID      string
	key        string
	limits     Limits
	classifier *BinaryClassifier
	persist    Persistence
	items      []*models.QueueItem
	lastStamp  int64
}

// PartitionKey builds the persistence key for a (user, organization) pair.
func PartitionKey(userID, orgID string) string {
	return orgID + ":" + userID
}

// NewStore opens the queue partition for a (user, organization) pair,
// loading any persisted items. Items found in the transient processing state
// (a previous run was torn down mid-replay) are demoted back to pending so
// they are retried on the next run.
func NewStore(userID, orgID string, persist Persistence, limits Limits) (*Store, error) {
	if userID == "" || orgID == "" {
		return nil, fserrors.New(fserrors.ErrInvalid, "user and organization ids are required")
	}

	s := &Store{
		userID:     userID,
		orgID:      orgID,
		key:        PartitionKey(userID, orgID),
		limits:     limits,
		classifier: NewBinaryClassifier(limits.BinaryRunThreshold),
		persist:    persist,
	}

	items, err := persist.Load(s.key)
	if err != nil {
		return nil, fserrors.Wrap(fserrors.ErrStorageWrite, "failed to load queue partition", err)
	}

	recovered := 0
	for _, item := range items {
		if item.Status == models.ItemStatusProcessing {
			item.Status = models.ItemStatusPending
			recovered++
		}
	}
	s.items = items

	if recovered > 0 {
		logging.Warn("Recovered interrupted queue items",
			map[string]interface{}{"partition": s.key, "count": recovered})
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// UserID returns the partition's user id.
func (s *Store) UserID() string { return s.userID }

// OrganizationID returns the partition's organization id.
func (s *Store) OrganizationID() string { return s.orgID }

// EnqueueInput describes a mutation to be queued. Payload may be any
// JSON-serializable value or a pre-encoded json.RawMessage.
type EnqueueInput struct {
	Type    models.ItemType
	Payload interface{}
}

// Enqueue validates and persists a new queue item. Admission guards reject
// payloads with embedded binary content, payloads over the per-item ceiling,
// and payloads that would push the partition over its byte budget. When the
// item cap is reached, the oldest pending item is evicted to admit the new
// one.
//
// Guard failures return payload-coded errors distinct from storage errors;
// callers must treat them as non-retryable.
func (s *Store) Enqueue(input EnqueueInput) (*models.QueueItem, error) {
	raw, err := encodePayload(input.Payload)
	if err != nil {
		return nil, fserrors.Wrap(fserrors.ErrInvalid, "failed to serialize payload", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.classifier.ContainsBinaryContent(raw) {
		return nil, fserrors.New(fserrors.ErrPayloadBinary,
			"payload contains embedded binary content and cannot be saved offline")
	}

	if len(raw) > s.limits.MaxItemBytes {
		return nil, fserrors.New(fserrors.ErrPayloadTooLarge,
			fmt.Sprintf("payload is %d bytes, limit is %d", len(raw), s.limits.MaxItemBytes))
	}

	if s.totalBytesLocked()+len(raw) > s.limits.MaxQueueBytes {
		return nil, fserrors.New(fserrors.ErrQueueBudgetExceeded,
			fmt.Sprintf("queue byte budget of %d would be exceeded", s.limits.MaxQueueBytes))
	}

	if len(s.items) >= s.limits.MaxItems {
		if !s.evictOldestPendingLocked() {
			return nil, fserrors.New(fserrors.ErrQueueBudgetExceeded,
				fmt.Sprintf("queue is full (max %d items) and no pending item can be evicted", s.limits.MaxItems))
		}
	}

	item := &models.QueueItem{
		ID:               models.UUID(uuid.New()),
		Type:             input.Type,
		Payload:          raw,
		OrganizationID:   s.orgID,
		UserID:           s.userID,
		Timestamp:        s.nextTimestampLocked(),
		RetryCount:       0,
		MaxRetries:       s.limits.MaxRetries,
		Status:           models.ItemStatusPending,
		PayloadSizeBytes: len(raw),
	}

	s.items = append(s.items, item)
	if err := s.persistLocked(); err != nil {
		s.items = s.items[:len(s.items)-1]
		return nil, err
	}

	logging.Info("Enqueued offline mutation",
		map[string]interface{}{"partition": s.key, "item_id": item.ID.String(), "type": string(item.Type)})

	return copyItem(item), nil
}

// GetAll returns copies of all items in stored (FIFO) order.
func (s *Store) GetAll() []*models.QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.QueueItem, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, copyItem(item))
	}
	return out
}

// GetCount returns the total number of items.
func (s *Store) GetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// GetPendingCount returns the number of pending items.
func (s *Store) GetPendingCount() int {
	return s.countByStatus(models.ItemStatusPending)
}

// GetFailedCount returns the number of failed items.
func (s *Store) GetFailedCount() int {
	return s.countByStatus(models.ItemStatusFailed)
}

func (s *Store) countByStatus(status models.ItemStatus) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, item := range s.items {
		if item.Status == status {
			count++
		}
	}
	return count
}

// Peek returns a copy of the oldest pending item, or nil if none.
func (s *Store) Peek() *models.QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range s.items {
		if item.Status == models.ItemStatusPending {
			return copyItem(item)
		}
	}
	return nil
}

// Remove deletes one item. No-op if absent.
func (s *Store) Remove(id models.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, item := range s.items {
		if item.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return s.persistLocked()
		}
	}
	return nil
}

// UpdateStatus sets an item's status and optionally its last-error message.
func (s *Store) UpdateStatus(id models.UUID, status models.ItemStatus, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.findLocked(id)
	if item == nil {
		return fserrors.New(fserrors.ErrNotFound, fmt.Sprintf("queue item %s not found", id))
	}

	item.Status = status
	if lastError != "" {
		item.LastError = lastError
	}
	return s.persistLocked()
}

// UpdateRetry records a failed-but-retryable attempt: it sets the new retry
// count, stores the error, and resets the item to pending for the next run.
func (s *Store) UpdateRetry(id models.UUID, newRetryCount int, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.findLocked(id)
	if item == nil {
		return fserrors.New(fserrors.ErrNotFound, fmt.Sprintf("queue item %s not found", id))
	}

	item.RetryCount = newRetryCount
	item.Status = models.ItemStatusPending
	if lastError != "" {
		item.LastError = lastError
	}
	return s.persistLocked()
}

// MarkFailed records a final, non-retryable failure: it persists the retry
// count that exhausted the budget along with the error, and moves the item
// to failed so the count the user sees matches the attempts actually made.
func (s *Store) MarkFailed(id models.UUID, retryCount int, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.findLocked(id)
	if item == nil {
		return fserrors.New(fserrors.ErrNotFound, fmt.Sprintf("queue item %s not found", id))
	}

	item.RetryCount = retryCount
	item.Status = models.ItemStatusFailed
	if lastError != "" {
		item.LastError = lastError
	}
	return s.persistLocked()
}

// UpdatePayload merges fields into a still-queued item's payload, letting a
// user edit a mutation that has not synced yet. The merged payload is
// re-validated against the per-item ceiling and the binary classifier.
func (s *Store) UpdatePayload(id models.UUID, partial map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.findLocked(id)
	if item == nil {
		return fserrors.New(fserrors.ErrNotFound, fmt.Sprintf("queue item %s not found", id))
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return fserrors.Wrap(fserrors.ErrInternal, "failed to decode existing payload", err)
	}
	for k, v := range partial {
		payload[k] = v
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fserrors.Wrap(fserrors.ErrInvalid, "failed to serialize merged payload", err)
	}

	if s.classifier.ContainsBinaryContent(raw) {
		return fserrors.New(fserrors.ErrPayloadBinary,
			"merged payload contains embedded binary content")
	}
	if len(raw) > s.limits.MaxItemBytes {
		return fserrors.New(fserrors.ErrPayloadTooLarge,
			fmt.Sprintf("merged payload is %d bytes, limit is %d", len(raw), s.limits.MaxItemBytes))
	}

	prevRaw, prevSize := item.Payload, item.PayloadSizeBytes
	item.Payload = raw
	item.PayloadSizeBytes = len(raw)
	if err := s.persistLocked(); err != nil {
		item.Payload, item.PayloadSizeBytes = prevRaw, prevSize
		return err
	}
	return nil
}

// RetryFailedItems resets every failed item to pending with a zeroed retry
// count. Returns the number of items reset.
func (s *Store) RetryFailedItems() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, item := range s.items {
		if item.Status == models.ItemStatusFailed {
			item.Status = models.ItemStatusPending
			item.RetryCount = 0
			item.LastError = ""
			count++
		}
	}

	if count == 0 {
		return 0, nil
	}
	if err := s.persistLocked(); err != nil {
		return 0, err
	}

	logging.Info("Reset failed queue items for retry",
		map[string]interface{}{"partition": s.key, "count": count})
	return count, nil
}

// Clear removes all items from the partition.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = nil
	return s.persistLocked()
}

// Stats returns item counts by status.
func (s *Store) Stats() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := map[string]int{
		"total":      len(s.items),
		"pending":    0,
		"processing": 0,
		"failed":     0,
	}
	for _, item := range s.items {
		stats[string(item.Status)]++
	}
	return stats
}

// findLocked returns the stored item with the given id, or nil.
func (s *Store) findLocked(id models.UUID) *models.QueueItem {
	for _, item := range s.items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

// totalBytesLocked sums PayloadSizeBytes across the partition.
func (s *Store) totalBytesLocked() int {
	total := 0
	for _, item := range s.items {
		total += item.PayloadSizeBytes
	}
	return total
}

// evictOldestPendingLocked removes the oldest pending item to admit a new
// one at the cap. Returns false if no pending item exists.
func (s *Store) evictOldestPendingLocked() bool {
	for i, item := range s.items {
		if item.Status == models.ItemStatusPending {
			logging.Warn("Evicting oldest pending item to admit new mutation",
				map[string]interface{}{
					"partition": s.key,
					"item_id":   item.ID.String(),
					"type":      string(item.Type),
				})
			s.items = append(s.items[:i], s.items[i+1:]...)
			return true
		}
	}
	return false
}

// nextTimestampLocked returns a strictly increasing creation timestamp so
// FIFO order survives same-instant enqueues and the compaction re-sort.
func (s *Store) nextTimestampLocked() int64 {
	now := time.Now().UnixNano()
	if now <= s.lastStamp {
		now = s.lastStamp + 1
	}
	s.lastStamp = now
	return now
}

// persistLocked writes the current item array through the persistence layer.
func (s *Store) persistLocked() error {
	if err := s.persist.Save(s.key, s.items); err != nil {
		if fserrors.Is(err, fserrors.ErrStorageWrite) {
			return err
		}
		return fserrors.Wrap(fserrors.ErrStorageWrite, "failed to persist queue partition", err)
	}
	return nil
}

// encodePayload normalizes an enqueue payload to raw JSON.
func encodePayload(payload interface{}) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, fmt.Errorf("payload is required")
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(payload)
	}
}

// copyItem returns a shallow copy with its own payload slice.
func copyItem(item *models.QueueItem) *models.QueueItem {
	dup := *item
	dup.Payload = append(json.RawMessage(nil), item.Payload...)
	return &dup
}
