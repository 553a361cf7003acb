package storage

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/guildgym/gymbot/types"
)

// MemoryStorage keeps collections as nested maps. Used in tests and for
// single-node deployments where persistence across restarts is not needed.
// Writes are visible to subsequent reads as soon as the mutex is released.
type MemoryStorage struct {
	collections map[string]map[string]map[string]interface{}
	mutex       sync.RWMutex
	logger      types.Logger
	state       atomic.Value
}

func NewMemoryStorage(ctx context.Context, logger types.Logger, config *types.StorageConfig) (types.StorageManager, error) {
	ms := &MemoryStorage{
		collections: make(map[string]map[string]map[string]interface{}),
		logger:      logger,
	}

	ms.state.Store(StateStopped)
	return ms, nil
}

func (m *MemoryStorage) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrAlreadyRunning
	}

	defer func() {
		if m.getState() == StateStarting {
			m.setState(StateRunning)
		}
	}()

	if m.logger != nil {
		m.logger.Info("Memory storage started")
	}
	return nil
}

func (m *MemoryStorage) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		return types.ErrNotRunning
	}

	defer func() {
		m.setState(StateStopped)
	}()

	m.mutex.Lock()
	m.collections = make(map[string]map[string]map[string]interface{})
	m.mutex.Unlock()

	if m.logger != nil {
		m.logger.Info("Memory storage stopped gracefully")
	}
	return nil
}

func (m *MemoryStorage) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *MemoryStorage) CreateCollection(collectionName string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.collections[collectionName]; exists {
		return types.ErrStorageCollectionExists
	}

	m.collections[collectionName] = make(map[string]map[string]interface{})
	return nil
}

func (m *MemoryStorage) DropCollection(collectionName string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.collections, collectionName)
	return nil
}

func (m *MemoryStorage) CreateDocuments(ctx context.Context, request types.CreateDocumentsRequest) ([]string, error) {
	if len(request.Data) == 0 {
		return []string{}, nil
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.collections[request.Collection]; !exists {
		m.collections[request.Collection] = make(map[string]map[string]interface{})
	}

	var ids []string
	now := time.Now().UnixNano()

	for i, data := range request.Data {
		dataMap, ok := data.(map[string]interface{})
		if !ok {
			return nil, types.ErrStorageInvalidDocument
		}

		internalID := uuid.New().String()
		dataMap["internal_id"] = internalID
		dataMap["cr_time"] = now + int64(i)
		dataMap["ch_time"] = now + int64(i)

		docCopy := make(map[string]interface{})
		deepCopy(dataMap, docCopy)

		m.collections[request.Collection][internalID] = docCopy
		ids = append(ids, internalID)
	}

	return ids, nil
}

func (m *MemoryStorage) ReadDocuments(ctx context.Context, request types.ReadDocumentsRequest) ([]map[string]interface{}, int64, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	collection, exists := m.collections[request.Collection]
	if !exists {
		return []map[string]interface{}{}, 0, nil
	}

	var allDocs []map[string]interface{}
	for _, doc := range collection {
		if matchesFilter(doc, request.Filter) {
			docCopy := make(map[string]interface{})
			deepCopy(doc, docCopy)
			allDocs = append(allDocs, docCopy)
		}
	}

	total := int64(len(allDocs))

	if len(request.Sort) > 0 {
		sortDocuments(allDocs, request.Sort)
	}

	if request.Skip > 0 {
		if request.Skip >= len(allDocs) {
			return []map[string]interface{}{}, total, nil
		}
		allDocs = allDocs[request.Skip:]
	}

	if request.Limit > 0 && request.Limit < len(allDocs) {
		allDocs = allDocs[:request.Limit]
	}

	return allDocs, total, nil
}

func (m *MemoryStorage) UpdateDocuments(ctx context.Context, request types.UpdateDocumentsRequest) (int64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	collection, exists := m.collections[request.Collection]
	if !exists && !request.Upsert {
		return 0, nil
	}

	if !exists {
		m.collections[request.Collection] = make(map[string]map[string]interface{})
		collection = m.collections[request.Collection]
	}

	var matching []string
	for id, doc := range collection {
		if matchesFilter(doc, request.Filter) {
			matching = append(matching, id)
		}
	}

	now := time.Now().UnixNano()

	if len(matching) == 0 {
		if !request.Upsert {
			return 0, nil
		}

		newDoc := make(map[string]interface{})
		applyUpdateOperations(newDoc, request.Data)
		newDoc["internal_id"] = uuid.New().String()
		newDoc["cr_time"] = now
		newDoc["ch_time"] = now

		m.collections[request.Collection][newDoc["internal_id"].(string)] = newDoc
		return 1, nil
	}

	for _, id := range matching {
		doc := collection[id]
		applyUpdateOperations(doc, request.Data)
		doc["ch_time"] = now
	}

	return int64(len(matching)), nil
}

func (m *MemoryStorage) DeleteDocuments(ctx context.Context, request types.DeleteDocumentsRequest) (int64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	collection, exists := m.collections[request.Collection]
	if !exists {
		return 0, nil
	}

	var toDelete []string
	for id, doc := range collection {
		if matchesFilter(doc, request.Filter) {
			toDelete = append(toDelete, id)
		}
	}

	for _, id := range toDelete {
		delete(collection, id)
	}

	return int64(len(toDelete)), nil
}

// CountSince counts documents matching filter created at or after since.
// Backs the submission-window gate, so it reads live data on every call.
func (m *MemoryStorage) CountSince(ctx context.Context, collectionName string, filter map[string]interface{}, since time.Time) (int64, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	collection, exists := m.collections[collectionName]
	if !exists {
		return 0, nil
	}

	cutoff := since.UnixNano()
	var count int64
	for _, doc := range collection {
		if !matchesFilter(doc, filter) {
			continue
		}
		if crTime, ok := toInt64(doc["cr_time"]); ok && crTime >= cutoff {
			count++
		}
	}

	return count, nil
}

func (m *MemoryStorage) getState() State {
	return m.state.Load().(State)
}

func (m *MemoryStorage) setState(newState State) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *MemoryStorage) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}

func deepCopy(src, dst map[string]interface{}) {
	for k, v := range src {
		switch val := v.(type) {
		case map[string]interface{}:
			nested := make(map[string]interface{})
			deepCopy(val, nested)
			dst[k] = nested
		default:
			dst[k] = v
		}
	}
}

func matchesFilter(doc map[string]interface{}, filter map[string]interface{}) bool {
	for key, value := range filter {
		if !matchesField(doc, key, value) {
			return false
		}
	}
	return true
}

func matchesField(doc map[string]interface{}, key string, filterValue interface{}) bool {
	keys := strings.Split(key, ".")
	current := doc

	for i, k := range keys {
		if i == len(keys)-1 {
			docValue, exists := current[k]
			if !exists {
				return false
			}
			return compareValues(docValue, filterValue)
		}

		next, exists := current[k]
		if !exists {
			return false
		}
		nextMap, ok := next.(map[string]interface{})
		if !ok {
			return false
		}
		current = nextMap
	}

	return false
}

func compareValues(docValue, filterValue interface{}) bool {
	switch filter := filterValue.(type) {
	case map[string]interface{}:
		for op, value := range filter {
			switch op {
			case "$eq":
				return looselyEqual(docValue, value)
			case "$ne":
				return !looselyEqual(docValue, value)
			case "$gt":
				return compareNumbers(docValue, value, ">")
			case "$gte":
				return compareNumbers(docValue, value, ">=")
			case "$lt":
				return compareNumbers(docValue, value, "<")
			case "$lte":
				return compareNumbers(docValue, value, "<=")
			case "$in":
				if arr, ok := value.([]interface{}); ok {
					for _, v := range arr {
						if looselyEqual(docValue, v) {
							return true
						}
					}
				}
				return false
			}
		}
		return false
	default:
		return looselyEqual(docValue, filterValue)
	}
}

// looselyEqual treats numerically-equal values of different Go types as
// equal, since yaml/json decoding does not preserve integer widths.
func looselyEqual(a, b interface{}) bool {
	if a == b {
		return true
	}
	aVal, aOk := toFloat64(a)
	bVal, bOk := toFloat64(b)
	return aOk && bOk && aVal == bVal
}

func compareNumbers(a, b interface{}, op string) bool {
	aVal, aOk := toFloat64(a)
	bVal, bOk := toFloat64(b)

	if !aOk || !bOk {
		return false
	}

	switch op {
	case ">":
		return aVal > bVal
	case ">=":
		return aVal >= bVal
	case "<":
		return aVal < bVal
	case "<=":
		return aVal <= bVal
	}
	return false
}

func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case string:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func toInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	case float64:
		return int64(val), true
	}
	return 0, false
}

func sortDocuments(docs []map[string]interface{}, sortSpec map[string]int) {
	fields := make([]string, 0, len(sortSpec))
	for field := range sortSpec {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	sort.SliceStable(docs, func(i, j int) bool {
		for _, field := range fields {
			direction := sortSpec[field]
			less, equal := compareForSort(docs[i][field], docs[j][field])
			if equal {
				continue
			}
			if direction < 0 {
				return !less
			}
			return less
		}
		return false
	})
}

func compareForSort(a, b interface{}) (less, equal bool) {
	aNum, aOk := toFloat64(a)
	bNum, bOk := toFloat64(b)
	if aOk && bOk {
		return aNum < bNum, aNum == bNum
	}

	aStr, aIsStr := a.(string)
	bStr, bIsStr := b.(string)
	if aIsStr && bIsStr {
		return aStr < bStr, aStr == bStr
	}

	return false, true
}

func applyUpdateOperations(doc map[string]interface{}, update map[string]interface{}) {
	for op, value := range update {
		switch op {
		case "$set":
			if setMap, ok := value.(map[string]interface{}); ok {
				for key, val := range setMap {
					doc[key] = val
				}
			}
		case "$unset":
			if unsetMap, ok := value.(map[string]interface{}); ok {
				for key := range unsetMap {
					delete(doc, key)
				}
			}
		case "$inc":
			if incMap, ok := value.(map[string]interface{}); ok {
				for key, val := range incMap {
					incVal, ok := toFloat64(val)
					if !ok {
						continue
					}
					if current, exists := doc[key]; exists {
						if currentVal, ok := toFloat64(current); ok {
							doc[key] = currentVal + incVal
						}
					} else {
						doc[key] = incVal
					}
				}
			}
		default:
			doc[op] = value
		}
	}
}
