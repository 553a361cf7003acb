package storage

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ostafen/clover"
	"go.uber.org/zap"

	"github.com/guildgym/gymbot/types"
)

// CloverStorage persists collections in an embedded clover database. An
// empty path opens an in-memory instance.
type CloverStorage struct {
	db     *clover.DB
	logger types.Logger
	config *types.StorageConfig
	state  atomic.Value
}

func NewCloverStorage(ctx context.Context, logger types.Logger, config *types.StorageConfig) (types.StorageManager, error) {
	db, err := clover.Open(config.Path)
	if err != nil {
		return nil, types.WrapError(err, "failed to open clover database")
	}

	cs := &CloverStorage{
		db:     db,
		logger: logger,
		config: config,
	}

	cs.state.Store(StateStopped)
	return cs, nil
}

func (c *CloverStorage) Start() error {
	if !c.transitionState(StateStopped, StateStarting) {
		return types.ErrAlreadyRunning
	}

	defer func() {
		if c.getState() == StateStarting {
			c.setState(StateRunning)
		}
	}()

	c.logger.Info("Clover storage started", zap.String("path", c.config.Path))
	return nil
}

func (c *CloverStorage) Stop() error {
	if !c.transitionState(StateRunning, StateStopping) {
		return types.ErrNotRunning
	}

	defer func() {
		c.setState(StateStopped)
	}()

	if err := c.db.Close(); err != nil {
		return types.WrapError(err, "failed to close clover database")
	}

	c.logger.Info("Clover storage stopped gracefully")
	return nil
}

func (c *CloverStorage) IsRunning() bool {
	return c.getState() == StateRunning
}

func (c *CloverStorage) CreateCollection(collectionName string) error {
	exists, err := c.db.HasCollection(collectionName)
	if err != nil {
		return types.WrapError(err, "failed to check collection existence")
	}

	if exists {
		return types.ErrStorageCollectionExists
	}

	if err := c.db.CreateCollection(collectionName); err != nil {
		return types.WrapError(err, "failed to create collection")
	}

	return nil
}

func (c *CloverStorage) DropCollection(collectionName string) error {
	if err := c.db.DropCollection(collectionName); err != nil {
		return types.WrapError(err, "failed to drop collection")
	}
	return nil
}

func (c *CloverStorage) CreateDocuments(ctx context.Context, request types.CreateDocumentsRequest) ([]string, error) {
	if len(request.Data) == 0 {
		return []string{}, nil
	}

	if err := c.ensureCollection(request.Collection); err != nil {
		return nil, err
	}

	var docs []*clover.Document
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

		doc := clover.NewDocument()
		for key, value := range dataMap {
			doc.Set(key, value)
		}

		docs = append(docs, doc)
		ids = append(ids, internalID)
	}

	if err := c.db.Insert(request.Collection, docs...); err != nil {
		return nil, types.WrapError(err, "failed to insert documents")
	}

	return ids, nil
}

func (c *CloverStorage) ReadDocuments(ctx context.Context, request types.ReadDocumentsRequest) ([]map[string]interface{}, int64, error) {
	exists, err := c.db.HasCollection(request.Collection)
	if err != nil {
		return nil, 0, types.WrapError(err, "failed to check collection existence")
	}

	if !exists {
		return []map[string]interface{}{}, 0, nil
	}

	query := c.db.Query(request.Collection)

	if len(request.Filter) > 0 {
		query = applyFilters(query, request.Filter)
	}

	if len(request.Sort) > 0 {
		for field, order := range request.Sort {
			query = query.Sort(clover.SortOption{Field: field, Direction: order})
		}
	}

	if request.Skip > 0 {
		query = query.Skip(request.Skip)
	}

	if request.Limit > 0 {
		query = query.Limit(request.Limit)
	}

	cloverDocs, err := query.FindAll()
	if err != nil {
		return nil, 0, types.WrapError(err, "failed to find documents")
	}

	totalQuery := c.db.Query(request.Collection)
	if len(request.Filter) > 0 {
		totalQuery = applyFilters(totalQuery, request.Filter)
	}

	totalCount, err := totalQuery.Count()
	if err != nil {
		return nil, 0, types.WrapError(err, "failed to count documents")
	}

	var results []map[string]interface{}
	for _, doc := range cloverDocs {
		docMap := make(map[string]interface{})
		if err := doc.Unmarshal(&docMap); err != nil {
			continue
		}
		delete(docMap, "_id")
		results = append(results, docMap)
	}

	return results, int64(totalCount), nil
}

func (c *CloverStorage) UpdateDocuments(ctx context.Context, request types.UpdateDocumentsRequest) (int64, error) {
	exists, err := c.db.HasCollection(request.Collection)
	if err != nil {
		return 0, types.WrapError(err, "failed to check collection existence")
	}

	if !exists && !request.Upsert {
		return 0, nil
	}

	if !exists {
		if err := c.db.CreateCollection(request.Collection); err != nil {
			return 0, types.WrapError(err, "failed to create collection")
		}
	}

	query := c.db.Query(request.Collection)
	if len(request.Filter) > 0 {
		query = applyFilters(query, request.Filter)
	}

	count, err := query.Count()
	if err != nil {
		return 0, types.WrapError(err, "failed to count matching documents")
	}

	now := time.Now().UnixNano()

	if count == 0 {
		if !request.Upsert {
			return 0, nil
		}

		newDoc := make(map[string]interface{})
		applyUpdateOperations(newDoc, request.Data)
		newDoc["internal_id"] = uuid.New().String()
		newDoc["cr_time"] = now
		newDoc["ch_time"] = now

		doc := clover.NewDocument()
		for key, value := range newDoc {
			doc.Set(key, value)
		}

		if err := c.db.Insert(request.Collection, doc); err != nil {
			return 0, types.WrapError(err, "failed to insert upserted document")
		}

		return 1, nil
	}

	updateMap := make(map[string]interface{})
	applyUpdateOperations(updateMap, request.Data)
	updateMap["ch_time"] = now

	if err := query.Update(updateMap); err != nil {
		return 0, types.WrapError(err, "failed to update documents")
	}

	return int64(count), nil
}

func (c *CloverStorage) DeleteDocuments(ctx context.Context, request types.DeleteDocumentsRequest) (int64, error) {
	exists, err := c.db.HasCollection(request.Collection)
	if err != nil {
		return 0, types.WrapError(err, "failed to check collection existence")
	}

	if !exists {
		return 0, nil
	}

	query := c.db.Query(request.Collection)
	if len(request.Filter) > 0 {
		query = applyFilters(query, request.Filter)
	}

	count, err := query.Count()
	if err != nil {
		return 0, types.WrapError(err, "failed to count matching documents")
	}

	if count == 0 {
		return 0, nil
	}

	if err := query.Delete(); err != nil {
		return 0, types.WrapError(err, "failed to delete documents")
	}

	return int64(count), nil
}

func (c *CloverStorage) CountSince(ctx context.Context, collectionName string, filter map[string]interface{}, since time.Time) (int64, error) {
	exists, err := c.db.HasCollection(collectionName)
	if err != nil {
		return 0, types.WrapError(err, "failed to check collection existence")
	}

	if !exists {
		return 0, nil
	}

	query := c.db.Query(collectionName)
	if len(filter) > 0 {
		query = applyFilters(query, filter)
	}
	query = query.Where(clover.Field("cr_time").GtEq(since.UnixNano()))

	count, err := query.Count()
	if err != nil {
		return 0, types.WrapError(err, "failed to count documents")
	}

	return int64(count), nil
}

func (c *CloverStorage) ensureCollection(collectionName string) error {
	exists, err := c.db.HasCollection(collectionName)
	if err != nil {
		return types.WrapError(err, "failed to check collection existence")
	}

	if !exists {
		if err := c.db.CreateCollection(collectionName); err != nil {
			return types.WrapError(err, "failed to create collection")
		}
	}

	return nil
}

func applyFilters(query *clover.Query, filter map[string]interface{}) *clover.Query {
	for key, value := range filter {
		query = applyFieldFilter(query, key, value)
	}
	return query
}

func applyFieldFilter(query *clover.Query, key string, value interface{}) *clover.Query {
	switch val := value.(type) {
	case map[string]interface{}:
		for op, opValue := range val {
			switch op {
			case "$eq":
				query = query.Where(clover.Field(key).Eq(opValue))
			case "$ne":
				query = query.Where(clover.Field(key).Neq(opValue))
			case "$gt":
				query = query.Where(clover.Field(key).Gt(opValue))
			case "$gte":
				query = query.Where(clover.Field(key).GtEq(opValue))
			case "$lt":
				query = query.Where(clover.Field(key).Lt(opValue))
			case "$lte":
				query = query.Where(clover.Field(key).LtEq(opValue))
			case "$in":
				if arr, ok := opValue.([]interface{}); ok {
					query = query.Where(clover.Field(key).In(arr...))
				}
			}
		}
	default:
		query = query.Where(clover.Field(key).Eq(value))
	}

	return query
}

func (c *CloverStorage) getState() State {
	return c.state.Load().(State)
}

func (c *CloverStorage) setState(newState State) bool {
	currentState := c.getState()
	return c.state.CompareAndSwap(currentState, newState)
}

func (c *CloverStorage) transitionState(from, to State) bool {
	return c.state.CompareAndSwap(from, to)
}
