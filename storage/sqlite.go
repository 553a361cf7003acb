package storage

import (
	"context"
	"database/sql"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/guildgym/gymbot/types"
	"github.com/guildgym/gymbot/utils"
)

// SQLiteStorage keeps every document as a JSON row in a single table with
// the hot filter columns (guild_id, user_id, cr_time) lifted out and
// indexed. Equality on those columns and the time cutoff run in SQL;
// whatever remains of the filter is applied in Go on the fetched rows.
type SQLiteStorage struct {
	db     *sql.DB
	logger types.Logger
	config *types.StorageConfig
	state  atomic.Value
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	internal_id TEXT PRIMARY KEY,
	collection  TEXT NOT NULL,
	guild_id    TEXT,
	user_id     TEXT,
	cr_time     INTEGER NOT NULL,
	ch_time     INTEGER NOT NULL,
	doc         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_scope
	ON documents (collection, guild_id, user_id, cr_time);
`

func NewSQLiteStorage(ctx context.Context, logger types.Logger, config *types.StorageConfig) (types.StorageManager, error) {
	path := config.Path
	if path == "" {
		path = "./gymbot.db"
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, types.WrapError(err, "failed to open sqlite database")
	}

	ss := &SQLiteStorage{
		db:     db,
		logger: logger,
		config: config,
	}

	ss.state.Store(StateStopped)
	return ss, nil
}

func (s *SQLiteStorage) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrAlreadyRunning
	}

	defer func() {
		if s.getState() == StateStarting {
			s.setState(StateRunning)
		}
	}()

	if err := s.db.Ping(); err != nil {
		s.setState(StateStopped)
		return types.WrapError(err, "failed to ping sqlite database")
	}

	if _, err := s.db.Exec(sqliteSchema); err != nil {
		s.setState(StateStopped)
		return types.WrapError(err, "failed to create sqlite schema")
	}

	s.logger.Info("SQLite storage started", zap.String("path", s.config.Path))
	return nil
}

func (s *SQLiteStorage) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrNotRunning
	}

	defer func() {
		s.setState(StateStopped)
	}()

	if err := s.db.Close(); err != nil {
		return types.WrapError(err, "failed to close sqlite database")
	}

	s.logger.Info("SQLite storage stopped gracefully")
	return nil
}

func (s *SQLiteStorage) IsRunning() bool {
	return s.getState() == StateRunning
}

// CreateCollection is a no-op: all collections share the documents table.
func (s *SQLiteStorage) CreateCollection(collectionName string) error {
	return nil
}

func (s *SQLiteStorage) DropCollection(collectionName string) error {
	_, err := s.db.Exec(`DELETE FROM documents WHERE collection = ?`, collectionName)
	return types.WrapError(err, "failed to drop collection")
}

func (s *SQLiteStorage) CreateDocuments(ctx context.Context, request types.CreateDocumentsRequest) ([]string, error) {
	if len(request.Data) == 0 {
		return []string{}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, types.WrapError(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (internal_id, collection, guild_id, user_id, cr_time, ch_time, doc)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, types.WrapError(err, "failed to prepare insert")
	}
	defer stmt.Close()

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

		docJSON, err := utils.Marshal(dataMap)
		if err != nil {
			return nil, types.WrapError(err, "failed to marshal document")
		}

		_, err = stmt.ExecContext(ctx, internalID, request.Collection,
			stringField(dataMap, "guild_id"), stringField(dataMap, "user_id"),
			now+int64(i), now+int64(i), string(docJSON))
		if err != nil {
			return nil, types.WrapError(err, "failed to insert document")
		}

		ids = append(ids, internalID)
	}

	if err := tx.Commit(); err != nil {
		return nil, types.WrapError(err, "failed to commit transaction")
	}

	return ids, nil
}

func (s *SQLiteStorage) ReadDocuments(ctx context.Context, request types.ReadDocumentsRequest) ([]map[string]interface{}, int64, error) {
	docs, err := s.fetch(ctx, request.Collection, request.Filter, time.Time{})
	if err != nil {
		return nil, 0, err
	}

	total := int64(len(docs))

	if len(request.Sort) > 0 {
		sortDocuments(docs, request.Sort)
	}

	if request.Skip > 0 {
		if request.Skip >= len(docs) {
			return []map[string]interface{}{}, total, nil
		}
		docs = docs[request.Skip:]
	}

	if request.Limit > 0 && request.Limit < len(docs) {
		docs = docs[:request.Limit]
	}

	return docs, total, nil
}

func (s *SQLiteStorage) UpdateDocuments(ctx context.Context, request types.UpdateDocumentsRequest) (int64, error) {
	docs, err := s.fetch(ctx, request.Collection, request.Filter, time.Time{})
	if err != nil {
		return 0, err
	}

	now := time.Now().UnixNano()

	if len(docs) == 0 {
		if !request.Upsert {
			return 0, nil
		}

		newDoc := make(map[string]interface{})
		applyUpdateOperations(newDoc, request.Data)
		newDoc["internal_id"] = uuid.New().String()
		newDoc["cr_time"] = now
		newDoc["ch_time"] = now

		docJSON, err := utils.Marshal(newDoc)
		if err != nil {
			return 0, types.WrapError(err, "failed to marshal document")
		}

		_, err = s.db.ExecContext(ctx, `
			INSERT INTO documents (internal_id, collection, guild_id, user_id, cr_time, ch_time, doc)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			newDoc["internal_id"], request.Collection,
			stringField(newDoc, "guild_id"), stringField(newDoc, "user_id"),
			now, now, string(docJSON))
		if err != nil {
			return 0, types.WrapError(err, "failed to insert upserted document")
		}

		return 1, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, types.WrapError(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	for _, doc := range docs {
		applyUpdateOperations(doc, request.Data)
		doc["ch_time"] = now

		docJSON, err := utils.Marshal(doc)
		if err != nil {
			return 0, types.WrapError(err, "failed to marshal document")
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE documents SET doc = ?, ch_time = ?, guild_id = ?, user_id = ?
			WHERE internal_id = ?`,
			string(docJSON), now,
			stringField(doc, "guild_id"), stringField(doc, "user_id"),
			doc["internal_id"])
		if err != nil {
			return 0, types.WrapError(err, "failed to update document")
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, types.WrapError(err, "failed to commit transaction")
	}

	return int64(len(docs)), nil
}

func (s *SQLiteStorage) DeleteDocuments(ctx context.Context, request types.DeleteDocumentsRequest) (int64, error) {
	docs, err := s.fetch(ctx, request.Collection, request.Filter, time.Time{})
	if err != nil {
		return 0, err
	}

	if len(docs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, types.WrapError(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	for _, doc := range docs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE internal_id = ?`, doc["internal_id"]); err != nil {
			return 0, types.WrapError(err, "failed to delete document")
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, types.WrapError(err, "failed to commit transaction")
	}

	return int64(len(docs)), nil
}

func (s *SQLiteStorage) CountSince(ctx context.Context, collectionName string, filter map[string]interface{}, since time.Time) (int64, error) {
	if residual := residualFilter(filter); len(residual) > 0 {
		docs, err := s.fetch(ctx, collectionName, filter, since)
		if err != nil {
			return 0, err
		}
		return int64(len(docs)), nil
	}

	query, args := buildScopeQuery(`SELECT COUNT(*) FROM documents`, collectionName, filter, since)

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, types.WrapError(err, "failed to count documents")
	}

	return count, nil
}

// fetch loads and unmarshals rows for collection, pushing indexable parts
// of the filter into SQL and applying the rest in Go.
func (s *SQLiteStorage) fetch(ctx context.Context, collection string, filter map[string]interface{}, since time.Time) ([]map[string]interface{}, error) {
	query, args := buildScopeQuery(`SELECT doc FROM documents`, collection, filter, since)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.WrapError(err, "failed to query documents")
	}
	defer rows.Close()

	residual := residualFilter(filter)

	var docs []map[string]interface{}
	for rows.Next() {
		var docJSON string
		if err := rows.Scan(&docJSON); err != nil {
			return nil, types.WrapError(err, "failed to scan document")
		}

		doc := make(map[string]interface{})
		if err := utils.Unmarshal([]byte(docJSON), &doc); err != nil {
			continue
		}

		if len(residual) > 0 && !matchesFilter(doc, residual) {
			continue
		}

		docs = append(docs, doc)
	}

	return docs, types.WrapError(rows.Err(), "failed to iterate documents")
}

// indexable reports whether a filter field runs in SQL: plain string
// equality on the lifted columns.
func indexable(key string, value interface{}) bool {
	if key != "guild_id" && key != "user_id" && key != "internal_id" {
		return false
	}
	_, isString := value.(string)
	return isString
}

func residualFilter(filter map[string]interface{}) map[string]interface{} {
	residual := make(map[string]interface{})
	for key, value := range filter {
		if !indexable(key, value) {
			residual[key] = value
		}
	}
	return residual
}

func buildScopeQuery(selectClause, collection string, filter map[string]interface{}, since time.Time) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString(selectClause)
	sb.WriteString(` WHERE collection = ?`)
	args := []interface{}{collection}

	for key, value := range filter {
		if indexable(key, value) {
			sb.WriteString(` AND ` + key + ` = ?`)
			args = append(args, value)
		}
	}

	if !since.IsZero() {
		sb.WriteString(` AND cr_time >= ?`)
		args = append(args, since.UnixNano())
	}

	return sb.String(), args
}

func stringField(doc map[string]interface{}, key string) string {
	if value, ok := doc[key].(string); ok {
		return value
	}
	return ""
}

func (s *SQLiteStorage) getState() State {
	return s.state.Load().(State)
}

func (s *SQLiteStorage) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *SQLiteStorage) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}
