package types

import (
	"context"
	"time"
)

// Collections used by the bot. Every document carries internal_id, cr_time
// and ch_time fields maintained by the storage backend.
const (
	CollectionGyms        = "gyms"
	CollectionProgress    = "progress"
	CollectionSubmissions = "submissions"
	CollectionModeration  = "moderation"
	CollectionFeedback    = "feedback"
)

type StorageManager interface {
	LifecycleManager
	CreateDocuments(ctx context.Context, request CreateDocumentsRequest) ([]string, error)
	ReadDocuments(ctx context.Context, request ReadDocumentsRequest) ([]map[string]interface{}, int64, error)
	UpdateDocuments(ctx context.Context, request UpdateDocumentsRequest) (int64, error)
	DeleteDocuments(ctx context.Context, request DeleteDocumentsRequest) (int64, error)
	CountSince(ctx context.Context, collection string, filter map[string]interface{}, since time.Time) (int64, error)
	CreateCollection(collectionName string) error
	DropCollection(collectionName string) error
}

type StorageManagerCreator func(config interface{}) (StorageManager, error)

type CreateDocumentsRequest struct {
	Collection string        `json:"collection"`
	Data       []interface{} `json:"data"`
}

type ReadDocumentsRequest struct {
	Collection string                 `json:"collection"`
	Filter     map[string]interface{} `json:"filter"`
	Sort       map[string]int         `json:"sort"`
	Skip       int                    `json:"skip"`
	Limit      int                    `json:"limit"`
}

type UpdateDocumentsRequest struct {
	Collection string                 `json:"collection"`
	Filter     map[string]interface{} `json:"filter"`
	Data       map[string]interface{} `json:"data"`
	Upsert     bool                   `json:"upsert"`
}

type DeleteDocumentsRequest struct {
	Collection string                 `json:"collection"`
	Filter     map[string]interface{} `json:"filter"`
}

type StorageConfig struct {
	Enabled bool        `yaml:"enabled" json:"enabled"`
	Type    string      `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Path    string      `yaml:"path" json:"path"`
	Config  interface{} `yaml:"config" json:"config"`
}
