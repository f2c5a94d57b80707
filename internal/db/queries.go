package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/raphaelgruber/esisync/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

type contractRow struct {
	ContractID int64  `json:"contract_id"`
	Status     string `json:"status"`
	Payload    string `json:"payload"`
}

type postRow struct {
	PostID int64 `json:"post_id"`
}

type countRow struct {
	C int `json:"c"`
}

// QueryGetContract returns the cached entry for contractID, or ErrNotFound.
func (c *Client) QueryGetContract(ctx context.Context, contractID int64) (*models.CacheEntry, error) {
	results, err := surrealdb.Query[[]contractRow](ctx, c.db, `
		SELECT contract_id, status, payload FROM type::record("contract", $id)
	`, map[string]any{"id": recordKey(contractID)})
	if err != nil {
		return nil, fmt.Errorf("get contract: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("contract %d: %w", contractID, ErrNotFound)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal([]byte((*results)[0].Result[0].Payload), &entry); err != nil {
		return nil, fmt.Errorf("contract %d: %w: %v", contractID, ErrCorruptRecord, err)
	}
	return &entry, nil
}

// QueryUpsertContract stores entry keyed by its contract ID.
func (c *Client) QueryUpsertContract(ctx context.Context, entry models.CacheEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode contract %d: %w", entry.Resolved.ContractID, err)
	}

	_, err = surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("contract", $id) SET
			contract_id = $contract_id,
			status = $status,
			payload = $payload,
			updated_at = time::now()
	`, map[string]any{
		"id":          recordKey(entry.Resolved.ContractID),
		"contract_id": entry.Resolved.ContractID,
		"status":      string(entry.Resolved.Status),
		"payload":     string(payload),
	})
	if err != nil {
		return fmt.Errorf("upsert contract: %w", wrapQueryError(err))
	}
	return nil
}

// QueryDeleteContract removes a cached contract. Returns the number deleted.
func (c *Client) QueryDeleteContract(ctx context.Context, contractID int64) (int, error) {
	results, err := surrealdb.Query[[]contractRow](ctx, c.db, `
		DELETE type::record("contract", $id) RETURN BEFORE
	`, map[string]any{"id": recordKey(contractID)})
	if err != nil {
		return 0, fmt.Errorf("delete contract: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return 0, nil
	}
	return len((*results)[0].Result), nil
}

// QueryGetPostID returns the indexed post for an entity, or ErrNotFound.
func (c *Client) QueryGetPostID(ctx context.Context, kind models.Kind, entityID int64) (int64, error) {
	results, err := surrealdb.Query[[]postRow](ctx, c.db, `
		SELECT post_id FROM type::record("post_index", $id)
	`, map[string]any{"id": postKey(kind, entityID)})
	if err != nil {
		return 0, fmt.Errorf("get post id: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, fmt.Errorf("%s %d: %w", kind, entityID, ErrNotFound)
	}
	return (*results)[0].Result[0].PostID, nil
}

// QuerySetPostID indexes postID for an entity.
func (c *Client) QuerySetPostID(ctx context.Context, kind models.Kind, entityID, postID int64) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("post_index", $id) SET
			kind = $kind,
			entity_id = $entity_id,
			post_id = $post_id,
			updated_at = time::now()
	`, map[string]any{
		"id":        postKey(kind, entityID),
		"kind":      string(kind),
		"entity_id": entityID,
		"post_id":   postID,
	})
	if err != nil {
		return fmt.Errorf("set post id: %w", wrapQueryError(err))
	}
	return nil
}

// QueryDeletePostID removes an entity from the post index.
func (c *Client) QueryDeletePostID(ctx context.Context, kind models.Kind, entityID int64) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		DELETE type::record("post_index", $id)
	`, map[string]any{"id": postKey(kind, entityID)})
	if err != nil {
		return fmt.Errorf("delete post id: %w", wrapQueryError(err))
	}
	return nil
}

// QueryCount returns the number of records in table.
func (c *Client) QueryCount(ctx context.Context, table string) (int, error) {
	results, err := surrealdb.Query[[]countRow](ctx, c.db,
		fmt.Sprintf("SELECT count() AS c FROM %s GROUP ALL", table), nil)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].C, nil
}

// Store adapts a Client to the contract cache interface.
// Writes go straight to the database, so Save is a no-op.
type Store struct {
	client *Client
	owned  bool
}

// NewStore wraps client. When owned is true, Close also closes the connection.
func NewStore(client *Client, owned bool) *Store {
	return &Store{client: client, owned: owned}
}

func (s *Store) Get(ctx context.Context, contractID int64) (*models.CacheEntry, error) {
	entry, err := s.client.QueryGetContract(ctx, contractID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if errors.Is(err, ErrCorruptRecord) {
		// Treated as a miss; the next Put overwrites it.
		s.client.log.Warn("discarding corrupt cached contract", "contract_id", contractID, "error", err)
		return nil, nil
	}
	return entry, err
}

func (s *Store) Put(ctx context.Context, entry models.CacheEntry) error {
	return s.client.QueryUpsertContract(ctx, entry)
}

func (s *Store) Delete(ctx context.Context, contractID int64) error {
	_, err := s.client.QueryDeleteContract(ctx, contractID)
	return err
}

func (s *Store) PostID(ctx context.Context, kind models.Kind, entityID int64) (int64, error) {
	id, err := s.client.QueryGetPostID(ctx, kind, entityID)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	return id, err
}

func (s *Store) SetPostID(ctx context.Context, kind models.Kind, entityID, postID int64) error {
	return s.client.QuerySetPostID(ctx, kind, entityID, postID)
}

func (s *Store) DeletePostID(ctx context.Context, kind models.Kind, entityID int64) error {
	return s.client.QueryDeletePostID(ctx, kind, entityID)
}

func (s *Store) Count(ctx context.Context) (int, int, error) {
	contracts, err := s.client.QueryCount(ctx, "contract")
	if err != nil {
		return 0, 0, err
	}
	posts, err := s.client.QueryCount(ctx, "post_index")
	if err != nil {
		return 0, 0, err
	}
	return contracts, posts, nil
}

func (s *Store) Save(context.Context) error { return nil }

func (s *Store) Close(ctx context.Context) error {
	if !s.owned {
		return nil
	}
	return s.client.Close(ctx)
}

func recordKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

func postKey(kind models.Kind, entityID int64) string {
	return fmt.Sprintf("%s_%d", kind, entityID)
}
