package builddb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const typeIndexPrefix = "builddb:type:"

// TypeIndex keeps one Redis set of document keys per document type, so a
// query for builds reads only build documents instead of the whole store.
//
// The index is advisory. Every write through the Database updates it, but
// documents written by other tools are invisible until Rebuild runs, which
// Connect does before attaching the index. Entries whose document has gone
// are pruned when a query reads them.
type TypeIndex struct {
	redis      *redis.Client
	ownsClient bool
}

// NewTypeIndex creates a type index over an existing client. Close leaves
// the client open.
func NewTypeIndex(client *redis.Client) *TypeIndex {
	return &TypeIndex{redis: client}
}

// NewTypeIndexWithOwnedClient creates a type index that closes client on Close
func NewTypeIndexWithOwnedClient(client *redis.Client) *TypeIndex {
	return &TypeIndex{redis: client, ownsClient: true}
}

func (ti *TypeIndex) setKey(docType DocumentType) string {
	return typeIndexPrefix + string(docType)
}

// Add records key as a document of docType. SADD is idempotent.
func (ti *TypeIndex) Add(ctx context.Context, docType DocumentType, key string) error {
	if ti.redis == nil {
		return nil
	}
	if err := ti.redis.SAdd(ctx, ti.setKey(docType), key).Err(); err != nil {
		return fmt.Errorf("failed to add %s to type index %s: %w", key, docType, err)
	}
	return nil
}

// Remove drops key from the set for docType
func (ti *TypeIndex) Remove(ctx context.Context, docType DocumentType, key string) error {
	if ti.redis == nil {
		return nil
	}
	if err := ti.redis.SRem(ctx, ti.setKey(docType), key).Err(); err != nil {
		return fmt.Errorf("failed to remove %s from type index %s: %w", key, docType, err)
	}
	return nil
}

// Keys returns every key recorded for docType
func (ti *TypeIndex) Keys(ctx context.Context, docType DocumentType) ([]string, error) {
	if ti.redis == nil {
		return nil, fmt.Errorf("redis not available")
	}

	members, err := ti.redis.SMembers(ctx, ti.setKey(docType)).Result()
	if errors.Is(err, redis.Nil) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read type index %s: %w", docType, err)
	}
	return members, nil
}

// Count returns the number of keys recorded for docType
func (ti *TypeIndex) Count(ctx context.Context, docType DocumentType) (int64, error) {
	if ti.redis == nil {
		return 0, fmt.Errorf("redis not available")
	}
	return ti.redis.SCard(ctx, ti.setKey(docType)).Result()
}

// Rebuild scans every document in backend and replaces the sets for the
// types it finds. It returns the number of documents indexed.
func (ti *TypeIndex) Rebuild(ctx context.Context, backend Backend) (int, error) {
	if ti.redis == nil {
		return 0, fmt.Errorf("redis not available")
	}

	keys, err := backend.List(ctx, "")
	if err != nil {
		return 0, err
	}

	byType := make(map[DocumentType][]interface{})
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if key == ProductVersionIndexKey {
			continue
		}
		data, err := backend.Get(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return 0, err
		}
		docType, ok := documentTypeOf(data)
		if !ok {
			continue
		}
		byType[docType] = append(byType[docType], key)
	}

	pipe := ti.redis.TxPipeline()
	for _, docType := range []DocumentType{TypeBuild, TypeCommit} {
		if _, ok := byType[docType]; !ok {
			pipe.Del(ctx, ti.setKey(docType))
		}
	}
	indexed := 0
	for docType, members := range byType {
		pipe.Del(ctx, ti.setKey(docType))
		pipe.SAdd(ctx, ti.setKey(docType), members...)
		indexed += len(members)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to rebuild type index: %w", err)
	}
	return indexed, nil
}

// Close releases the Redis client if the index owns it
func (ti *TypeIndex) Close() error {
	if ti.ownsClient && ti.redis != nil {
		return ti.redis.Close()
	}
	return nil
}

// documentTypeOf reads the type discriminator from an encoded document
func documentTypeOf(data []byte) (DocumentType, bool) {
	var doc struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &doc); err != nil || doc.Type == "" {
		return "", false
	}
	return DocumentType(doc.Type), true
}
