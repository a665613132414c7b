package builddb

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// GetProductVersionIndex returns the product-version index, or an empty
// Document when none has been written yet.
func (db *Database) GetProductVersionIndex(ctx context.Context) (Document, error) {
	doc, err := db.GetDocument(ctx, ProductVersionIndexKey)
	if errors.Is(err, ErrNotFound) {
		return Document{}, nil
	}
	return doc, err
}

// UpdateProductVersionIndex replaces the product-version index with index
func (db *Database) UpdateProductVersionIndex(ctx context.Context, index Document) error {
	return db.UpsertDocuments(ctx, map[string]Document{ProductVersionIndexKey: index})
}

// AddProductVersion records version under product in the index, keeping
// each product's versions sorted and unique. It reports whether the index
// changed. The read-modify-write is not atomic; concurrent callers can
// lose each other's additions.
func (db *Database) AddProductVersion(ctx context.Context, product, version string) (bool, error) {
	index, err := db.GetProductVersionIndex(ctx)
	if err != nil {
		return false, err
	}

	versions, err := indexVersions(index, product)
	if err != nil {
		return false, err
	}
	for _, v := range versions {
		if v == version {
			return false, nil
		}
	}

	versions = append(versions, version)
	sort.Strings(versions)

	list := make([]interface{}, len(versions))
	for i, v := range versions {
		list[i] = v
	}
	index[product] = list

	if err := db.UpdateProductVersionIndex(ctx, index); err != nil {
		return false, err
	}
	db.logger.Info("added product version", "product", product, "version", version)
	return true, nil
}

// ProductVersions returns the versions recorded for product, sorted
func (db *Database) ProductVersions(ctx context.Context, product string) ([]string, error) {
	index, err := db.GetProductVersionIndex(ctx)
	if err != nil {
		return nil, err
	}
	versions, err := indexVersions(index, product)
	if err != nil {
		return nil, err
	}
	sort.Strings(versions)
	return versions, nil
}

func indexVersions(index Document, product string) ([]string, error) {
	raw, ok := index[product]
	if !ok || raw == nil {
		return []string{}, nil
	}

	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: index entry for %q is %T, not a list", ErrInvalidDocument, product, raw)
	}

	versions := make([]string, 0, len(list))
	for _, item := range list {
		versions = append(versions, fmt.Sprint(item))
	}
	return versions, nil
}
