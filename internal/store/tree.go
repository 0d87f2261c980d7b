package store

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"
)

// maxRetries matches the retry budget of the hosted realtime database.
const maxRetries = 25

// Backend persists root documents. Load returns a private copy of the document
// and its version (nil, 0 when it doesn't exist). An empty document is kept
// as a tombstone so its version still guards later swaps. Swap stores doc
// only if the stored version still equals version and reports whether it did.
type Backend interface {
	Load(ctx context.Context, root string) (map[string]any, int64, error)
	Swap(ctx context.Context, root string, doc map[string]any, version int64) (bool, error)
}

// Tree implements Store on top of any Backend.
type Tree struct {
	b Backend
}

func New(b Backend) *Tree {
	return &Tree{b: b}
}

func (t *Tree) Get(ctx context.Context, path string) (any, error) {
	root, rel, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	doc, _, err := t.b.Load(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s, %w", root, err)
	}

	if len(doc) == 0 {
		return nil, ErrNotFound
	}

	v := lookup(doc, rel)
	if v == nil {
		return nil, ErrNotFound
	}

	return v, nil
}

func (t *Tree) Set(ctx context.Context, path string, val any) error {
	root, rel, err := splitPath(path)
	if err != nil {
		return err
	}

	v, err := normalize(val)
	if err != nil {
		return err
	}

	var m map[string]any
	if len(rel) == 0 && v != nil {
		var ok bool
		if m, ok = v.(map[string]any); !ok {
			return fmt.Errorf("%w, root documents must be objects", ErrInvalidValue)
		}
	}

	_, err = t.mutate(ctx, root, func(doc map[string]any) (map[string]any, bool) {
		if len(rel) == 0 {
			return m, true
		}

		assign(doc, rel, v)
		return doc, true
	})
	return err
}

func (t *Tree) Update(ctx context.Context, path string, fields map[string]any) error {
	root, rel, err := splitPath(path)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(fields))
	values := make(map[string]any, len(fields))

	for k, raw := range fields {
		segs, err := splitKey(k)
		if err != nil {
			return err
		}
		if len(rel)+len(segs) == 0 {
			return ErrInvalidPath
		}

		v, err := normalize(raw)
		if err != nil {
			return err
		}

		keys = append(keys, k)
		values[k] = v
	}

	if len(keys) == 0 {
		return nil
	}

	// Deterministic application order for overlapping keys
	slices.Sort(keys)

	_, err = t.mutate(ctx, root, func(doc map[string]any) (map[string]any, bool) {
		for _, k := range keys {
			segs, _ := splitKey(k)
			full := append(slices.Clone(rel), segs...)
			assign(doc, full, values[k])
		}
		return doc, true
	})
	return err
}

func (t *Tree) Transaction(ctx context.Context, path string, fn TransactionFunc) (any, error) {
	root, rel, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	if len(rel) == 0 {
		return nil, ErrInvalidPath
	}

	var committed any

	_, err = t.mutate(ctx, root, func(doc map[string]any) (map[string]any, bool) {
		next, ok := fn(lookup(doc, rel))
		if !ok {
			return nil, false
		}

		v, err := normalize(next)
		if err != nil {
			zap.L().Debug("Transaction produced an invalid value", zap.String("path", path), zap.Error(err))
			return nil, false
		}

		assign(doc, rel, v)
		committed = v
		return doc, true
	})
	if err != nil {
		return nil, err
	}

	return committed, nil
}

// mutate runs fn against the latest version of root until the swap wins or
// the retry budget runs out.
func (t *Tree) mutate(ctx context.Context, root string, fn func(doc map[string]any) (map[string]any, bool)) (map[string]any, error) {
	for attempt := range maxRetries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		doc, version, err := t.b.Load(ctx, root)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s, %w", root, err)
		}
		if doc == nil {
			doc = map[string]any{}
		}

		next, ok := fn(doc)
		if !ok {
			return nil, ErrNotCommitted
		}
		if next == nil {
			next = map[string]any{}
		}

		swapped, err := t.b.Swap(ctx, root, next, version)
		if err != nil {
			return nil, fmt.Errorf("failed to store %s, %w", root, err)
		}

		if swapped {
			return next, nil
		}

		zap.L().Debug("Document changed underneath write, retrying", zap.String("root", root), zap.Int("attempt", attempt+1))
	}

	return nil, ErrNotCommitted
}

func splitPath(p string) (string, []string, error) {
	segs := strings.Split(strings.Trim(p, "/"), "/")
	if len(segs) < 2 {
		return "", nil, ErrInvalidPath
	}

	for _, s := range segs {
		if s == "" {
			return "", nil, ErrInvalidPath
		}
	}

	return segs[0] + "/" + segs[1], segs[2:], nil
}

func splitKey(k string) ([]string, error) {
	k = strings.Trim(k, "/")
	if k == "" {
		return nil, nil
	}

	segs := strings.Split(k, "/")
	for _, s := range segs {
		if s == "" {
			return nil, ErrInvalidPath
		}
	}

	return segs, nil
}

func lookup(node map[string]any, segs []string) any {
	var cur any = node
	for _, s := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[s]
	}

	return cur
}

// assign writes v at segs below node, creating intermediate maps. Deleting the
// last child of a map removes the map too.
func assign(node map[string]any, segs []string, v any) {
	key := segs[0]
	if len(segs) == 1 {
		if v == nil {
			delete(node, key)
		} else {
			node[key] = v
		}
		return
	}

	child, ok := node[key].(map[string]any)
	if !ok {
		if v == nil {
			return
		}

		child = map[string]any{}
		node[key] = child
	}

	assign(child, segs[1:], v)
	if len(child) == 0 {
		delete(node, key)
	}
}

// normalize turns any JSON encodable value into its generic JSON form so every
// backend reads back the same shapes.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w, %w", ErrInvalidValue, err)
	}

	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w, %w", ErrInvalidValue, err)
	}

	if m, ok := out.(map[string]any); ok && len(m) == 0 {
		return nil, nil
	}

	return out, nil
}
