package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"plan_store/internal/kvstore"
)

// ETagField is the reserved root field holding the document's ETag.
const ETagField = "etag"

// Encoding version 1. Every field map carries @v and @kind; object field
// maps reference their nested containers through @object:<field> and
// @array:<field>; set members are always full child keys.
const (
	encodingVersion = "1"

	metaPrefix      = "@"
	versionField    = "@v"
	kindField       = "@kind"
	indexField      = "@index"
	valueField      = "@value"
	itemsField      = "@items"
	objectRefPrefix = "@object:"
	arrayRefPrefix  = "@array:"

	kindObject = "object"
	kindScalar = "scalar"
	kindArray  = "array"

	keySep = "_"
)

// Engine maps documents onto field maps and sets of a kvstore.Store.
type Engine struct {
	store kvstore.Store
	log   zerolog.Logger
}

func NewEngine(store kvstore.Store, log zerolog.Logger) *Engine {
	return &Engine{store: store, log: log}
}

// Key builds the store key of a document.
func Key(objectType, objectID string) string {
	return objectType + keySep + objectID
}

// Identity returns the objectType and objectId of obj when both are
// non-empty strings.
func Identity(obj map[string]any) (objectType, objectID string, ok bool) {
	objectType, _ = obj["objectType"].(string)
	objectID, _ = obj["objectId"].(string)
	return objectType, objectID, objectType != "" && objectID != ""
}

// ValidRootPart reports whether s can be one half of a root key. Root keys
// hold exactly one separator, every key below them holds more.
func ValidRootPart(s string) bool {
	return s != "" && !strings.Contains(s, keySep)
}

// RootKey returns the store key doc is flattened under.
func RootKey(doc map[string]any) (string, error) {
	objectType, objectID, ok := Identity(doc)
	if !ok {
		return "", ErrMissingIdentity
	}
	if !ValidRootPart(objectType) || !ValidRootPart(objectID) {
		return "", fmt.Errorf("%w: %s", ErrInvalidIdentity, Key(objectType, objectID))
	}
	return Key(objectType, objectID), nil
}

// Flatten writes doc under its root key and returns that key. Children are
// written before their parents, so the root field map appears last.
func (e *Engine) Flatten(ctx context.Context, doc map[string]any) (string, error) {
	rootKey, err := RootKey(doc)
	if err != nil {
		return "", err
	}
	if err := checkFieldNames(doc, true); err != nil {
		return "", err
	}
	if err := e.writeObject(ctx, rootKey, doc, -1); err != nil {
		return "", err
	}
	return rootKey, nil
}

func checkFieldNames(v any, root bool) error {
	switch v := v.(type) {
	case map[string]any:
		for name, child := range v {
			if strings.HasPrefix(name, metaPrefix) || (root && name == ETagField) {
				return fmt.Errorf("%w: %q", ErrReservedField, name)
			}
			if err := checkFieldNames(child, false); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range v {
			if err := checkFieldNames(child, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func sortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *Engine) writeObject(ctx context.Context, key string, obj map[string]any, index int) error {
	fields := map[string]string{
		versionField: encodingVersion,
		kindField:    kindObject,
	}
	if index >= 0 {
		fields[indexField] = strconv.Itoa(index)
	}

	for _, name := range sortedKeys(obj) {
		container := key + keySep + name
		switch v := obj[name].(type) {
		case map[string]any:
			child := container + keySep + "0"
			if objectType, objectID, ok := Identity(v); ok {
				child = container + keySep + Key(objectType, objectID)
			}
			if err := e.writeObject(ctx, child, v, -1); err != nil {
				return err
			}
			if err := e.resetContainer(ctx, container, child); err != nil {
				return err
			}
			fields[objectRefPrefix+name] = container
		case []any:
			if err := e.writeArray(ctx, container, v); err != nil {
				return err
			}
			fields[arrayRefPrefix+name] = container
		default:
			s, err := scalarString(v)
			if err != nil {
				return fmt.Errorf("%s.%s: %w", key, name, err)
			}
			fields[name] = s
		}
	}

	return e.replaceHash(ctx, key, fields)
}

func (e *Engine) writeArray(ctx context.Context, container string, items []any) error {
	members := make([]string, 0, len(items))
	used := make(map[string]bool, len(items))

	for i, item := range items {
		child := container + keySep + strconv.Itoa(i)
		if obj, ok := item.(map[string]any); ok {
			if objectType, objectID, ok := Identity(obj); ok {
				// identity keys contain a separator, index keys never do
				if candidate := container + keySep + Key(objectType, objectID); !used[candidate] {
					child = candidate
				}
			}
		}
		used[child] = true

		var err error
		switch v := item.(type) {
		case map[string]any:
			err = e.writeObject(ctx, child, v, i)
		case []any:
			inner := child + keySep + "items"
			if err = e.writeArray(ctx, inner, v); err == nil {
				err = e.replaceHash(ctx, child, map[string]string{
					versionField: encodingVersion,
					kindField:    kindArray,
					indexField:   strconv.Itoa(i),
					itemsField:   inner,
				})
			}
		default:
			var s string
			if s, err = scalarString(v); err == nil {
				err = e.replaceHash(ctx, child, map[string]string{
					versionField: encodingVersion,
					kindField:    kindScalar,
					indexField:   strconv.Itoa(i),
					valueField:   s,
				})
			} else {
				err = fmt.Errorf("%s[%d]: %w", container, i, err)
			}
		}
		if err != nil {
			return err
		}
		members = append(members, child)
	}

	return e.resetContainer(ctx, container, members...)
}

// replaceHash writes fields as the whole field map of key.
func (e *Engine) replaceHash(ctx context.Context, key string, fields map[string]string) error {
	if err := e.store.Del(ctx, key); err != nil {
		return err
	}
	return e.store.HSet(ctx, key, fields)
}

// resetContainer replaces whatever a previous, interrupted write left in the
// set. An empty member list leaves no set behind.
func (e *Engine) resetContainer(ctx context.Context, container string, members ...string) error {
	if err := e.store.Del(ctx, container); err != nil {
		return err
	}
	return e.store.SAdd(ctx, container, members...)
}

func scalarString(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "null", nil
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		raw, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

// coerce turns a stored scalar back into its JSON value. Only strings that
// are complete JSON number literals become numbers.
func coerce(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if isNumber(s) {
		return json.Number(s)
	}
	return s
}

func isNumber(s string) bool {
	if s == "" || strings.TrimSpace(s) != s {
		return false
	}
	if c := s[0]; c != '-' && (c < '0' || c > '9') {
		return false
	}
	return json.Valid([]byte(s))
}

// Reconstruct rebuilds the document stored under rootKey. Records of an
// unexpected structural type are logged and skipped.
func (e *Engine) Reconstruct(ctx context.Context, rootKey string) (map[string]any, error) {
	fields, ok, err := e.readHash(ctx, rootKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rootKey)
	}
	return e.readObject(ctx, fields, true)
}

func (e *Engine) readObject(ctx context.Context, fields map[string]string, root bool) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for name, raw := range fields {
		switch {
		case strings.HasPrefix(name, objectRefPrefix):
			child, ok, err := e.readNestedObject(ctx, raw)
			if err != nil {
				return nil, err
			}
			if ok {
				out[strings.TrimPrefix(name, objectRefPrefix)] = child
			}
		case strings.HasPrefix(name, arrayRefPrefix):
			items, ok, err := e.readArray(ctx, raw)
			if err != nil {
				return nil, err
			}
			if ok {
				out[strings.TrimPrefix(name, arrayRefPrefix)] = items
			}
		case strings.HasPrefix(name, metaPrefix):
		case root && name == ETagField:
		default:
			out[name] = coerce(raw)
		}
	}
	return out, nil
}

// readHash returns ok=false for a missing key or a key that is not a field map.
func (e *Engine) readHash(ctx context.Context, key string) (map[string]string, bool, error) {
	kt, err := e.store.Type(ctx, key)
	if err != nil {
		return nil, false, err
	}
	switch kt {
	case kvstore.TypeHash:
	case kvstore.TypeNone:
		return nil, false, nil
	default:
		e.log.Warn().Str("key", key).Str("type", string(kt)).Msg("unexpected key type, expected hash")
		return nil, false, nil
	}

	fields, err := e.store.HGetAll(ctx, key)
	if err != nil {
		return nil, false, err
	}
	return fields, true, nil
}

// readMembers returns ok=false for a key that is not a set. A missing set
// has no members.
func (e *Engine) readMembers(ctx context.Context, container string) ([]string, bool, error) {
	kt, err := e.store.Type(ctx, container)
	if err != nil {
		return nil, false, err
	}
	switch kt {
	case kvstore.TypeSet:
	case kvstore.TypeNone:
		return nil, true, nil
	default:
		e.log.Warn().Str("key", container).Str("type", string(kt)).Msg("unexpected key type, expected set")
		return nil, false, nil
	}

	members, err := e.store.SMembers(ctx, container)
	if err != nil {
		return nil, false, err
	}
	return members, true, nil
}

func (e *Engine) readNestedObject(ctx context.Context, container string) (map[string]any, bool, error) {
	members, ok, err := e.readMembers(ctx, container)
	if err != nil || !ok {
		return nil, false, err
	}
	if len(members) != 1 {
		e.log.Warn().Str("key", container).Int("members", len(members)).Msg("nested object set must hold exactly one member")
		return nil, false, nil
	}

	fields, ok, err := e.readHash(ctx, members[0])
	if err != nil || !ok {
		return nil, false, err
	}
	obj, err := e.readObject(ctx, fields, false)
	if err != nil {
		return nil, false, err
	}
	return obj, true, nil
}

func (e *Engine) readArray(ctx context.Context, container string) ([]any, bool, error) {
	members, ok, err := e.readMembers(ctx, container)
	if err != nil || !ok {
		return nil, false, err
	}

	type element struct {
		index int
		value any
	}
	elements := make([]element, 0, len(members))

	for _, member := range members {
		fields, ok, err := e.readHash(ctx, member)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}
		index, err := strconv.Atoi(fields[indexField])
		if err != nil {
			e.log.Warn().Str("key", member).Msg("array element without a valid index")
			continue
		}

		var value any
		switch fields[kindField] {
		case kindScalar:
			value = coerce(fields[valueField])
		case kindArray:
			items, ok, err := e.readArray(ctx, fields[itemsField])
			if err != nil {
				return nil, false, err
			}
			if !ok {
				continue
			}
			value = items
		default:
			obj, err := e.readObject(ctx, fields, false)
			if err != nil {
				return nil, false, err
			}
			value = obj
		}
		elements = append(elements, element{index: index, value: value})
	}

	sort.SliceStable(elements, func(i, j int) bool {
		return elements[i].index < elements[j].index
	})
	out := make([]any, len(elements))
	for i, el := range elements {
		out[i] = el.value
	}
	return out, true, nil
}

// Delete removes the document stored under rootKey and every record below
// it. The root field map goes last, so an interrupted delete can be retried.
func (e *Engine) Delete(ctx context.Context, rootKey string) error {
	return e.deleteNode(ctx, rootKey)
}

func isBelow(parent, child string) bool {
	return strings.HasPrefix(child, parent+keySep)
}

func (e *Engine) deleteNode(ctx context.Context, key string) error {
	kt, err := e.store.Type(ctx, key)
	if err != nil {
		return err
	}

	switch kt {
	case kvstore.TypeHash:
		fields, err := e.store.HGetAll(ctx, key)
		if err != nil {
			return err
		}
		for name, ref := range fields {
			if !strings.HasPrefix(name, objectRefPrefix) && !strings.HasPrefix(name, arrayRefPrefix) && name != itemsField {
				continue
			}
			if !isBelow(key, ref) {
				e.log.Warn().Str("key", key).Str("ref", ref).Msg("reference outside the document tree, not followed")
				continue
			}
			if err := e.deleteContainer(ctx, ref); err != nil {
				return err
			}
		}
	case kvstore.TypeNone:
		return nil
	default:
		e.log.Warn().Str("key", key).Str("type", string(kt)).Msg("unexpected key type, expected hash")
	}

	return e.store.Del(ctx, key)
}

func (e *Engine) deleteContainer(ctx context.Context, container string) error {
	kt, err := e.store.Type(ctx, container)
	if err != nil {
		return err
	}

	switch kt {
	case kvstore.TypeSet:
		members, err := e.store.SMembers(ctx, container)
		if err != nil {
			return err
		}
		for _, member := range members {
			if !isBelow(container, member) {
				e.log.Warn().Str("key", container).Str("member", member).Msg("member outside the document tree, not followed")
				continue
			}
			if err := e.deleteNode(ctx, member); err != nil {
				return err
			}
		}
	case kvstore.TypeNone:
		return nil
	default:
		e.log.Warn().Str("key", container).Str("type", string(kt)).Msg("unexpected key type, expected set")
	}

	return e.store.Del(ctx, container)
}
