package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/tracos/syncbridge/internal/dates"
)

// TracOSFromDocument decodes a loosely typed TracOS document, as returned by
// the document store or loaded from an Extended JSON fixture. Dates may be
// native timestamps, ISO strings or {"$date": ...} wrappers.
//
// Missing fields are left at their zero value; Validate reports them.
func TracOSFromDocument(doc map[string]any) (TracOSWorkorder, error) {
	var w TracOSWorkorder

	id, err := documentID(doc["_id"])
	if err != nil {
		return w, err
	}
	w.ID = id

	if v, ok := doc["number"]; ok && v != nil {
		n, err := toInt64(v)
		if err != nil {
			return w, fmt.Errorf("number: %w", err)
		}
		w.Number = n
	}

	w.Status = Status(stringField(doc, "status"))
	w.Title = stringField(doc, "title")
	w.Description = stringField(doc, "description")

	if w.CreatedAt, err = dateField(doc, "createdAt"); err != nil {
		return w, err
	}
	if w.UpdatedAt, err = dateField(doc, "updatedAt"); err != nil {
		return w, err
	}
	if w.DeletedAt, err = optionalDateField(doc, "deletedAt"); err != nil {
		return w, err
	}
	if w.SyncedAt, err = optionalDateField(doc, "syncedAt"); err != nil {
		return w, err
	}

	if b, ok := doc["deleted"].(bool); ok {
		w.Deleted = b
	}
	if b, ok := doc["isSynced"].(bool); ok {
		w.IsSynced = &b
	}

	return w, nil
}

// Document renders w as a key/value document for the store. The identity is
// stored as an ObjectID when it parses as one. Absent optional fields are
// omitted so "field does not exist" stays observable.
func (w *TracOSWorkorder) Document() map[string]any {
	doc := map[string]any{
		"number":      w.Number,
		"status":      string(w.Status),
		"title":       w.Title,
		"description": w.Description,
		"createdAt":   w.CreatedAt,
		"updatedAt":   w.UpdatedAt,
		"deleted":     w.Deleted,
	}
	if w.ID != "" {
		if oid, ok := w.ID.ObjectID(); ok {
			doc["_id"] = oid
		} else {
			doc["_id"] = string(w.ID)
		}
	}
	if w.DeletedAt != nil {
		doc["deletedAt"] = *w.DeletedAt
	}
	if w.IsSynced != nil {
		doc["isSynced"] = *w.IsSynced
	}
	if w.SyncedAt != nil {
		doc["syncedAt"] = *w.SyncedAt
	}
	return doc
}

func documentID(v any) (DocumentID, error) {
	switch id := v.(type) {
	case nil:
		return "", nil
	case primitive.ObjectID:
		return DocumentID(id.Hex()), nil
	case string:
		return DocumentID(id), nil
	case map[string]any:
		if oid, ok := id["$oid"].(string); ok {
			return DocumentID(oid), nil
		}
	case primitive.M:
		if oid, ok := id["$oid"].(string); ok {
			return DocumentID(oid), nil
		}
	}
	return "", fmt.Errorf("_id: unsupported identity %v (%T)", v, v)
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("not an integer: %v", n)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case string:
		return strconv.ParseInt(n, 10, 64)
	case map[string]any:
		for _, key := range []string{"$numberInt", "$numberLong"} {
			if s, ok := n[key].(string); ok {
				return strconv.ParseInt(s, 10, 64)
			}
		}
	}
	return 0, fmt.Errorf("unsupported number %v (%T)", v, v)
}

func stringField(doc map[string]any, key string) string {
	s, _ := doc[key].(string)
	return s
}

func dateField(doc map[string]any, key string) (time.Time, error) {
	t, err := dates.Normalize(doc[key])
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", key, err)
	}
	return t, nil
}

func optionalDateField(doc map[string]any, key string) (*time.Time, error) {
	t, err := dateField(doc, key)
	if err != nil || t.IsZero() {
		return nil, err
	}
	return &t, nil
}
