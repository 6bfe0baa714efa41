// Copyright 2024 RMXFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Parent sentinels used in the "parent" field of a metadata record.
const (
	RootID  = ""
	TrashID = "trash"
)

// Wire values of the "type" field.
const (
	typeDocument   = "DocumentType"
	typeCollection = "CollectionType"
)

// Kind distinguishes documents from collections.
type Kind int

const (
	KindDocument Kind = iota
	KindCollection
)

func (k Kind) String() string {
	if k == KindCollection {
		return "collection"
	}
	return "document"
}

// DocType is the content type of a document, equal to its blob extension.
type DocType string

const (
	DocTypePDF  DocType = "pdf"
	DocTypeEPUB DocType = "epub"
)

// DefaultDocTypes is the document type whitelist when none is configured.
var DefaultDocTypes = []DocType{DocTypePDF, DocTypeEPUB}

// Record is one metadata record. DocType is not part of the .metadata file;
// the store fills it from the .content sidecar or the blob on disk.
type Record struct {
	ID           string
	Parent       string
	VisibleName  string
	Kind         Kind
	DocType      DocType
	LastModified time.Time

	// Extra holds every key the store does not interpret, so rewriting a
	// record leaves fields owned by other tools untouched.
	Extra map[string]json.RawMessage
}

// NewDocument returns a record for a freshly created document, carrying the
// default bookkeeping fields the device expects on a new item.
func NewDocument(id, parent, name string, t DocType, now time.Time) *Record {
	return &Record{
		ID:           id,
		Parent:       parent,
		VisibleName:  name,
		Kind:         KindDocument,
		DocType:      t,
		LastModified: now,
		Extra:        newItemExtra(),
	}
}

// NewCollection returns a record for a freshly created collection.
func NewCollection(id, parent, name string, now time.Time) *Record {
	return &Record{
		ID:           id,
		Parent:       parent,
		VisibleName:  name,
		Kind:         KindCollection,
		LastModified: now,
		Extra:        newItemExtra(),
	}
}

func newItemExtra() map[string]json.RawMessage {
	f := json.RawMessage("false")
	return map[string]json.RawMessage{
		"deleted":          f,
		"metadatamodified": f,
		"modified":         f,
		"pinned":           f,
		"synced":           f,
		"version":          json.RawMessage("0"),
	}
}

// InTrash reports whether the record is parked under the trash sentinel.
func (r *Record) InTrash() bool { return r.Parent == TrashID }

// FileName is the projected name: documents get their type as extension.
func (r *Record) FileName() string {
	if r.Kind == KindDocument && r.DocType != "" {
		return r.VisibleName + "." + string(r.DocType)
	}
	return r.VisibleName
}

// Touch sets LastModified, keeping it strictly increasing at millisecond
// resolution so two mutations inside one millisecond stay ordered.
func (r *Record) Touch(now time.Time) {
	now = now.Truncate(time.Millisecond)
	if !now.After(r.LastModified) {
		now = r.LastModified.Add(time.Millisecond)
	}
	r.LastModified = now
}

// MarshalJSON encodes the record in the on-device .metadata layout.
// lastModified is written as a string of epoch milliseconds.
func (r *Record) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Extra)+4)
	for k, v := range r.Extra {
		m[k] = v
	}
	m["parent"] = r.Parent
	m["visibleName"] = r.VisibleName
	m["lastModified"] = strconv.FormatInt(r.LastModified.UnixMilli(), 10)
	if r.Kind == KindCollection {
		m["type"] = typeCollection
	} else {
		m["type"] = typeDocument
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes a .metadata file. ID and DocType are left for the
// caller to fill in.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var typ string
	if err := takeString(raw, "type", &typ); err != nil {
		return err
	}
	switch typ {
	case typeDocument:
		r.Kind = KindDocument
	case typeCollection:
		r.Kind = KindCollection
	default:
		return fmt.Errorf("unknown record type %q", typ)
	}

	if err := takeString(raw, "parent", &r.Parent); err != nil {
		return err
	}
	if err := takeString(raw, "visibleName", &r.VisibleName); err != nil {
		return err
	}

	r.LastModified = time.Time{}
	if v, ok := raw["lastModified"]; ok {
		ms, err := decodeMillis(v)
		if err != nil {
			return fmt.Errorf("lastModified: %w", err)
		}
		r.LastModified = time.UnixMilli(ms)
		delete(raw, "lastModified")
	}

	r.Extra = raw
	return nil
}

func takeString(raw map[string]json.RawMessage, key string, dst *string) error {
	v, ok := raw[key]
	if !ok {
		*dst = ""
		return nil
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	delete(raw, key)
	return nil
}

// decodeMillis accepts the canonical string form and a bare number written
// by older tools.
func decodeMillis(v json.RawMessage) (int64, error) {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		if s == "" {
			return 0, nil
		}
		return strconv.ParseInt(s, 10, 64)
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err != nil {
		return 0, err
	}
	return n.Int64()
}
