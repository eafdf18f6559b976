// Package archive writes the raw candidate list of each successful visit to a
// blob store, keeping a replayable record of what the fetcher returned.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/JakeFAU/topicstreams/internal/hash/sha256"
	"github.com/JakeFAU/topicstreams/internal/news"
)

// BlobStore writes an object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Snapshot is the archived document.
type Snapshot struct {
	Topic     string         `json:"topic"`
	FetchedAt time.Time      `json:"fetched_at"`
	Items     []news.RawItem `json:"items"`
}

// Archiver serializes snapshots under a key prefix.
type Archiver struct {
	store  BlobStore
	prefix string
	hasher *sha256.Hasher
}

// New returns an Archiver writing under prefix (default "snapshots").
func New(store BlobStore, prefix string) (*Archiver, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "snapshots"
	}
	return &Archiver{store: store, prefix: prefix, hasher: sha256.New()}, nil
}

// Archive stores items fetched for topic at the given time and returns the object URI.
func (a *Archiver) Archive(ctx context.Context, topic string, at time.Time, items []news.RawItem) (string, error) {
	if items == nil {
		items = []news.RawItem{}
	}
	data, err := json.Marshal(Snapshot{Topic: topic, FetchedAt: at.UTC(), Items: items})
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	uri, err := a.store.PutObject(ctx, a.ObjectPath(topic, at, data), "application/json", data)
	if err != nil {
		return "", fmt.Errorf("put snapshot: %w", err)
	}
	return uri, nil
}

// ObjectPath lays snapshots out as prefix/slug/YYYY/MM/DD/HHMMSS.nnnnnnnnn-digest.json.
func (a *Archiver) ObjectPath(topic string, at time.Time, data []byte) string {
	at = at.UTC()
	digest := a.hasher.Hash(data)[:12]
	name := fmt.Sprintf("%s-%s.json", at.Format("150405.000000000"), digest)
	return path.Join(a.prefix, slug(topic), at.Format("2006/01/02"), name)
}

// slug keeps ASCII letters and digits and folds every other run into one dash.
func slug(topic string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(topic) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "topic"
	}
	return out
}
