package cache

import "time"

// Item is one cached value. ExpiresAt is fixed at creation; a refreshed
// value replaces the item.
type Item struct {
	Key          string
	Value        []byte
	Compressed   bool
	Codec        string
	SizeBytes    int64
	OriginalSize int64
	CreatedAt    time.Time
	LastAccessed time.Time
	AccessCount  uint64
	TTL          time.Duration
	ExpiresAt    time.Time
	Strategy     string
	Warmup       bool
	Batch        string

	seq uint64
}

// Expired reports whether the item is past its expiry at now
func (i *Item) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// ItemInfo describes an item without its value
type ItemInfo struct {
	Key          string        `json:"key"`
	Strategy     string        `json:"strategy"`
	SizeBytes    int64         `json:"size_bytes"`
	OriginalSize int64         `json:"original_size"`
	Compressed   bool          `json:"compressed"`
	AccessCount  uint64        `json:"access_count"`
	CreatedAt    time.Time     `json:"created_at"`
	LastAccessed time.Time     `json:"last_accessed"`
	ExpiresAt    time.Time     `json:"expires_at"`
	TTL          time.Duration `json:"ttl"`
	Warmup       bool          `json:"warmup"`
}

func (i *Item) info() ItemInfo {
	return ItemInfo{
		Key:          i.Key,
		Strategy:     i.Strategy,
		SizeBytes:    i.SizeBytes,
		OriginalSize: i.OriginalSize,
		Compressed:   i.Compressed,
		AccessCount:  i.AccessCount,
		CreatedAt:    i.CreatedAt,
		LastAccessed: i.LastAccessed,
		ExpiresAt:    i.ExpiresAt,
		TTL:          i.TTL,
		Warmup:       i.Warmup,
	}
}
