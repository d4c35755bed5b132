// Package cache is the Redis fast path next to the relational store. Every
// entry here is advisory: a flushed cache degrades to slower relational
// checks, never to wrong decisions.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Hash fields of the per-video dedup marker.
const (
	FieldExtract  = "if_extract"
	FieldDownload = "if_download"
)

const unsubscribedKey = "unsubscribed_channels"
const unsubscribedTTL = 24 * time.Hour

type Cache struct {
	rdb      *redis.Client
	dedupTTL time.Duration
	now      func() time.Time
}

func New(rdb *redis.Client, dedupTTL time.Duration) *Cache {
	return &Cache{rdb: rdb, dedupTTL: dedupTTL, now: time.Now}
}

func markerKey(domain, videoKey string) string {
	return fmt.Sprintf("video:extract:cache:%s:%s", domain, videoKey)
}

func progressKey(taskID int64) string {
	return fmt.Sprintf("video:download:progress:%d", taskID)
}

func stopKey(taskID int64) string {
	return fmt.Sprintf("video:download:status:%d", taskID)
}

// SetMarker records "this video was extracted/downloaded just now".
func (c *Cache) SetMarker(ctx context.Context, domain, videoKey, field string) error {
	return c.rdb.HSet(ctx, markerKey(domain, videoKey), field, c.now().Unix()).Err()
}

// MarkerFresh reports whether a dedup marker exists and is younger than the
// dedup TTL. An older timestamp counts as absent; the stale field is left
// in place to be overwritten by the next SetMarker.
func (c *Cache) MarkerFresh(ctx context.Context, domain, videoKey, field string) (bool, error) {
	raw, err := c.rdb.HGet(ctx, markerKey(domain, videoKey), field).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, nil
	}
	return c.now().Sub(time.Unix(ts, 0)) < c.dedupTTL, nil
}

func (c *Cache) DeleteMarker(ctx context.Context, domain, videoKey, field string) error {
	return c.rdb.HDel(ctx, markerKey(domain, videoKey), field).Err()
}

// Progress mirrors the downloader's live counters for one task. Readers
// serve these without touching the relational store.
type Progress struct {
	CurrentType    string `redis:"current_type"`
	DownloadedSize int64  `redis:"downloaded_size"`
	TotalSize      int64  `redis:"total_size"`
	Speed          string `redis:"speed"`
	Eta            string `redis:"eta"`
	Percent        string `redis:"percent"`
}

func (c *Cache) SetProgress(ctx context.Context, taskID int64, p Progress) error {
	return c.rdb.HSet(ctx, progressKey(taskID), map[string]interface{}{
		"current_type":    p.CurrentType,
		"downloaded_size": p.DownloadedSize,
		"total_size":      p.TotalSize,
		"speed":           p.Speed,
		"eta":             p.Eta,
		"percent":         p.Percent,
	}).Err()
}

// GetProgress returns the mirrored counters, or (nil, nil) when nothing has
// been reported for the task.
func (c *Cache) GetProgress(ctx context.Context, taskID int64) (*Progress, error) {
	vals, err := c.rdb.HGetAll(ctx, progressKey(taskID)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	p := &Progress{
		CurrentType: vals["current_type"],
		Speed:       vals["speed"],
		Eta:         vals["eta"],
		Percent:     vals["percent"],
	}
	p.DownloadedSize, _ = strconv.ParseInt(vals["downloaded_size"], 10, 64)
	p.TotalSize, _ = strconv.ParseInt(vals["total_size"], 10, 64)
	return p, nil
}

func (c *Cache) DeleteProgress(ctx context.Context, taskID int64) error {
	return c.rdb.Del(ctx, progressKey(taskID)).Err()
}

// RequestStop raises the cooperative cancellation flag for a task. The
// downloader observes it on its next progress tick, so cancellation latency
// is bounded by the fetch engine's callback frequency.
func (c *Cache) RequestStop(ctx context.Context, taskID int64) error {
	return c.rdb.Set(ctx, stopKey(taskID), "stop", 24*time.Hour).Err()
}

func (c *Cache) StopRequested(ctx context.Context, taskID int64) (bool, error) {
	v, err := c.rdb.Get(ctx, stopKey(taskID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "stop", nil
}

func (c *Cache) ClearStop(ctx context.Context, taskID int64) error {
	return c.rdb.Del(ctx, stopKey(taskID)).Err()
}

// AddUnsubscribed parks a subscription id in the deferred-deletion set.
// The TTL is reset on every write so the set as a whole expires 24h after
// the last unsubscribe, giving in-flight workers a grace window.
func (c *Cache) AddUnsubscribed(ctx context.Context, subscriptionID int64) error {
	if err := c.rdb.SAdd(ctx, unsubscribedKey, subscriptionID).Err(); err != nil {
		return err
	}
	return c.rdb.Expire(ctx, unsubscribedKey, unsubscribedTTL).Err()
}

// Unsubscribed lists the parked subscription ids.
func (c *Cache) Unsubscribed(ctx context.Context) ([]int64, error) {
	raw, err := c.rdb.SMembers(ctx, unsubscribedKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(raw))
	for _, s := range raw {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// RemoveUnsubscribed drops a processed id and resets the set TTL.
func (c *Cache) RemoveUnsubscribed(ctx context.Context, subscriptionID int64) error {
	if err := c.rdb.SRem(ctx, unsubscribedKey, subscriptionID).Err(); err != nil {
		return err
	}
	return c.rdb.Expire(ctx, unsubscribedKey, unsubscribedTTL).Err()
}
