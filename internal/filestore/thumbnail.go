package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // register GIF decoder for image.Decode
	"image/jpeg"
	_ "image/png" // register PNG decoder for image.Decode
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	thumbnailStream  = "fechatter.jobs.thumbnails"
	thumbnailGroup   = "fechatter-workers"
	thumbnailWidth   = 400
	thumbnailQuality = 85

	// retryMinIdle is the minimum time a job sits unacknowledged before it is
	// eligible for reclaim from a dead consumer.
	retryMinIdle = 30 * time.Second

	// maxRetries bounds delivery attempts for a single job before it is
	// acknowledged and discarded.
	maxRetries = 3
)

// errPermanent marks a failure that retrying will not fix (corrupt image,
// missing original).
var errPermanent = errors.New("permanent")

// ThumbnailJob describes a pending thumbnail generation task for a
// previously-uploaded image.
type ThumbnailJob struct {
	WorkspaceID int64  `json:"workspace_id"`
	Hash        string `json:"hash"`
	Ext         string `json:"ext"`
}

// EnqueueThumbnail adds a thumbnail generation job to the stream. Callers
// enqueue this after a successful Store.Put when ShouldThumbnail(file.Ext).
func EnqueueThumbnail(ctx context.Context, rdb *redis.Client, job ThumbnailJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal thumbnail job: %w", err)
	}
	return rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: thumbnailStream,
		Values: map[string]any{"job": string(data)},
	}).Err()
}

// ThumbnailWorker consumes thumbnail jobs from a Valkey stream and writes a
// resized JPEG derivative next to the original via Store.PutAt.
type ThumbnailWorker struct {
	rdb   *redis.Client
	store Store
	log   zerolog.Logger
}

// NewThumbnailWorker creates a worker producing thumbnails into store.
func NewThumbnailWorker(rdb *redis.Client, store Store, logger zerolog.Logger) *ThumbnailWorker {
	return &ThumbnailWorker{rdb: rdb, store: store, log: logger.With().Str("component", "filestore.thumbnail").Logger()}
}

// EnsureStream creates the consumer group for the thumbnail stream, ignoring
// the error if the group already exists.
func (w *ThumbnailWorker) EnsureStream(ctx context.Context) {
	err := w.rdb.XGroupCreateMkStream(ctx, thumbnailStream, thumbnailGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		w.log.Warn().Err(err).Msg("failed to create thumbnail consumer group")
	}
}

// Run reads and processes thumbnail jobs until ctx is cancelled.
func (w *ThumbnailWorker) Run(ctx context.Context) error {
	consumerName := "worker-" + strconv.FormatInt(time.Now().UnixNano(), 36)

	for {
		w.reclaimStale(ctx, consumerName)

		streams, err := w.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    thumbnailGroup,
			Consumer: consumerName,
			Streams:  []string{thumbnailStream, ">"},
			Count:    1,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, redis.Nil) {
				continue // block timed out, no jobs pending
			}
			return fmt.Errorf("xreadgroup: %w", err)
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				w.processJob(ctx, msg)
			}
		}
	}
}

func (w *ThumbnailWorker) reclaimStale(ctx context.Context, consumerName string) {
	msgs, _, err := w.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   thumbnailStream,
		Group:    thumbnailGroup,
		Consumer: consumerName,
		MinIdle:  retryMinIdle,
		Start:    "0-0",
		Count:    10,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			w.log.Warn().Err(err).Msg("failed to reclaim stale thumbnail jobs")
		}
		return
	}
	for _, msg := range msgs {
		w.processJob(ctx, msg)
	}
}

func (w *ThumbnailWorker) processJob(ctx context.Context, msg redis.XMessage) {
	raw, ok := msg.Values["job"]
	if !ok {
		w.log.Warn().Str("message_id", msg.ID).Msg("thumbnail job missing 'job' field")
		w.ack(ctx, msg.ID)
		return
	}

	var job ThumbnailJob
	if err := json.Unmarshal([]byte(raw.(string)), &job); err != nil {
		w.log.Warn().Err(err).Str("message_id", msg.ID).Msg("failed to unmarshal thumbnail job")
		w.ack(ctx, msg.ID)
		return
	}

	if err := w.generateThumbnail(ctx, job); err != nil {
		if errors.Is(err, errPermanent) || w.deliveryCount(ctx, msg.ID) >= maxRetries {
			w.log.Warn().Err(err).Int64("workspace_id", job.WorkspaceID).Str("hash", job.Hash).Msg("thumbnail generation failed permanently")
			w.ack(ctx, msg.ID)
			return
		}
		w.log.Warn().Err(err).Int64("workspace_id", job.WorkspaceID).Str("hash", job.Hash).Msg("thumbnail generation failed, will retry")
		return
	}
	w.ack(ctx, msg.ID)
}

func (w *ThumbnailWorker) generateThumbnail(ctx context.Context, job ThumbnailJob) error {
	file := File{Hash: job.Hash, Ext: job.Ext}

	rc, err := w.store.Get(ctx, job.WorkspaceID, file)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("read original: %w", errors.Join(err, errPermanent))
		}
		return fmt.Errorf("read original: %w", err)
	}
	defer func() { _ = rc.Close() }()

	img, _, err := image.Decode(rc)
	if err != nil {
		return fmt.Errorf("decode image: %w", errors.Join(err, errPermanent))
	}

	thumb := imaging.Resize(img, thumbnailWidth, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		return fmt.Errorf("encode thumbnail: %w", errors.Join(err, errPermanent))
	}

	if err := w.store.PutAt(ctx, job.WorkspaceID, ThumbnailKey(file), &buf); err != nil {
		return fmt.Errorf("write thumbnail: %w", err)
	}

	w.log.Debug().Int64("workspace_id", job.WorkspaceID).Str("hash", job.Hash).Msg("thumbnail generated")
	return nil
}

func (w *ThumbnailWorker) deliveryCount(ctx context.Context, messageID string) int64 {
	pending, err := w.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: thumbnailStream,
		Group:  thumbnailGroup,
		Start:  messageID,
		End:    messageID,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return maxRetries
	}
	return pending[0].RetryCount
}

func (w *ThumbnailWorker) ack(ctx context.Context, messageID string) {
	if err := w.rdb.XAck(ctx, thumbnailStream, thumbnailGroup, messageID).Err(); err != nil {
		w.log.Warn().Err(err).Str("message_id", messageID).Msg("failed to ack thumbnail job")
	}
}
