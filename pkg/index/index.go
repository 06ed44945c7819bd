// Package index maintains the per-node file index kept in the metadata store.
//
// Each storing node owns one field of a single hash namespace; the value is
// a JSON array of model.FileMetadata. Writers read the array, replace or
// append their record and write the whole array back. There is no lock and
// no version check, so two writers racing on the same node can lose one of
// the updates. Index writes are best effort: Announce never reports a
// failure to its caller.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ratio1/r1fs-drive-go/pkg/chainstore"
	"github.com/ratio1/r1fs-drive-go/pkg/metrics"
	"github.com/ratio1/r1fs-drive-go/pkg/model"
)

// DefaultTimeout bounds one detached announcement.
const DefaultTimeout = 15 * time.Second

// ErrIncompleteRecord is returned for a record without CID or node id.
var ErrIncompleteRecord = errors.New("index: record needs both cid and node id")

// Record is what a completed upload contributes to the index.
type Record struct {
	CID      string
	NodeID   string
	Filename string
	Owner    string
	Secret   string
}

// Complete reports whether the record can be indexed.
func (r Record) Complete() bool {
	return r.CID != "" && r.NodeID != ""
}

// Reconciler reads and writes the index under one hash key.
type Reconciler struct {
	store   chainstore.Store
	hkey    string
	timeout time.Duration
	metrics *metrics.Metrics
	now     func() time.Time

	wg sync.WaitGroup
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithTimeout bounds each announcement. Zero or negative disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Reconciler) { r.timeout = d }
}

// WithMetrics counts announcement outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithClock overrides the time source used for date_uploaded and legacy
// migration.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// New returns a reconciler for hkey on store.
func New(store chainstore.Store, hkey string, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:   store,
		hkey:    hkey,
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HKey returns the hash namespace of the index.
func (r *Reconciler) HKey() string {
	return r.hkey
}

// Upsert adds rec to its node's list, replacing an entry with the same CID.
// A stored value that cannot be parsed is logged and replaced by a list
// holding only rec. Legacy lists are migrated before the write. Entries for
// other CIDs are written back unchanged. Store errors are returned.
func (r *Reconciler) Upsert(ctx context.Context, rec Record) error {
	if !rec.Complete() {
		return ErrIncompleteRecord
	}
	log := zap.L().With(zap.String("hkey", r.hkey), zap.String("node", rec.NodeID), zap.String("cid", rec.CID))

	existing, found, err := r.store.HGet(ctx, r.hkey, rec.NodeID)
	if err != nil {
		return fmt.Errorf("read file list: %w", err)
	}

	now := r.now()
	var entries []json.RawMessage
	if found {
		var format model.ListFormat
		entries, format, err = model.DecodeEntries(existing, now)
		switch {
		case err != nil:
			log.Warn("stored file list unreadable, starting over", zap.Error(err))
			entries = nil
		case format == model.FormatLegacy:
			log.Info("migrating legacy file list", zap.Int("entries", len(entries)))
		}
	}

	record, err := json.Marshal(model.NewFileMetadata(rec.CID, rec.Filename, rec.Owner, rec.Secret, now))
	if err != nil {
		return err
	}
	replaced := false
	for i, entry := range entries {
		if model.EntryCID(entry) == rec.CID {
			entries[i] = record
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, record)
	}

	serialized, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode file list: %w", err)
	}
	if err := r.store.HSet(ctx, r.hkey, rec.NodeID, string(serialized)); err != nil {
		return fmt.Errorf("write file list: %w", err)
	}
	log.Debug("file list updated", zap.Int("entries", len(entries)), zap.Bool("replaced", replaced))
	return nil
}

// Announce runs Upsert on a detached goroutine. The caller's cancellation
// does not stop it; the configured timeout does. Failures are logged and
// counted, never returned.
func (r *Reconciler) Announce(ctx context.Context, rec Record) {
	if !rec.Complete() {
		zap.L().Warn("upload result lacks cid or node id, index not updated",
			zap.String("cid", rec.CID), zap.String("node", rec.NodeID))
		r.metrics.IndexUpdate(metrics.IndexSkipped)
		return
	}

	r.wg.Add(1)
	r.metrics.IndexStarted()
	go func() {
		defer r.wg.Done()
		defer r.metrics.IndexFinished()

		ctx := context.WithoutCancel(ctx)
		if r.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
		if err := r.Upsert(ctx, rec); err != nil {
			zap.L().Error("index update failed",
				zap.String("cid", rec.CID), zap.String("node", rec.NodeID), zap.Error(err))
			r.metrics.IndexUpdate(metrics.IndexError)
			return
		}
		r.metrics.IndexUpdate(metrics.IndexOK)
	}()
}

// Wait blocks until every announcement started so far has finished.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

// List returns the whole index. Legacy lists are migrated in the result
// only; nothing is written back. Entries that do not decode are left out of
// their node's list; a node whose value is not a list at all is listed with
// no files.
func (r *Reconciler) List(ctx context.Context) (model.NodeFileIndex, error) {
	all, err := r.store.HGetAll(ctx, r.hkey)
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}

	now := r.now()
	idx := make(model.NodeFileIndex, len(all))
	for node, raw := range all {
		files, _, err := model.DecodeFileList(raw, now)
		if err != nil {
			zap.L().Warn("unreadable file list", zap.String("node", node),
				zap.Int("kept", len(files)), zap.Error(err))
		}
		if files == nil {
			files = []model.FileMetadata{}
		}
		idx[node] = files
	}
	return idx, nil
}
