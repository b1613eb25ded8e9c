package archive

import (
	"context"
	"encoding/json"

	"github.com/kode4food/timebox"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// Hibernator implements timebox.Hibernator on the archive bucket, so the
// event streams of evicted plan and node aggregates can be restored
type Hibernator struct {
	bucket *blob.Bucket
	prefix string
}

const aggregatesDir = "aggregates/"

var _ timebox.Hibernator = (*Hibernator)(nil)

// Hibernator returns a hibernator that shares the archive's bucket
func (a *Archive) Hibernator() *Hibernator {
	return &Hibernator{
		bucket: a.bucket,
		prefix: a.prefix + aggregatesDir,
	}
}

func (h *Hibernator) Get(
	ctx context.Context, id timebox.AggregateID,
) (*timebox.HibernateRecord, error) {
	data, err := h.bucket.ReadAll(ctx, h.keyFor(id))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, timebox.ErrHibernateNotFound
		}
		return nil, err
	}

	var record timebox.HibernateRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (h *Hibernator) Put(
	ctx context.Context, id timebox.AggregateID, rec *timebox.HibernateRecord,
) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return h.bucket.WriteAll(ctx, h.keyFor(id), data, nil)
}

func (h *Hibernator) Delete(
	ctx context.Context, id timebox.AggregateID,
) error {
	err := h.bucket.Delete(ctx, h.keyFor(id))
	if err != nil && gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return err
}

// Close is a no-op. The bucket belongs to the archive
func (h *Hibernator) Close() error {
	return nil
}

func (h *Hibernator) keyFor(id timebox.AggregateID) string {
	return h.prefix + id.Join("/") + ".json"
}
