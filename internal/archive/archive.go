package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/kode4food/conductor/pkg/api"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

type (
	// Archive stores finished plan executions in a gocloud.dev/blob
	// bucket, supporting S3, GCS, Azure Blob Storage, local files, and
	// memory
	Archive struct {
		bucket *blob.Bucket
		prefix string
		now    func() time.Time
	}

	// Record is an archived plan execution with every node execution it
	// created
	Record struct {
		Plan       *api.PlanExecution   `json:"plan"`
		Nodes      []*api.NodeExecution `json:"nodes"`
		ArchivedAt time.Time            `json:"archived_at"`
	}
)

const plansDir = "plans/"

var ErrNotArchived = errors.New("plan execution not archived")

// Open opens the bucket at the URL. Every key written is placed under the
// prefix
func Open(ctx context.Context, bucketURL, prefix string) (*Archive, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	return New(bucket, prefix), nil
}

// New wraps an already opened bucket
func New(bucket *blob.Bucket, prefix string) *Archive {
	return &Archive{
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
	}
}

// Archive writes the plan execution and its nodes as one JSON document,
// replacing any earlier record of the same plan
func (a *Archive) Archive(
	ctx context.Context, plan *api.PlanExecution, nodes []*api.NodeExecution,
) error {
	data, err := json.Marshal(&Record{
		Plan:       plan,
		Nodes:      nodes,
		ArchivedAt: a.now(),
	})
	if err != nil {
		return err
	}
	return a.bucket.WriteAll(ctx, a.planKey(plan.ID), data, &blob.WriterOptions{
		ContentType: "application/json",
	})
}

// Get reads an archived plan execution
func (a *Archive) Get(
	ctx context.Context, id api.PlanExecutionID,
) (*Record, error) {
	data, err := a.bucket.ReadAll(ctx, a.planKey(id))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotArchived, id)
		}
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns the ids of every archived plan execution
func (a *Archive) List(ctx context.Context) ([]api.PlanExecutionID, error) {
	var res []api.PlanExecutionID
	iter := a.bucket.List(&blob.ListOptions{Prefix: a.prefix + plansDir})
	for {
		obj, err := iter.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return res, nil
			}
			return nil, err
		}
		if id, ok := a.planID(obj.Key); ok {
			res = append(res, id)
		}
	}
}

// Delete removes an archived plan execution. Deleting one that was never
// archived is not an error
func (a *Archive) Delete(ctx context.Context, id api.PlanExecutionID) error {
	err := a.bucket.Delete(ctx, a.planKey(id))
	if err != nil && gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return err
}

func (a *Archive) Close() error {
	return a.bucket.Close()
}

func (a *Archive) planKey(id api.PlanExecutionID) string {
	return a.prefix + plansDir + string(id) + ".json"
}

func (a *Archive) planID(key string) (api.PlanExecutionID, bool) {
	rest, ok := strings.CutPrefix(key, a.prefix+plansDir)
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, ".json")
	return api.PlanExecutionID(id), ok && id != ""
}
