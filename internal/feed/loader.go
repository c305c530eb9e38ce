package feed

import (
	"context"
	"time"

	"murmur/internal/models"

	"github.com/graph-gophers/dataloader/v7"
)

// targetLoader batches repost target lookups issued by concurrent
// enrichments of one page into FindByIDs calls. It lives for one call.
type targetLoader struct {
	loader *dataloader.Loader[string, *models.Post]
}

func newTargetLoader(posts PostReader) *targetLoader {
	batch := func(ctx context.Context, keys []string) []*dataloader.Result[*models.Post] {
		results := make([]*dataloader.Result[*models.Post], len(keys))

		found, err := posts.FindByIDs(ctx, keys)
		if err != nil {
			for i := range keys {
				results[i] = &dataloader.Result[*models.Post]{Error: err}
			}
			return results
		}

		byID := make(map[string]*models.Post, len(found))
		for _, p := range found {
			byID[p.ID] = p
		}
		for i, k := range keys {
			if p, ok := byID[k]; ok {
				results[i] = &dataloader.Result[*models.Post]{Data: p}
			} else {
				results[i] = &dataloader.Result[*models.Post]{Error: models.NewNotFoundError("Post", k)}
			}
		}
		return results
	}

	return &targetLoader{
		loader: dataloader.NewBatchedLoader(batch,
			dataloader.WithWait[string, *models.Post](2*time.Millisecond),
			dataloader.WithBatchCapacity[string, *models.Post](100),
		),
	}
}

func (l *targetLoader) load(ctx context.Context, id string) (*models.Post, error) {
	return l.loader.Load(ctx, id)()
}
