package nettools

import (
	"context"
	"net/http"

	"golang.org/x/sync/singleflight"
)

// Deduplicator is a Stage that coalesces concurrent identical GET calls:
// the first caller performs the exchange and every caller that joins while
// it is in flight receives the same Response. The shared exchange is not
// cancelled when one of its callers gives up; each caller still returns as
// soon as its own context is done.
type Deduplicator struct {
	group singleflight.Group
}

// NewDeduplicator returns an empty Deduplicator.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{}
}

// Name implements Stage.
func (d *Deduplicator) Name() string {
	return "dedup"
}

// Wrap implements Stage.
func (d *Deduplicator) Wrap(next Sender) Sender {
	return SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
		if req.Method != http.MethodGet {
			return next.Send(ctx, req)
		}

		shared := context.WithoutCancel(ctx)
		ch := d.group.DoChan(requestKey(req), func() (any, error) {
			return next.Send(shared, req)
		})

		select {
		case r := <-ch:
			if r.Shared {
				observerFrom(ctx).deduplicated()
			}
			resp, _ := r.Val.(*Response)
			return resp, r.Err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}
