package ingest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// Watermarks accumulates, per feed, the latest publish time seen in a run.
type Watermarks map[string]time.Time

func (w Watermarks) Observe(feedUIDs []string, at time.Time) {
	for _, uid := range feedUIDs {
		if cur, ok := w[uid]; !ok || at.After(cur) {
			w[uid] = at
		}
	}
}

// Propagator advances feed watermarks and carries each advance up the parent
// chain, so a parent is never behind any of its children.
type Propagator struct {
	store  Store
	logger zerolog.Logger
}

func NewPropagator(store Store, logger zerolog.Logger) *Propagator {
	return &Propagator{store: store, logger: logger}
}

// Propagate applies marks and returns how many feeds actually moved. Feeds
// already at or past their candidate are left untouched by the store guard.
func (p *Propagator) Propagate(ctx context.Context, marks Watermarks) (int, error) {
	if len(marks) == 0 {
		return 0, nil
	}

	effective, err := p.withAncestors(ctx, marks)
	if err != nil {
		return 0, err
	}

	uids := make([]string, 0, len(effective))
	for uid := range effective {
		uids = append(uids, uid)
	}
	sort.Strings(uids)

	advanced := 0
	for _, uid := range uids {
		moved, err := p.store.AdvanceFeedWatermark(ctx, uid, effective[uid])
		if err != nil {
			return advanced, err
		}
		if moved {
			advanced++
			p.logger.Debug().Str("feed_uid", uid).Time("last_paper_date", effective[uid]).Msg("feed watermark advanced")
		}
	}
	return advanced, nil
}

// withAncestors lifts every candidate onto the feed's ancestors. A feed is
// revisited only when its candidate strictly grows, which also ends any
// accidental parent cycle.
func (p *Propagator) withAncestors(ctx context.Context, marks Watermarks) (Watermarks, error) {
	effective := make(Watermarks, len(marks))
	frontier := make([]string, 0, len(marks))
	for uid, at := range marks {
		effective[uid] = at
		frontier = append(frontier, uid)
	}

	parents := make(map[string]string)
	loaded := make(map[string]struct{})

	for len(frontier) > 0 {
		missing := make([]string, 0, len(frontier))
		for _, uid := range frontier {
			if _, ok := loaded[uid]; !ok {
				missing = append(missing, uid)
			}
		}
		if len(missing) > 0 {
			feeds, err := p.store.FeedsByUID(ctx, missing)
			if err != nil {
				return nil, fmt.Errorf("load feed parents: %w", err)
			}
			for _, uid := range missing {
				loaded[uid] = struct{}{}
				if f, ok := feeds[uid]; ok && f.ParentUID != nil && *f.ParentUID != "" {
					parents[uid] = *f.ParentUID
				}
			}
		}

		next := frontier[:0:0]
		for _, uid := range frontier {
			parent, ok := parents[uid]
			if !ok {
				continue
			}
			at := effective[uid]
			if cur, ok := effective[parent]; ok && !at.After(cur) {
				continue
			}
			effective[parent] = at
			next = append(next, parent)
		}
		frontier = next
	}
	return effective, nil
}
