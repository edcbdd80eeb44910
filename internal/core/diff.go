package core

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/kilupskalvis/revstore/internal/models"
	"github.com/kilupskalvis/revstore/internal/store"
)

// Point is a branch at a point in time.
type Point struct {
	Branch    string
	Timestamp int64
}

func (p Point) String() string {
	return fmt.Sprintf("%s@%d", p.Branch, p.Timestamp)
}

// BuildChangeSet partitions the documents that differ between since and head
// into added, changed and removed. since may be any point: the ids recorded
// in the commit index of both lineages after their deepest shared point are
// compared, so content copied between branches by a merge is not a change.
func BuildChangeSet(ctx context.Context, st *store.Store, head, since Point) (*models.ChangeSet, error) {
	headSegs, err := st.Lineage(head.Branch, head.Timestamp)
	if err != nil {
		return nil, err
	}
	sinceSegs, err := st.Lineage(since.Branch, since.Timestamp)
	if err != nil {
		return nil, err
	}
	hi, si, shared := sharedSegment(headSegs, sinceSegs)
	if hi < 0 {
		return nil, fmt.Errorf("%s and %s share no ancestor", head, since)
	}

	var candidates []models.ObjectID
	seen := make(map[models.ObjectID]bool)
	for _, side := range [][]store.Segment{headSegs[:hi+1], sinceSegs[:si+1]} {
		for i, seg := range side {
			if err := ctx.Err(); err != nil {
				return nil, cancelled(err)
			}
			var after int64
			if i == len(side)-1 {
				after = shared
			}
			if seg.Cutoff <= after {
				continue
			}
			ids, err := st.TouchedIDs(seg.Branch, after, seg.Cutoff)
			if err != nil {
				return nil, err
			}
			for _, id := range ids {
				if !seen[id] {
					seen[id] = true
					candidates = append(candidates, id)
				}
			}
		}
	}

	cs := models.NewChangeSet(head.Branch, since.Timestamp, head.Timestamp)
	if len(candidates) == 0 {
		return cs, nil
	}

	headReader, err := st.Reader(head.Branch, head.Timestamp)
	if err != nil {
		return nil, err
	}
	sinceReader, err := st.Reader(since.Branch, since.Timestamp)
	if err != nil {
		return nil, err
	}

	byType := make(map[string][]string)
	var types []string
	for _, id := range candidates {
		if _, ok := byType[id.Type]; !ok {
			types = append(types, id.Type)
		}
		byType[id.Type] = append(byType[id.Type], id.ID)
	}

	for _, typ := range types {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err)
		}
		ids := byType[typ]
		after, err := headReader.GetMany(typ, ids)
		if err != nil {
			return nil, err
		}
		before, err := sinceReader.GetMany(typ, ids)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			oid := models.ObjectID{Type: typ, ID: id}
			a, b := after[id], before[id]
			switch {
			case b == nil && a != nil:
				cs.Put(models.ChangeAdded, oid, a.Container)
			case b != nil && a == nil:
				cs.Put(models.ChangeRemoved, oid, b.Container)
			case a != nil && b != nil && !sameContent(a, b):
				cs.Put(models.ChangeChanged, oid, a.Container)
			}
		}
	}
	return cs, nil
}

// sharedSegment finds the deepest branch both lineages pass through and the
// timestamp up to which its content is visible from both.
func sharedSegment(a, b []store.Segment) (int, int, int64) {
	for i, sa := range a {
		for j, sb := range b {
			if sa.Branch == sb.Branch {
				return i, j, min(sa.Cutoff, sb.Cutoff)
			}
		}
	}
	return -1, -1, 0
}

// sameContent reports whether two revisions hold the same content, including
// the order of reference lists.
func sameContent(a, b *models.Revision) bool {
	if a.StorageKey == b.StorageKey {
		return true
	}
	if !models.ContentEqual(a, b) {
		return false
	}
	for _, name := range models.ReferenceNames(a, b) {
		if !slices.Equal(a.References[name], b.References[name]) {
			return false
		}
	}
	return true
}

// Compare returns the changes on branch since the given timestamp, or since
// the branch was created when since is zero.
func Compare(ctx context.Context, st *store.Store, branch string, since int64) (*models.ChangeSet, error) {
	b, err := st.GetBranch(branch)
	if err != nil {
		return nil, err
	}
	if since == 0 {
		since = b.BaseTimestamp
	}
	return BuildChangeSet(ctx, st, Point{Branch: branch, Timestamp: b.HeadTimestamp}, Point{Branch: branch, Timestamp: since})
}

// MergeBase returns the points the source and target change sets of a merge
// are computed from. Without a previous merge between the two branches both
// are the deepest shared point of their lineages. Otherwise the most recent
// merge decides: when target took source content, the source is measured from
// the source head that was merged and the target from its merge commit; when
// source took target content, both are measured from the target head that was
// merged, so source edits made before that merge are still promoted.
func MergeBase(st *store.Store, source, target *models.Branch) (Point, Point, error) {
	srcSegs, err := st.Lineage(source.Path, source.HeadTimestamp)
	if err != nil {
		return Point{}, Point{}, err
	}
	tgtSegs, err := st.Lineage(target.Path, target.HeadTimestamp)
	if err != nil {
		return Point{}, Point{}, err
	}
	i, _, ts := sharedSegment(srcSegs, tgtSegs)
	if i < 0 {
		return Point{}, Point{}, fmt.Errorf("%s and %s share no ancestor", source.Path, target.Path)
	}
	common := Point{Branch: srcSegs[i].Branch, Timestamp: ts}

	srcSince, tgtSince := common, common
	var latest int64 = -1

	// target previously took source content
	if rec, ok := target.MergeSources[source.Path]; ok {
		latest = rec.TargetTimestamp
		srcSince = Point{Branch: source.Path, Timestamp: rec.SourceTimestamp}
		tgtSince = Point{Branch: target.Path, Timestamp: rec.TargetTimestamp}
	}
	// source previously took target content
	if rec, ok := source.MergeSources[target.Path]; ok && rec.TargetTimestamp > latest {
		srcSince = Point{Branch: target.Path, Timestamp: rec.SourceTimestamp}
		tgtSince = srcSince
	}
	return srcSince, tgtSince, nil
}

func since(start time.Time) float64 {
	return time.Since(start).Seconds()
}
