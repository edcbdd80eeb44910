package core

import (
	"github.com/kilupskalvis/revstore/internal/models"
)

// upstream returns the branch whose content wins donated conflicts: the
// branch the other one directly extends. Chains of extensions are not
// followed.
func upstream(source, target *models.Branch) (string, bool) {
	switch {
	case source.ExtensionOf != "" && source.ExtensionOf == target.Path:
		return target.Path, true
	case target.ExtensionOf != "" && target.ExtensionOf == source.Path:
		return source.Path, true
	}
	return "", false
}

// filterDonations drops conflicts between an extension and its upstream
// that only differ in ownership metadata. Such content was donated: it was
// authored in the extension and later published upstream. The upstream
// revision is kept.
func (p *ConflictProcessor) filterDonations(mc *mergeContext, conflicts []models.Conflict, held map[models.ObjectID]*heldMerge) ([]models.Conflict, []models.ObjectID, error) {
	up, ok := upstream(mc.source, mc.target)
	if !ok {
		return conflicts, nil, nil
	}
	sourceWins := up == mc.source.Path

	var kept []models.Conflict
	var donated []models.ObjectID
	seen := make(map[models.ObjectID]bool)
	markDonated := func(id models.ObjectID) {
		if !seen[id] {
			seen[id] = true
			donated = append(donated, id)
		}
	}

	for _, c := range conflicts {
		td, known := p.schema.Type(c.Object.Type)
		if !known || len(td.Ownership) == 0 {
			kept = append(kept, c)
			continue
		}
		switch c.Kind {
		case models.ConflictAddedInSourceAndTarget:
			s, err := mc.sourceHead().Get(c.Object)
			if err != nil {
				return nil, nil, err
			}
			t, err := mc.targetHead().Get(c.Object)
			if err != nil {
				return nil, nil, err
			}
			if !models.ContentEqual(s, t, td.Ownership...) {
				kept = append(kept, c)
				continue
			}
			if sourceWins {
				if err := mc.staging.ReviseOnMergeSource(c.Object); err != nil {
					return nil, nil, err
				}
			}
			markDonated(c.Object)

		case models.ConflictChangedInSourceAndTarget:
			h, isHeld := held[c.Object]
			if !isHeld || !td.IsOwnership(c.Feature) {
				kept = append(kept, c)
				continue
			}
			if sourceWins {
				s, err := mc.sourceHead().Get(c.Object)
				if err != nil {
					return nil, nil, err
				}
				setProperty(h.merged, c.Feature, s.Property(c.Feature))
			}
			delete(h.open, c.Feature)
			markDonated(c.Object)

		default:
			kept = append(kept, c)
		}
	}
	models.SortObjectIDs(donated)
	return kept, donated, nil
}
