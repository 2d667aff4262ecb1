package compositor

import (
	"image"
	"sort"
	"strings"

	"github.com/menta2k/image-redactor/pkg/types"
)

// MaxRegions caps how many detected regions are applied per image
const MaxRegions = 50

// SelectRegions ranks regions by confidence (descending), keeps the top
// MaxRegions and filters them to the target classes. When the filter removes
// every region of a non-empty ranked list, all ranked regions are returned:
// over-censoring is preferred to silently skipping an image.
func SelectRegions(regions []types.Region, targets []string) []types.Region {
	ranked := make([]types.Region, len(regions))
	copy(ranked, regions)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})
	if len(ranked) > MaxRegions {
		ranked = ranked[:MaxRegions]
	}
	if len(ranked) == 0 || len(targets) == 0 {
		return ranked
	}

	wanted := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		wanted[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}

	var selected []types.Region
	for _, r := range ranked {
		if _, ok := wanted[strings.ToLower(r.Label)]; ok {
			selected = append(selected, r)
		}
	}
	if len(selected) == 0 {
		return ranked
	}
	return selected
}

// ApplyRegions styles every selected region over its exact rectangle and
// returns the regions that were applied.
func ApplyRegions(dst *image.NRGBA, regions []types.Region, targets []string, opts Options) ([]types.Region, error) {
	selected := SelectRegions(regions, targets)
	for _, r := range selected {
		if err := Apply(dst, Rect{R: r.Box.Rect()}, opts); err != nil {
			return nil, err
		}
	}
	return selected, nil
}
