package datasets

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// NumVideos is the number of videos in the Cholec80 corpus.
const NumVideos = 80

// ErrVideoIndexOutOfRange is returned when a requested video index has no
// matching container file.
var ErrVideoIndexOutOfRange = errors.New("video index out of range")

// AllVideoIDs returns the indices 0..NumVideos-1.
func AllVideoIDs() []int {
	ids := make([]int, NumVideos)
	for i := range ids {
		ids[i] = i
	}
	return ids
}

// SelectFiles lists the container files directly under dir, sorts them
// lexicographically and returns the ones at videoIDs, in the order given.
// Indices may repeat. A nil videoIDs selects all NumVideos videos; an empty,
// non-nil slice selects none.
//
// Hidden entries (names starting with '.') are not part of the listing.
func SelectFiles(dir string, videoIDs []int) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", dir)
	}
	all := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		all = append(all, filepath.Join(dir, e.Name()))
	}
	sort.Strings(all)

	if videoIDs == nil {
		videoIDs = AllVideoIDs()
	}
	files := make([]string, len(videoIDs))
	for i, id := range videoIDs {
		if id < 0 || id >= len(all) {
			return nil, errors.Wrapf(ErrVideoIndexOutOfRange, "index %d with %d files in %s", id, len(all), dir)
		}
		files[i] = all[id]
	}
	return files, nil
}
