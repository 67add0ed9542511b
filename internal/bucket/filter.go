package bucket

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// microBlockClasses are the content classes dropped from a listing when the
// caller excludes micro-block data. Matching is a case-sensitive substring
// test against the full key.
var microBlockClasses = []string{"txEpochs", "txBodies", "microBlock", "minerInfo"}

const diffPersistenceClass = "diff_persistence"

// FilterPolicy controls which listed keys are admitted for download.
type FilterPolicy struct {
	// IncludeDiffs admits diff_persistence archives; snapshot listings
	// leave this false so diffs are fetched only by the diff phase.
	IncludeDiffs bool

	// ExcludeMicroBlocks drops txEpochs, txBodies, microBlock and
	// minerInfo objects.
	ExcludeMicroBlocks bool
}

// Filter returns the refs admitted by the policy, preserving listing order.
func Filter(refs []ObjectRef, policy FilterPolicy) []ObjectRef {
	out := make([]ObjectRef, 0, len(refs))
	for _, ref := range refs {
		if admit(ref.Key, policy) {
			out = append(out, ref)
		}
	}
	return out
}

func admit(key string, policy FilterPolicy) bool {
	if !policy.IncludeDiffs && strings.Contains(key, diffPersistenceClass) {
		return false
	}
	if policy.ExcludeMicroBlocks {
		for _, class := range microBlockClasses {
			if strings.Contains(key, class) {
				return false
			}
		}
	}
	return true
}

// MatchDiffs admits every ref whose key names a diff archive
// <fileNamePrefix><N>.tar.gz with N in the half-open range
// [fromTxBlk, toTxBlk), and returns them in listing order.
func MatchDiffs(refs []ObjectRef, fileNamePrefix string, fromTxBlk, toTxBlk uint64) ([]ObjectRef, error) {
	re, err := regexp.Compile(fmt.Sprintf(`^.*/%s([0-9]+)\.tar\.gz$`, regexp.QuoteMeta(fileNamePrefix)))
	if err != nil {
		return nil, fmt.Errorf("bad diff file name prefix %q: %w", fileNamePrefix, err)
	}

	out := make([]ObjectRef, 0, len(refs))
	for _, ref := range refs {
		m := re.FindStringSubmatch(ref.Key)
		if m == nil {
			continue
		}

		blk, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			// number too large to represent; not ours to fetch
			continue
		}

		if blk >= fromTxBlk && blk < toTxBlk {
			out = append(out, ref)
		}
	}

	return out, nil
}
