package ordkv

// Hardcoded implementation limits.
//
// These exist to keep arithmetic safely away from overflow boundaries and to
// bound resource usage for configurations nothing in this package exercises.
// All limit violations are programming/configuration errors and return
// ErrBadUsage.
const (
	// maxKeySizeNonFat is the largest key a non-fat ADD/REPLACE can carry
	// (16-bit key length field).
	maxKeySizeNonFat = 0xFFFF

	// maxValueSizeNonFat is the largest value a non-fat ADD/REPLACE can
	// carry (32-bit value length field).
	maxValueSizeNonFat = 0xFFFFFFFF

	// maxLevel is the highest skip level a record may carry. DUMMY always
	// carries all maxLevel forward pointers.
	maxLevel = 31

	// levelProbabilityShift implements p = 1/4 per coin flip: a record
	// advances one level for every two consecutive zero bits drawn.
	levelProbabilityShift = 2

	// growthNumerator/growthDenominator implement the 125% growth factor
	// from the mapped file manager's growth policy (spec.md §4.2).
	growthNumerator   = 5
	growthDenominator = 4

	// growthRoundTo is the 16 KiB boundary file growth rounds up to.
	growthRoundTo = 16 * 1024

	// minRewriteThreshold is the should-repack heuristic's minimum dirty
	// byte count before a repack is ever suggested (spec.md §6).
	minRewriteThreshold = 16 * 1024

	// defaultYieldInterval is how many foreach callback invocations elapse
	// between automatic yields, absent AlwaysYield/NoYield.
	defaultYieldInterval = 1024
)
