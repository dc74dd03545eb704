package bucket

import "hash/fnv"

// Bucket maps a subject identifier and a salt to a stable value in [0,100).
// It uses FNV-1a over "subjectID:salt" so that different salts yield
// independent distributions for the same subject population.
func Bucket(subjectID, salt string) int {
	h := fnv.New32a()
	h.Write([]byte(subjectID))
	h.Write([]byte{':'})
	h.Write([]byte(salt))
	return int(h.Sum32() % 100)
}

// InPercentage reports whether the subject falls within the first pct
// buckets. Percentages outside [0,100] are clamped, so 0 never matches and
// 100 (or more) always matches.
//
// Because Bucket is deterministic, InPercentage is monotonic in pct: raising
// a rollout percentage never evicts a subject that was already included.
func InPercentage(subjectID, salt string, pct int) bool {
	if pct <= 0 {
		return false
	}
	if pct >= 100 {
		return true
	}
	if subjectID == "" {
		return false
	}
	return Bucket(subjectID, salt) < pct
}
