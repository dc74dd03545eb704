// Package bucket provides the deterministic bucketing primitive used by all
// percentage-based rollout decisions.
//
// A subject identifier and a salt are hashed into a stable value in [0,100).
// The function is pure: the same inputs always map to the same bucket across
// processes and restarts, so a user who was inside a 20% rollout stays inside
// when the rollout grows to 30%.
//
// Distinct salts produce statistically independent assignments. Rollout
// inclusion and A/B variant assignment use different salts for exactly this
// reason: being in the rollout must not bias which variant a user receives.
//
// Usage:
//
//	if bucket.InPercentage("user-123", "new-checkout", 25) {
//		// user is within the 25% rollout
//	}
package bucket
