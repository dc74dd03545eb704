// Package alert provides the outbound notification channel the control
// plane publishes operational events through: emergency shutdowns, rollout
// rollbacks, and governance shutdown actions.
//
// Publishing is best-effort by contract. Callers on critical paths (an
// emergency shutdown, for example) must complete their state change even
// when the channel is down, so Publish errors are logged and swallowed at
// the call sites that matter.
//
// Two implementations are provided: MemoryHub, an in-process fan-out that
// drops messages for slow consumers rather than blocking the publisher, and
// RedisPublisher, which publishes JSON payloads to a Redis channel per
// topic for consumption by external alerting infrastructure.
package alert
