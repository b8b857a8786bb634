package scheduler

import "time"

// Delay bounds for a single reply. The floor keeps replies from landing
// implausibly fast; the ceiling keeps a slow persona from stalling the room.
const (
	minReplyDelay = 2500 * time.Millisecond
	maxReplyDelay = 18 * time.Second

	// spacing between multiple responders to the same trigger
	interResponderGap = 4 * time.Second

	// rough reading speed: time charged per input character
	readingPerChar = 18 * time.Millisecond
)

// ReplyDelay computes a human-plausible delay before a reply renders: a
// reading component proportional to the input, a thinking component tiered
// by how long the anticipated response is, scaled by the persona's speed
// factor and clamped to the floor/ceiling.
func ReplyDelay(inputLen, expectedLen int, speedFactor float64) time.Duration {
	reading := time.Duration(inputLen) * readingPerChar

	var thinking time.Duration
	switch {
	case expectedLen < 80:
		thinking = 2 * time.Second
	case expectedLen < 200:
		thinking = 4 * time.Second
	default:
		thinking = 7 * time.Second
	}

	if speedFactor <= 0 {
		speedFactor = 1
	}
	total := time.Duration(float64(reading+thinking) * speedFactor)

	if total < minReplyDelay {
		return minReplyDelay
	}
	if total > maxReplyDelay {
		return maxReplyDelay
	}
	return total
}
