// Package dedupe records responses by Idempotency-Key so a retried request
// within a configurable window replays the first result instead of calling
// the assistant and writing messages a second time.
package dedupe
