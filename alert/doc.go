// Package alert carries user-facing notifications out of the session layer.
//
// A [Message] is a single discriminated value: an immediate toast, a sticky
// message that stays until cleared, or a clear command. Messages are handed to
// a [Dispatcher], which delivers them to a [Sink] on its own goroutine so that
// producers never block on presentation.
//
// [Classify] and [Describe] turn HTTP failures into caption/detail lines.
package alert
