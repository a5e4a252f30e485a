// Package broadcast fans device state changes out to subscriber channels.
//
// Subscriptions key on (room, device). Delivery is fire-and-forget: state
// changes are queued without blocking and a single consumer goroutine
// serializes each snapshot once and pushes it to every subscribed channel.
// Channels that refuse a frame are pruned during the delivery pass, and
// keys whose channel set empties are deleted, so the registry never
// accumulates garbage from departed subscribers.
package broadcast
