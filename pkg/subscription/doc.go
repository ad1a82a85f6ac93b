// Package subscription keeps the per-channel callback lists of a client.
//
// A channel may have several callbacks; they are invoked in the order they
// were added, once per delivered event. Removing a channel drops all of its
// callbacks. The registry also remembers the order in which channels were
// first subscribed, which is the order they are re-subscribed after a
// reconnect.
//
// Each callback receives its own shallow copy of the event fields, so one
// subscriber mutating its map cannot affect the next.
package subscription
