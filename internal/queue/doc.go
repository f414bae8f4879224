// Package queue implements the FIFOs used between native callbacks, the
// session control loop, decode workers and subscribers.
//
//   - Growable never blocks the sender; it doubles its ring at 70% load.
//     Sessions use it as the control-loop mailbox.
//   - Bounded has a fixed capacity and a drop policy; Push never blocks.
//     Decode workers and subscriber delivery use it.
package queue
