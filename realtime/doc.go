// Package realtime provides a tick-based deterministic front end for teax
// components.
//
// The tick runtime differs from feeding a component directly in message
// dispatch:
//   - Messages are batched and delivered at fixed tick boundaries
//   - Deterministic message ordering via priority and sequence numbers
//   - Fixed time-step execution (e.g., 60 FPS)
//
// # Example Usage
//
//	comp, _ := teax.RunComponent(ctx, teax.Pure[World, Cmd](World{}), resolve, update)
//	rt := realtime.NewRuntime(comp, realtime.Config{
//		TickRate: 16667 * time.Microsecond, // 60 FPS
//	})
//	snaps, _ := rt.Start(ctx)
//	rt.SendMessage(Jump{})
//
// # Trade-offs vs Direct Subscription
//
// Higher latency (up to one tick)
// Guaranteed ordering of externally sent messages within a tick
// Fixed time budget per tick
//
// # Use Cases
//
//   - Game loops (60 FPS game logic)
//   - Physics simulations (fixed time-step)
//   - Testing/debugging (reproducible scenarios)
//
// # Message Ordering Guarantees
//
// Messages sent during one tick are ordered deterministically using:
//  1. Priority (higher priority delivered first)
//  2. Sequence number (FIFO for same priority)
//  3. Stable sorting (preserves relative order)
//
// Messages emitted by resolvers still enter the component directly and may
// interleave with a tick's batch.
package realtime
