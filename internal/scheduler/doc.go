// Package scheduler provides the generation lock registry.
//
// A position is a message ID from which the next message is being generated.
// The registry answers "is anyone generating from here?" and hands out
// exclusive claims:
//
//	claimed, err := reg.MarkGenerating(ctx, msgID)
//	if !claimed {
//	    // someone else owns msgID; wait for their result
//	}
//	defer reg.ClearGenerating(ctx, msgID)
//
// Two backends are provided. MemoryRegistry keeps claims in a mutex-guarded
// map and is correct within one process. RedisRegistry stores each claim as
// a SET NX PX key holding a random owner token, so several nextturn processes
// sharing one database can coordinate; release uses a Lua compare-and-delete.
//
// Both backends expire claims after a TTL. The TTL is a backstop for crashed
// owners, not the normal release path: owners clear their claim only after
// the generated message has been committed to the store.
package scheduler
