// Package handle tracks native object lifetimes and host-side handle tables.
//
// A Lifetime guards one opaque native object. Its in-flight counter starts at
// one (alive, idle); every call acquires and releases, and Destroy drops the
// initial reservation. Whoever drives the counter to zero runs the native free
// function, so free happens exactly once under any interleaving of calls and
// destruction:
//
//	lt := handle.New("counter", h, freeCounter)
//	err := lt.Use(func(h uint64) error {
//		_, err := ch.Invoke(ctx, "demo_fn_method_counter_incr", h)
//		return err
//	})
//	lt.Destroy()
//
// A Map hands out numeric handles for host objects that native code refers to
// by number, such as callback implementations.
package handle
