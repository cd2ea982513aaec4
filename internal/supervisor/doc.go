// Package supervisor spawns and supervises a single external process per
// instance: redirected stdio streamed as line events, logical termination
// signals translated to each platform's primitive, and a bounded history of
// internal failures.
//
// Full process-group termination is only guaranteed on Linux, where the
// supervisor can rely on job-control semantics to reach every member of the
// child's process group. On macOS and Windows termination is best-effort:
// signals reach the direct child, and without kernel-enforced job control any
// grandchildren may survive and must be cleaned up by the caller.
//
// On Windows, graceful signals are emulated with console-control events. That
// emulation attaches to the target's console and temporarily suppresses this
// program's own control handler, which is process-wide state; deliveries are
// therefore serialized behind a package-level lock rather than per instance.
package supervisor
