package avsync

// debugAssertions gates the fatal invariant checks from spec §4.1/§4.5
// (clock monotonicity, master/clock validity coupling). They panic rather
// than silently corrupting state, matching the source's debug-build abort
// semantics; release builds should call EnableDebugAssertions(false) during
// Player construction in performance-sensitive deployments.
var debugAssertions = true

// EnableDebugAssertions toggles the fatal invariant checks described in
// spec §4.1 and §4.5. Tests and development builds should leave these on;
// a release build that prefers force-demotion over panics should disable
// them before constructing a Player.
func EnableDebugAssertions(on bool) { debugAssertions = on }
