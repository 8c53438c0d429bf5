package vfs

// Finalize performs the post-mount pipeline: font map processing, then
// ls-R emission. It runs once all mounts for a compile attempt are done
// and before the engine is invoked (spec.md §4.3, §5: "ls-R and font-map
// post-processing happen after all mounts and before the engine"). A
// second call is a no-op.
func (v *VFS) Finalize() {
	v.mu.Lock()
	if v.finalized {
		v.mu.Unlock()
		return
	}
	v.finalized = true
	v.mu.Unlock()

	v.ProcessFontMaps()
	v.WriteLSR()
}
