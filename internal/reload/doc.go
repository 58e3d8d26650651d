// Package reload keeps caller-owned export objects in step with the data
// modules backing them.
//
// A Registry installs one filesystem watch per resolved module path. When the
// file changes it purges the loader caches for that path, reloads the module
// for every registered target in registration order, shallow-merges the new
// members into each target's Exports, runs the target's callback, and finally
// notifies bus listeners registered with On. ReloadModule runs the same
// purge, load and merge on demand, without a watcher.
//
// Only stateless modules are a good fit: merging never removes members that
// disappeared from the file, and never resets anything the module does not
// export.
package reload
