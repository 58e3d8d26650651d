package reload

import (
	"fmt"

	"watchreload/internal/module"
)

// Merge copies every member onto exports, or onto the object stored under
// subModule when it is set and not ExportsSentinel. The sub-module must
// already exist as a *module.Exports or a map[string]any. A nil exports is a
// no-op.
func Merge(members map[string]any, exports *module.Exports, subModule string) error {
	if exports == nil {
		return nil
	}
	if subModule == "" || subModule == ExportsSentinel {
		exports.Assign(members)
		return nil
	}
	if !exports.AssignSub(subModule, members) {
		return fmt.Errorf("%w: %q", ErrSubModuleNotFound, subModule)
	}
	return nil
}
