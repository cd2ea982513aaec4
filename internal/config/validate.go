package config

import (
	"fmt"
	"sort"
)

// Validate checks the manifest for structural problems after defaults have
// been applied.
func (f *File) Validate() error {
	if len(f.Programs) == 0 && f.Update == nil {
		return fmt.Errorf("manifest defines no programs")
	}

	if _, err := ResolveEncoding(f.Defaults.Encoding); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}

	names := make([]string, 0, len(f.Programs))
	for name := range f.Programs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		prog := f.Programs[name]
		if prog == nil {
			return fmt.Errorf("program %s: empty definition", name)
		}
		if len(prog.Command) == 0 {
			return fmt.Errorf("program %s: command is required", name)
		}
		if prog.Command[0] == "" {
			return fmt.Errorf("program %s: command executable is empty", name)
		}
		if _, err := ResolveEncoding(prog.Encoding); err != nil {
			return fmt.Errorf("program %s: %w", name, err)
		}
		if prog.SuccessCodes != nil && prog.SuccessCodes.Min > prog.SuccessCodes.Max {
			return fmt.Errorf("program %s: successCodes min %d exceeds max %d",
				name, prog.SuccessCodes.Min, prog.SuccessCodes.Max)
		}
	}

	if f.Update != nil && len(f.Update.Command) == 0 {
		return fmt.Errorf("update: command is required")
	}
	return nil
}
