// Package buildinfo reports what binary is running. Version and Commit are
// set with -ldflags "-X healthnav/internal/buildinfo.Version=...".
package buildinfo

import (
    "runtime"
    "runtime/debug"
)

var (
    Version = "dev"
    Commit  = ""
    BuiltAt = ""
)

func Info() map[string]string {
    out := map[string]string{
        "version": Version,
        "commit":  Commit,
        "builtAt": BuiltAt,
        "go":      runtime.Version(),
    }
    if bi, ok := debug.ReadBuildInfo(); ok {
        out["module"] = bi.Main.Path
        for _, s := range bi.Settings {
            switch s.Key {
            case "vcs.revision":
                if out["commit"] == "" { out["commit"] = s.Value }
            case "vcs.time":
                if out["builtAt"] == "" { out["builtAt"] = s.Value }
            case "vcs.modified":
                out["dirty"] = s.Value
            }
        }
    }
    return out
}
