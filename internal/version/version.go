package version

import (
	"fmt"
	"runtime/debug"
)

// Version/Commit 可在构建时通过 -ldflags 注入；未注入时尝试读取模块构建信息。
var (
	Version = ""
	Commit  = ""
)

const (
	devVersion = "0.1.0"
	devCommit  = "dev"
)

// Resolve 返回生效的版本号与提交哈希。
func Resolve() (string, string) {
	version, commit := Version, Commit
	if version != "" && commit != "" {
		return version, commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if version == "" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && commit == "" && len(s.Value) >= 7 {
				commit = s.Value[:7]
			}
		}
	}
	if version == "" {
		version = devVersion
	}
	if commit == "" {
		commit = devCommit
	}
	return version, commit
}

// Full 返回便于 CLI 打印的完整版本信息。
func Full() string {
	version, commit := Resolve()
	return fmt.Sprintf("offline-agent %s (%s)", version, commit)
}
