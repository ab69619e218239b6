package pipeline

import (
	"os"
	"path/filepath"
)

// BuiltinInstall installs dependencies with the package manager the lockfile belongs to
const BuiltinInstall = "install"

// builtinScripts maps builtin stages to package.json scripts
var builtinScripts = map[string]string{
	"lint":        "lint",
	"typecheck":   "typecheck",
	"unit":        "test:unit",
	"integration": "test:integration",
	"build":       "build",
}

// PackageManager returns "pnpm" when dir has a pnpm lockfile, otherwise "npm"
func PackageManager(dir string) string {
	if _, err := os.Stat(filepath.Join(dir, "pnpm-lock.yaml")); err == nil {
		return "pnpm"
	}
	return "npm"
}

// builtinCommand resolves a builtin stage to argv
func builtinCommand(builtin, dir string) []string {
	pm := PackageManager(dir)
	if builtin == BuiltinInstall {
		if pm == "pnpm" {
			return []string{"pnpm", "install", "--frozen-lockfile"}
		}
		if _, err := os.Stat(filepath.Join(dir, "package-lock.json")); err == nil {
			return []string{"npm", "ci"}
		}
		return []string{"npm", "install"}
	}
	return []string{pm, "run", builtinScripts[builtin]}
}
