package main

import (
	"time"

	"github.com/codeforge/orchestrator/internal/accumulator"
	"github.com/codeforge/orchestrator/internal/engine"
	"github.com/codeforge/orchestrator/internal/sandbox"
)

// defaultLanguages builds the Iteration Engine's per-language policy table
// (spec §4.3's class-per-file collision rule, §4.4's sandbox manifest) for
// the facade's built-in language set. A deployment with different languages
// overrides this via its own wiring; this is the zero-config default.
func defaultLanguages() map[string]engine.LanguageConfig {
	sandboxDefaults := func(image, ext, build, run string, mainPatterns []string) sandbox.LanguageManifest {
		return sandbox.LanguageManifest{
			Image: image, FileExtension: ext, BuildCommand: build, RunCommand: run,
			MainFilePatterns: mainPatterns,
			CPULimit:         1.0, MemoryLimit: 512 << 20, WallClock: 60 * time.Second,
		}
	}

	return map[string]engine.LanguageConfig{
		"csharp": {
			Policy: accumulator.LanguagePolicy{
				Extensions: []string{".cs", ".csproj"}, SameBasenameCollision: true,
				ProjectDescriptorExtensions: []string{".csproj"},
			},
			Manifest: sandboxDefaults("mcr.microsoft.com/dotnet/sdk:8.0", ".cs", "dotnet build", "dotnet run", []string{"**/Program.cs", "**/*.csproj"}),
		},
		"python": {
			Policy:   accumulator.LanguagePolicy{Extensions: []string{".py"}, SameBasenameCollision: false},
			Manifest: sandboxDefaults("python:3.12-slim", ".py", "python -m py_compile {mainFile}", "python {mainFile}", []string{"**/main.py", "**/app.py"}),
		},
		"javascript": {
			Policy:   accumulator.LanguagePolicy{Extensions: []string{".js", ".json"}, SameBasenameCollision: false},
			Manifest: sandboxDefaults("node:20-slim", ".js", "node --check {mainFile}", "node {mainFile}", []string{"**/index.js", "**/main.js"}),
		},
		"typescript": {
			Policy:   accumulator.LanguagePolicy{Extensions: []string{".ts", ".json"}, SameBasenameCollision: false},
			Manifest: sandboxDefaults("node:20-slim", ".ts", "npx tsc --noEmit", "npx ts-node {mainFile}", []string{"**/index.ts", "**/main.ts"}),
		},
		"go": {
			Policy:   accumulator.LanguagePolicy{Extensions: []string{".go", ".mod"}, SameBasenameCollision: false},
			Manifest: sandboxDefaults("golang:1.23", ".go", "go build ./...", "go run {mainFile}", []string{"**/main.go"}),
		},
		"java": {
			Policy:   accumulator.LanguagePolicy{Extensions: []string{".java"}, SameBasenameCollision: true},
			Manifest: sandboxDefaults("eclipse-temurin:21-jdk", ".java", "javac {mainFile}", "java {className}", []string{"**/Main.java", "**/*.java"}),
		},
	}
}
