package accumulator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeforge/orchestrator/internal/model"
)

func TestNormalizeIdempotent(t *testing.T) {
	cases := []string{`a\b\c.cs`, "/a/b.cs", "./a/./b.cs", "a//b.cs"}
	for _, c := range cases {
		once := Normalize(c)
		twice := Normalize(once)
		assert.Equal(t, once, twice, "Normalize should be idempotent for %q", c)
	}
}

func TestInsertReplacesSamePath(t *testing.T) {
	a := New(nil)
	a.Insert(model.FileChange{Path: "src/Calc.cs", Content: "v1"}, LanguagePolicy{})
	a.Insert(model.FileChange{Path: "src/Calc.cs", Content: "v2"}, LanguagePolicy{})

	require.Equal(t, 1, a.Len())
	files := a.FinalView()
	require.Len(t, files, 1)
	assert.Equal(t, "v2", files[0].Content)
}

func TestInsertCanonicalizesSameBasename(t *testing.T) {
	a := New(nil)
	policy := LanguagePolicy{SameBasenameCollision: true}
	a.Insert(model.FileChange{Path: "old/Calc.cs", Content: "old"}, policy)
	a.Insert(model.FileChange{Path: "new/Calc.cs", Content: "new"}, policy)

	require.Equal(t, 1, a.Len())
	files := a.FinalView()
	assert.Equal(t, "new/Calc.cs", files[0].Path)
}

func TestExecutionViewStripsBuildArtifacts(t *testing.T) {
	a := New(nil)
	a.Insert(model.FileChange{Path: "src/Calc.cs", Content: "x"}, LanguagePolicy{})
	a.Insert(model.FileChange{Path: "bin/Debug/Calc.dll", Content: "bin"}, LanguagePolicy{})
	a.Insert(model.FileChange{Path: "node_modules/pkg/index.js", Content: "dep"}, LanguagePolicy{})

	assert.Equal(t, 3, len(a.FinalView()))
	exec := a.ExecutionView()
	require.Len(t, exec, 1)
	assert.Equal(t, "src/Calc.cs", exec[0].Path)
}

func TestCleanKeepsLargestOnDuplicateBasename(t *testing.T) {
	a := New(nil)
	a.Insert(model.FileChange{Path: "a/Calc.cs", Content: "short"}, LanguagePolicy{})
	a.Insert(model.FileChange{Path: "b/Calc.cs", Content: "much longer content"}, LanguagePolicy{})

	cleaned := a.Clean(LanguagePolicy{Extensions: []string{".cs"}})
	require.Len(t, cleaned, 1)
	assert.Equal(t, "much longer content", cleaned[0].Content)
}

func TestCleanPrefersNonGeneratedProjectDescriptorOverLargerOne(t *testing.T) {
	a := New(nil)
	a.Insert(model.FileChange{Path: "src/App.csproj", Content: "short canonical content"}, LanguagePolicy{})
	a.Insert(model.FileChange{Path: "src/App.Generated.csproj", Content: "much longer auto-generated content"}, LanguagePolicy{})

	policy := LanguagePolicy{Extensions: []string{".csproj"}, ProjectDescriptorExtensions: []string{".csproj"}}
	cleaned := a.Clean(policy)

	require.Len(t, cleaned, 1, "a multi-project collision must still canonicalize onto one file")
	assert.Equal(t, "src/App.csproj", cleaned[0].Path, "the non-Generated, canonically named file must win over the larger Generated one")
}

func TestCleanProjectDescriptorBreaksTieOnShortestPath(t *testing.T) {
	a := New(nil)
	a.Insert(model.FileChange{Path: "nested/deeper/App.csproj", Content: "same"}, LanguagePolicy{})
	a.Insert(model.FileChange{Path: "src/App.csproj", Content: "same"}, LanguagePolicy{})

	policy := LanguagePolicy{Extensions: []string{".csproj"}, ProjectDescriptorExtensions: []string{".csproj"}}
	cleaned := a.Clean(policy)

	require.Len(t, cleaned, 1)
	assert.Equal(t, "src/App.csproj", cleaned[0].Path, "when neither name is Generated, the shortest path must win")
}
