package codegen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_Simple(t *testing.T) {
	art, err := Generate("Lease", []string{"property.name"})
	require.NoError(t, err)

	assert.Equal(t, "Lease", art.TypeName)
	assert.Contains(t, art.FuncName, "serializeLease_")
	assert.Contains(t, art.Source, "package serializers")
	assert.Contains(t, art.Source, `get(obj, "property")`)
	assert.Contains(t, art.Source, `"name"`)
	assert.Contains(t, art.Source, "return result")
}

func TestGenerate_NestedGuards(t *testing.T) {
	art, err := Generate("Lease", []string{"tenant.user.email"})
	require.NoError(t, err)

	// Both descent levels are guarded against absence and nil.
	assert.Contains(t, art.Source, `get(obj, "tenant")`)
	assert.Contains(t, art.Source, `"user"`)
	assert.Contains(t, art.Source, `"email"`)
	assert.Equal(t, 2, countOccurrences(art.Source, "!= nil"))
}

func TestGenerate_MethodLeaf(t *testing.T) {
	art, err := Generate("User", []string{"get_full_name"})
	require.NoError(t, err)

	assert.Contains(t, art.Source, `call(obj, "get_full_name")`)
	assert.NotContains(t, art.Source, `get(obj, "get_full_name")`)
}

func TestGenerate_CollectionExpansion(t *testing.T) {
	art, err := Generate("Post", []string{"tags.all.name", "tags.all.url"})
	require.NoError(t, err)

	assert.Contains(t, art.Source, `call(v1, "all")`)
	assert.Contains(t, art.Source, "range items(")
	assert.Contains(t, art.Source, "append(")
}

func TestGenerate_EmptyPaths(t *testing.T) {
	art, err := Generate("User", nil)
	require.NoError(t, err)

	assert.Contains(t, art.Source, "return map[string]any{}")
	assert.NotContains(t, art.Source, "result :=")
}

func TestGenerate_Deterministic(t *testing.T) {
	a, err := Generate("Lease", []string{"property.name", "tenant.user.email"})
	require.NoError(t, err)
	b, err := Generate("Lease", []string{"tenant.user.email", "property.name"})
	require.NoError(t, err)

	assert.Equal(t, a.Source, b.Source)
	assert.Equal(t, a.FuncName, b.FuncName)
}

func TestGenerate_DuplicatesCollapse(t *testing.T) {
	a, err := Generate("User", []string{"email", "email", "name"})
	require.NoError(t, err)
	b, err := Generate("User", []string{"email", "name"})
	require.NoError(t, err)

	assert.Equal(t, a.Source, b.Source)
	assert.Equal(t, []string{"email", "name"}, a.Paths)
}

func TestGenerate_DistinctPathSetsDiffer(t *testing.T) {
	a, err := Generate("User", []string{"email"})
	require.NoError(t, err)
	b, err := Generate("User", []string{"name"})
	require.NoError(t, err)

	assert.NotEqual(t, a.Source, b.Source)
	assert.NotEqual(t, a.FuncName, b.FuncName)
}

func TestGenerate_EmptyTypeName(t *testing.T) {
	_, err := Generate("", []string{"email"})
	assert.Error(t, err)
}

func TestFuncName_HashSuffix(t *testing.T) {
	name := FuncName("blog_post", []string{"title"})
	assert.Regexp(t, `^serializeBlogPost_[0-9a-f]{8}$`, name)
}

func TestPathHash(t *testing.T) {
	a := PathHash([]string{"b", "a", "a"})
	b := PathHash([]string{"a", "b"})
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func countOccurrences(s, sub string) int {
	count := 0
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			count++
		}
	}
	return count
}
