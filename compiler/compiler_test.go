package compiler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celox-dev/celox/codegen"
)

type mockProperty struct {
	Name    string
	Address string
}

type mockLease struct {
	Property *mockProperty
	Tenant   *mockTenant
}

type mockTenant struct {
	User *mockUser
}

type mockUser struct {
	Email     string
	FirstName string
	LastName  string
}

func (u *mockUser) GetFullName() string {
	return u.FirstName + " " + u.LastName
}

func (u *mockUser) GetNickname() string {
	panic("not configured")
}

type mockTag struct {
	Name string
	URL  string
}

type mockTagSet struct {
	tags []*mockTag
}

func (s *mockTagSet) All() []*mockTag {
	return s.tags
}

type mockPost struct {
	Tags *mockTagSet
}

func mustCompile(t *testing.T, typeName string, paths []string) *Program {
	t.Helper()
	art, err := codegen.Generate(typeName, paths)
	require.NoError(t, err)
	prog, err := Compile(art.Source, art.FuncName)
	require.NoError(t, err)
	return prog
}

func TestCompile_RoundTrip(t *testing.T) {
	prog := mustCompile(t, "Lease", []string{"property.name", "property.address"})

	lease := &mockLease{Property: &mockProperty{Name: "123 Main St", Address: "Main Street"}}
	result := prog.Run(lease)

	assert.Equal(t, map[string]any{
		"property": map[string]any{
			"name":    "123 Main St",
			"address": "Main Street",
		},
	}, result)
}

func TestCompile_NestedDescent(t *testing.T) {
	prog := mustCompile(t, "Lease", []string{"tenant.user.email"})

	lease := &mockLease{Tenant: &mockTenant{User: &mockUser{Email: "john@example.com"}}}
	result := prog.Run(lease)

	assert.Equal(t, map[string]any{
		"tenant": map[string]any{
			"user": map[string]any{"email": "john@example.com"},
		},
	}, result)
}

func TestCompile_NoneSafety(t *testing.T) {
	prog := mustCompile(t, "Lease", []string{"property.name"})

	// Nil related object: the branch is skipped, no panic.
	result := prog.Run(&mockLease{Property: nil})

	assert.NotContains(t, result, "property")
}

func TestCompile_MissingAttribute(t *testing.T) {
	prog := mustCompile(t, "User", []string{"email", "name"})

	result := prog.Run(&mockUser{Email: "john@example.com"})

	assert.Equal(t, map[string]any{"email": "john@example.com"}, result)
}

func TestCompile_MethodLeaf(t *testing.T) {
	prog := mustCompile(t, "Lease", []string{"tenant.user.get_full_name"})

	lease := &mockLease{Tenant: &mockTenant{User: &mockUser{FirstName: "John", LastName: "Doe"}}}
	result := prog.Run(lease)

	assert.Equal(t, map[string]any{
		"tenant": map[string]any{
			"user": map[string]any{"get_full_name": "John Doe"},
		},
	}, result)
}

func TestCompile_FailingMethodOmitted(t *testing.T) {
	prog := mustCompile(t, "User", []string{"get_nickname", "email"})

	result := prog.Run(&mockUser{Email: "a@b.c"})

	assert.Equal(t, map[string]any{"email": "a@b.c"}, result)
}

func TestCompile_CollectionExpansion(t *testing.T) {
	prog := mustCompile(t, "Post", []string{"tags.all.name", "tags.all.url"})

	post := &mockPost{Tags: &mockTagSet{tags: []*mockTag{
		{Name: "python", URL: "/t/python"},
		{Name: "django", URL: "/t/django"},
	}}}
	result := prog.Run(post)

	assert.Equal(t, map[string]any{
		"tags": map[string]any{
			"all": []any{
				map[string]any{"name": "python", "url": "/t/python"},
				map[string]any{"name": "django", "url": "/t/django"},
			},
		},
	}, result)
}

func TestCompile_EmptyCollection(t *testing.T) {
	prog := mustCompile(t, "Post", []string{"tags.all.name"})

	result := prog.Run(&mockPost{Tags: &mockTagSet{}})

	assert.Equal(t, map[string]any{
		"tags": map[string]any{"all": []any{}},
	}, result)
}

func TestCompile_EmptyPaths(t *testing.T) {
	prog := mustCompile(t, "User", nil)

	assert.Equal(t, map[string]any{}, prog.Run(&mockUser{Email: "a@b.c"}))
}

func TestCompile_RunOnMaps(t *testing.T) {
	// Query rows are nested maps; the same program serves both shapes.
	prog := mustCompile(t, "Lease", []string{"tenant.user.email"})

	row := map[string]any{
		"tenant": map[string]any{"user": map[string]any{"email": "x@y.z"}},
	}
	result := prog.Run(row)

	assert.Equal(t, row, result)
}

func TestCompile_SyntaxErrorPropagates(t *testing.T) {
	_, err := Compile("package serializers\nfunc broken( {", "broken")

	var syntaxErr *SyntaxError
	require.Error(t, err)
	assert.True(t, errors.As(err, &syntaxErr))
}

func TestCompile_MissingFunction(t *testing.T) {
	_, err := Compile("package serializers\n\nfunc other(obj any) map[string]any {\n\treturn map[string]any{}\n}\n", "wanted")

	var syntaxErr *SyntaxError
	require.Error(t, err)
	assert.True(t, errors.As(err, &syntaxErr))
}

func TestCompile_UnsupportedShape(t *testing.T) {
	src := "package serializers\n\nfunc bad(obj any) map[string]any {\n\tresult := map[string]any{}\n\tgo func() {}()\n\treturn result\n}\n"
	_, err := Compile(src, "bad")

	var loweringErr *LoweringError
	require.Error(t, err)
	assert.True(t, errors.As(err, &loweringErr))
}

func TestProgram_ConcurrentRun(t *testing.T) {
	prog := mustCompile(t, "User", []string{"email"})
	u := &mockUser{Email: "a@b.c"}

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				result := prog.Run(u)
				assert.Equal(t, "a@b.c", result["email"])
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}
