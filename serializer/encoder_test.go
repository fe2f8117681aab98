package serializer

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celox-dev/celox/schema"
)

type encUser struct {
	ID       int64
	Email    string
	FullName string
}

func (u *encUser) PrimaryKey() any { return u.ID }
func (u *encUser) String() string  { return u.FullName }

type encTenant struct {
	ID     int64
	Name   string
	User   *encUser
	UserID int64
}

func (t *encTenant) PrimaryKey() any { return t.ID }
func (t *encTenant) String() string  { return t.Name }

type encAvatar struct {
	URL  string
	Name string
}

func encoderRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()

	user := schema.NewSchema("User").
		AddField("email", "text").
		AddField("full_name", "text").
		WithType(&encUser{})
	user.Computed["display_name"] = func(obj any) (any, error) {
		return obj.(*encUser).FullName + " <" + obj.(*encUser).Email + ">", nil
	}
	user.Computed["broken"] = func(obj any) (any, error) {
		return nil, fmt.Errorf("remote lookup failed")
	}
	user.Computed["settings"] = func(obj any) (any, error) {
		return map[string]any{"theme": "dark"}, nil
	}
	require.NoError(t, reg.Register(user))

	tenant := schema.NewSchema("Tenant").
		AddField("name", "text").
		AddRelation("user", "User", schema.BelongsTo).
		WithType(&encTenant{})
	require.NoError(t, reg.Register(tenant))

	return reg
}

func TestEncodeModel_BaseKeys(t *testing.T) {
	enc := NewEncoder(encoderRegistry(t))

	out := enc.EncodeModel(&encUser{ID: 7, Email: "jo@example.com", FullName: "Jo Doe"})

	assert.Equal(t, "7", out["id"])
	assert.Equal(t, int64(7), out["pk"])
	assert.Equal(t, "Jo Doe", out["__str__"])
	assert.Equal(t, "User", out["__model__"])
	assert.Equal(t, "jo@example.com", out["email"])
}

func TestEncodeModel_ComputedScalarOnly(t *testing.T) {
	enc := NewEncoder(encoderRegistry(t))

	out := enc.EncodeModel(&encUser{ID: 1, Email: "a@b.c", FullName: "A"})

	assert.Equal(t, "A <a@b.c>", out["display_name"])
	assert.NotContains(t, out, "broken")
	// Non-scalar computed values are dropped.
	assert.NotContains(t, out, "settings")
}

func TestEncodeModel_LoadedRelationNested(t *testing.T) {
	enc := NewEncoder(encoderRegistry(t))
	tenant := &encTenant{
		ID:   3,
		Name: "Acme",
		User: &encUser{ID: 9, Email: "x@y.z", FullName: "X"},
	}

	out := enc.EncodeModel(tenant)

	nested, ok := out["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "9", nested["id"])
	assert.Equal(t, "x@y.z", nested["email"])
	assert.NotContains(t, out, "user_id")
}

func TestEncodeModel_UnloadedRelationFKOnly(t *testing.T) {
	enc := NewEncoder(encoderRegistry(t))
	tenant := &encTenant{ID: 3, Name: "Acme", UserID: 42}

	out := enc.EncodeModel(tenant)

	assert.NotContains(t, out, "user")
	assert.Equal(t, int64(42), out["user_id"])
}

func TestEncodeModel_DepthGuard(t *testing.T) {
	reg := encoderRegistry(t)
	enc := NewEncoder(reg, WithMaxDepth(1))
	tenant := &encTenant{
		ID:   1,
		Name: "Acme",
		User: &encUser{ID: 2, Email: "x@y.z", FullName: "X"},
	}

	out := enc.EncodeModel(tenant)
	nested := out["user"].(map[string]any)

	// At the bound only the minimal form survives.
	assert.Equal(t, "2", nested["id"])
	assert.Equal(t, "User", nested["__model__"])
	assert.NotContains(t, nested, "email")
}

func TestEncodeModel_UnregisteredType(t *testing.T) {
	enc := NewEncoder(encoderRegistry(t))

	out := enc.EncodeModel(&struct{ ID int }{ID: 5})

	assert.Equal(t, "5", out["id"])
	assert.NotContains(t, out, "__model__")
}

func TestEncodeModel_ComputedMemoized(t *testing.T) {
	reg := schema.NewRegistry()
	calls := 0
	user := schema.NewSchema("User").WithType(&encUser{})
	user.Computed["display_name"] = func(obj any) (any, error) {
		calls++
		return "X", nil
	}
	require.NoError(t, reg.Register(user))
	enc := NewEncoder(reg)
	u := &encUser{ID: 1}

	enc.EncodeModel(u)
	enc.EncodeModel(u)

	assert.Equal(t, 1, calls)
}

func TestEncodeModel_PanickingComputedSkipped(t *testing.T) {
	reg := schema.NewRegistry()
	user := schema.NewSchema("User").WithType(&encUser{})
	user.Computed["boom"] = func(obj any) (any, error) {
		panic("exploded")
	}
	require.NoError(t, reg.Register(user))
	enc := NewEncoder(reg)

	out := enc.EncodeModel(&encUser{ID: 1})

	assert.NotContains(t, out, "boom")
}

func TestEncode_Scalars(t *testing.T) {
	enc := NewEncoder(encoderRegistry(t))

	assert.Equal(t, 42, enc.Encode(42))
	assert.Equal(t, "hi", enc.Encode("hi"))
	assert.Equal(t, true, enc.Encode(true))
	assert.Nil(t, enc.Encode(nil))
}

func TestEncode_TimeAndDuration(t *testing.T) {
	enc := NewEncoder(encoderRegistry(t))
	ts := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

	assert.Equal(t, "2024-05-01T12:30:00Z", enc.Encode(ts))
	assert.Equal(t, "2024-05-01T12:30:00Z", enc.Encode(&ts))
	assert.Equal(t, "1h30m0s", enc.Encode(90*time.Minute))
	assert.Nil(t, enc.Encode((*time.Time)(nil)))
}

func TestEncode_UUID(t *testing.T) {
	enc := NewEncoder(encoderRegistry(t))
	id := uuid.MustParse("11111111-2222-3333-4444-555555555555")

	assert.Equal(t, "11111111-2222-3333-4444-555555555555", enc.Encode(id))
}

func TestEncode_Containers(t *testing.T) {
	enc := NewEncoder(encoderRegistry(t))
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	out := enc.Encode(map[string]any{"when": ts, "tags": []string{"a", "b"}})

	m := out.(map[string]any)
	assert.Equal(t, "2024-01-01T00:00:00Z", m["when"])
	assert.Equal(t, []any{"a", "b"}, m["tags"])
}

func TestEncode_ModelBeforeDuckTyping(t *testing.T) {
	reg := encoderRegistry(t)
	enc := NewEncoder(reg)

	out := enc.Encode(&encUser{ID: 1, Email: "a@b.c", FullName: "A"})

	m, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "User", m["__model__"])
}

func TestEncode_FileLikeDuckTyping(t *testing.T) {
	enc := NewEncoder(encoderRegistry(t))

	out := enc.Encode(&encAvatar{URL: "/media/a.png", Name: "a.png"})

	assert.Equal(t, "/media/a.png", out)
}

func TestEncode_StringerFallback(t *testing.T) {
	enc := NewEncoder(encoderRegistry(t))

	out := enc.Encode(time.Monday)

	assert.Equal(t, "Monday", out)
}

func TestEncode_SliceOfModels(t *testing.T) {
	enc := NewEncoder(encoderRegistry(t))
	users := []*encUser{{ID: 1, FullName: "A"}, {ID: 2, FullName: "B"}}

	out := enc.Encode(users).([]any)

	require.Len(t, out, 2)
	assert.Equal(t, "1", out[0].(map[string]any)["id"])
	assert.Equal(t, "2", out[1].(map[string]any)["id"])
}
