package storage

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/tileverse/internal/luaengine"
)

const playerSchema = `{
  "type": "object",
  "required": ["name", "level"],
  "properties": {
    "name": {"type": "string"},
    "level": {"type": "integer", "minimum": 1}
  }
}`

func TestVersioningMigratesStepByStep(t *testing.T) {
	v := NewVersioning(nil)
	v.Register("Player", 3)
	var steps []int
	v.AddMigration("Player", 1, func(c interface{}) (interface{}, error) {
		steps = append(steps, 1)
		m := c.(map[string]interface{})
		m["name"] = m["nick"]
		delete(m, "nick")
		return m, nil
	})
	v.AddMigration("Player", 2, func(c interface{}) (interface{}, error) {
		steps = append(steps, 2)
		m := c.(map[string]interface{})
		m["level"] = 1
		return m, nil
	})

	doc := VersionedJSON{Identifier: "Player", Version: 1, Content: json.RawMessage(`{"nick":"Мира"}`)}
	content, err := v.Load(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Мира","level":1}`, string(content))
	assert.Equal(t, []int{1, 2}, steps, "миграции применяются по порядку")
	assert.JSONEq(t, `{"nick":"Мира"}`, string(doc.Content), "исходный документ не меняется")
}

func TestVersioningRejectsBadDocuments(t *testing.T) {
	v := NewVersioning(nil)
	v.Register("Player", 3)
	called := false
	v.AddMigration("Player", 1, func(c interface{}) (interface{}, error) {
		called = true
		return c, nil
	})

	_, err := v.Load(VersionedJSON{Identifier: "Player", Version: 4, Content: json.RawMessage(`{}`)})
	var merr *MigrationError
	require.True(t, errors.As(err, &merr))
	assert.ErrorIs(t, err, ErrUnsupportedVersion, "документ из будущей версии не загружается")

	_, err = v.Load(VersionedJSON{Identifier: "Player", Version: 1, Content: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrMissingMigration)
	assert.False(t, called, "при пропущенном шаге миграции не запускаются")

	_, err = v.Load(VersionedJSON{Identifier: "Ghost", Version: 1})
	assert.ErrorIs(t, err, ErrUnknownDocument)

	_, err = v.Make("Ghost", map[string]int{})
	assert.ErrorIs(t, err, ErrUnknownDocument)
}

func TestVersioningSchema(t *testing.T) {
	v := NewVersioning(nil)
	v.Register("Player", 1)
	require.NoError(t, v.SetSchema("Player", playerSchema))

	doc, err := v.Make("Player", map[string]interface{}{"name": "Мира", "level": 2})
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Version)

	_, err = v.Make("Player", map[string]interface{}{"name": "Мира", "level": 0})
	assert.ErrorIs(t, err, ErrSchemaViolation)

	_, err = v.Load(VersionedJSON{Identifier: "Player", Version: 1, Content: json.RawMessage(`{"name": 5}`)})
	assert.ErrorIs(t, err, ErrSchemaViolation)

	assert.Error(t, v.SetSchema("Broken", `{"type": 12}`))
}

func TestVersioningScriptMigration(t *testing.T) {
	engine := luaengine.NewEngine(luaengine.DefaultConfig())
	defer engine.Close()

	v := NewVersioning(engine)
	v.Register("Player", 2)
	require.NoError(t, v.AddScriptMigration("Player", 1, "player_1_2.lua", `
function update(content)
  content.level = math.floor(content.xp / 100) + 1
  return content
end
`))

	var out struct {
		Name  string `json:"name"`
		Level int    `json:"level"`
	}
	err := v.LoadInto(VersionedJSON{Identifier: "Player", Version: 1, Content: json.RawMessage(`{"name":"Мира","xp":250}`)}, &out)
	require.NoError(t, err)
	assert.Equal(t, "Мира", out.Name)
	assert.Equal(t, 3, out.Level)

	assert.Error(t, NewVersioning(nil).AddScriptMigration("Player", 1, "x.lua", "function update(c) return c end"),
		"без движка Lua миграции-скрипты недоступны")
}

func TestDocumentStore(t *testing.T) {
	v := NewVersioning(nil)
	v.Register("Player", 1)
	store, err := NewDocumentStore(t.TempDir(), v)
	require.NoError(t, err)
	defer store.Close()

	type player struct {
		Name  string `json:"name"`
		Level int    `json:"level"`
	}
	require.NoError(t, store.Put("Player", "b", player{Name: "Борис", Level: 4}))
	require.NoError(t, store.Put("Player", "a", player{Name: "Анна", Level: 2}))

	var got player
	found, err := store.Get("Player", "b", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, player{Name: "Борис", Level: 4}, got)

	keys, err := store.Keys("Player")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	// Документ новее реестра остаётся в базе нетронутым
	future := VersionedJSON{Identifier: "Player", Version: 7, Content: json.RawMessage(`{"name":"Вера"}`)}
	require.NoError(t, store.PutRaw("Player", "c", future))
	_, err = store.Get("Player", "c", &got)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
	raw, found, err := store.GetRaw("Player", "c")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 7, raw.Version)

	require.NoError(t, store.Delete("Player", "a"))
	found, err = store.Get("Player", "a", &got)
	require.NoError(t, err)
	assert.False(t, found)
}
