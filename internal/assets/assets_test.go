package assets

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAssets(t *testing.T, sources ...Source) *Assets {
	t.Helper()
	a, err := New(Options{TTL: time.Minute, Workers: 2}, sources...)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/a/b.json", NormalizePath("/", "a/b.json"))
	assert.Equal(t, "/npc/brain.lua", NormalizePath("/npc/main.lua", "brain.lua"))
	assert.Equal(t, "/common.lua", NormalizePath("/npc/main.lua", "../common.lua"))
	assert.Equal(t, "/x.lua", NormalizePath("/npc/main.lua", "/x.lua"))
	assert.Equal(t, "/etc/passwd", NormalizePath("/", "../../etc/passwd"), "выход за корень невозможен")
}

func TestMissingAsset(t *testing.T) {
	a := newTestAssets(t, NewMemorySource("mem", nil))

	_, err := a.Bytes("/nope.json")
	assert.ErrorIs(t, err, ErrAssetMissing)
	_, err = a.Script("/nope.lua")
	assert.ErrorIs(t, err, ErrAssetMissing)
	assert.False(t, a.Exists("/nope.json"))
}

func TestLaterSourceOverrides(t *testing.T) {
	base := NewMemorySource("base", map[string][]byte{
		"/items/sword.config": []byte(`{"damage": 5}`),
		"/items/shield.config": []byte(`{"armor": 2}`),
	})
	mod := NewMemorySource("mod", map[string][]byte{
		"/items/sword.config": []byte(`{"damage": 9}`),
	})
	a := newTestAssets(t, base, mod)

	v, err := a.JSON("/items/sword.config:damage")
	require.NoError(t, err)
	assert.Equal(t, float64(9), v)

	v, err = a.JSON("/items/shield.config:armor")
	require.NoError(t, err)
	assert.Equal(t, float64(2), v)

	list, err := a.List("/items")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/items/sword.config", "/items/shield.config"}, list)
}

func TestJSONSubPathAndInto(t *testing.T) {
	a := newTestAssets(t, NewMemorySource("mem", map[string][]byte{
		"/monsters/slime.monstertype": []byte(`{"name":"slime","drops":[{"item":"gel","count":2}]}`),
	}))

	v, err := a.JSON("/monsters/slime.monstertype:drops.0.item")
	require.NoError(t, err)
	assert.Equal(t, "gel", v)

	_, err = a.JSON("/monsters/slime.monstertype:drops.5")
	assert.ErrorIs(t, err, ErrAssetMissing)

	var def struct {
		Name  string `json:"name"`
		Drops []struct {
			Item  string `json:"item"`
			Count int    `json:"count"`
		} `json:"drops"`
	}
	require.NoError(t, a.JSONInto("/monsters/slime.monstertype", &def))
	assert.Equal(t, "slime", def.Name)
	require.Len(t, def.Drops, 1)
	assert.Equal(t, 2, def.Drops[0].Count)
}

func TestCacheAndInvalidate(t *testing.T) {
	mem := NewMemorySource("mem", map[string][]byte{"/s.lua": []byte("return 1")})
	a := newTestAssets(t, mem)

	src, err := a.Script("/s.lua")
	require.NoError(t, err)
	assert.Equal(t, "return 1", src)

	mem.Put("/s.lua", []byte("return 2"))
	src, err = a.Script("/s.lua")
	require.NoError(t, err)
	assert.Equal(t, "return 1", src, "значение из кэша до инвалидации")
	assert.GreaterOrEqual(t, a.Stats().Hits, int64(1))

	a.Invalidate("/s.lua")
	src, err = a.Script("/s.lua")
	require.NoError(t, err)
	assert.Equal(t, "return 2", src)
	assert.Equal(t, int64(2), a.Stats().Loads)
}

func TestConcurrentLoadsDeduplicated(t *testing.T) {
	mem := NewMemorySource("mem", map[string][]byte{"/big.json": []byte(`{"a":1}`)})
	a := newTestAssets(t, mem)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.JSON("/big.json")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, a.Stats().Loads, int64(2))
}

func TestDirectorySourceAndImage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "dungeons"), 0o755))

	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dungeons", "room.png"), buf.Bytes(), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dungeons", "room.json"), []byte(`{"size":3}`), 0o644))

	src, err := NewDirectorySource(dir)
	require.NoError(t, err)
	a := newTestAssets(t, src)

	decoded, err := a.Image("dungeons/room.png")
	require.NoError(t, err)
	assert.Equal(t, 3, decoded.Bounds().Dx())
	r, _, _, _ := decoded.At(1, 1).RGBA()
	assert.Equal(t, uint32(0xffff), r)

	list, err := a.List("/dungeons")
	require.NoError(t, err)
	assert.Equal(t, []string{"/dungeons/room.json", "/dungeons/room.png"}, list)

	require.NoError(t, a.Preload(context.Background(), "/dungeons/room.json", "/dungeons/room.png"))
	_, err = a.Bytes("/../../outside")
	assert.ErrorIs(t, err, ErrAssetMissing)
}
