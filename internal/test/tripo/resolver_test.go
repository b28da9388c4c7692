package tripo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"meshforge-backend/internal/tripo"
)

func TestSiblingCandidates_FromGLB(t *testing.T) {
	got := tripo.SiblingCandidates("https://cdn.example.com/results/abc/model/scene.glb", "obj")
	assert.Equal(t, []string{
		"https://cdn.example.com/results/abc/model/scene.obj.zip",
		"https://cdn.example.com/results/abc/model/scene.zip",
		"https://cdn.example.com/results/abc/model/scene.obj",
	}, got)
}

func TestSiblingCandidates_FromDoubleExtension(t *testing.T) {
	got := tripo.SiblingCandidates("https://cdn.example.com/r/scene.obj.zip", "stl")
	assert.Equal(t, []string{
		"https://cdn.example.com/r/scene.stl.zip",
		"https://cdn.example.com/r/scene.zip",
		"https://cdn.example.com/r/scene.stl",
	}, got)
}

func TestSiblingCandidates_UnknownExtensionKept(t *testing.T) {
	// An unrecognized extension is not stripped, so the base keeps it.
	got := tripo.SiblingCandidates("https://cdn.example.com/r/archive.tar", "glb")
	assert.Equal(t, "https://cdn.example.com/r/archive.tar.glb.zip", got[0])
}

func TestAlternateDirCandidates(t *testing.T) {
	got := tripo.AlternateDirCandidates("https://cdn.example.com/abc/model/0.mtl")
	assert.Equal(t, []string{
		"https://cdn.example.com/abc/model/0.mtl",
		"https://cdn.example.com/abc/0.mtl",
	}, got)

	// No "/model/" segment: just the input.
	got = tripo.AlternateDirCandidates("https://cdn.example.com/abc/0.mtl")
	assert.Equal(t, []string{"https://cdn.example.com/abc/0.mtl"}, got)
}

func TestSiblingFileURL(t *testing.T) {
	assert.Equal(t,
		"https://cdn.example.com/abc/model/scene.mtl",
		tripo.SiblingFileURL("https://cdn.example.com/abc/model/scene.obj", "scene.mtl"))
	assert.Equal(t, "scene.mtl", tripo.SiblingFileURL("scene.obj", "scene.mtl"))
}

func TestParseMTLRefs_Declared(t *testing.T) {
	obj := "# comment\nmtllib scene.mtl extra.mtl\nv 0 0 0\nmtllib other.mtl\n"
	assert.Equal(t, []string{"scene.mtl", "extra.mtl", "other.mtl"}, tripo.ParseMTLRefs(obj, "scene"))
}

func TestParseMTLRefs_FallbackGuesses(t *testing.T) {
	obj := "v 0 0 0\nf 1 1 1\n"
	assert.Equal(t, []string{"scene.mtl", "0.mtl", "materials.mtl"}, tripo.ParseMTLRefs(obj, "scene"))
}

func TestParseTextureRefs(t *testing.T) {
	mtl := `newmtl material_0
Ka 1.000 1.000 1.000
map_Kd albedo.png
map_Ks -s 1 1 1 specular.jpg
bump -bm 0.5 normal.png
disp height.png
map_Kd albedo.png
illum 2
`
	assert.Equal(t,
		[]string{"albedo.png", "specular.jpg", "normal.png", "height.png"},
		tripo.ParseTextureRefs(mtl))
}

func TestParseTextureRefs_Empty(t *testing.T) {
	assert.Empty(t, tripo.ParseTextureRefs("newmtl x\nKd 0.5 0.5 0.5\n"))
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "scene", tripo.BaseName("https://cdn.example.com/a/b/scene.obj.zip"))
	assert.Equal(t, "scene", tripo.BaseName("https://cdn.example.com/a/b/scene.glb"))
	assert.Equal(t, "scene", tripo.BaseName("scene"))
}
