package zipx_test

import (
	"archive/zip"
	"bytes"
	"compress/flate"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"meshforge-backend/internal/zipx"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	entries := []zipx.Entry{
		{Name: "model.obj", Data: []byte("v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 3\n")},
		{Name: "model.mtl", Data: []byte("newmtl default\nmap_Kd texture.png\n")},
		{Name: "texture.png", Data: []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}},
	}

	archive := zipx.Encode(entries)
	decoded, err := zipx.Decode(archive)
	require.NoError(t, err)
	require.Len(t, decoded, len(entries))

	for i, e := range entries {
		assert.Equal(t, e.Name, decoded[i].Name)
		assert.Equal(t, e.Data, decoded[i].Data)
	}
}

func TestEncodeDecode_EmptyPayloadAndUnicodeName(t *testing.T) {
	entries := []zipx.Entry{
		{Name: "empty.bin", Data: nil},
		{Name: "модель/mesh.obj", Data: []byte("v 0 0 0\n")},
	}

	decoded, err := zipx.Decode(zipx.Encode(entries))
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, "empty.bin", decoded[0].Name)
	assert.Empty(t, decoded[0].Data)
	assert.Equal(t, "модель/mesh.obj", decoded[1].Name)
}

func TestEncode_ZeroEntries(t *testing.T) {
	archive := zipx.Encode(nil)
	decoded, err := zipx.Decode(archive)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestDecode_NotZip(t *testing.T) {
	_, err := zipx.Decode([]byte("this is definitely not an archive"))
	assert.ErrorIs(t, err, zipx.ErrNotZip)

	_, err = zipx.Decode(nil)
	assert.ErrorIs(t, err, zipx.ErrNotZip)
}

func TestDecode_TrailingGarbage(t *testing.T) {
	entries := []zipx.Entry{{Name: "a.txt", Data: []byte("hello")}}
	archive := zipx.Encode(entries)
	archive = append(archive, []byte("trailing junk some servers append")...)

	decoded, err := zipx.Decode(archive)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, []byte("hello"), decoded[0].Data)
}

// The stdlib writer produces DEFLATE entries; the reader must unpack those
// too since vendor archives are not under our control.
func TestDecode_DeflateEntries(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestSpeed)
	})
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "mesh.obj", Method: zip.Deflate})
	require.NoError(t, err)
	payload := bytes.Repeat([]byte("v 0.5 0.5 0.5\n"), 200)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	decoded, err := zipx.Decode(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, "mesh.obj", decoded[0].Name)
	assert.Equal(t, payload, decoded[0].Data)
}

// Output must also be readable by a standard ZIP implementation.
func TestEncode_ReadableByStdlib(t *testing.T) {
	entries := []zipx.Entry{
		{Name: "model.obj", Data: []byte("v 1 2 3\n")},
		{Name: "textures/albedo.png", Data: []byte{1, 2, 3, 4}},
	}
	archive := zipx.Encode(entries)

	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)

	for i, f := range zr.File {
		assert.Equal(t, entries[i].Name, f.Name)
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		assert.Equal(t, entries[i].Data, data)
	}
}

func TestSanitizeEntryName(t *testing.T) {
	cases := map[string]string{
		"model.obj":              "model.obj",
		"/model.obj":             "model.obj",
		"..\\..\\evil.exe":       "evil.exe",
		"a/../b/c.png":           "a/b/c.png",
		"./textures//albedo.png": "textures/albedo.png",
		"":                       "",
	}
	for in, want := range cases {
		assert.Equal(t, want, zipx.SanitizeEntryName(in), "input %q", in)
	}
}
