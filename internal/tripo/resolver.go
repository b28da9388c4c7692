package tripo

import (
	"strings"
)

// The vendor hosts sibling artifacts next to the primary result file but only
// reports one URL per task. These helpers derive an ordered list of candidate
// URLs for other formats, and pull material/texture references out of OBJ and
// MTL text. They are pure; probing candidates over HTTP lives in Prober.

// knownExts are extensions we strip when deriving the base of a vendor URL.
var knownExts = map[string]bool{
	"obj": true, "glb": true, "stl": true, "fbx": true,
	"zip": true, "mtl": true, "gltf": true, "usdz": true,
}

// stripKnownExts removes up to two known extensions from the final path
// segment, so "scene.obj.zip" and "scene.glb" both reduce to "scene".
func stripKnownExts(u string) string {
	for i := 0; i < 2; i++ {
		dot := strings.LastIndex(u, ".")
		if dot < 0 {
			return u
		}
		ext := strings.ToLower(u[dot+1:])
		if slash := strings.IndexByte(ext, '/'); slash >= 0 {
			return u
		}
		if !knownExts[ext] {
			return u
		}
		u = u[:dot]
	}
	return u
}

// SiblingCandidates derives candidate URLs for targetFormat from one known
// artifact URL. Zip-wrapped shapes come first: the vendor usually packages
// OBJ+MTL+textures only as an archive.
func SiblingCandidates(knownURL, targetFormat string) []string {
	base := stripKnownExts(knownURL)
	return []string{
		base + "." + targetFormat + ".zip",
		base + ".zip",
		base + "." + targetFormat,
	}
}

// AlternateDirCandidates returns u plus a variant with the "/model/" path
// segment removed. The vendor sometimes serves MTL and texture files from the
// parent directory of the model file.
func AlternateDirCandidates(u string) []string {
	out := []string{u}
	if alt := strings.Replace(u, "/model/", "/", 1); alt != u {
		out = append(out, alt)
	}
	return out
}

// SiblingFileURL replaces the final path segment of knownURL with name,
// keeping the directory. Used to resolve MTL and texture files declared
// relative to the OBJ.
func SiblingFileURL(knownURL, name string) string {
	slash := strings.LastIndex(knownURL, "/")
	if slash < 0 {
		return name
	}
	return knownURL[:slash+1] + name
}

// ParseMTLRefs extracts material library filenames from OBJ text. Every
// "mtllib" directive is honored; a single directive may list several files.
// When the OBJ declares none, common fallback names are guessed from the OBJ
// base name.
func ParseMTLRefs(objText, objBaseName string) []string {
	var refs []string
	for _, line := range strings.Split(objText, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "mtllib" {
			continue
		}
		refs = append(refs, fields[1:]...)
	}
	if len(refs) > 0 {
		return refs
	}
	return []string{objBaseName + ".mtl", "0.mtl", "materials.mtl"}
}

// ParseTextureRefs extracts texture file paths from MTL text. Any statement
// whose keyword starts with map_, bump or disp (case-insensitive) references
// a texture; the path is the last argument that is not an option flag.
func ParseTextureRefs(mtlText string) []string {
	var refs []string
	seen := map[string]bool{}
	for _, line := range strings.Split(mtlText, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		keyword := strings.ToLower(fields[0])
		if !strings.HasPrefix(keyword, "map_") && !strings.HasPrefix(keyword, "bump") && !strings.HasPrefix(keyword, "disp") {
			continue
		}
		for i := len(fields) - 1; i >= 1; i-- {
			if strings.HasPrefix(fields[i], "-") {
				continue
			}
			if !seen[fields[i]] {
				seen[fields[i]] = true
				refs = append(refs, fields[i])
			}
			break
		}
	}
	return refs
}

// BaseName returns the final path segment of u without its extensions.
func BaseName(u string) string {
	base := stripKnownExts(u)
	if slash := strings.LastIndex(base, "/"); slash >= 0 {
		base = base[slash+1:]
	}
	return base
}
