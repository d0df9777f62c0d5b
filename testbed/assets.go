package testbed

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/math"
	"github.com/spaghettifunk/anima-rhi/engine/systems"
)

type sampleAsset struct {
	name   string
	encode func() ([]byte, error)
}

var sampleAssets = []sampleAsset{
	{"textures/checker.png", func() ([]byte, error) { return encodePNG(checkerboard(256, 32)) }},
	{"textures/checker_specular.bmp", func() ([]byte, error) { return encodeBMP(checkerboard(128, 16)) }},
	{"textures/gradient_normal.tiff", func() ([]byte, error) { return encodeTIFF(gradient(64)) }},
	{"materials/checker.mat", func() ([]byte, error) {
		return systems.EncodeMaterialConfig(systems.MaterialConfig{
			Name:          "checker",
			DiffuseColour: [4]float32{1, 1, 1, 1},
			Shininess:     16,
			Maps: systems.MaterialMaps{
				Diffuse:  "textures/checker.png",
				Specular: "textures/checker_specular.bmp",
				Normal:   "textures/gradient_normal.tiff",
			},
		})
	}},
	{"meshes/cube.mesh", func() ([]byte, error) {
		var buf bytes.Buffer
		if err := systems.WriteMesh(&buf, cube()); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}},
}

// GenerateSampleAssets writes the testbed assets below dir. Existing files are kept.
func GenerateSampleAssets(dir string) (int, error) {
	written := 0
	for _, sample := range sampleAssets {
		path := filepath.Join(dir, filepath.FromSlash(sample.name))
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return written, err
		}

		data, err := sample.encode()
		if err != nil {
			return written, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return written, err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return written, err
		}
		core.LogDebug("generated sample asset '%s'", sample.name)
		written++
	}
	return written, nil
}

func checkerboard(size, cell int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := color.NRGBA{R: 40, G: 40, B: 40, A: 255}
			if (x/cell+y/cell)%2 == 0 {
				c = color.NRGBA{R: 220, G: 220, B: 220, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func gradient(size int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 255 / size), G: uint8(y * 255 / size), B: 255, A: 255})
		}
	}
	return img
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	err := png.Encode(&buf, img)
	return buf.Bytes(), err
}

func encodeBMP(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	err := bmp.Encode(&buf, img)
	return buf.Bytes(), err
}

func encodeTIFF(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	err := tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate})
	return buf.Bytes(), err
}

// cube builds a unit cube with four vertices per face. Normals are left to the mesh loader.
func cube() systems.MeshData {
	faces := [6][4]math.Vec3{
		{math.NewVec3(-1, -1, 1), math.NewVec3(1, -1, 1), math.NewVec3(1, 1, 1), math.NewVec3(-1, 1, 1)},
		{math.NewVec3(1, -1, -1), math.NewVec3(-1, -1, -1), math.NewVec3(-1, 1, -1), math.NewVec3(1, 1, -1)},
		{math.NewVec3(-1, 1, 1), math.NewVec3(1, 1, 1), math.NewVec3(1, 1, -1), math.NewVec3(-1, 1, -1)},
		{math.NewVec3(-1, -1, -1), math.NewVec3(1, -1, -1), math.NewVec3(1, -1, 1), math.NewVec3(-1, -1, 1)},
		{math.NewVec3(1, -1, 1), math.NewVec3(1, -1, -1), math.NewVec3(1, 1, -1), math.NewVec3(1, 1, 1)},
		{math.NewVec3(-1, -1, -1), math.NewVec3(-1, -1, 1), math.NewVec3(-1, 1, 1), math.NewVec3(-1, 1, -1)},
	}
	uvs := [4]math.Vec2{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}

	data := systems.MeshData{}
	for _, face := range faces {
		base := uint32(len(data.Vertices))
		for i, p := range face {
			data.Vertices = append(data.Vertices, math.Vertex3D{Position: p, Texcoord: uvs[i]})
		}
		data.Indices = append(data.Indices, base, base+1, base+2, base, base+2, base+3)
	}
	return data
}
