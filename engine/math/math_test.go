package math

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGeometryGenerateNormals(t *testing.T) {
	vertices := []Vertex3D{
		{Position: Vec3{0, 0, 0}},
		{Position: Vec3{1, 0, 0}},
		{Position: Vec3{0, 1, 0}},
	}
	GeometryGenerateNormals(vertices, []uint32{0, 1, 2})
	for _, v := range vertices {
		require.True(t, v.Normal.Compare(Vec3{0, 0, 1}, K_FLOAT_EPSILON))
	}
}

func TestGeometryCalculateExtents(t *testing.T) {
	extents := GeometryCalculateExtents([]Vertex3D{
		{Position: Vec3{-1, 2, 0}},
		{Position: Vec3{3, -4, 5}},
	})
	require.Equal(t, Vec3{-1, -4, 0}, extents.Min)
	require.Equal(t, Vec3{3, 2, 5}, extents.Max)
	require.Equal(t, Vec3{1, -1, 2.5}, extents.Center())
	require.Equal(t, Extents3D{}, GeometryCalculateExtents(nil))
}

func TestGeometryValidateIndices(t *testing.T) {
	require.NoError(t, GeometryValidateIndices(3, []uint32{0, 1, 2}))
	require.Error(t, GeometryValidateIndices(3, []uint32{0, 1}))
	require.Error(t, GeometryValidateIndices(3, []uint32{0, 1, 3}))
}

func TestClamp(t *testing.T) {
	require.Equal(t, 5, Clamp(7, 0, 5))
	require.Equal(t, float32(0.5), Clamp(float32(0.5), 0, 1))
	require.Equal(t, uint32(2), Clamp(uint32(1), 2, 4))
}
