package math

import "fmt"

// GeometryGenerateNormals writes face normals into every vertex of each triangle.
func GeometryGenerateNormals(vertices []Vertex3D, indices []uint32) {
	for i := 0; i+2 < len(indices); i += 3 {
		i0 := indices[i+0]
		i1 := indices[i+1]
		i2 := indices[i+2]

		edge1 := vertices[i1].Position.Sub(vertices[i0].Position)
		edge2 := vertices[i2].Position.Sub(vertices[i0].Position)

		normal := edge1.Cross(edge2).Normalized()

		// NOTE: This just generates a face normal. Smoothing out should be done in a separate pass if desired.
		vertices[i0].Normal = normal
		vertices[i1].Normal = normal
		vertices[i2].Normal = normal
	}
}

// GeometryCalculateExtents returns the axis aligned bounds of the vertices.
// An empty slice yields zero extents.
func GeometryCalculateExtents(vertices []Vertex3D) Extents3D {
	if len(vertices) == 0 {
		return Extents3D{}
	}
	extents := Extents3D{
		Min: Vec3{K_INFINITY, K_INFINITY, K_INFINITY},
		Max: Vec3{-K_INFINITY, -K_INFINITY, -K_INFINITY},
	}
	for _, v := range vertices {
		extents.Min = extents.Min.Min(v.Position)
		extents.Max = extents.Max.Max(v.Position)
	}
	return extents
}

func (e Extents3D) Center() Vec3 {
	return e.Min.Add(e.Max).MulScalar(0.5)
}

// GeometryValidateIndices checks that indices form whole triangles referencing existing vertices.
func GeometryValidateIndices(vertexCount uint32, indices []uint32) error {
	if len(indices)%3 != 0 {
		return fmt.Errorf("index count %d is not a multiple of 3", len(indices))
	}
	for i, index := range indices {
		if index >= vertexCount {
			return fmt.Errorf("index %d at position %d out of range [0, %d)", index, i, vertexCount)
		}
	}
	return nil
}
