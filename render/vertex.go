package render

import (
	"bytes"
	"encoding/binary"
	"io"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/g3n/engine/loader/obj"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// TriangleVertexCount is the number of vertices the frame graph draws.
const TriangleVertexCount = 3

type Vertex struct {
	Position mgl32.Vec2
}

func getVertexBindingDescription() []core1_0.VertexInputBindingDescription {
	v := Vertex{}
	return []core1_0.VertexInputBindingDescription{
		{
			Binding:   0,
			Stride:    int(unsafe.Sizeof(v)),
			InputRate: core1_0.VertexInputRateVertex,
		},
	}
}

func getVertexAttributeDescriptions() []core1_0.VertexInputAttributeDescription {
	v := Vertex{}
	return []core1_0.VertexInputAttributeDescription{
		{
			Binding:  0,
			Location: 0,
			Format:   core1_0.FormatR32G32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.Position)),
		},
	}
}

// loadVertices decodes a Wavefront mesh into vertex positions, fanning polygons into
// triangles and dropping z. The mesh must describe exactly one triangle.
func loadVertices(mesh io.Reader, materials io.Reader) ([]Vertex, error) {
	decoder, err := obj.DecodeReader(mesh, materials)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode mesh")
	}

	var vertices []Vertex
	for _, decodedObj := range decoder.Objects {
		for _, face := range decodedObj.Faces {
			for i := 2; i < len(face.Vertices); i++ {
				vertices = append(vertices,
					vertexAt(decoder, face.Vertices[0]),
					vertexAt(decoder, face.Vertices[i-1]),
					vertexAt(decoder, face.Vertices[i]),
				)
			}
		}
	}

	if len(vertices) != TriangleVertexCount {
		return nil, errors.Newf("mesh has %d vertices, want %d", len(vertices), TriangleVertexCount)
	}

	return vertices, nil
}

func vertexAt(decoder *obj.Decoder, index int) Vertex {
	return Vertex{Position: mgl32.Vec2{
		decoder.Vertices[index*3],
		decoder.Vertices[index*3+1],
	}}
}

// writeData copies data into mapped device memory in the driver's byte order.
func writeData(driver core1_0.CoreDeviceDriver, memory core1_0.DeviceMemory, offset int, data any) error {
	bufferSize := binary.Size(data)
	if bufferSize < 0 {
		return errors.AssertionFailedf("cannot compute size of %T", data)
	}

	memoryPtr, _, err := driver.MapMemory(memory, offset, bufferSize, 0)
	if err != nil {
		return errors.Wrap(err, "failed to map memory")
	}
	defer driver.UnmapMemory(memory)

	dataBuffer := unsafe.Slice((*byte)(memoryPtr), bufferSize)

	buf := &bytes.Buffer{}
	err = binary.Write(buf, common.ByteOrder, data)
	if err != nil {
		return errors.Wrap(err, "failed to encode data")
	}

	copy(dataBuffer, buf.Bytes())
	return nil
}
