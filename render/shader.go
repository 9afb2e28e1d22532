package render

import (
	"context"
	"embed"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/naga"
	"github.com/loov/hrtime"
	"golang.org/x/sync/errgroup"
)

//go:embed shaders meshes
var fileSystem embed.FS

const (
	triangleShader    = "shaders/triangle.wgsl"
	triangleMesh      = "meshes/triangle.obj"
	triangleMaterials = "meshes/triangle.mtl"

	vertexEntryPoint   = "vs_main"
	fragmentEntryPoint = "fs_main"
)

func bytesToBytecode(b []byte) []uint32 {
	byteCode := make([]uint32, len(b)/4)
	for i := 0; i < len(byteCode); i++ {
		byteIndex := i * 4
		byteCode[i] = 0
		byteCode[i] |= uint32(b[byteIndex])
		byteCode[i] |= uint32(b[byteIndex+1]) << 8
		byteCode[i] |= uint32(b[byteIndex+2]) << 16
		byteCode[i] |= uint32(b[byteIndex+3]) << 24
	}

	return byteCode
}

// compileShader compiles an embedded WGSL module holding both entry points to
// SPIR-V words.
func compileShader(name string) ([]uint32, error) {
	source, err := fileSystem.ReadFile(name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read shader %s", name)
	}

	start := hrtime.Now()
	spirv, err := naga.Compile(string(source))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to compile shader %s", name)
	}
	if len(spirv)%4 != 0 {
		return nil, errors.Newf("shader %s compiled to %d bytes, not whole words", name, len(spirv))
	}

	Logger().Debug("compiled shader", "name", name, "bytes", len(spirv), "elapsed", hrtime.Since(start))
	return bytesToBytecode(spirv), nil
}

func loadTriangleMesh() ([]Vertex, error) {
	meshFile, err := fileSystem.Open(triangleMesh)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open mesh")
	}
	defer meshFile.Close()

	matFile, err := fileSystem.Open(triangleMaterials)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open mesh materials")
	}
	defer matFile.Close()

	return loadVertices(meshFile, matFile)
}

type graphAssets struct {
	shader   []uint32
	vertices []Vertex
}

// loadGraphAssets compiles the shader and decodes the mesh concurrently.
func loadGraphAssets(ctx context.Context) (graphAssets, error) {
	var assets graphAssets
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		shader, err := compileShader(triangleShader)
		if err != nil {
			return err
		}
		assets.shader = shader
		return ctx.Err()
	})

	group.Go(func() error {
		vertices, err := loadTriangleMesh()
		if err != nil {
			return err
		}
		assets.vertices = vertices
		return ctx.Err()
	})

	err := group.Wait()
	if err != nil {
		return graphAssets{}, err
	}

	return assets, nil
}
