// Package registry implements the module registry (SPEC_FULL.md §4.10, a
// gap spec.md leaves as out-of-scope "external collaborator"): modules are
// distributed as single-layer OCI artifacts, pulled with
// github.com/google/go-containerregistry and unpacked
// attribute-preservingly with github.com/opencontainers/umoci — the same
// unpack primitive the teacher's lib/images/oci.go used for whole-container
// rootfs export, applied here to a module payload instead.
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/distribution/reference"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/layout"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/nrednav/cuid2"
	ociv1 "github.com/opencontainers/image-spec/specs-go/v1"
	rspec "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/opencontainers/umoci/oci/cas/dir"
	"github.com/opencontainers/umoci/oci/casext"
	"github.com/opencontainers/umoci/oci/layer"
)

// refAnnotation is the OCI image-spec annotation umoci's
// casext.Engine.ResolveReference matches a tag name against.
const refAnnotation = "org.opencontainers.image.ref.name"

// Fetcher fetches a remote image. Production code passes RemoteFetch;
// tests pass a fetcher backed by an in-memory image (built with
// pkg/v1/random or pkg/v1/empty) so Pull's layout-write and unpack stages
// run against a real image without a network call.
type Fetcher func(ctx context.Context, ref name.Reference) (v1.Image, error)

// RemoteFetch is the production Fetcher.
func RemoteFetch(ctx context.Context, ref name.Reference) (v1.Image, error) {
	return remote.Image(ref, remote.WithContext(ctx))
}

// Pull validates ref with github.com/distribution/reference, fetches it
// with fetch, and unpacks its module payload into destDir
// (MOUNTPOINT/<module>/).
func Pull(ctx context.Context, fetch Fetcher, ref, destDir string) error {
	if _, err := reference.ParseNormalizedNamed(ref); err != nil {
		return fmt.Errorf("invalid module reference %q: %w", ref, err)
	}

	gref, err := name.ParseReference(ref)
	if err != nil {
		return fmt.Errorf("parse reference: %w", err)
	}

	img, err := fetch(ctx, gref)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", ref, err)
	}

	// Each pull gets its own scratch layout directory, named the same way
	// the teacher names every other short-lived resource it hands out
	// (lib/instances/create.go, lib/builds/manager.go: id := cuid2.Generate()).
	layoutDir := filepath.Join(os.TempDir(), "overlayd-oci-"+cuid2.Generate())
	if err := os.MkdirAll(layoutDir, 0o755); err != nil {
		return fmt.Errorf("create oci layout dir: %w", err)
	}
	defer os.RemoveAll(layoutDir)

	path, err := layout.Write(layoutDir, empty.Index)
	if err != nil {
		return fmt.Errorf("write oci layout: %w", err)
	}
	if err := path.AppendImage(img, layout.WithAnnotations(map[string]string{
		refAnnotation: "latest",
	})); err != nil {
		return fmt.Errorf("append image to layout: %w", err)
	}

	return unpack(ctx, layoutDir, destDir)
}

func unpack(ctx context.Context, layoutDir, destDir string) error {
	casEngine, err := dir.Open(layoutDir)
	if err != nil {
		return fmt.Errorf("open oci layout: %w", err)
	}
	defer casEngine.Close()

	engine := casext.NewEngine(casEngine)

	descriptorPaths, err := engine.ResolveReference(ctx, "latest")
	if err != nil {
		return fmt.Errorf("resolve reference: %w", err)
	}
	if len(descriptorPaths) == 0 {
		return fmt.Errorf("no image found in oci layout")
	}

	manifestBlob, err := engine.FromDescriptor(ctx, descriptorPaths[0].Descriptor())
	if err != nil {
		return fmt.Errorf("get manifest: %w", err)
	}
	manifest, ok := manifestBlob.Data.(ociv1.Manifest)
	if !ok {
		return fmt.Errorf("manifest data is not v1.Manifest (got %T)", manifestBlob.Data)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create dest dir: %w", err)
	}

	uid := uint32(os.Getuid())
	gid := uint32(os.Getgid())
	unpackOpts := &layer.UnpackOptions{
		OnDiskFormat: layer.DirRootfs{
			MapOptions: layer.MapOptions{
				Rootless:    true,
				UIDMappings: []rspec.LinuxIDMapping{{HostID: uid, ContainerID: 0, Size: 1}},
				GIDMappings: []rspec.LinuxIDMapping{{HostID: gid, ContainerID: 0, Size: 1}},
			},
		},
	}

	if err := layer.UnpackRootfs(ctx, casEngine, destDir, manifest, unpackOpts); err != nil {
		return fmt.Errorf("unpack rootfs: %w", err)
	}
	return nil
}
