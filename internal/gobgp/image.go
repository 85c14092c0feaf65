package gobgp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dantte-lp/bgplab/internal/netlab"
	"github.com/dantte-lp/bgplab/internal/shell"
)

// BuildSpec declares a gobgp image build from a source checkout, for
// testing unreleased daemon revisions.
type BuildSpec struct {
	// Tag is the image tag to produce, e.g. "bgplab/gobgp:dev".
	Tag string

	// CheckoutDir is the gobgp source tree on the host.
	CheckoutDir string

	// BuildImage is the Go toolchain image compiling the daemon; empty
	// picks a default.
	BuildImage string
}

// BuildImage compiles gobgpd and the gobgp CLI from a source checkout
// into a runnable image. The Dockerfile is written into the checkout
// and the build runs through the host docker CLI under the lab retry
// policy.
func BuildImage(ctx context.Context, lab *netlab.Lab, spec BuildSpec) error {
	if spec.Tag == "" || spec.CheckoutDir == "" {
		return fmt.Errorf("image build needs a tag and a checkout dir")
	}

	builder := spec.BuildImage
	if builder == "" {
		builder = "golang:1.24"
	}

	df := shell.NewBuffer("\n")
	df.Addf("FROM %s AS build", builder)
	df.Add("ADD . /src/gobgp")
	df.Add("WORKDIR /src/gobgp")
	df.Add("RUN CGO_ENABLED=0 go build -o /out/gobgpd ./cmd/gobgpd")
	df.Add("RUN CGO_ENABLED=0 go build -o /out/gobgp ./cmd/gobgp")
	df.Add("FROM debian:stable-slim")
	df.Add("RUN apt-get update && apt-get install -y --no-install-recommends iproute2 iputils-ping procps && rm -rf /var/lib/apt/lists/*")
	df.Add("COPY --from=build /out/gobgpd /out/gobgp /usr/bin/")

	path := filepath.Join(spec.CheckoutDir, "Dockerfile")
	if err := os.WriteFile(path, []byte(df.String()+"\n"), 0o644); err != nil {
		return fmt.Errorf("write dockerfile %s: %w", path, err)
	}

	cmd := fmt.Sprintf("docker build -t %s %s", spec.Tag, spec.CheckoutDir)
	if _, err := lab.Host(ctx, cmd); err != nil {
		return fmt.Errorf("build image %s: %w", spec.Tag, err)
	}

	return nil
}
