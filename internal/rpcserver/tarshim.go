/*
   Copyright The containerd Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// This file implements the docker-save tar compatibility path
// (Header/Chunk/Control frames) as a thin adapter over the same
// runAndTrack entry point RunContainer uses: the tar archive is buffered
// to a temp file, decoded as a Docker-save manifest, and each layer's
// diffID is computed by hashing its uncompressed tar stream before
// re-entering §4.6.
package rpcserver

import (
	"archive/tar"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	digest "github.com/opencontainers/go-digest"

	"github.com/wendylabsinc/wendy-agent/api/agentpb"
	"github.com/wendylabsinc/wendy-agent/internal/agenterrors"
	"github.com/wendylabsinc/wendy-agent/internal/appmodel"
	"github.com/wendylabsinc/wendy-agent/internal/lifecycle"
)

// dockerSaveManifestEntry is the shape of one entry in a docker-save
// archive's manifest.json.
type dockerSaveManifestEntry struct {
	Config   string   `json:"Config"`
	RepoTags []string `json:"RepoTags"`
	Layers   []string `json:"Layers"`
}

// RunContainerStream implements the tar compatibility shim.
func (s *Server) RunContainerStream(stream agentpb.ContainerService_RunContainerStreamServer) error {
	tmp, err := os.CreateTemp("", "wendy-agent-tarshim-*.tar")
	if err != nil {
		return agenterrors.ToGRPCStatus(agenterrors.Internal(err))
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	closed := false
	closeTmp := func() error {
		if closed {
			return nil
		}
		closed = true
		return tmp.Close()
	}
	defer closeTmp()

	var header *agentpb.Header

	for {
		frame, err := stream.Recv()
		if err == io.EOF {
			return closeTmp()
		}
		if err != nil {
			return err
		}

		switch {
		case frame.Header != nil:
			if header != nil {
				return agenterrors.ToGRPCStatus(agenterrors.InvalidArgument("duplicate header frame"))
			}
			if frame.Header.ImageName == "" {
				return agenterrors.ToGRPCStatus(agenterrors.InvalidArgument("header frame must carry an image name"))
			}
			header = frame.Header

		case frame.Chunk != nil:
			if closed {
				return agenterrors.ToGRPCStatus(agenterrors.FailedPrecondition("chunk received after control.run"))
			}
			if len(frame.Chunk.Data) == 0 {
				return agenterrors.ToGRPCStatus(agenterrors.InvalidArgument("chunk frame must carry data"))
			}
			if _, err := tmp.Write(frame.Chunk.Data); err != nil {
				return agenterrors.ToGRPCStatus(agenterrors.Internal(err))
			}

		case frame.Control != nil && frame.Control.Run != nil:
			if header == nil {
				return agenterrors.ToGRPCStatus(agenterrors.FailedPrecondition("control.run received before header"))
			}
			if err := closeTmp(); err != nil {
				return agenterrors.ToGRPCStatus(agenterrors.Internal(err))
			}
			event, err := s.runFromTar(stream.Context(), tmpPath, header, frame.Control.Run)
			if err != nil {
				return err
			}
			if err := stream.Send(event); err != nil {
				return err
			}

		case frame.Control != nil && frame.Control.Stop != nil:
			if err := s.stopFromTarHeader(stream.Context(), header, stream); err != nil {
				return err
			}
		}
	}
}

func (s *Server) stopFromTarHeader(ctx context.Context, header *agentpb.Header, stream agentpb.ContainerService_RunContainerStreamServer) error {
	if header == nil {
		return agenterrors.ToGRPCStatus(agenterrors.FailedPrecondition("control.stop received before header"))
	}
	var cfg appmodel.AppConfig
	if err := json.Unmarshal(header.AppConfig, &cfg); err != nil {
		return agenterrors.ToGRPCStatus(agenterrors.InvalidArgument("decoding app config: %v", err))
	}

	if err := s.Lifecycle.Stop(ctx, cfg.AppID, 0); err != nil {
		return agenterrors.ToGRPCStatus(err)
	}
	if s.Supervisor != nil {
		s.Supervisor.MarkStopped(cfg.AppID)
	}
	s.closeAttach(cfg.AppID)

	return stream.Send(&agentpb.RunContainerEvent{Stopped: &agentpb.StoppedEvent{AppName: cfg.AppID}})
}

// runFromTar decodes header's app config, ingests every layer referenced
// by the tar's docker-save manifest, and re-enters §4.6 via runAndTrack —
// the same call RunContainer makes.
func (s *Server) runFromTar(ctx context.Context, tarPath string, header *agentpb.Header, run *agentpb.RunCommand) (*agentpb.RunContainerEvent, error) {
	var cfg appmodel.AppConfig
	if err := json.Unmarshal(header.AppConfig, &cfg); err != nil {
		return nil, agenterrors.ToGRPCStatus(agenterrors.InvalidArgument("decoding app config: %v", err))
	}
	if err := cfg.Validate(); err != nil {
		return nil, agenterrors.ToGRPCStatus(agenterrors.InvalidArgument("%v", err))
	}

	layers, err := s.ingestDockerSaveTar(ctx, tarPath)
	if err != nil {
		return nil, agenterrors.ToGRPCStatus(err)
	}

	policy := decodeRestartPolicy(run.RestartPolicy)
	req := lifecycle.RunRequest{
		ImageName:     header.ImageName,
		AppName:       cfg.AppID,
		Layers:        layers,
		Config:        cfg,
		Debug:         run.Debug,
		RestartPolicy: policy,
	}

	started, err := s.runAndTrack(ctx, req, policy)
	if err != nil {
		return nil, err
	}
	return &agentpb.RunContainerEvent{Started: started}, nil
}

// ingestDockerSaveTar reads manifest.json from the buffered archive and
// streams each referenced layer.tar entry into the Ingester, computing its
// diffID by hashing the uncompressed tar stream (docker-save layers are
// not gzip-compressed), so Digest == DiffID here.
func (s *Server) ingestDockerSaveTar(ctx context.Context, tarPath string) ([]appmodel.LayerDescriptor, error) {
	mf, tr, err := openTarEntry(tarPath, "manifest.json")
	if err != nil {
		return nil, agenterrors.InvalidArgument("reading docker-save manifest: %v", err)
	}
	data, err := io.ReadAll(tr)
	mf.Close()
	if err != nil {
		return nil, agenterrors.Internal(fmt.Errorf("reading manifest.json: %w", err))
	}

	var entries []dockerSaveManifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, agenterrors.InvalidArgument("parsing docker-save manifest: %v", err)
	}
	if len(entries) == 0 {
		return nil, agenterrors.InvalidArgument("docker-save manifest has no entries")
	}

	layers := make([]appmodel.LayerDescriptor, 0, len(entries[0].Layers))
	for _, name := range entries[0].Layers {
		dgst, size, err := tarEntryDigest(tarPath, name)
		if err != nil {
			return nil, agenterrors.Internal(fmt.Errorf("hashing layer %q: %w", name, err))
		}
		if _, err := s.streamTarEntryIntoIngester(ctx, tarPath, name, dgst); err != nil {
			return nil, err
		}
		layers = append(layers, appmodel.LayerDescriptor{Digest: dgst, DiffID: dgst, Size: size, Gzip: false})
	}
	return layers, nil
}

func (s *Server) streamTarEntryIntoIngester(ctx context.Context, tarPath, name string, dgst digest.Digest) (bool, error) {
	f, tr, err := openTarEntry(tarPath, name)
	if err != nil {
		return false, agenterrors.Internal(err)
	}
	defer f.Close()
	return s.Ingester.WriteLayer(ctx, dgst, newTarEntryChunkSource(tr))
}

// tarEntryDigest hashes a named tar entry's content, reporting both its
// digest and size.
func tarEntryDigest(tarPath, name string) (digest.Digest, int64, error) {
	f, tr, err := openTarEntry(tarPath, name)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	digester := digest.Canonical.Digester()
	n, err := io.Copy(digester.Hash(), tr)
	if err != nil {
		return "", 0, err
	}
	return digester.Digest(), n, nil
}

// openTarEntry scans tarPath from the start for the entry named name,
// returning the open file (positioned via its tar.Reader) and the reader
// itself. The caller must close the returned file once done reading.
func openTarEntry(tarPath, name string) (*os.File, *tar.Reader, error) {
	f, err := os.Open(tarPath)
	if err != nil {
		return nil, nil, err
	}
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			f.Close()
			return nil, nil, fmt.Errorf("tar entry %q not found", name)
		}
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		if hdr.Name == name {
			return f, tr, nil
		}
	}
}

// tarEntryChunkSource streams a single open tar entry as a
// layeringest.ChunkSource, marking the final (possibly empty) frame with
// commit=true rather than relying on a bare io.EOF, since the ingester
// treats an empty non-commit frame as a protocol violation.
type tarEntryChunkSource struct {
	r    io.Reader
	buf  []byte
	done bool
}

func newTarEntryChunkSource(r io.Reader) *tarEntryChunkSource {
	return &tarEntryChunkSource{r: r, buf: make([]byte, 32*1024)}
}

func (c *tarEntryChunkSource) Next() ([]byte, bool, error) {
	if c.done {
		return nil, true, nil
	}
	n, err := c.r.Read(c.buf)
	if n > 0 {
		data := make([]byte, n)
		copy(data, c.buf[:n])
		if err != nil && err != io.EOF {
			return nil, false, err
		}
		if err == io.EOF {
			c.done = true
		}
		return data, false, nil
	}
	if err == io.EOF || err == nil {
		c.done = true
		return nil, true, nil
	}
	return nil, false, err
}
