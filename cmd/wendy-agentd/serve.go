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

package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/containerd/containerd"
	"github.com/containerd/log"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/wendylabsinc/wendy-agent/api/agentpb"
	"github.com/wendylabsinc/wendy-agent/internal/agentconfig"
	"github.com/wendylabsinc/wendy-agent/internal/identity"
	"github.com/wendylabsinc/wendy-agent/internal/layeringest"
	"github.com/wendylabsinc/wendy-agent/internal/lifecycle"
	"github.com/wendylabsinc/wendy-agent/internal/provisioning"
	"github.com/wendylabsinc/wendy-agent/internal/rpcserver"
	_ "github.com/wendylabsinc/wendy-agent/internal/rpcserver/jsoncodec"
	"github.com/wendylabsinc/wendy-agent/internal/runtimecap"
	"github.com/wendylabsinc/wendy-agent/internal/supervisor"
	"github.com/wendylabsinc/wendy-agent/pkg/errutil"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "serve",
		Short:         "Run the agent's RPC surface and supervisor loop",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serveAction,
	}
	return cmd
}

func serveAction(cmd *cobra.Command, args []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}

	cfg, err := agentconfig.Load(configPath)
	if err != nil {
		return errutil.NewExitCoderErr(1)
	}
	if lvl, lerr := logrus.ParseLevel(cfg.LogLevel); lerr == nil {
		logrus.SetLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	id, err := identity.Load(cfg.DataRoot)
	if err != nil {
		log.L.WithError(err).Error("failed to load agent identity")
		return errutil.NewExitCoderErr(1)
	}

	client, err := containerd.New(cfg.Address, containerd.WithDefaultNamespace(cfg.Namespace))
	if err != nil {
		log.L.WithError(err).WithField("address", cfg.Address).Error("failed to dial containerd")
		return errutil.NewExitCoderErr(1)
	}
	defer client.Close()

	cap := runtimecap.New(client, cfg.Namespace, cfg.Snapshotter)
	ingester := layeringest.New(cap)
	manager := lifecycle.New(cap)
	sup := supervisor.New(manager, cap)
	prov := provisioning.New(id)
	srv := rpcserver.New(id, prov, ingester, manager, sup, cfg.CgroupPathTemplate)

	if err := sup.Rehydrate(ctx); err != nil {
		log.L.WithError(err).Warn("supervisor rehydrate reported errors, continuing with partial state")
	}
	go sup.Run(ctx)

	lis, err := net.Listen("tcp", cfg.GRPCAddress)
	if err != nil {
		log.L.WithError(err).WithField("address", cfg.GRPCAddress).Error("failed to listen")
		return errutil.NewExitCoderErr(1)
	}

	grpcServer := grpc.NewServer()
	agentpb.RegisterAgentServiceServer(grpcServer, srv)
	agentpb.RegisterProvisioningServiceServer(grpcServer, srv)
	agentpb.RegisterContainerServiceServer(grpcServer, srv)

	serveErr := make(chan error, 1)
	go func() {
		log.L.WithField("address", cfg.GRPCAddress).Info("wendy-agentd listening")
		serveErr <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		log.L.Info("shutting down")
		grpcServer.GracefulStop()
		return nil
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("grpc server exited: %w", err)
		}
		return nil
	}
}
