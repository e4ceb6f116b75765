// Command nucleusimd is an integration harness: it boots a kernel
// instance, launches a real external pager process as a containerd
// task (via pkg/taskhost), bridges a Unix-domain socket between that
// process and the kernel's in-process ports, and drives the
// external-pager protocol (spec.md §6.3) against it end to end. The
// pager image itself is supplied by the operator (--pager-image); this
// repo builds the kernel side of the protocol only, per spec.md's own
// "deliberately out of scope" list ruling out in-kernel userland demos.
package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/nucleus/pkg/ipc"
	"github.com/cuemby/nucleus/pkg/kernel"
	"github.com/cuemby/nucleus/pkg/klog"
	"github.com/cuemby/nucleus/pkg/taskhost"
	"github.com/cuemby/nucleus/pkg/vm"
)

func main() {
	klog.Init(klog.Config{Level: klog.InfoLevel})
	logger := klog.WithComponent("nucleusimd")

	containerdSocket := flag.String("containerd-socket", taskhost.DefaultSocketPath, "containerd socket path")
	pagerImage := flag.String("pager-image", "", "OCI image implementing the external-pager protocol (required)")
	socketDir := flag.String("socket-dir", "", "host directory for the bridge socket (a temp dir if empty)")
	flag.Parse()

	if *pagerImage == "" {
		logger.Fatal().Msg("--pager-image is required")
	}

	dir := *socketDir
	if dir == "" {
		var err error
		dir, err = os.MkdirTemp("", "nucleusimd-")
		if err != nil {
			logger.Fatal().Err(err).Msg("create socket dir")
		}
		defer os.RemoveAll(dir)
	}

	k, err := kernel.New(kernel.Config{
		NumPriorities:    32,
		DefaultQuantum:   4,
		TotalPages:       4096,
		AddressSpan:      1 << 32,
		PageoutLowWater:  64,
		PageoutHighWater: 256,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("boot kernel")
	}
	defer k.Shutdown()

	kernelTask := k.Tasks.KernelTask()
	space := kernelTask.Space
	wq := k.Tasks.Registry()

	pagerPort := ipc.NewPort(16)
	pagerRecv := space.Insert(&ipc.Right{Kind: ipc.RightReceive, Port: pagerPort})
	pagerPort.IncSendRight()
	pagerSend := space.Insert(&ipc.Right{Kind: ipc.RightSend, Port: pagerPort})

	controlPort := ipc.NewPort(16)
	controlRecv := space.Insert(&ipc.Right{Kind: ipc.RightReceive, Port: controlPort})
	controlPort.IncSendRight()
	controlSend := space.Insert(&ipc.Right{Kind: ipc.RightSend, Port: controlPort})

	socketPath := filepath.Join(dir, "pager.sock")
	bridge, err := newSocketBridge(socketPath, space, wq, pagerRecv, controlSend)
	if err != nil {
		logger.Fatal().Err(err).Msg("start bridge")
	}
	defer bridge.Close()
	bridge.serve()

	host, err := taskhost.NewHost(*containerdSocket)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect to containerd")
	}
	defer host.Close()

	objectID := uuid.New()
	ctx := context.Background()
	proc, err := host.Launch(ctx, taskhost.PagerSpec{
		ID:            "nucleusimd-pager-" + objectID.String()[:8],
		Image:         *pagerImage,
		SocketHostDir: dir,
		SocketPath:    "/pager",
		Env:           []string{"PAGER_SOCKET=/pager/pager.sock"},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("launch pager")
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := host.Stop(stopCtx, proc, 5*time.Second); err != nil {
			logger.Error().Err(err).Msg("stop pager")
		}
	}()

	logger.Info().Uint32("pid", proc.Pid()).Msg("external pager running, wiring pager client")

	// Give the pager a moment to dial the bridge socket before the
	// handshake send races it.
	time.Sleep(500 * time.Millisecond)

	client, err := vm.NewPagerClient(wq, space, pagerSend, controlRecv, objectID)
	if err != nil {
		logger.Fatal().Err(err).Msg("pager init handshake failed")
	}

	data, err := client.RequestData(0, int(vm.PageSize), vm.ProtRead)
	if err != nil {
		logger.Error().Err(err).Msg("data request failed")
	} else {
		logger.Info().Int("bytes", len(data)).Msg("received initial page from external pager")
	}

	if err := client.Terminate(); err != nil {
		logger.Error().Err(err).Msg("terminate notification failed")
	}

	logger.Info().Msg("integration run complete")
}
