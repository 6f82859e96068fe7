package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/rootlayer/overlayd/cmd/overlayd/config"
	"github.com/rootlayer/overlayd/lib/imagestore"
	"github.com/rootlayer/overlayd/lib/logger"
	"github.com/rootlayer/overlayd/lib/otel"
	"github.com/rootlayer/overlayd/lib/overlay"
	"github.com/rootlayer/overlayd/lib/paths"
	"github.com/rootlayer/overlayd/lib/stage"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application terminated", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	otelProvider, otelShutdown, err := otel.Init(context.Background(), otel.Config{
		Enabled:           cfg.OtelEnabled,
		Endpoint:          cfg.OtelEndpoint,
		ServiceName:       cfg.OtelServiceName,
		ServiceInstanceID: cfg.OtelServiceInstanceID,
		Insecure:          cfg.OtelInsecure,
		Version:           cfg.Version,
		Env:               cfg.Env,
	})
	if err != nil {
		slog.Warn("failed to initialize OpenTelemetry, continuing without telemetry", "error", err)
	}
	if otelShutdown != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := otelShutdown(shutdownCtx); err != nil {
				slog.Warn("error shutting down OpenTelemetry", "error", err)
			}
		}()
	}

	p := paths.New(cfg.DataDir)

	logCfg := logger.NewConfig()
	var baseHandler slog.Handler
	if otelProvider != nil && otelProvider.LogHandler != nil {
		baseHandler = otelProvider.LogHandler
	}
	log := logger.NewSubsystemLogger(logger.SubsystemStage, logCfg, baseHandler)
	stageHandler := logger.NewStageLogHandler(log.Handler(), p.StageLog)
	log = slog.New(stageHandler)
	defer stageHandler.CloseAll()

	ctx := logger.AddToContext(context.Background(), log)

	orch := &stage.Orchestrator{
		Paths:            p,
		Mounter:          overlay.UnixMounter{},
		Store:            imagestore.New(imagestore.Ext4Sizer{}, imagestore.LoopMounter{}),
		Injector:         resetProp{},
		ManagerInstaller: pmInstaller{apkPath: p.ManagerAPK()},
		Uninstaller:      uninstallerScript{path: p.UninstallerFile()},
		HideStarter:      noopHideStarter{},
		PropertySetter:   resetProp{},
		ProcMountsPath:   cfg.ProcMountsPath,
	}

	rootCmd := &cobra.Command{
		Use:   "overlayd",
		Short: "Boot-stage module overlay daemon",
		Long:  "overlayd merges module-contributed file trees onto /system and /vendor via bind mounts at boot.",
	}
	rootCmd.AddCommand(
		stageCmd("post-fs", "Run the post-fs lifecycle callback", orch.PostFS, ctx, p, log),
		stageCmd("post-fs-data", "Run the post-fs-data lifecycle callback", orch.PostFSData, ctx, p, log),
		stageCmd("late-start", "Run the late-start lifecycle callback", orch.LateStart, ctx, p, log),
		pullCmd(p, ctx),
	)

	runErr := rootCmd.Execute()
	if waitErr := orch.Wait(); waitErr != nil {
		log.WarnContext(ctx, "detached post-fs-data worker failed", "error", waitErr)
	}
	return runErr
}

// stageCmd wraps one Orchestrator lifecycle method as a cobra subcommand.
// Before running fn, it performs the init-socket handshake (spec.md §6):
// init connects to Paths.AckSocket(use) and the daemon's first action is
// to write the zero ack and close the connection
// (original_source/jni/daemon/bootstages.c: post_fs/post_fs_data/late_start
// all `write_int(client, 0); close(client);` before doing any stage work).
func stageCmd(use, short string, fn func(context.Context) error, ctx context.Context, p *paths.Paths, log *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			acceptAndAck(ctx, log, p.AckSocket(use))
			return fn(ctx)
		},
	}
}

// acceptAndAck listens once on sockPath, accepts init's connection, and
// acks it via stage.Ack. A missing or busy socket is not a stage failure:
// the init handshake is an external-collaborator interface (spec.md §1),
// out of scope for the stage logic itself, so manual/test invocation of
// these subcommands without init present must still run the stage.
func acceptAndAck(ctx context.Context, log *slog.Logger, sockPath string) {
	_ = os.MkdirAll(filepath.Dir(sockPath), 0o755)
	os.Remove(sockPath)
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		log.DebugContext(ctx, "ack socket unavailable, skipping init handshake", "path", sockPath, "error", err)
		return
	}
	defer ln.Close()
	defer os.Remove(sockPath)

	if ul, ok := ln.(*net.UnixListener); ok {
		ul.SetDeadline(time.Now().Add(2 * time.Second))
	}
	conn, err := ln.Accept()
	if err != nil {
		log.DebugContext(ctx, "no init client connected to ack socket", "path", sockPath, "error", err)
		return
	}
	if err := stage.Ack(conn); err != nil {
		log.WarnContext(ctx, "ack init socket failed", "error", err)
	}
}

func pullCmd(p *paths.Paths, ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "pull <module> <reference>",
		Short: "Pull a module's OCI image and unpack it into the module tree",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			module, ref := args[0], args[1]
			return pullModule(ctx, p, module, ref)
		},
	}
}
