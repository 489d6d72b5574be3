package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/chiwei-platform/deployd/internal/adapter/http"
	"github.com/chiwei-platform/deployd/internal/adapter/kubernetes"
	"github.com/chiwei-platform/deployd/internal/adapter/loki"
	"github.com/chiwei-platform/deployd/internal/adapter/repository"
	"github.com/chiwei-platform/deployd/internal/broadcast"
	"github.com/chiwei-platform/deployd/internal/config"
	"github.com/chiwei-platform/deployd/internal/port"
	"github.com/chiwei-platform/deployd/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// K8s 客户端，没有集群就无事可做
	cs, err := kubernetes.NewClientset(cfg.KubeconfigPath)
	if err != nil {
		slog.Error("failed to create k8s client", "error", err)
		os.Exit(1)
	}

	// 发布历史（可选）。接口变量保持无类型 nil，服务层据此判断是否开启
	var releaseRepo port.ReleaseRepository
	if cfg.DatabaseURL != "" {
		db, err := repository.OpenDB(cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to open db", "error", err)
			os.Exit(1)
		}
		releaseRepo = repository.NewReleaseRepo(db)
	}

	// Loki 历史日志（可选）
	var logQuerier port.LogQuerier
	if cfg.LokiURL != "" {
		logQuerier = loki.NewClient(cfg.LokiURL)
	}

	// Kaniko 构建（可选）
	var buildExecutor port.BuildExecutor
	if cfg.BuildsEnabled {
		buildExecutor = kubernetes.NewKanikoBuildExecutor(cs, kubernetes.KanikoBuildConfig{
			Namespace:          cfg.Namespace,
			KanikoImage:        cfg.KanikoImage,
			RegistrySecret:     cfg.RegistrySecret,
			RegistryMirrors:    cfg.RegistryMirrors,
			InsecureRegistries: cfg.InsecureRegistries,
			HttpProxy:          cfg.BuildHttpProxy,
			NoProxy:            cfg.BuildNoProxy,
		})
	}

	hub := broadcast.NewHub()

	deployer := kubernetes.NewK8sDeployer(cs, cfg.Namespace, kubernetes.IngressOptions{
		ClassName:     cfg.IngressClass,
		TLS:           cfg.IngressTLS,
		ClusterIssuer: cfg.TLSClusterIssuer,
	})

	// 服务层
	deploySvc := service.NewDeployService(deployer, buildExecutor, releaseRepo, hub, service.DeployConfig{
		BaseDomain:     cfg.BaseDomain,
		DefaultPort:    cfg.DefaultAppPort,
		RegistrySecret: cfg.RegistrySecret,
		TLS:            cfg.IngressTLS,
	})
	statusSvc := service.NewStatusService(kubernetes.NewK8sStatusResolver(cs, cfg.Namespace), cfg.BuildsEnabled)
	logSvc := service.NewLogService(kubernetes.NewK8sLogStreamer(cs, cfg.Namespace), logQuerier, cfg.Namespace)
	releaseSvc := service.NewReleaseService(releaseRepo)

	// 启动 Build Informer
	if buildExecutor != nil {
		go func() {
			if err := buildExecutor.Watch(ctx, deploySvc.OnBuildStatusChange); err != nil {
				slog.Error("build informer error", "error", err)
			}
		}()
	}

	// HTTP 路由
	handler := httpadapter.NewRouter(
		httpadapter.NewDeployHandler(deploySvc),
		httpadapter.NewStatusHandler(statusSvc),
		httpadapter.NewLogHandler(logSvc),
		httpadapter.NewReleaseHandler(releaseSvc),
		httpadapter.NewWSHandler(hub),
		cfg.APIToken,
	)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("server starting",
			"addr", srv.Addr,
			"namespace", cfg.Namespace,
			"base_domain", cfg.BaseDomain,
			"builds", cfg.BuildsEnabled,
			"history", releaseRepo != nil,
			"loki", logQuerier != nil,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	<-ctx.Done()

	slog.Info("shutting down server")
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
}
