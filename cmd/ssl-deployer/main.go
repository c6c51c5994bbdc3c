package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"ssl-deployer/internal/config"
	"ssl-deployer/internal/core"
	"ssl-deployer/internal/daemon"
	"ssl-deployer/internal/logging"
	"ssl-deployer/internal/model"
	"ssl-deployer/internal/server"
	"ssl-deployer/internal/storage"
)

var (
	flagConfig  = flag.String("c", "config.yaml", "配置文件路径")
	flagVerbose = flag.Bool("v", false, "输出详细日志")
)

func printUsage() {
	fmt.Fprintln(flag.CommandLine.Output(), `SSL证书自动签发与部署工具 (ACME + 部署任务)

用法:
  ssl-deployer [-c config.yaml] [-v] [命令]

命令:
  run                 检查并申请证书，执行部署任务（默认，单次运行）
  start               启动守护进程（后台运行）
  stop                停止守护进程
  restart             重启守护进程
  status              查看运行状态和各证书的续期状态
  daemon              前台守护进程模式（调试用）
  renew <证书>        强制申请证书并部署
  preview <证书>      预览申请和部署计划，不做任何修改
  deploy <证书>       对已签发的证书重新执行部署任务
  revoke <证书>       吊销证书
  providers           列出可用的 DNS 和部署提供商

<证书> 可以是证书 ID 或主域名。

配置文件示例:
  account:
    email: "admin@example.com"
  credentials:
    ali:
      access_key_id: "${ALIYUN_AK}"
      access_key_secret: "${ALIYUN_SK}"
  certificates:
    - primary_domain: "example.com"
      subject_alternative_names: ["*.example.com"]
      renew_days: 30
      challenges:
        - type: dns-01
          provider: aliyun
          credentials: ali
      tasks:
        - name: "上传到阿里云"
          provider: aliyun-cas
          credentials: ali
        - name: "重载 nginx"
          provider: script
          parameters:
            command: "nginx -s reload"

  output_dir: "./certs"
  check_interval: 24`)
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	command := flag.Arg(0)
	configPath := *flagConfig

	switch command {
	case "start":
		handleStart(configPath)
	case "stop":
		handleDaemon(configPath, (*daemon.Daemon).Stop, "停止失败")
	case "restart":
		handleDaemon(configPath, (*daemon.Daemon).Restart, "重启失败")
	case "status":
		handleStatus(configPath)
	case "daemon":
		runDaemon(configPath, nil)
	case "renew", "preview", "deploy", "revoke":
		if flag.NArg() < 2 {
			log.Fatalf("用法: ssl-deployer [-c config.yaml] %s <证书ID或域名>", command)
		}
		handleCertificate(configPath, command, flag.Arg(1))
	case "providers":
		handleProviders()
	case "", "run":
		runOnce(configPath)
	default:
		printUsage()
		os.Exit(2)
	}
}

func handleStart(configPath string) {
	d := daemon.NewDaemon(configPath)

	// 启动守护进程（如果不是已经后台化的进程，会启动子进程并返回）
	if err := d.Start(); err != nil {
		log.Fatalf("启动失败: %v", err)
	}

	// 如果是后台化的子进程，继续执行守护逻辑
	if daemon.IsDaemonized() {
		runDaemon(configPath, d)
	}
}

// handleStatus 输出守护进程状态；配置可读时同时列出各证书的续期状态
func handleStatus(configPath string) {
	d := daemon.NewDaemon(configPath)
	if cfg, err := config.Load(configPath); err == nil {
		d.States = storage.NewFileStorage(cfg.OutputDir, logging.Nop)
		d.CheckInterval = time.Duration(cfg.CheckInterval) * time.Hour
	} else {
		fmt.Fprintf(os.Stderr, "加载配置失败，仅显示进程状态: %v\n", err)
	}
	d.Status()
}

func handleDaemon(configPath string, action func(*daemon.Daemon) error, failure string) {
	if err := action(daemon.NewDaemon(configPath)); err != nil {
		log.Fatalf("%s: %v", failure, err)
	}
}

// setup 加载配置并创建日志和管理器
func setup(configPath string) (*config.Config, logging.Logger, *core.Manager) {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	logger := newLogger(cfg, os.Stderr)
	manager, err := core.NewManager(cfg, core.WithLogger(logger))
	if err != nil {
		log.Fatalf("初始化失败: %v", err)
	}
	return cfg, logger, manager
}

// newLogger 终端下使用带级别前缀的文本日志，否则使用 slog
func newLogger(cfg *config.Config, w io.Writer) logging.Logger {
	level := logging.ParseLevel(cfg.Log.Level)
	if *flagVerbose {
		level = slog.LevelDebug
	}

	if cfg.Log.Format != "json" && isTerminal(w) {
		log.SetOutput(w)
		return logging.NewStd("", level <= slog.LevelDebug)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	}
	// 标准库 log 的输出也交给 slog
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logging.NewSlog(logger)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// serveChallenges 在后台启动 HTTP-01 挑战和指标服务
func serveChallenges(ctx context.Context, cfg *config.Config, logger logging.Logger, manager *core.Manager) {
	srv := server.New(cfg.Server.Listen, manager.Challenges(), logger)
	go func() {
		if err := srv.Run(ctx); err != nil {
			logger.Error("[HTTP] %v", err)
		}
	}()
}

func runDaemon(configPath string, d *daemon.Daemon) {
	if d != nil {
		// 写入 PID
		if err := d.WritePid(); err != nil {
			log.Fatalf("写入PID失败: %v", err)
		}
		defer d.RemovePid()
	}

	cfg, logger, manager := setup(configPath)

	// 信号处理
	sigHandler := daemon.NewSignalHandler(logger)
	sigHandler.Start()
	ctx := sigHandler.Context()

	serveChallenges(ctx, cfg, logger, manager)

	logger.Information("守护进程已启动，PID: %d，检查间隔: %d 小时", os.Getpid(), cfg.CheckInterval)
	daemon.Schedule(ctx, logger, time.Duration(cfg.CheckInterval)*time.Hour, func(ctx context.Context) {
		if _, err := manager.Run(ctx); err != nil {
			logger.Warning("运行出错: %v", err)
		}
	})
}

func runOnce(configPath string) {
	cfg, logger, manager := setup(configPath)

	sigHandler := daemon.NewSignalHandler(logger)
	sigHandler.Start()
	ctx := sigHandler.Context()

	if manager.NeedsHTTPChallenge() {
		serveChallenges(ctx, cfg, logger, manager)
	}

	reports, err := manager.Run(ctx)
	for _, r := range reports {
		if r.Skipped {
			continue
		}
		printResults(os.Stdout, r.Certificate.PrimaryDomain(), r.Results)
	}
	sigHandler.Stop()
	if err != nil {
		os.Exit(1)
	}
}

func handleCertificate(configPath, command, id string) {
	cfg, logger, manager := setup(configPath)

	sigHandler := daemon.NewSignalHandler(logger)
	sigHandler.Start()
	ctx := sigHandler.Context()
	defer sigHandler.Stop()

	var (
		results []model.ActionResult
		err     error
	)
	switch command {
	case "renew":
		cc, ok := cfg.Certificate(id)
		if !ok {
			log.Fatalf("证书 %s 不存在", id)
		}
		if manager.NeedsHTTPChallenge() {
			serveChallenges(ctx, cfg, logger, manager)
		}
		report := manager.ProcessCertificate(ctx, cc, true)
		results, err = report.Results, report.Err
	case "preview":
		results, err = manager.Preview(ctx, id)
	case "deploy":
		results, err = manager.Deploy(ctx, id)
	case "revoke":
		err = manager.Revoke(ctx, id)
	}

	printResults(os.Stdout, id, results)
	if err != nil {
		log.Fatalf("%s 失败: %v", command, err)
	}
}

func handleProviders() {
	registry, err := core.NewRegistry()
	if err != nil {
		log.Fatalf("加载提供商失败: %v", err)
	}

	for _, capability := range []model.Capability{model.CapabilityDNS, model.CapabilityDeployment} {
		fmt.Printf("[%s]\n", capability)
		for _, def := range registry.GetProviders(capability) {
			fmt.Printf("  %-16s %s\n", def.ID, def.Title)
			if def.Description != "" {
				fmt.Printf("  %-16s %s\n", "", def.Description)
			}
			for _, p := range def.Parameters {
				required := ""
				if p.Required {
					required = " (必填)"
				}
				fmt.Printf("  %-16s   - %s: %s%s\n", "", p.Key, p.Name, required)
			}
			if len(def.CredentialKeys) > 0 {
				fmt.Printf("  %-16s   凭证: %s\n", "", strings.Join(def.CredentialKeys, ", "))
			}
		}
	}
}

// printResults 输出部署结果，终端下带状态符号
func printResults(w io.Writer, title string, results []model.ActionResult) {
	if len(results) == 0 {
		return
	}
	decorated := isTerminal(w)

	fmt.Fprintf(w, "== %s ==\n", title)
	for _, r := range results {
		status := "OK"
		if !r.IsSuccess {
			status = "FAILED"
		}
		if decorated {
			status = "\033[32m✓\033[0m"
			if !r.IsSuccess {
				status = "\033[31m✗\033[0m"
			}
		}
		fmt.Fprintf(w, "%s %s\n", status, r.Message)
		for _, s := range r.Steps {
			mark := " "
			if s.HasChanged {
				mark = "*"
			}
			fmt.Fprintf(w, "    %s [%s] %s\n", mark, s.Category, s.Description)
		}
	}
}
