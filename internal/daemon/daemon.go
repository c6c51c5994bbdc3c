package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"ssl-deployer/internal/logging"
	"ssl-deployer/internal/model"
)

// EnvDaemonized 标记进程是否已后台化
const EnvDaemonized = "SSL_DEPLOYER_DAEMONIZED"

const (
	stopPollInterval = 100 * time.Millisecond
	stopPollAttempts = 30
)

// StateSource 提供续期流程写入的受管证书状态
type StateSource interface {
	ListStates() ([]*model.ManagedCertificate, error)
}

// Daemon 守护进程管理器
type Daemon struct {
	PidFile    string
	LogFile    string
	ConfigPath string
	// Out 接收面向用户的状态输出
	Out io.Writer
	// States 非空时 Status 同时输出各证书的续期状态
	States StateSource
	// CheckInterval 续期检查间隔，仅用于展示
	CheckInterval time.Duration

	now func() time.Time
}

// NewDaemon 创建守护进程管理器，PID 与日志文件放在配置文件所在目录
func NewDaemon(configPath string) *Daemon {
	dir := filepath.Dir(configPath)
	if dir == "." {
		dir, _ = os.Getwd()
	}
	return &Daemon{
		PidFile:    filepath.Join(dir, "ssl-deployer.pid"),
		LogFile:    filepath.Join(dir, "ssl-deployer.log"),
		ConfigPath: configPath,
		Out:        os.Stdout,
		now:        time.Now,
	}
}

// Start 启动守护进程。已后台化的子进程返回 nil，由调用方继续执行续期循环
func (d *Daemon) Start() error {
	if pid, running := d.IsRunning(); running {
		return fmt.Errorf("守护进程已在运行，PID: %d", pid)
	}
	if IsDaemonized() {
		return nil
	}
	return d.daemonize()
}

// childCommand 构建以 start 命令重新运行自身的后台子进程
func (d *Daemon) childCommand(executable string, logFile *os.File) *exec.Cmd {
	cmd := exec.Command(executable, "-c", d.ConfigPath, "start")
	cmd.Env = append(os.Environ(), EnvDaemonized+"=1")
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	// 新会话，脱离控制终端
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	return cmd
}

func (d *Daemon) daemonize() error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("获取可执行文件路径失败: %w", err)
	}

	logFile, err := os.OpenFile(d.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("无法打开日志文件 %s: %w", d.LogFile, err)
	}
	defer logFile.Close()

	cmd := d.childCommand(executable, logFile)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("启动守护进程失败: %w", err)
	}

	fmt.Fprintf(d.Out, "守护进程已启动，PID: %d\n日志文件: %s\nPID文件: %s\n", cmd.Process.Pid, d.LogFile, d.PidFile)
	return nil
}

// Stop 发送 SIGTERM，等待当前续期轮次结束退出；超时后强制终止
func (d *Daemon) Stop() error {
	pid, running := d.IsRunning()
	if !running {
		return fmt.Errorf("守护进程未运行")
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("找不到进程 %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("发送停止信号失败: %w", err)
	}
	fmt.Fprintf(d.Out, "已发送停止信号到进程 %d\n", pid)

	if d.waitExit(stopPollAttempts, stopPollInterval) {
		fmt.Fprintln(d.Out, "守护进程已停止")
		return nil
	}

	fmt.Fprintln(d.Out, "进程未响应，尝试强制终止...")
	if err := process.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("强制终止失败: %w", err)
	}
	d.RemovePid()
	fmt.Fprintln(d.Out, "守护进程已强制停止")
	return nil
}

func (d *Daemon) waitExit(attempts int, interval time.Duration) bool {
	for i := 0; i < attempts; i++ {
		time.Sleep(interval)
		if _, running := d.IsRunning(); !running {
			return true
		}
	}
	return false
}

// Restart 重启守护进程
func (d *Daemon) Restart() error {
	if _, running := d.IsRunning(); running {
		if err := d.Stop(); err != nil {
			return fmt.Errorf("停止守护进程失败: %w", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
	return d.Start()
}

// Status 输出守护进程状态，以及每张受管证书最近一次续期的结果和到期时间
func (d *Daemon) Status() {
	if pid, running := d.IsRunning(); running {
		fmt.Fprintf(d.Out, "守护进程运行中，PID: %d\nPID文件: %s\n日志文件: %s\n", pid, d.PidFile, d.LogFile)
		if d.CheckInterval > 0 {
			fmt.Fprintf(d.Out, "检查间隔: %s\n", d.CheckInterval)
		}
	} else {
		fmt.Fprintln(d.Out, "守护进程未运行")
	}

	if d.States == nil {
		return
	}
	states, err := d.States.ListStates()
	if err != nil {
		fmt.Fprintf(d.Out, "读取证书状态失败: %v\n", err)
		return
	}
	if len(states) == 0 {
		fmt.Fprintln(d.Out, "尚无证书状态记录")
		return
	}
	d.writeStates(states)
}

func (d *Daemon) writeStates(states []*model.ManagedCertificate) {
	now := time.Now
	if d.now != nil {
		now = d.now
	}

	fmt.Fprintln(d.Out)
	tw := tabwriter.NewWriter(d.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "证书\t状态\t到期时间\t剩余天数\t最近尝试\t信息")
	for _, mc := range states {
		status := string(mc.LastStatus)
		if status == "" {
			status = "-"
		}
		expiry, days := "-", "-"
		if !mc.DateExpiry.IsZero() {
			expiry = mc.DateExpiry.Local().Format("2006-01-02")
			days = strconv.Itoa(mc.DaysUntilExpiry(now()))
		}
		attempt := "-"
		if !mc.DateLastAttempt.IsZero() {
			attempt = mc.DateLastAttempt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", mc.PrimaryDomain(), status, expiry, days, attempt, oneLine(mc.LastMessage))
	}
	tw.Flush()
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 60 {
		return string(r[:60]) + "..."
	}
	return s
}

// IsRunning 读取 PID 文件并用信号 0 检查进程是否存在
func (d *Daemon) IsRunning() (int, bool) {
	data, err := os.ReadFile(d.PidFile)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	return pid, process.Signal(syscall.Signal(0)) == nil
}

// WritePid 写入 PID 文件
func (d *Daemon) WritePid() error {
	return os.WriteFile(d.PidFile, []byte(strconv.Itoa(os.Getpid())), 0644)
}

// RemovePid 删除 PID 文件
func (d *Daemon) RemovePid() {
	os.Remove(d.PidFile)
}

// IsDaemonized 检查当前进程是否是守护进程
func IsDaemonized() bool {
	return os.Getenv(EnvDaemonized) == "1"
}

// Schedule 立即执行一次 run，之后每隔 interval 执行，直到 ctx 取消
func Schedule(ctx context.Context, log logging.Logger, interval time.Duration, run func(context.Context)) {
	run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Information("守护进程正在退出...")
			return
		case <-ticker.C:
			log.Information("开始定时检查...")
			run(ctx)
		}
	}
}
