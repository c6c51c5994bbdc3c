package hook

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"ssl-deployer/internal/logging"
	"ssl-deployer/internal/model"
)

// DefaultTimeout 命令默认超时时间
const DefaultTimeout = 5 * time.Minute

// Executor 命令执行器
type Executor struct {
	shell   string
	timeout time.Duration
	log     logging.Logger
}

// NewExecutor 创建执行器
func NewExecutor(log logging.Logger) *Executor {
	if log == nil {
		log = logging.Nop
	}
	return &Executor{shell: "sh", timeout: DefaultTimeout, log: log}
}

// WithTimeout 设置超时时间
func (e *Executor) WithTimeout(d time.Duration) *Executor {
	if d > 0 {
		e.timeout = d
	}
	return e
}

// Expand 替换命令中的 ${KEY} 变量
func Expand(command string, vars map[string]string) string {
	// 按键长度降序替换，避免 ${CERT} 抢先匹配 ${CERT_FILE}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })

	for _, key := range keys {
		command = strings.ReplaceAll(command, "${"+key+"}", vars[key])
	}
	return command
}

// Run 执行命令，变量同时以环境变量形式传入；返回合并后的输出
func (e *Executor) Run(ctx context.Context, command string, vars map[string]string) (string, error) {
	if command == "" {
		return "", nil
	}

	command = Expand(command, vars)
	e.log.Information("执行命令: %s", command)

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.shell, "-c", command)
	cmd.WaitDelay = time.Second
	cmd.Env = os.Environ()
	for k, v := range vars {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		output := strings.TrimSpace(out.String())
		if output != "" {
			return output, fmt.Errorf("执行命令失败: %w: %s", err, output)
		}
		return output, fmt.Errorf("执行命令失败: %w", err)
	}

	e.log.Information("命令执行成功")
	return strings.TrimSpace(out.String()), nil
}

// BuildVars 构建变量映射
func BuildVars(mc *model.ManagedCertificate, certDir, certFile, keyFile, fullchainFile string) map[string]string {
	vars := map[string]string{
		"DOMAIN":         mc.PrimaryDomain(),
		"DOMAINS":        strings.Join(mc.Domains, ","),
		"CERT_ID":        mc.ID,
		"CERT_NAME":      mc.Name,
		"CERT_DIR":       certDir,
		"CERT_FILE":      certFile,
		"KEY_FILE":       keyFile,
		"FULLCHAIN_FILE": fullchainFile,
		"PFX_FILE":       mc.CertificatePath,
		"STATUS":         string(mc.LastStatus),
	}
	if !mc.DateExpiry.IsZero() {
		vars["EXPIRY"] = mc.DateExpiry.Format(time.RFC3339)
	}
	return vars
}
