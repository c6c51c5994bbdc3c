package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"ssl-deployer/internal/logging"
)

// SignalHandler 信号处理器
type SignalHandler struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logging.Logger
}

// NewSignalHandler 创建信号处理器
func NewSignalHandler(log logging.Logger) *SignalHandler {
	if log == nil {
		log = logging.Nop
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SignalHandler{
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
}

// Context 返回可取消的 context
func (h *SignalHandler) Context() context.Context {
	return h.ctx
}

// Start 开始监听信号
func (h *SignalHandler) Start() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		h.log.Information("收到信号 %v，正在优雅关闭...", sig)
		h.cancel()
	}()
}

// Stop 取消 context
func (h *SignalHandler) Stop() {
	h.cancel()
}
