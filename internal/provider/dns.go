package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-acme/lego/v4/challenge/dns01"

	"ssl-deployer/internal/domain"
)

// DNSProvider ACME DNS-01 验证使用的 DNS 提供商
type DNSProvider interface {
	// CreateRecord 创建（或覆盖）TXT 记录，name 为完整记录名
	CreateRecord(ctx context.Context, name, value string) error

	// DeleteRecord 删除 TXT 记录，记录不存在时不报错
	DeleteRecord(ctx context.Context, name string) error
}

// RecordStore 云解析平台的记录管理接口
type RecordStore interface {
	// Name 返回提供商名称
	Name() string

	// AddRecord 添加DNS记录
	// domain: 域名 (用于提取主域名，如 www.example.com)
	// rr: 主机记录/子域名 (如 _acme-challenge.www，也可以是完整记录名)
	// recordType: 记录类型 (如 TXT)
	// value: 记录值
	AddRecord(ctx context.Context, domain, rr, recordType, value string) error

	// UpdateRecord 更新DNS记录
	UpdateRecord(ctx context.Context, domain, recordID, rr, recordType, value string) error

	// DeleteRecord 删除DNS记录
	DeleteRecord(ctx context.Context, domain, recordID string) error

	// FindRecord 查找DNS记录
	FindRecord(ctx context.Context, domain, rr, recordType string) (*DNSRecord, error)

	// ListRecords 列出DNS记录
	ListRecords(ctx context.Context, domain string) ([]*DNSRecord, error)
}

// TXTChallenge 将 RecordStore 适配为 DNSProvider
type TXTChallenge struct {
	store RecordStore

	mu      sync.Mutex
	created map[string]string // 记录名 -> 记录ID
}

// NewTXTChallenge 创建适配器
func NewTXTChallenge(store RecordStore) *TXTChallenge {
	return &TXTChallenge{store: store, created: make(map[string]string)}
}

// Name 返回底层提供商名称
func (t *TXTChallenge) Name() string {
	return t.store.Name()
}

// CreateRecord 创建 TXT 记录，已存在时覆盖
func (t *TXTChallenge) CreateRecord(ctx context.Context, name, value string) error {
	name = dns01.UnFqdn(strings.ToLower(name))
	if err := t.store.AddRecord(ctx, name, name, "TXT", value); err != nil {
		return fmt.Errorf("[%s] 创建TXT记录 %s 失败: %w", t.store.Name(), name, err)
	}

	rr := domain.ExtractSubDomain(name, domain.ExtractMainDomain(name))
	if rec, err := t.store.FindRecord(ctx, name, rr, "TXT"); err == nil && rec != nil {
		t.mu.Lock()
		t.created[name] = rec.RecordID
		t.mu.Unlock()
	}
	return nil
}

// DeleteRecord 删除 TXT 记录
func (t *TXTChallenge) DeleteRecord(ctx context.Context, name string) error {
	name = dns01.UnFqdn(strings.ToLower(name))

	t.mu.Lock()
	recordID, ok := t.created[name]
	delete(t.created, name)
	t.mu.Unlock()

	if !ok {
		rr := domain.ExtractSubDomain(name, domain.ExtractMainDomain(name))
		rec, err := t.store.FindRecord(ctx, name, rr, "TXT")
		if err != nil {
			return fmt.Errorf("[%s] 查找TXT记录 %s 失败: %w", t.store.Name(), name, err)
		}
		if rec == nil {
			return nil
		}
		recordID = rec.RecordID
	}

	if err := t.store.DeleteRecord(ctx, name, recordID); err != nil {
		return fmt.Errorf("[%s] 删除TXT记录 %s 失败: %w", t.store.Name(), name, err)
	}
	return nil
}
