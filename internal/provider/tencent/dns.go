package tencent

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
	dnspod "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/dnspod/v20210323"

	"ssl-deployer/internal/domain"
	"ssl-deployer/internal/model"
	"ssl-deployer/internal/provider"
)

// 凭证键
const (
	CredentialSecretID  = "secret_id"
	CredentialSecretKey = "secret_key"
	CredentialRegion    = "region"
)

// DNSDefinition 腾讯云 DNSPod DNS-01 提供商
var DNSDefinition = model.ProviderDefinition{
	ID:             "tencent",
	Title:          "腾讯云 DNSPod",
	Description:    "通过 DNSPod 创建 DNS-01 验证记录",
	Capability:     model.CapabilityDNS,
	CredentialKeys: []string{CredentialSecretID, CredentialSecretKey},
}

// DNSProvider 腾讯云DNS记录管理 (DNSPod)
type DNSProvider struct {
	client *dnspod.Client
}

var _ provider.RecordStore = (*DNSProvider)(nil)

// NewDNSProvider 创建腾讯云DNS提供商
func NewDNSProvider(creds model.Credentials) (*DNSProvider, error) {
	if err := creds.Require(CredentialSecretID, CredentialSecretKey); err != nil {
		return nil, fmt.Errorf("腾讯云DNS: %w", err)
	}

	credential := common.NewCredential(creds.Get(CredentialSecretID), creds.Get(CredentialSecretKey))
	cpf := profile.NewClientProfile()
	cpf.HttpProfile.Endpoint = "dnspod.tencentcloudapi.com"

	client, err := dnspod.NewClient(credential, "", cpf)
	if err != nil {
		return nil, fmt.Errorf("创建腾讯云DNSPod客户端失败: %w", err)
	}

	return &DNSProvider{client: client}, nil
}

// NewTXTChallenge 创建 DNS-01 验证使用的腾讯云提供商
func NewTXTChallenge(creds model.Credentials) (any, error) {
	p, err := NewDNSProvider(creds)
	if err != nil {
		return nil, err
	}
	return provider.NewTXTChallenge(p), nil
}

// Name 返回提供商名称
func (p *DNSProvider) Name() string {
	return "tencent"
}

// AddRecord 添加DNS记录，已存在同名同类型记录时更新
func (p *DNSProvider) AddRecord(ctx context.Context, name, rr, recordType, value string) error {
	mainDomain := domain.ExtractMainDomain(name)
	subDomain := domain.ExtractSubDomain(rr, mainDomain)

	log.Printf("[腾讯云DNS] 添加记录: %s.%s -> %s (类型: %s)", subDomain, mainDomain, value, recordType)

	existingRecord, err := p.FindRecord(ctx, name, subDomain, recordType)
	if err != nil {
		log.Printf("[腾讯云DNS] 检查现有记录失败: %v", err)
	}

	if existingRecord != nil {
		if existingRecord.Value == value {
			log.Printf("[腾讯云DNS] 记录已存在且值相同，跳过")
			return nil
		}
		return p.UpdateRecord(ctx, name, existingRecord.RecordID, subDomain, recordType, value)
	}

	request := dnspod.NewCreateRecordRequest()
	request.Domain = common.StringPtr(mainDomain)
	request.SubDomain = common.StringPtr(subDomain)
	request.RecordType = common.StringPtr(recordType)
	request.RecordLine = common.StringPtr("默认")
	request.Value = common.StringPtr(value)

	if _, err := p.client.CreateRecordWithContext(ctx, request); err != nil {
		return fmt.Errorf("添加DNS记录失败: %w", err)
	}

	log.Printf("[腾讯云DNS] 记录已添加")
	return nil
}

// UpdateRecord 更新DNS记录
func (p *DNSProvider) UpdateRecord(ctx context.Context, name, recordID, rr, recordType, value string) error {
	mainDomain := domain.ExtractMainDomain(name)
	subDomain := domain.ExtractSubDomain(rr, mainDomain)

	log.Printf("[腾讯云DNS] 更新记录: ID=%s, %s -> %s", recordID, subDomain, value)

	id, err := strconv.ParseUint(recordID, 10, 64)
	if err != nil {
		return fmt.Errorf("无效的记录ID %q: %w", recordID, err)
	}

	request := dnspod.NewModifyRecordRequest()
	request.Domain = common.StringPtr(mainDomain)
	request.RecordId = common.Uint64Ptr(id)
	request.SubDomain = common.StringPtr(subDomain)
	request.RecordType = common.StringPtr(recordType)
	request.RecordLine = common.StringPtr("默认")
	request.Value = common.StringPtr(value)

	if _, err := p.client.ModifyRecordWithContext(ctx, request); err != nil {
		return fmt.Errorf("更新DNS记录失败: %w", err)
	}

	log.Printf("[腾讯云DNS] 记录已更新")
	return nil
}

// DeleteRecord 删除DNS记录
func (p *DNSProvider) DeleteRecord(ctx context.Context, name, recordID string) error {
	log.Printf("[腾讯云DNS] 删除记录: ID=%s", recordID)

	id, err := strconv.ParseUint(recordID, 10, 64)
	if err != nil {
		return fmt.Errorf("无效的记录ID %q: %w", recordID, err)
	}

	request := dnspod.NewDeleteRecordRequest()
	request.Domain = common.StringPtr(domain.ExtractMainDomain(name))
	request.RecordId = common.Uint64Ptr(id)

	if _, err := p.client.DeleteRecordWithContext(ctx, request); err != nil {
		return fmt.Errorf("删除DNS记录失败: %w", err)
	}

	log.Printf("[腾讯云DNS] 记录已删除")
	return nil
}

// FindRecord 查找DNS记录
func (p *DNSProvider) FindRecord(ctx context.Context, name, rr, recordType string) (*provider.DNSRecord, error) {
	mainDomain := domain.ExtractMainDomain(name)
	subDomain := domain.ExtractSubDomain(rr, mainDomain)

	request := dnspod.NewDescribeRecordListRequest()
	request.Domain = common.StringPtr(mainDomain)
	request.Subdomain = common.StringPtr(subDomain)
	request.RecordType = common.StringPtr(recordType)

	response, err := p.client.DescribeRecordListWithContext(ctx, request)
	if err != nil {
		// 没有记录时腾讯云返回错误
		if isNoRecord(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询DNS记录失败: %w", err)
	}

	for _, record := range response.Response.RecordList {
		if record.Name != nil && *record.Name == subDomain &&
			record.Type != nil && *record.Type == recordType {
			return toRecord(mainDomain, record), nil
		}
	}
	return nil, nil
}

// ListRecords 列出DNS记录
func (p *DNSProvider) ListRecords(ctx context.Context, name string) ([]*provider.DNSRecord, error) {
	mainDomain := domain.ExtractMainDomain(name)

	request := dnspod.NewDescribeRecordListRequest()
	request.Domain = common.StringPtr(mainDomain)

	response, err := p.client.DescribeRecordListWithContext(ctx, request)
	if err != nil {
		if isNoRecord(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("获取DNS记录列表失败: %w", err)
	}

	var records []*provider.DNSRecord
	for _, record := range response.Response.RecordList {
		records = append(records, toRecord(mainDomain, record))
	}
	return records, nil
}

func isNoRecord(err error) bool {
	return strings.Contains(err.Error(), "NoRecord") || strings.Contains(err.Error(), "记录列表为空")
}

func toRecord(mainDomain string, record *dnspod.RecordListItem) *provider.DNSRecord {
	return &provider.DNSRecord{
		RecordID: strconv.FormatUint(uint64Value(record.RecordId), 10),
		Domain:   mainDomain,
		RR:       stringValue(record.Name),
		Type:     stringValue(record.Type),
		Value:    stringValue(record.Value),
		TTL:      int(uint64Value(record.TTL)),
	}
}

func stringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func uint64Value(p *uint64) uint64 {
	if p == nil {
		return 0
	}
	return *p
}
