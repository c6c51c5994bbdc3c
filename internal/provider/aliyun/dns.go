package aliyun

import (
	"context"
	"fmt"
	"log"

	alidns "github.com/alibabacloud-go/alidns-20150109/v4/client"
	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	"github.com/alibabacloud-go/tea/tea"

	"ssl-deployer/internal/domain"
	"ssl-deployer/internal/model"
	"ssl-deployer/internal/provider"
)

// 凭证键
const (
	CredentialAccessKeyID     = "access_key_id"
	CredentialAccessKeySecret = "access_key_secret"
	CredentialRegion          = "region"
)

// DNSDefinition 阿里云解析 DNS-01 提供商
var DNSDefinition = model.ProviderDefinition{
	ID:             "aliyun",
	Title:          "阿里云 DNS",
	Description:    "通过阿里云解析创建 DNS-01 验证记录",
	Capability:     model.CapabilityDNS,
	CredentialKeys: []string{CredentialAccessKeyID, CredentialAccessKeySecret},
}

// DNSProvider 阿里云DNS记录管理
type DNSProvider struct {
	client *alidns.Client
}

var _ provider.RecordStore = (*DNSProvider)(nil)

// NewDNSProvider 创建阿里云DNS提供商
func NewDNSProvider(creds model.Credentials) (*DNSProvider, error) {
	if err := creds.Require(CredentialAccessKeyID, CredentialAccessKeySecret); err != nil {
		return nil, fmt.Errorf("阿里云DNS: %w", err)
	}

	endpoint := "alidns.cn-hangzhou.aliyuncs.com"
	if region := creds.Get(CredentialRegion); region != "" {
		endpoint = fmt.Sprintf("alidns.%s.aliyuncs.com", region)
	}

	clientConfig := &openapi.Config{
		AccessKeyId:     tea.String(creds.Get(CredentialAccessKeyID)),
		AccessKeySecret: tea.String(creds.Get(CredentialAccessKeySecret)),
		Endpoint:        tea.String(endpoint),
	}

	client, err := alidns.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("创建阿里云DNS客户端失败: %w", err)
	}

	return &DNSProvider{client: client}, nil
}

// NewTXTChallenge 创建 DNS-01 验证使用的阿里云提供商
func NewTXTChallenge(creds model.Credentials) (any, error) {
	p, err := NewDNSProvider(creds)
	if err != nil {
		return nil, err
	}
	return provider.NewTXTChallenge(p), nil
}

// Name 返回提供商名称
func (p *DNSProvider) Name() string {
	return "aliyun"
}

// AddRecord 添加DNS记录，已存在同名同类型记录时更新
func (p *DNSProvider) AddRecord(ctx context.Context, name, rr, recordType, value string) error {
	mainDomain := domain.ExtractMainDomain(name)
	subDomain := domain.ExtractSubDomain(rr, mainDomain)

	log.Printf("[阿里云DNS] 添加记录: %s.%s -> %s (类型: %s)", subDomain, mainDomain, value, recordType)

	existingRecord, err := p.FindRecord(ctx, name, subDomain, recordType)
	if err != nil {
		log.Printf("[阿里云DNS] 检查现有记录失败: %v", err)
	}

	if existingRecord != nil {
		if existingRecord.Value == value {
			log.Printf("[阿里云DNS] 记录已存在且值相同，跳过")
			return nil
		}
		return p.UpdateRecord(ctx, name, existingRecord.RecordID, subDomain, recordType, value)
	}

	request := &alidns.AddDomainRecordRequest{
		DomainName: tea.String(mainDomain),
		RR:         tea.String(subDomain),
		Type:       tea.String(recordType),
		Value:      tea.String(value),
	}

	if _, err := p.client.AddDomainRecord(request); err != nil {
		return fmt.Errorf("添加DNS记录失败: %w", err)
	}

	log.Printf("[阿里云DNS] 记录已添加")
	return nil
}

// UpdateRecord 更新DNS记录
func (p *DNSProvider) UpdateRecord(ctx context.Context, name, recordID, rr, recordType, value string) error {
	subDomain := domain.ExtractSubDomain(rr, domain.ExtractMainDomain(name))

	log.Printf("[阿里云DNS] 更新记录: ID=%s, %s -> %s", recordID, subDomain, value)

	request := &alidns.UpdateDomainRecordRequest{
		RecordId: tea.String(recordID),
		RR:       tea.String(subDomain),
		Type:     tea.String(recordType),
		Value:    tea.String(value),
	}

	if _, err := p.client.UpdateDomainRecord(request); err != nil {
		return fmt.Errorf("更新DNS记录失败: %w", err)
	}

	log.Printf("[阿里云DNS] 记录已更新")
	return nil
}

// DeleteRecord 删除DNS记录
func (p *DNSProvider) DeleteRecord(ctx context.Context, name, recordID string) error {
	log.Printf("[阿里云DNS] 删除记录: ID=%s", recordID)

	request := &alidns.DeleteDomainRecordRequest{
		RecordId: tea.String(recordID),
	}

	if _, err := p.client.DeleteDomainRecord(request); err != nil {
		return fmt.Errorf("删除DNS记录失败: %w", err)
	}

	log.Printf("[阿里云DNS] 记录已删除")
	return nil
}

// FindRecord 查找DNS记录
func (p *DNSProvider) FindRecord(ctx context.Context, name, rr, recordType string) (*provider.DNSRecord, error) {
	mainDomain := domain.ExtractMainDomain(name)
	subDomain := domain.ExtractSubDomain(rr, mainDomain)

	request := &alidns.DescribeDomainRecordsRequest{
		DomainName: tea.String(mainDomain),
		RRKeyWord:  tea.String(subDomain),
		Type:       tea.String(recordType),
	}

	response, err := p.client.DescribeDomainRecords(request)
	if err != nil {
		return nil, fmt.Errorf("查询DNS记录失败: %w", err)
	}

	for _, record := range records(response) {
		if tea.StringValue(record.RR) == subDomain && tea.StringValue(record.Type) == recordType {
			return toRecord(mainDomain, record), nil
		}
	}
	return nil, nil
}

// ListRecords 列出DNS记录
func (p *DNSProvider) ListRecords(ctx context.Context, name string) ([]*provider.DNSRecord, error) {
	mainDomain := domain.ExtractMainDomain(name)

	request := &alidns.DescribeDomainRecordsRequest{
		DomainName: tea.String(mainDomain),
	}

	response, err := p.client.DescribeDomainRecords(request)
	if err != nil {
		return nil, fmt.Errorf("获取DNS记录列表失败: %w", err)
	}

	var out []*provider.DNSRecord
	for _, record := range records(response) {
		out = append(out, toRecord(mainDomain, record))
	}
	return out, nil
}

func records(response *alidns.DescribeDomainRecordsResponse) []*alidns.DescribeDomainRecordsResponseBodyDomainRecordsRecord {
	if response == nil || response.Body == nil || response.Body.DomainRecords == nil {
		return nil
	}
	return response.Body.DomainRecords.Record
}

func toRecord(mainDomain string, record *alidns.DescribeDomainRecordsResponseBodyDomainRecordsRecord) *provider.DNSRecord {
	return &provider.DNSRecord{
		RecordID: tea.StringValue(record.RecordId),
		Domain:   mainDomain,
		RR:       tea.StringValue(record.RR),
		Type:     tea.StringValue(record.Type),
		Value:    tea.StringValue(record.Value),
		TTL:      int(tea.Int64Value(record.TTL)),
	}
}
