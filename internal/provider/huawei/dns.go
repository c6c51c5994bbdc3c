package huawei

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/huaweicloud/huaweicloud-sdk-go-v3/core/auth"
	"github.com/huaweicloud/huaweicloud-sdk-go-v3/core/auth/basic"
	dns "github.com/huaweicloud/huaweicloud-sdk-go-v3/services/dns/v2"
	dnsModel "github.com/huaweicloud/huaweicloud-sdk-go-v3/services/dns/v2/model"
	dnsRegion "github.com/huaweicloud/huaweicloud-sdk-go-v3/services/dns/v2/region"

	"ssl-deployer/internal/domain"
	"ssl-deployer/internal/model"
	"ssl-deployer/internal/provider"
)

// 凭证键
const (
	CredentialAccessKey = "access_key"
	CredentialSecretKey = "secret_key"
	CredentialRegion    = "region"
)

const defaultRegion = "cn-north-4"

// DNSDefinition 华为云 DNS-01 提供商
var DNSDefinition = model.ProviderDefinition{
	ID:             "huawei",
	Title:          "华为云 DNS",
	Description:    "通过华为云云解析创建 DNS-01 验证记录",
	Capability:     model.CapabilityDNS,
	CredentialKeys: []string{CredentialAccessKey, CredentialSecretKey},
}

// DNSProvider 华为云DNS记录管理
type DNSProvider struct {
	client *dns.DnsClient
}

var _ provider.RecordStore = (*DNSProvider)(nil)

func credentials(creds model.Credentials) (auth.ICredential, string, error) {
	if err := creds.Require(CredentialAccessKey, CredentialSecretKey); err != nil {
		return nil, "", err
	}
	cred := basic.NewCredentialsBuilder().
		WithAk(creds.Get(CredentialAccessKey)).
		WithSk(creds.Get(CredentialSecretKey)).
		Build()

	region := creds.Get(CredentialRegion)
	if region == "" {
		region = defaultRegion
	}
	return cred, region, nil
}

// NewDNSProvider 创建华为云DNS提供商
func NewDNSProvider(creds model.Credentials) (*DNSProvider, error) {
	cred, region, err := credentials(creds)
	if err != nil {
		return nil, fmt.Errorf("华为云DNS: %w", err)
	}

	regionObj, err := dnsRegion.SafeValueOf(region)
	if err != nil {
		return nil, fmt.Errorf("无效的区域: %s", region)
	}

	client := dns.NewDnsClient(
		dns.DnsClientBuilder().
			WithRegion(regionObj).
			WithCredential(cred).
			Build())

	return &DNSProvider{client: client}, nil
}

// NewTXTChallenge 创建 DNS-01 验证使用的华为云提供商
func NewTXTChallenge(creds model.Credentials) (any, error) {
	p, err := NewDNSProvider(creds)
	if err != nil {
		return nil, err
	}
	return provider.NewTXTChallenge(p), nil
}

// Name 返回提供商名称
func (p *DNSProvider) Name() string {
	return "huawei"
}

// getZoneID 获取域名的Zone ID
func (p *DNSProvider) getZoneID(name string) (string, error) {
	mainDomain := domain.ExtractMainDomain(name)

	response, err := p.client.ListPublicZones(&dnsModel.ListPublicZonesRequest{})
	if err != nil {
		return "", fmt.Errorf("获取Zone列表失败: %w", err)
	}

	if response.Zones != nil {
		for _, zone := range *response.Zones {
			if zone.Name != nil && zone.Id != nil && strings.TrimSuffix(*zone.Name, ".") == mainDomain {
				return *zone.Id, nil
			}
		}
	}

	return "", fmt.Errorf("未找到域名 %s 的Zone", mainDomain)
}

// recordName 华为云记录名为带结尾点的完整域名
func recordName(name, rr string) (mainDomain, subDomain, full string) {
	mainDomain = domain.ExtractMainDomain(name)
	subDomain = domain.ExtractSubDomain(rr, mainDomain)
	if subDomain == "@" {
		return mainDomain, subDomain, mainDomain + "."
	}
	return mainDomain, subDomain, subDomain + "." + mainDomain + "."
}

// AddRecord 添加DNS记录，已存在同名同类型记录时更新。TXT 值需要带引号
func (p *DNSProvider) AddRecord(ctx context.Context, name, rr, recordType, value string) error {
	mainDomain, subDomain, full := recordName(name, rr)

	log.Printf("[华为云DNS] 添加记录: %s.%s -> %s (类型: %s)", subDomain, mainDomain, value, recordType)

	zoneID, err := p.getZoneID(name)
	if err != nil {
		return err
	}

	existingRecord, err := p.FindRecord(ctx, name, subDomain, recordType)
	if err != nil {
		log.Printf("[华为云DNS] 检查现有记录失败: %v", err)
	}

	if existingRecord != nil {
		if existingRecord.Value == quote(recordType, value) {
			log.Printf("[华为云DNS] 记录已存在且值相同，跳过")
			return nil
		}
		return p.UpdateRecord(ctx, name, existingRecord.RecordID, subDomain, recordType, value)
	}

	request := &dnsModel.CreateRecordSetRequest{
		ZoneId: zoneID,
		Body: &dnsModel.CreateRecordSetRequestBody{
			Name:    full,
			Type:    recordType,
			Records: []string{quote(recordType, value)},
		},
	}

	if _, err := p.client.CreateRecordSet(request); err != nil {
		return fmt.Errorf("添加DNS记录失败: %w", err)
	}

	log.Printf("[华为云DNS] 记录已添加")
	return nil
}

// UpdateRecord 更新DNS记录
func (p *DNSProvider) UpdateRecord(ctx context.Context, name, recordID, rr, recordType, value string) error {
	_, subDomain, full := recordName(name, rr)

	log.Printf("[华为云DNS] 更新记录: ID=%s, %s -> %s", recordID, subDomain, value)

	zoneID, err := p.getZoneID(name)
	if err != nil {
		return err
	}

	request := &dnsModel.UpdateRecordSetRequest{
		ZoneId:      zoneID,
		RecordsetId: recordID,
		Body: &dnsModel.UpdateRecordSetReq{
			Name:    &full,
			Type:    &recordType,
			Records: &[]string{quote(recordType, value)},
		},
	}

	if _, err := p.client.UpdateRecordSet(request); err != nil {
		return fmt.Errorf("更新DNS记录失败: %w", err)
	}

	log.Printf("[华为云DNS] 记录已更新")
	return nil
}

// DeleteRecord 删除DNS记录
func (p *DNSProvider) DeleteRecord(ctx context.Context, name, recordID string) error {
	log.Printf("[华为云DNS] 删除记录: ID=%s", recordID)

	zoneID, err := p.getZoneID(name)
	if err != nil {
		return err
	}

	request := &dnsModel.DeleteRecordSetRequest{
		ZoneId:      zoneID,
		RecordsetId: recordID,
	}

	if _, err := p.client.DeleteRecordSet(request); err != nil {
		return fmt.Errorf("删除DNS记录失败: %w", err)
	}

	log.Printf("[华为云DNS] 记录已删除")
	return nil
}

// FindRecord 查找DNS记录
func (p *DNSProvider) FindRecord(ctx context.Context, name, rr, recordType string) (*provider.DNSRecord, error) {
	mainDomain, subDomain, full := recordName(name, rr)

	zoneID, err := p.getZoneID(name)
	if err != nil {
		return nil, err
	}

	request := &dnsModel.ListRecordSetsByZoneRequest{
		ZoneId: zoneID,
		Name:   &full,
		Type:   &recordType,
	}

	response, err := p.client.ListRecordSetsByZone(request)
	if err != nil {
		return nil, fmt.Errorf("查询DNS记录失败: %w", err)
	}

	if response.Recordsets != nil {
		for _, recordSet := range *response.Recordsets {
			if recordSet.Name != nil && *recordSet.Name == full &&
				recordSet.Type != nil && *recordSet.Type == recordType {
				rec := toRecord(mainDomain, recordSet)
				rec.RR = subDomain
				return rec, nil
			}
		}
	}

	return nil, nil
}

// ListRecords 列出DNS记录
func (p *DNSProvider) ListRecords(ctx context.Context, name string) ([]*provider.DNSRecord, error) {
	mainDomain := domain.ExtractMainDomain(name)

	zoneID, err := p.getZoneID(name)
	if err != nil {
		return nil, err
	}

	response, err := p.client.ListRecordSetsByZone(&dnsModel.ListRecordSetsByZoneRequest{ZoneId: zoneID})
	if err != nil {
		return nil, fmt.Errorf("获取DNS记录列表失败: %w", err)
	}

	var records []*provider.DNSRecord
	if response.Recordsets != nil {
		for _, recordSet := range *response.Recordsets {
			records = append(records, toRecord(mainDomain, recordSet))
		}
	}
	return records, nil
}

func toRecord(mainDomain string, recordSet dnsModel.ListRecordSets) *provider.DNSRecord {
	rec := &provider.DNSRecord{Domain: mainDomain}
	if recordSet.Id != nil {
		rec.RecordID = *recordSet.Id
	}
	if recordSet.Name != nil {
		rec.RR = strings.TrimSuffix(*recordSet.Name, "."+mainDomain+".")
	}
	if recordSet.Type != nil {
		rec.Type = *recordSet.Type
	}
	if recordSet.Records != nil && len(*recordSet.Records) > 0 {
		rec.Value = (*recordSet.Records)[0]
	}
	if recordSet.Ttl != nil {
		rec.TTL = int(*recordSet.Ttl)
	}
	return rec
}

func quote(recordType, value string) string {
	if recordType != "TXT" || strings.HasPrefix(value, `"`) {
		return value
	}
	return `"` + value + `"`
}
