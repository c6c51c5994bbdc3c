// Package s3upload 将证书上传到 S3 兼容对象存储的部署任务
package s3upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3aws "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"ssl-deployer/internal/domain"
	"ssl-deployer/internal/logging"
	"ssl-deployer/internal/model"
	"ssl-deployer/internal/provider"
	"ssl-deployer/internal/storage"
)

// 凭证键，均未设置时使用默认凭证链（环境变量、实例角色）
const (
	CredentialAccessKeyID     = "access_key_id"
	CredentialSecretAccessKey = "secret_access_key"
)

// 上传格式
const (
	FormatPFX  = "pfx"
	FormatPEM  = "pem"
	FormatBoth = "both"
)

// metadataThumbprint 对象元数据中记录的证书指纹
const metadataThumbprint = "thumbprint"

// Definition S3 上传
var Definition = model.ProviderDefinition{
	ID:          "s3-upload",
	Title:       "Upload to S3",
	Description: "上传证书到 S3 或兼容的对象存储，对象指纹相同时跳过",
	Capability:  model.CapabilityDeployment,
	Parameters: []model.ProviderParameter{
		{Key: "bucket", Name: "Bucket", Required: true},
		{Key: "region", Name: "Region", Description: "默认 us-east-1"},
		{Key: "prefix", Name: "对象前缀"},
		{Key: "endpoint", Name: "Endpoint", Description: "兼容服务（MinIO 等）的地址"},
		{Key: "path_style", Name: "Path Style", Description: "true 时使用路径风格访问"},
		{Key: "format", Name: "格式", Description: "pfx、pem 或 both，默认 pfx"},
	},
}

// Client 使用到的 S3 操作
type Client interface {
	PutObject(ctx context.Context, params *s3aws.PutObjectInput, optFns ...func(*s3aws.Options)) (*s3aws.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3aws.HeadObjectInput, optFns ...func(*s3aws.Options)) (*s3aws.HeadObjectOutput, error)
}

// ClientFactory 根据任务配置创建客户端
type ClientFactory func(ctx context.Context, cfg *model.DeploymentTaskConfig, creds model.Credentials) (Client, error)

// Provider S3 部署提供商
type Provider struct {
	newClient ClientFactory
}

var _ provider.DeploymentProvider = (*Provider)(nil)

// New 创建使用 AWS SDK 的提供商
func New() *Provider {
	return &Provider{newClient: NewClient}
}

// NewWithClient 使用自定义客户端工厂创建提供商
func NewWithClient(factory ClientFactory) *Provider {
	return &Provider{newClient: factory}
}

// NewClient 创建 S3 客户端
func NewClient(ctx context.Context, cfg *model.DeploymentTaskConfig, creds model.Credentials) (Client, error) {
	awsOptions := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Param("region", "us-east-1")),
	}

	accessKey, secretKey := creds.Get(CredentialAccessKeyID), creds.Get(CredentialSecretAccessKey)
	switch {
	case accessKey != "" && secretKey != "":
		awsOptions = append(awsOptions, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	case accessKey != "" || secretKey != "":
		return nil, creds.Require(CredentialAccessKeyID, CredentialSecretAccessKey)
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, awsOptions...)
	if err != nil {
		return nil, fmt.Errorf("加载 AWS 配置失败: %w", err)
	}

	endpoint := cfg.Param("endpoint", "")
	pathStyle := strings.EqualFold(cfg.Param("path_style", ""), "true")
	return s3aws.NewFromConfig(awsConfig, func(o *s3aws.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = pathStyle
	}), nil
}

// Definition 返回提供商元数据
func (p *Provider) Definition() model.ProviderDefinition {
	return Definition
}

// object 待上传的对象
type object struct {
	key         string
	body        []byte
	contentType string
}

// objects 计算需要上传的对象
func objects(prefix, primary, format string, pfx []byte, cert *provider.Certificate) ([]object, error) {
	name := domain.FileName(primary)
	prefix = strings.Trim(prefix, "/")

	var out []object
	if format == FormatPFX || format == FormatBoth {
		out = append(out, object{key: path.Join(prefix, name+".pfx"), body: pfx, contentType: "application/x-pkcs12"})
	}
	if format == FormatPEM || format == FormatBoth {
		out = append(out,
			object{key: path.Join(prefix, name, storage.CertFileName), body: []byte(cert.Certificate), contentType: "application/x-pem-file"},
			object{key: path.Join(prefix, name, storage.KeyFileName), body: []byte(cert.PrivateKey), contentType: "application/x-pem-file"},
			object{key: path.Join(prefix, name, storage.FullchainFileName), body: []byte(cert.FullChain()), contentType: "application/x-pem-file"},
		)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: 不支持的格式 %q", model.ErrValidationFailure, format)
	}
	return out, nil
}

// Execute 上传证书对象
func (p *Provider) Execute(ctx context.Context, log logging.Logger, subject *model.ManagedCertificate,
	cfg *model.DeploymentTaskConfig, creds model.Credentials, isPreviewOnly bool) ([]model.ActionResult, error) {
	bundle, err := storage.ReadManaged(subject)
	if err != nil {
		return nil, err
	}
	pfx, err := os.ReadFile(subject.CertificatePath)
	if err != nil {
		return nil, fmt.Errorf("读取PFX失败: %w", err)
	}
	cert, err := bundle.PEM()
	if err != nil {
		return nil, err
	}

	objs, err := objects(cfg.Param("prefix", ""), subject.PrimaryDomain(), cfg.Param("format", FormatPFX), pfx, cert)
	if err != nil {
		return nil, err
	}

	client, err := p.newClient(ctx, cfg, creds)
	if err != nil {
		return nil, err
	}

	bucket := cfg.Param("bucket", "")
	thumbprint := bundle.Thumbprint()
	var steps []model.ActionStep
	for _, obj := range objs {
		current, err := currentThumbprint(ctx, client, bucket, obj.key)
		if err != nil {
			return nil, err
		}
		if current == thumbprint {
			steps = append(steps, model.ActionStep{Category: "S3", Description: fmt.Sprintf("s3://%s/%s 已是最新证书", bucket, obj.key)})
			continue
		}

		step := model.ActionStep{Category: "S3", Description: fmt.Sprintf("上传 s3://%s/%s", bucket, obj.key), HasChanged: true}
		steps = append(steps, step)
		if isPreviewOnly {
			continue
		}

		_, err = client.PutObject(ctx, &s3aws.PutObjectInput{
			Bucket:      aws.String(bucket),
			Key:         aws.String(obj.key),
			Body:        bytes.NewReader(obj.body),
			ContentType: aws.String(obj.contentType),
			Metadata:    map[string]string{metadataThumbprint: thumbprint},
		})
		if err != nil {
			return nil, fmt.Errorf("上传 %s 失败: %w", obj.key, err)
		}
		log.Information("[S3] 已上传 s3://%s/%s", bucket, obj.key)
	}

	msg := fmt.Sprintf("证书已同步到 s3://%s", bucket)
	if isPreviewOnly {
		msg = fmt.Sprintf("将证书同步到 s3://%s", bucket)
	}
	return []model.ActionResult{model.Success(msg).WithSteps(steps)}, nil
}

// currentThumbprint 返回对象上记录的证书指纹，对象不存在时返回空
func currentThumbprint(ctx context.Context, client Client, bucket, key string) (string, error) {
	out, err := client.HeadObject(ctx, &s3aws.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("查询 %s 失败: %w", key, err)
	}
	return out.Metadata[metadataThumbprint], nil
}
